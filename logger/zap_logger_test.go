package logger

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestZapWrapper_ErrorWithErrStack(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapWrapper(zap.New(core))

	root := errors.New("connection refused")
	l.ErrorWithErrStack("backend call failed", errors.Wrap(root, "get profile"), zap.String("user_id", "42"))

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "connection refused", fields["cause"])
	assert.Equal(t, "42", fields["user_id"])
	assert.Contains(t, fields["stack"], "TestZapWrapper_ErrorWithErrStack")
}

func TestZapWrapper_With(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewZapWrapper(zap.New(core)).With(zap.String("component", "cache"))

	l.Info("started")
	l.Debug("filtered out")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "cache", entries[0].ContextMap()["component"])
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewFromZap(zap.NewNop())
	assert.True(t, m.IsRunning())

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.Error(t, m.Stop())

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
}
