package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(&types.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		RecoveryTimeout:  10 * time.Second,
		HalfOpenRequests: 2,
	}, logger.NewNop())
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, cb.CanExecute())
		cb.RecordFailure()
	}
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.CanExecute())

	now = now.Add(11 * time.Second)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.True(t, cb.CanExecute())
	assert.False(t, cb.CanExecute(), "probe budget exhausted")

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(&types.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
	}, logger.NewNop())
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	assert.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(&types.CircuitBreakerConfig{Enabled: true, FailureThreshold: 2}, logger.NewNop())

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb := NewCircuitBreaker(nil, logger.NewNop())

	for i := 0; i < 100; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.CanExecute())
	assert.Equal(t, "disabled", cb.State().String())
}

func TestResponseClassification(t *testing.T) {
	tests := []struct {
		status    int
		success   bool
		retryable bool
	}{
		{fasthttp.StatusOK, true, false},
		{fasthttp.StatusNotFound, true, false},
		{fasthttp.StatusTooManyRequests, false, true},
		{fasthttp.StatusInternalServerError, false, false},
		{fasthttp.StatusServiceUnavailable, false, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.success, IsSuccessfulResponse(tt.status, nil), "status %d", tt.status)
		assert.Equal(t, tt.retryable, IsRetryableError(tt.status, nil), "status %d", tt.status)
	}

	assert.True(t, IsRetryableError(0, fasthttp.ErrTimeout))
	assert.True(t, IsCircuitBreakerFailure(0, fasthttp.ErrTimeout))
}
