package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

func NewDefaultLogger(config *types.LoggerConfig) (types.Logger, error) {
	format := config.Format
	if format == "" {
		format = "console"
	}

	logger, err := buildZapLogger(config.Level, format, config.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	l := NewZapWrapper(logger)

	l.Debug("Logger initialized",
		zap.String("level", config.Level),
		zap.String("format", format),
		zap.String("output", config.Output),
	)

	return l, nil
}

func buildZapLogger(level, format, output string) (*zap.Logger, error) {
	var zapConfig zap.Config
	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	switch output {
	case "", "stdout":
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return nil, types.WrapError(err, "access denied to log directory")
		}
		zapConfig.OutputPaths = []string{output}
		zapConfig.ErrorOutputPaths = []string{output}
	}

	return zapConfig.Build(zap.AddCaller())
}

func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

type ZapWrapper struct {
	Logger *zap.Logger
}

func NewZapWrapper(logger *zap.Logger) types.Logger {
	return &ZapWrapper{Logger: logger.WithOptions(zap.AddCallerSkip(2))}
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.Logger.Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.Logger.Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.Logger.Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.Logger.Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.Logger.Log(lvl, msg, fields...)
}

func (z *ZapWrapper) With(fields ...zap.Field) types.Logger {
	return &ZapWrapper{Logger: z.Logger.With(fields...)}
}

func (z *ZapWrapper) Sync() error {
	return z.Logger.Sync()
}

// ErrorWithErrStack logs the root cause and, for errors built with pkg/errors,
// the captured stack as a single field.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Error(msg, fields...)
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+3)
	allFields = append(allFields, zap.Error(err))
	if cause := errors.Cause(err); cause != err {
		allFields = append(allFields, zap.String("cause", cause.Error()))
	}
	if stack := extractStack(err); stack != "" {
		allFields = append(allFields, zap.String("stack", stack))
	}
	allFields = append(allFields, fields...)

	z.Logger.Error(msg, allFields...)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// innermost stack wins, it points at the origin
func extractStack(err error) string {
	var stack string
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			stack = fmt.Sprintf("%+v", st.StackTrace())
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return strings.TrimSpace(stack)
}
