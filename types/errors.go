package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
	ErrRouteConflict        = errors.New("route conflict")
)

var (
	ErrMiddlewareNotFound  = errors.New("middleware not found")
	ErrMiddlewareDuplicate = errors.New("middleware already registered")
	ErrAuthTokenMissing    = errors.New("auth token missing")
	ErrAuthTokenInvalid    = errors.New("auth token invalid")
	ErrBodyTooLarge        = errors.New("body too large")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheOperationFailed  = errors.New("cache operation failed")
	ErrCacheIsDisabled       = errors.New("cache manager is disabled")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsStartFailed = errors.New("metrics start failed")
)

var (
	ErrBackendRequestFailed   = errors.New("backend request failed")
	ErrBackendResponseInvalid = errors.New("backend response invalid")
	ErrBackendUnauthorized    = errors.New("backend unauthorized")
	ErrBackendTimeout         = errors.New("backend timeout")
	ErrProfileNotFound        = errors.New("profile not found")
	ErrCircuitBreakerOpen     = errors.New("circuit breaker open")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

var (
	ErrLoggerTypeUnknown = errors.New("logger type unknown")
	ErrTLSConfigInvalid  = errors.New("tls config invalid")
)

var (
	ErrServiceIsRunning    = errors.New("service is running")
	ErrServiceIsNotRunning = errors.New("service is not running")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrPermissionDenied = errors.New("permission denied")
	ErrResourceNotFound = errors.New("resource not found")
	ErrInternalError    = errors.New("internal error")
	ErrInvalidState     = errors.New("invalid state")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
