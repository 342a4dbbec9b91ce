package backend

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
	BreakerDisabled
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling the backend after FailureThreshold consecutive
// failures. After RecoveryTimeout it lets HalfOpenRequests probes through; one
// failed probe reopens it.
type CircuitBreaker struct {
	config   types.CircuitBreakerConfig
	logger   types.Logger
	now      func() time.Time
	mu       sync.Mutex
	state    BreakerState
	failures int
	inFlight int
	probes   int
	lastFail atomic.Int64
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		logger: logger,
		now:    time.Now,
		state:  BreakerDisabled,
	}

	if config == nil || !config.Enabled {
		return cb
	}

	cb.config = *config
	if cb.config.FailureThreshold <= 0 {
		cb.config.FailureThreshold = 5
	}
	if cb.config.RecoveryTimeout <= 0 {
		cb.config.RecoveryTimeout = 30 * time.Second
	}
	if cb.config.HalfOpenRequests <= 0 {
		cb.config.HalfOpenRequests = 1
	}
	cb.state = BreakerClosed

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerDisabled, BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(time.Unix(0, cb.lastFail.Load())) < cb.config.RecoveryTimeout {
			return false
		}
		cb.transitionLocked(BreakerHalfOpen)
		cb.inFlight = 1
		return true
	case BreakerHalfOpen:
		if cb.inFlight >= cb.config.HalfOpenRequests {
			return false
		}
		cb.inFlight++
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.probes++
		if cb.probes >= cb.config.HalfOpenRequests {
			cb.transitionLocked(BreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerDisabled {
		return
	}

	cb.lastFail.Store(cb.now().UnixNano())

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.transitionLocked(BreakerOpen)
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerDisabled {
		return
	}

	cb.transitionLocked(BreakerClosed)
}

func (cb *CircuitBreaker) transitionLocked(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.inFlight = 0
	cb.probes = 0

	if from == to {
		return
	}

	switch to {
	case BreakerOpen:
		cb.logger.Warn("Circuit breaker opened",
			zap.String("from", from.String()),
			zap.Int("threshold", cb.config.FailureThreshold))
	default:
		cb.logger.Info("Circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
}

func IsCircuitBreakerFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}

	switch statusCode {
	case fasthttp.StatusRequestTimeout,
		fasthttp.StatusTooManyRequests,
		fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable,
		fasthttp.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func IsRetryableError(statusCode int, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}

	return IsCircuitBreakerFailure(statusCode, nil)
}

// IsSuccessfulResponse reports whether the attempt loop is finished: 2xx, or a
// client error that a retry would not change.
func IsSuccessfulResponse(statusCode int, err error) bool {
	if err != nil {
		return false
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return true
	case statusCode >= 400 && statusCode < 500:
		return statusCode != fasthttp.StatusTooManyRequests && statusCode != fasthttp.StatusRequestTimeout
	default:
		return false
	}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrConnectionClosed) ||
		errors.Is(err, fasthttp.ErrNoFreeConns) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Timeout() || dnsErr.IsTemporary
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ETIMEDOUT)
}
