package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	userPath    = "/auth/v1/user"
	restPath    = "/rest/v1/"
	storagePath = "/storage/v1/object/list/"
)

// StatusError is a non-2xx answer from the backend. It unwraps to the sentinel
// matching the status so callers can use errors.Is.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d", e.Status)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return types.ErrBackendUnauthorized
	default:
		return types.ErrBackendRequestFailed
	}
}

type Option func(*Client)

// WithDial replaces the transport dialer, used to point the client at an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) {
		c.client.Dial = dial
	}
}

func WithBackoff(backoff time.Duration) Option {
	return func(c *Client) {
		c.backoff = backoff
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

type Client struct {
	ctx            context.Context
	cancel         context.CancelFunc
	logger         types.Logger
	metrics        types.MetricsManager
	client         *fasthttp.Client
	baseURL        string
	config         *types.BackendConfig
	circuitBreaker *CircuitBreaker
	state          atomic.Value
	backoff        time.Duration
}

func NewClient(ctx context.Context, logger types.Logger, config *types.BackendConfig, opts ...Option) (*Client, error) {
	if config == nil || config.URL == "" {
		return nil, types.Errorf(types.ErrConfigIsNil, "backend url is required")
	}
	if _, err := url.ParseRequestURI(config.URL); err != nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "backend url %q: %v", config.URL, err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxConns := config.MaxConnections
	if maxConns <= 0 {
		maxConns = fasthttp.DefaultMaxConnsPerHost
	}

	c := &Client{
		ctx:    clientCtx,
		cancel: cancel,
		logger: logger.With(zap.String("component", "backend")),
		client: &fasthttp.Client{
			Name:            "everest-gateway",
			ReadTimeout:     timeout,
			WriteTimeout:    timeout,
			MaxConnsPerHost: maxConns,
		},
		baseURL:        strings.TrimRight(config.URL, "/"),
		config:         config,
		circuitBreaker: NewCircuitBreaker(config.CircuitBreaker, logger),
		backoff:        200 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.state.Store(StateStopped)
	return c, nil
}

func (c *Client) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	c.setState(StateRunning)
	c.logger.Info("Backend client started", zap.String("url", c.baseURL))
	return nil
}

func (c *Client) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	c.cancel()
	c.client.CloseIdleConnections()
	c.setState(StateStopped)

	c.logger.Info("Backend client stopped gracefully")
	return nil
}

func (c *Client) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *Client) Breaker() *CircuitBreaker {
	return c.circuitBreaker
}

func (c *Client) GetUser(ctx context.Context, token string) (*types.User, error) {
	if token == "" {
		return nil, types.ErrBackendUnauthorized
	}

	body, err := c.call(ctx, fasthttp.MethodGet, userPath, token, nil, nil)
	if err != nil {
		return nil, err
	}

	var user types.User
	if err := utils.Unmarshal(body, &user); err != nil {
		return nil, types.Errorf(types.ErrBackendResponseInvalid, "user: %v", err)
	}
	if user.ID == "" {
		return nil, types.Errorf(types.ErrBackendResponseInvalid, "user without id")
	}

	return &user, nil
}

func (c *Client) GetProfile(ctx context.Context, token, userID string) (*types.Profile, error) {
	if userID == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "user id is empty")
	}

	query := "user_id=eq." + url.QueryEscape(userID) + "&select=*&limit=1"
	body, err := c.Select(ctx, token, c.profilesTable(), query)
	if err != nil {
		return nil, err
	}

	var profiles []types.Profile
	if err := utils.Unmarshal(body, &profiles); err != nil {
		return nil, types.Errorf(types.ErrBackendResponseInvalid, "profiles: %v", err)
	}
	if len(profiles) == 0 {
		return nil, types.Errorf(types.ErrProfileNotFound, "user %s", userID)
	}

	return &profiles[0], nil
}

func (c *Client) Select(ctx context.Context, token, table, query string) ([]byte, error) {
	if table == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "table is empty")
	}

	path := restPath + url.PathEscape(table)
	if query != "" {
		path += "?" + strings.TrimPrefix(query, "?")
	}

	return c.call(ctx, fasthttp.MethodGet, path, token, nil, nil)
}

func (c *Client) Insert(ctx context.Context, token, table string, body []byte) ([]byte, error) {
	if table == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "table is empty")
	}

	headers := map[string]string{"Prefer": "return=representation"}
	return c.call(ctx, fasthttp.MethodPost, restPath+url.PathEscape(table), token, body, headers)
}

func (c *Client) ListObjects(ctx context.Context, token, bucket, prefix string) ([]byte, error) {
	if bucket == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "bucket is empty")
	}

	payload, err := utils.Marshal(map[string]interface{}{
		"prefix": prefix,
		"limit":  100,
		"offset": 0,
		"sortBy": map[string]string{"column": "name", "order": "asc"},
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal list request")
	}

	return c.call(ctx, fasthttp.MethodPost, storagePath+url.PathEscape(bucket), token, payload, nil)
}

// Ping succeeds when the REST endpoint answers below 500.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, fasthttp.MethodGet, restPath, "", nil, nil)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status < fasthttp.StatusInternalServerError {
		return nil
	}

	return err
}

func (c *Client) profilesTable() string {
	if c.config.ProfilesTable != "" {
		return c.config.ProfilesTable
	}
	return "user_profiles"
}

func (c *Client) call(ctx context.Context, method, path, token string, body []byte, headers map[string]string) ([]byte, error) {
	if !c.IsRunning() {
		return nil, types.Errorf(types.ErrServerNotRunning, "backend client")
	}

	start := time.Now()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.bearer(token))
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	if body != nil {
		req.SetBody(body)
		req.Header.SetContentType("application/json")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	responseBody, statusCode, err := c.executeWithRetries(ctx, req, resp)
	c.recordMetrics(method, statusCode, err, time.Since(start))

	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}

	if statusCode < 200 || statusCode >= 300 {
		return nil, errors.WithStack(&StatusError{Status: statusCode, Body: responseBody})
	}

	return responseBody, nil
}

func (c *Client) bearer(token string) string {
	switch {
	case token != "":
		return token
	case c.config.ServiceKey != "":
		return c.config.ServiceKey
	default:
		return c.config.AnonKey
	}
}

func (c *Client) executeWithRetries(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) ([]byte, int, error) {
	var lastErr error
	maxRetries := c.config.Retries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, types.Errorf(types.ErrBackendTimeout, "%v", err)
		}

		if !c.circuitBreaker.CanExecute() {
			return nil, 0, types.ErrCircuitBreakerOpen
		}

		resp.Reset()
		err := c.client.DoDeadline(req, resp, c.deadline(ctx))
		statusCode := resp.StatusCode()

		if IsSuccessfulResponse(statusCode, err) {
			c.circuitBreaker.RecordSuccess()

			responseBody := make([]byte, len(resp.Body()))
			copy(responseBody, resp.Body())

			return responseBody, statusCode, nil
		}

		if IsCircuitBreakerFailure(statusCode, err) {
			c.circuitBreaker.RecordFailure()
		}

		if err != nil {
			lastErr = types.Errorf(types.ErrBackendRequestFailed, "%v", err)
			if errors.Is(err, fasthttp.ErrTimeout) {
				lastErr = types.Errorf(types.ErrBackendTimeout, "%v", err)
			}
			statusCode = 0
		}

		if !IsRetryableError(statusCode, err) || attempt == maxRetries {
			if err != nil {
				break
			}

			responseBody := make([]byte, len(resp.Body()))
			copy(responseBody, resp.Body())
			return responseBody, statusCode, nil
		}

		backoff := time.Duration(attempt+1) * c.backoff

		c.logger.Debug("Retrying backend request",
			zap.ByteString("uri", req.URI().Path()),
			zap.Int("attempt", attempt+1),
			zap.Int("status_code", statusCode),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, 0, types.Errorf(types.ErrBackendTimeout, "%v", ctx.Err())
		case <-c.ctx.Done():
			return nil, 0, types.NewErrorf("backend client shutting down during retry")
		}
	}

	return nil, 0, types.WrapError(lastErr, fmt.Sprintf("all %d attempts failed", maxRetries+1))
}

func (c *Client) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.client.ReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}

func (c *Client) recordMetrics(method string, statusCode int, err error, duration time.Duration) {
	if c.metrics == nil {
		return
	}

	status := "error"
	if err == nil {
		status = fmt.Sprintf("%dxx", statusCode/100)
	}

	c.metrics.Counter("backend_requests_total", map[string]string{
		"method": method,
		"status": status,
	}).Inc()

	c.metrics.Histogram("backend_request_duration_seconds",
		[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		map[string]string{"method": method},
	).Observe(duration.Seconds())

	c.metrics.Gauge("backend_circuit_breaker_open", nil).Set(boolToFloat(c.circuitBreaker.State() == BreakerOpen))
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (c *Client) getState() State {
	return c.state.Load().(State)
}

func (c *Client) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *Client) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}

// NewHealthChecker reports the backend unhealthy when Ping fails or the breaker is open.
func NewHealthChecker(c *Client) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		start := time.Now()
		check := types.HealthCheck{
			Name:      "backend",
			Status:    types.StatusHealthy,
			LastCheck: start,
			Details:   map[string]interface{}{"circuit_breaker": c.circuitBreaker.State().String()},
		}

		if err := c.Ping(ctx); err != nil {
			check.Status = types.StatusUnhealthy
			check.Message = err.Error()
		}

		check.Duration = time.Since(start)
		return check
	}
}
