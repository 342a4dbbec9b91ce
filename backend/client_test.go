package backend

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/metrics"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type fakeBaaS struct {
	handler fasthttp.RequestHandler
	ln      *fasthttputil.InmemoryListener
	hits    atomic.Int32
}

func newFakeBaaS(t *testing.T, handler fasthttp.RequestHandler) *fakeBaaS {
	t.Helper()

	f := &fakeBaaS{handler: handler, ln: fasthttputil.NewInmemoryListener()}
	server := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		f.hits.Add(1)
		f.handler(ctx)
	}}

	go func() { _ = server.Serve(f.ln) }()
	t.Cleanup(func() { _ = server.Shutdown() })

	return f
}

func (f *fakeBaaS) dial(string) (net.Conn, error) {
	return f.ln.Dial()
}

func testConfig() *types.BackendConfig {
	return &types.BackendConfig{
		URL:           "http://baas.local",
		AnonKey:       "anon-key",
		ServiceKey:    "service-key",
		Timeout:       time.Second,
		Retries:       2,
		ProfilesTable: "user_profiles",
		ProfileTTL:    time.Minute,
		SessionTTL:    time.Minute,
	}
}

func newTestClient(t *testing.T, f *fakeBaaS, config *types.BackendConfig, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{WithDial(f.dial), WithBackoff(time.Millisecond)}, opts...)
	c, err := NewClient(context.Background(), logger.NewNop(), config, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(context.Background(), logger.NewNop(), &types.BackendConfig{})
	assert.ErrorIs(t, err, types.ErrConfigIsNil)

	_, err = NewClient(context.Background(), logger.NewNop(), &types.BackendConfig{URL: "not a url"})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestGetUser(t *testing.T) {
	f := newFakeBaaS(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != userPath {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		if string(ctx.Request.Header.Peek("apikey")) != "anon-key" ||
			string(ctx.Request.Header.Peek("Authorization")) != "Bearer user-token" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		ctx.SetBodyString(`{"id":"42","email":"aluno@everest.test","role":"authenticated"}`)
	})
	c := newTestClient(t, f, testConfig())

	user, err := c.GetUser(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "42", user.ID)
	assert.Equal(t, "aluno@everest.test", user.Email)

	_, err = c.GetUser(context.Background(), "expired")
	assert.ErrorIs(t, err, types.ErrBackendUnauthorized)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, fasthttp.StatusUnauthorized, statusErr.Status)

	_, err = c.GetUser(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrBackendUnauthorized)
}

func TestGetProfile(t *testing.T) {
	f := newFakeBaaS(t, func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		switch string(args.Peek("user_id")) {
		case "eq.42":
			ctx.SetBodyString(`[{"id":"p1","user_id":"42","role":"student","display_name":"Ana"}]`)
		default:
			ctx.SetBodyString(`[]`)
		}
	})
	c := newTestClient(t, f, testConfig())

	profile, err := c.GetProfile(context.Background(), "token", "42")
	require.NoError(t, err)
	assert.Equal(t, "student", profile.Role)
	assert.Equal(t, "Ana", profile.FullName)

	_, err = c.GetProfile(context.Background(), "token", "7")
	assert.ErrorIs(t, err, types.ErrProfileNotFound)
}

func TestSelectAndInsert(t *testing.T) {
	var prefer, bearer, method atomic.Value
	f := newFakeBaaS(t, func(ctx *fasthttp.RequestCtx) {
		method.Store(string(ctx.Method()))
		prefer.Store(string(ctx.Request.Header.Peek("Prefer")))
		bearer.Store(string(ctx.Request.Header.Peek("Authorization")))
		if ctx.IsPost() {
			ctx.SetStatusCode(fasthttp.StatusCreated)
			ctx.SetBody(ctx.PostBody())
			return
		}
		ctx.SetBodyString(`[{"id":1}]`)
	})
	c := newTestClient(t, f, testConfig())

	body, err := c.Select(context.Background(), "", "flashcards", "select=*")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(body))
	assert.Equal(t, "Bearer service-key", bearer.Load())

	body, err = c.Insert(context.Background(), "tok", "community_posts", []byte(`{"title":"oi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"oi"}`, string(body))
	assert.Equal(t, "POST", method.Load())
	assert.Equal(t, "return=representation", prefer.Load())
	assert.Equal(t, "Bearer tok", bearer.Load())

	_, err = c.Select(context.Background(), "", "", "")
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestListObjects(t *testing.T) {
	f := newFakeBaaS(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, storagePath+"uploads", string(ctx.Path()))
		assert.Contains(t, string(ctx.PostBody()), `"prefix":"42/"`)
		ctx.SetBodyString(`[{"name":"resumo.pdf"}]`)
	})
	c := newTestClient(t, f, testConfig())

	body, err := c.ListObjects(context.Background(), "tok", "uploads", "42/")
	require.NoError(t, err)
	assert.Contains(t, string(body), "resumo.pdf")
}

func TestRetriesOnUnavailable(t *testing.T) {
	var calls atomic.Int32
	f := newFakeBaaS(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString(`[]`)
	})
	c := newTestClient(t, f, testConfig())

	_, err := c.Select(context.Background(), "", "quizzes", "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	f := newFakeBaaS(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
	})
	c := newTestClient(t, f, testConfig())

	_, err := c.Select(context.Background(), "", "quizzes", "bad")
	assert.ErrorIs(t, err, types.ErrBackendRequestFailed)
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestCircuitBreakerOpens(t *testing.T) {
	f := newFakeBaaS(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	})

	config := testConfig()
	config.Retries = 0
	config.CircuitBreaker = &types.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
		HalfOpenRequests: 1,
	}
	c := newTestClient(t, f, config)

	for i := 0; i < 2; i++ {
		_, err := c.Select(context.Background(), "", "ranking", "")
		assert.ErrorIs(t, err, types.ErrBackendRequestFailed)
	}

	_, err := c.Select(context.Background(), "", "ranking", "")
	assert.ErrorIs(t, err, types.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), f.hits.Load())
	assert.Equal(t, BreakerOpen, c.Breaker().State())
}

func TestPingAndHealthChecker(t *testing.T) {
	var status atomic.Int32
	status.Store(fasthttp.StatusOK)
	f := newFakeBaaS(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(int(status.Load()))
	})

	config := testConfig()
	config.Retries = 0
	c := newTestClient(t, f, config)
	checker := NewHealthChecker(c)

	assert.Equal(t, types.StatusHealthy, checker(context.Background()).Status)

	status.Store(fasthttp.StatusUnauthorized)
	assert.NoError(t, c.Ping(context.Background()))

	status.Store(fasthttp.StatusInternalServerError)
	check := checker(context.Background())
	assert.Equal(t, types.StatusUnhealthy, check.Status)
	assert.Equal(t, "disabled", check.Details["circuit_breaker"])
}

func TestMetricsRecorded(t *testing.T) {
	f := newFakeBaaS(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`[]`)
	})

	mm := metrics.NewMemoryMetrics(logger.NewNop())
	require.NoError(t, mm.Start())
	c := newTestClient(t, f, testConfig(), WithMetrics(mm))

	_, err := c.Select(context.Background(), "", "flashcards", "")
	require.NoError(t, err)

	counter := mm.Counter("backend_requests_total", map[string]string{"method": "GET", "status": "2xx"})
	assert.Equal(t, float64(1), counter.Get())
}

func TestStoppedClientRejectsCalls(t *testing.T) {
	c, err := NewClient(context.Background(), logger.NewNop(), testConfig())
	require.NoError(t, err)

	_, err = c.Select(context.Background(), "", "flashcards", "")
	assert.ErrorIs(t, err, types.ErrServerNotRunning)
}
