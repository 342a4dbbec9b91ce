package middleware

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/config"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

func testConfig(t *testing.T, mutate func(cfg *types.ServiceConfig)) types.ConfigManager {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Backend.URL = "http://baas.local"
	cfg.Backend.AnonKey = "anon"
	if mutate != nil {
		mutate(cfg)
	}

	cm, err := config.NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	return cm
}

type stubResolver struct {
	identities map[string]*types.Identity
	err        error
}

func (s *stubResolver) Resolve(_ context.Context, token string) (*types.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	if identity, ok := s.identities[token]; ok {
		return identity, nil
	}
	return nil, types.ErrAuthTokenInvalid
}

func (s *stubResolver) Forget(string) {}

func portalResolver() *stubResolver {
	return &stubResolver{identities: map[string]*types.Identity{
		"learner-token":    {UserID: "1", Role: access.RoleLearner},
		"instructor-token": {UserID: "2", Role: access.RoleInstructor},
		"admin-token":      {UserID: "3", Role: access.RoleAdministrator},
	}}
}

func newRequest(method, uri string, headers map[string]string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4242}, nil)
	return ctx
}

func okHandler(body string) func(*fasthttp.RequestCtx) {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(body)
	}
}
