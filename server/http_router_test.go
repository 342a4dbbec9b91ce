package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

func noop(*fasthttp.RequestCtx) {}

func TestRouter_StaticAndParams(t *testing.T) {
	r := NewRouter()
	r.GET("/api/me", noop)
	r.GET("/api/roles/{role}/pages", noop)
	r.GET("/api/roles/admin/pages", noop)
	require.NoError(t, r.FinalizePendingRoutes())

	route, params, _ := r.match("GET", "/api/me/")
	require.NotNil(t, route)
	assert.Equal(t, "/api/me", route.Path)
	assert.Nil(t, params)

	route, params, _ = r.match("GET", "/api/roles/learner/pages")
	require.NotNil(t, route)
	assert.Equal(t, "/api/roles/{role}/pages", route.Path)
	assert.Equal(t, map[string]string{"role": "learner"}, params)

	route, _, _ = r.match("GET", "/api/roles/admin/pages")
	require.NotNil(t, route)
	assert.Equal(t, "/api/roles/admin/pages", route.Path)

	route, _, allowed := r.match("GET", "/api/roles/learner")
	assert.Nil(t, route)
	assert.Empty(t, allowed)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r := NewRouter()
	r.GET("/api/community/posts", noop)
	r.POST("/api/community/posts", noop)
	r.DELETE("/api/admin/cache/{key}", noop)
	require.NoError(t, r.FinalizePendingRoutes())

	route, _, allowed := r.match("PUT", "/api/community/posts")
	assert.Nil(t, route)
	assert.Equal(t, []string{"GET", "POST"}, allowed)

	route, _, allowed = r.match("GET", "/api/admin/cache/profile:1")
	assert.Nil(t, route)
	assert.Equal(t, []string{"DELETE"}, allowed)
}

func TestRouter_Conflict(t *testing.T) {
	r := NewRouter()
	r.GET("/api/me", noop)
	r.GET("/api/me", noop)

	err := r.FinalizePendingRoutes()
	require.ErrorIs(t, err, types.ErrRouteConflict)
	assert.Len(t, r.GetAllRoutes(), 1)
}

func TestRouter_GroupSettingsApplyToRoutes(t *testing.T) {
	r := NewRouter()

	api := r.Group("/api").WithoutMiddlewares("compression")
	admin := api.Group("/admin")
	admin.GET("/cache/stats", noop).WithTimeout(time.Second)
	admin.WithFeature("configuracoes").WithTimeout(5 * time.Second)

	api.GET("/flashcards", noop).
		WithFeature("flashcards").
		WithCache("flashcards", time.Minute, "flashcards")

	require.NoError(t, r.FinalizePendingRoutes())

	routes := r.GetAllRoutes()

	stats := routes["GET:/api/admin/cache/stats"]
	require.NotNil(t, stats)
	assert.Equal(t, "configuracoes", stats.Config.Feature)
	assert.Equal(t, time.Second, stats.Config.Timeout, "route settings win over the group")
	assert.Equal(t, []string{"compression"}, stats.Config.DisabledMiddlewares)

	cards := routes["GET:/api/flashcards"]
	require.NotNil(t, cards)
	assert.Equal(t, "flashcards", cards.Config.Feature)
	require.NotNil(t, cards.Config.Cache)
	assert.Equal(t, []string{"flashcards"}, cards.Config.Cache.Deps)
}

func TestRouter_RejectsEmptyCacheKey(t *testing.T) {
	r := NewRouter()
	r.GET("/api/ranking", noop).WithCache("", time.Minute)

	require.ErrorIs(t, r.FinalizePendingRoutes(), types.ErrCacheKeyEmpty)
}

func TestRouter_AddIgnoresUnknownMethod(t *testing.T) {
	r := NewRouter()
	r.Add("BREW", "/coffee", noop, nil)
	r.Add("GET", "/health", noop, nil)

	routes := r.GetAllRoutes()
	assert.Len(t, routes, 1)
	assert.NotNil(t, routes["GET:/health"].Config)
}
