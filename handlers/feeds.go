package handlers

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cache"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

const (
	communityDependency = "community_posts"
	rankingDependency   = "ranking"
	uploadsBucket       = "uploads"
)

// feed is a read-only table exposed behind a feature area. The caller's query string
// is passed to the backend as is; row level security applies with the caller's token.
type feed struct {
	path         string
	area         access.FeatureArea
	table        string
	defaultQuery string
	cacheKey     string
	ttl          time.Duration
	deps         []string
}

func (h *Handlers) feeds() []feed {
	profilesTable := "user_profiles"
	if h.config != nil && h.config.ProfilesTable != "" {
		profilesTable = h.config.ProfilesTable
	}

	return []feed{
		{
			path:         "/flashcards",
			area:         access.AreaFlashcards,
			table:        "flashcards",
			defaultQuery: "select=*&order=created_at.desc&limit=100",
			cacheKey:     "flashcards",
			ttl:          5 * time.Minute,
			deps:         []string{"flashcards"},
		},
		{
			path:         "/quizzes",
			area:         access.AreaQuiz,
			table:        "quizzes",
			defaultQuery: "select=*&order=created_at.desc&limit=100",
			cacheKey:     "quizzes",
			ttl:          5 * time.Minute,
			deps:         []string{"quizzes"},
		},
		{
			path:         "/community/posts",
			area:         access.AreaCommunity,
			table:        communityDependency,
			defaultQuery: "select=*&order=created_at.desc&limit=50",
			cacheKey:     "community_posts",
			ttl:          time.Minute,
			deps:         []string{communityDependency},
		},
		{
			path:         "/members",
			area:         access.AreaMembers,
			table:        profilesTable,
			defaultQuery: "select=user_id,display_name,role,created_at&order=created_at.desc",
		},
		{
			path:         "/classes",
			area:         access.AreaClasses,
			table:        "classes",
			defaultQuery: "select=*&order=name.asc",
		},
	}
}

func (h *Handlers) forward(f feed) func(ctx *fasthttp.RequestCtx) {
	return func(ctx *fasthttp.RequestCtx) {
		identity, ok := identityOrReject(ctx)
		if !ok {
			return
		}

		query := string(ctx.QueryArgs().QueryString())
		if query == "" {
			query = f.defaultQuery
		}

		reqCtx, cancel := h.requestContext()
		defer cancel()

		body, err := h.backend.Select(reqCtx, identity.Token, f.table, query)
		if err != nil {
			h.writeBackendError(ctx, err, f.table)
			return
		}

		writeRaw(ctx, fasthttp.StatusOK, body)
	}
}

type createPostRequest struct {
	Title    string `json:"title" validate:"required,min=3,max=200"`
	Content  string `json:"content" validate:"required,max=10000"`
	Category string `json:"category,omitempty" validate:"omitempty,max=50"`
}

type postRecord struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

func (h *Handlers) handleCreatePost(ctx *fasthttp.RequestCtx) {
	identity, ok := identityOrReject(ctx)
	if !ok {
		return
	}

	var req createPostRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		utils.WriteError(ctx, fasthttp.StatusUnprocessableEntity, err.Error())
		return
	}

	payload, err := utils.Marshal(postRecord{
		UserID:   identity.UserID,
		Title:    req.Title,
		Content:  req.Content,
		Category: req.Category,
	})
	if err != nil {
		utils.CreateErrorResponse(ctx)
		return
	}

	reqCtx, cancel := h.requestContext()
	defer cancel()

	body, err := h.backend.Insert(reqCtx, identity.Token, communityDependency, payload)
	if err != nil {
		h.writeBackendError(ctx, err, communityDependency)
		return
	}

	if err := cache.TouchDependency(h.cache, communityDependency); err != nil {
		h.logger.Warn("Failed to invalidate community posts", zap.Error(err))
	}

	writeRaw(ctx, fasthttp.StatusCreated, body)
}

// handleRanking serves the snapshot kept by the ranking job. Without one it reads
// the backend with the caller's token and stores the result.
func (h *Handlers) handleRanking(ctx *fasthttp.RequestCtx) {
	if snapshot, ok := cache.Load[types.RankingSnapshot](h.cache, types.RankingSnapshotKey); ok {
		utils.WriteJSON(ctx, fasthttp.StatusOK, snapshot)
		return
	}

	identity, ok := identityOrReject(ctx)
	if !ok {
		return
	}

	ranking := h.rankingConfig()

	reqCtx, cancel := h.requestContext()
	defer cancel()

	body, err := h.backend.Select(reqCtx, identity.Token, ranking.Table, ranking.Query)
	if err != nil {
		h.writeBackendError(ctx, err, ranking.Table)
		return
	}

	var entries []map[string]interface{}
	if err := utils.Unmarshal(body, &entries); err != nil {
		h.logger.Error("Ranking response is not a list", zap.Error(err))
		utils.WriteError(ctx, fasthttp.StatusBadGateway, "Invalid ranking response")
		return
	}

	snapshot := types.RankingSnapshot{Entries: entries, RefreshedAt: time.Now().UTC()}
	if err := h.cache.Set(types.RankingSnapshotKey, snapshot, ranking.TTL); err != nil {
		h.logger.Warn("Failed to store ranking snapshot", zap.Error(err))
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, snapshot)
}

func (h *Handlers) rankingConfig() types.RankingConfig {
	ranking := types.RankingConfig{
		Table: "user_ranking",
		Query: "select=*&order=total_xp.desc&limit=100",
		TTL:   10 * time.Minute,
	}

	if h.config != nil && h.config.Ranking != nil {
		if h.config.Ranking.Table != "" {
			ranking.Table = h.config.Ranking.Table
		}
		if h.config.Ranking.Query != "" {
			ranking.Query = h.config.Ranking.Query
		}
		if h.config.Ranking.TTL > 0 {
			ranking.TTL = h.config.Ranking.TTL
		}
	}

	return ranking
}

func (h *Handlers) handleUploads(ctx *fasthttp.RequestCtx) {
	identity, ok := identityOrReject(ctx)
	if !ok {
		return
	}

	prefix := string(ctx.QueryArgs().Peek("prefix"))

	reqCtx, cancel := h.requestContext()
	defer cancel()

	body, err := h.backend.ListObjects(reqCtx, identity.Token, uploadsBucket, prefix)
	if err != nil {
		h.writeBackendError(ctx, err, uploadsBucket)
		return
	}

	writeRaw(ctx, fasthttp.StatusOK, body)
}

func writeRaw(ctx *fasthttp.RequestCtx, status int, body []byte) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
