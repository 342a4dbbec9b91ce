package middleware

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

// AccessMiddleware gates routes registered WithFeature: the caller's role must
// have the route's feature area in the permission table.
type AccessMiddleware struct {
	logger  types.Logger
	metrics types.MetricsManager
	table   *access.Table
	weight  int
}

func NewAccessMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, table *access.Table) *AccessMiddleware {
	return &AccessMiddleware{
		logger:  logger,
		metrics: metrics,
		table:   table,
		weight:  itemWeight(config.GetConfig().Middlewares.Access, 80),
	}
}

func (a *AccessMiddleware) Name() string { return "access" }
func (a *AccessMiddleware) Weight() int  { return a.weight }

func (a *AccessMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	if config == nil || config.Feature == "" || ctx.IsOptions() {
		next(ctx)
		return
	}

	identity, ok := IdentityFrom(ctx)
	if !ok {
		utils.CreateUnauthorizedResponse(ctx)
		return
	}

	area := access.FeatureArea(config.Feature)
	if !a.table.HasPermission(identity.Role, area) {
		a.logger.Info("Access denied",
			zap.String("user_id", identity.UserID),
			zap.String("role", identity.Role.String()),
			zap.String("area", config.Feature))

		if a.metrics != nil {
			a.metrics.Counter("access_denied_total", map[string]string{
				"role": identity.Role.String(),
				"area": config.Feature,
			}).Inc()
		}

		utils.CreateForbiddenResponse(ctx)
		return
	}

	next(ctx)
}
