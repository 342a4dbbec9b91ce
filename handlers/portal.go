package handlers

import (
	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type pagesResponse struct {
	Role  access.Role          `json:"role"`
	Pages []access.FeatureArea `json:"pages"`
}

type permissionResponse struct {
	Role    access.Role        `json:"role"`
	Area    access.FeatureArea `json:"area"`
	Allowed bool               `json:"allowed"`
}

func (h *Handlers) handleMe(ctx *fasthttp.RequestCtx) {
	identity, ok := identityOrReject(ctx)
	if !ok {
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, identity)
}

func (h *Handlers) handleMyPages(ctx *fasthttp.RequestCtx) {
	identity, ok := identityOrReject(ctx)
	if !ok {
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, pagesResponse{
		Role:  identity.Role,
		Pages: h.table.AllowedPages(identity.Role),
	})
}

func (h *Handlers) handlePermissionCheck(ctx *fasthttp.RequestCtx) {
	identity, ok := identityOrReject(ctx)
	if !ok {
		return
	}

	area := access.FeatureArea(ctx.QueryArgs().Peek("area"))
	if area == "" {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "Query parameter 'area' is required")
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, permissionResponse{
		Role:    identity.Role,
		Area:    area,
		Allowed: h.table.HasPermission(identity.Role, area),
	})
}

func (h *Handlers) handleRolePages(ctx *fasthttp.RequestCtx) {
	raw, _ := ctx.UserValue("role").(string)

	role, err := access.ParseRole(raw)
	if err != nil {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "Unknown role: "+raw)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, pagesResponse{
		Role:  role,
		Pages: h.table.AllowedPages(role),
	})
}
