package utils

import (
	"github.com/valyala/fasthttp"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteJSON(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	body, err := Marshal(payload)
	if err != nil {
		CreateErrorResponse(ctx)
		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func WriteError(ctx *fasthttp.RequestCtx, status int, message string) {
	noStore(ctx)

	WriteJSON(ctx, status, ErrorResponse{
		Error:     fasthttp.StatusMessage(status),
		Message:   message,
		RequestID: string(ctx.Response.Header.Peek("X-Request-ID")),
	})
}

func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetContentType("application/json")
	noStore(ctx)
	ctx.SetBodyString(`{"error":"Internal Server Error","message":"An unexpected error occurred"}`)
}

func CreateUnauthorizedResponse(ctx *fasthttp.RequestCtx) {
	WriteError(ctx, fasthttp.StatusUnauthorized, "Authentication required")
}

func CreateForbiddenResponse(ctx *fasthttp.RequestCtx) {
	WriteError(ctx, fasthttp.StatusForbidden, "Access to this area is not allowed for your role")
}

func noStore(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")
}
