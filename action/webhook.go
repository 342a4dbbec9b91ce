package action

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cache"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type WebhookState int32

const (
	WebhookStateStopped WebhookState = iota
	WebhookStateStarting
	WebhookStateRunning
	WebhookStateStopping
)

const (
	SignatureHeader = "X-Signature"
	signaturePrefix = "sha256="
)

// Event is a row change posted by the backend's database webhooks.
type Event struct {
	Type      string                 `json:"type" validate:"required,oneof=INSERT UPDATE DELETE"`
	Table     string                 `json:"table" validate:"required"`
	Schema    string                 `json:"schema"`
	Record    map[string]interface{} `json:"record"`
	OldRecord map[string]interface{} `json:"old_record"`
}

type EventResult struct {
	Table        string   `json:"table"`
	Dependencies []string `json:"dependencies"`
	Keys         []string `json:"keys"`
	Forgotten    string   `json:"forgotten,omitempty"`
}

// WebhookReceiver turns backend row changes into cache invalidation, so data
// written outside the gateway does not linger in cached responses.
type WebhookReceiver struct {
	logger        types.Logger
	metrics       types.MetricsManager
	cache         types.CacheManager
	resolver      types.IdentityResolver
	config        *types.WebhooksConfig
	profilesTable string
	validate      *validator.Validate
	state         atomic.Value
}

func NewWebhookReceiver(
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	cacheManager types.CacheManager,
	resolver types.IdentityResolver) (*WebhookReceiver, error) {
	webhooksConfig := config.GetConfig().Webhooks
	if webhooksConfig == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "webhooks")
	}
	if webhooksConfig.Secret == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "webhooks secret is empty")
	}
	if cacheManager == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "webhooks require a cache manager")
	}

	profilesTable := "user_profiles"
	if backendConfig := config.GetConfig().Backend; backendConfig != nil && backendConfig.ProfilesTable != "" {
		profilesTable = backendConfig.ProfilesTable
	}

	wr := &WebhookReceiver{
		logger:        logger.With(zap.String("component", "webhooks")),
		metrics:       metrics,
		cache:         cacheManager,
		resolver:      resolver,
		config:        webhooksConfig,
		profilesTable: profilesTable,
		validate:      validator.New(),
	}
	wr.state.Store(WebhookStateStopped)

	return wr, nil
}

func (wr *WebhookReceiver) Start() error {
	if !wr.transitionState(WebhookStateStopped, WebhookStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	wr.setState(WebhookStateRunning)
	wr.logger.Info("Webhook receiver started",
		zap.String("path", wr.path()),
		zap.Int("tables", len(wr.config.Tables)))
	return nil
}

func (wr *WebhookReceiver) Stop() error {
	if !wr.transitionState(WebhookStateRunning, WebhookStateStopping) {
		return types.ErrServerNotRunning
	}

	wr.setState(WebhookStateStopped)
	wr.logger.Info("Webhook receiver stopped")
	return nil
}

func (wr *WebhookReceiver) IsRunning() bool {
	return wr.getState() == WebhookStateRunning
}

func (wr *WebhookReceiver) getState() WebhookState {
	return wr.state.Load().(WebhookState)
}

func (wr *WebhookReceiver) setState(newState WebhookState) bool {
	currentState := wr.getState()
	return wr.state.CompareAndSwap(currentState, newState)
}

func (wr *WebhookReceiver) transitionState(from, to WebhookState) bool {
	return wr.state.CompareAndSwap(from, to)
}

// RegisterRoutes exposes the receiver. Callers are the backend, not portal users,
// so identity and permission middlewares are skipped; the signature authenticates.
func (wr *WebhookReceiver) RegisterRoutes(router types.HTTPRouter) {
	router.Add(fasthttp.MethodPost, wr.path(), wr.handleEvent, &types.RouteConfig{
		Timeout:             5 * time.Second,
		DisabledMiddlewares: []string{"auth", "access", "cache", "compression"},
	})
}

func (wr *WebhookReceiver) path() string {
	if wr.config.Path == "" {
		return "/hooks/backend"
	}
	return wr.config.Path
}

func (wr *WebhookReceiver) handleEvent(ctx *fasthttp.RequestCtx) {
	start := time.Now()

	if !wr.IsRunning() {
		utils.WriteError(ctx, fasthttp.StatusServiceUnavailable, "webhook receiver is not running")
		return
	}

	body := ctx.PostBody()
	if !VerifySignature(wr.config.Secret, body, string(ctx.Request.Header.Peek(SignatureHeader))) {
		wr.recordMetric("", "", "rejected", time.Since(start))
		utils.WriteError(ctx, fasthttp.StatusUnauthorized, "Invalid signature")
		return
	}

	var event Event
	if err := utils.Unmarshal(body, &event); err != nil {
		wr.recordMetric("", "", "invalid", time.Since(start))
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := wr.validate.Struct(&event); err != nil {
		wr.recordMetric(event.Table, event.Type, "invalid", time.Since(start))
		utils.WriteError(ctx, fasthttp.StatusUnprocessableEntity, err.Error())
		return
	}

	result, err := wr.Apply(event)
	if err != nil {
		wr.recordMetric(event.Table, event.Type, "error", time.Since(start))
		wr.logger.Error("Failed to apply webhook event",
			zap.String("table", event.Table),
			zap.String("type", event.Type),
			zap.Error(err))
		utils.WriteError(ctx, fasthttp.StatusInternalServerError, "Failed to apply event")
		return
	}

	wr.recordMetric(event.Table, event.Type, "success", time.Since(start))
	utils.WriteJSON(ctx, fasthttp.StatusOK, result)
}

// Apply invalidates whatever the changed table feeds. Tables without a mapping are
// acknowledged and ignored.
func (wr *WebhookReceiver) Apply(event Event) (*EventResult, error) {
	result := &EventResult{Table: event.Table, Dependencies: []string{}, Keys: []string{}}

	if event.Table == wr.profilesTable && wr.resolver != nil {
		if userID := recordValue(event, "user_id"); userID != "" {
			wr.resolver.Forget(userID)
			result.Forgotten = userID
		}
	}

	tableConfig, exists := wr.config.Tables[event.Table]
	if !exists || tableConfig == nil {
		wr.logger.Debug("Webhook event for unmapped table", zap.String("table", event.Table))
		return result, nil
	}

	if len(tableConfig.Dependencies) > 0 {
		if err := cache.TouchDependency(wr.cache, tableConfig.Dependencies...); err != nil {
			return nil, err
		}
		result.Dependencies = append(result.Dependencies, tableConfig.Dependencies...)
	}

	for _, key := range tableConfig.Keys {
		if wr.cache.Invalidate(key) {
			result.Keys = append(result.Keys, key)
		}
	}
	sort.Strings(result.Keys)

	wr.logger.Debug("Webhook event applied",
		zap.String("table", event.Table),
		zap.String("type", event.Type),
		zap.Strings("dependencies", result.Dependencies))

	return result, nil
}

func (wr *WebhookReceiver) recordMetric(table, eventType, result string, duration time.Duration) {
	if wr.metrics == nil {
		return
	}

	wr.metrics.Counter("webhook_events_total", map[string]string{
		"table":  table,
		"type":   eventType,
		"result": result,
	}).Inc()

	wr.metrics.Histogram("webhook_event_duration_seconds",
		[]float64{0.001, 0.005, 0.01, 0.05, 0.1},
		map[string]string{"result": result},
	).Observe(duration.Seconds())
}

// recordValue reads field from the new row, falling back to the old one for deletes.
func recordValue(event Event, field string) string {
	for _, record := range []map[string]interface{}{event.Record, event.OldRecord} {
		if value, ok := record[field]; ok && value != nil {
			return fmt.Sprintf("%v", value)
		}
	}
	return ""
}

func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil))
}

func VerifySignature(secret string, payload []byte, header string) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(header))
}
