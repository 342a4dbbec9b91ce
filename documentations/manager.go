package documentations

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type Spec struct {
	OpenAPI    string              `json:"openapi"`
	Info       Info                `json:"info"`
	Servers    []Server            `json:"servers,omitempty"`
	Paths      map[string]PathItem `json:"paths"`
	Tags       []Tag               `json:"tags,omitempty"`
	Components *Components         `json:"components,omitempty"`
}

type Info struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type Tag struct {
	Name string `json:"name"`
}

// PathItem maps a lower-case HTTP method to its operation.
type PathItem map[string]*Operation

type Operation struct {
	Summary     string                `json:"summary"`
	OperationID string                `json:"operationId"`
	Tags        []string              `json:"tags,omitempty"`
	Parameters  []Parameter           `json:"parameters,omitempty"`
	Responses   map[string]Response   `json:"responses"`
	Security    []map[string][]string `json:"security,omitempty"`
	Feature     string                `json:"x-feature,omitempty"`
	CacheTTL    string                `json:"x-cache-ttl,omitempty"`
	CacheScope  string                `json:"x-cache-scope,omitempty"`
}

type Parameter struct {
	Name     string            `json:"name"`
	In       string            `json:"in"`
	Required bool              `json:"required"`
	Schema   map[string]string `json:"schema"`
}

type Response struct {
	Description string `json:"description"`
}

type Components struct {
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes"`
}

type SecurityScheme struct {
	Type         string `json:"type"`
	Scheme       string `json:"scheme"`
	BearerFormat string `json:"bearerFormat,omitempty"`
}

// DocumentationManager describes the registered routes as an OpenAPI document.
// Routes are read when the document is first requested, after the server has
// compiled them.
type DocumentationManager struct {
	config  types.ConfigManager
	logger  types.Logger
	router  types.HTTPRouter
	mu      sync.RWMutex
	spec    *Spec
	running int32
}

func NewDocumentationManager(config types.ConfigManager, logger types.Logger, router types.HTTPRouter) *DocumentationManager {
	return &DocumentationManager{
		config: config,
		logger: logger,
		router: router,
	}
}

func (dm *DocumentationManager) Start() error {
	if !atomic.CompareAndSwapInt32(&dm.running, 0, 1) {
		dm.logger.Warn("Documentation manager is already running")
		return types.ErrServerAlreadyRunning
	}

	dm.logger.Info("Documentation manager started", zap.String("path", dm.path()))
	return nil
}

func (dm *DocumentationManager) Stop() error {
	if !atomic.CompareAndSwapInt32(&dm.running, 1, 0) {
		dm.logger.Warn("Documentation manager is not running")
		return types.ErrServerNotRunning
	}
	return nil
}

func (dm *DocumentationManager) IsRunning() bool {
	return atomic.LoadInt32(&dm.running) == 1
}

func (dm *DocumentationManager) RegisterRoutes(router types.HTTPRouter) {
	router.Add(fasthttp.MethodGet, dm.path(), dm.handleOpenAPIJSON, &types.RouteConfig{
		Timeout:             5 * time.Second,
		DisabledMiddlewares: []string{"auth", "access", "cache"},
	})
}

func (dm *DocumentationManager) path() string {
	if docs := dm.config.GetConfig().Docs; docs != nil && docs.Path != "" {
		return docs.Path
	}
	return "/openapi.json"
}

func (dm *DocumentationManager) GetSpec() *Spec {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.spec
}

func (dm *DocumentationManager) Generate() *Spec {
	config := dm.config.GetConfig()

	spec := &Spec{
		OpenAPI: "3.0.3",
		Info: Info{
			Title:       config.Name,
			Version:     config.Version,
			Description: fmt.Sprintf("%s API documentation", config.Name),
		},
		Servers: dm.generateServers(),
		Paths:   make(map[string]PathItem),
		Components: &Components{
			SecuritySchemes: map[string]SecurityScheme{
				"BearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
			},
		},
	}

	tags := make(map[string]struct{})

	for _, route := range dm.router.GetAllRoutes() {
		operation := dm.generateOperation(route)

		item, exists := spec.Paths[route.Path]
		if !exists {
			item = make(PathItem)
			spec.Paths[route.Path] = item
		}
		item[strings.ToLower(route.Method)] = operation

		for _, tag := range operation.Tags {
			tags[tag] = struct{}{}
		}
	}

	for tag := range tags {
		spec.Tags = append(spec.Tags, Tag{Name: tag})
	}
	sort.Slice(spec.Tags, func(i, j int) bool { return spec.Tags[i].Name < spec.Tags[j].Name })

	dm.mu.Lock()
	dm.spec = spec
	dm.mu.Unlock()

	dm.logger.Debug("OpenAPI document generated", zap.Int("paths", len(spec.Paths)))
	return spec
}

func (dm *DocumentationManager) generateServers() []Server {
	httpConfig := dm.config.GetConfig().Server.HTTP
	if httpConfig == nil {
		return nil
	}

	scheme := "http"
	if tls := dm.config.GetConfig().Server.TLS; tls != nil && tls.Enabled {
		scheme = "https"
	}

	return []Server{{URL: fmt.Sprintf("%s://%s:%d", scheme, httpConfig.Host, httpConfig.Port)}}
}

func (dm *DocumentationManager) generateOperation(route *types.RouteInfo) *Operation {
	config := route.Config
	if config == nil {
		config = &types.RouteConfig{}
	}

	operation := &Operation{
		Summary:     route.Method + " " + route.Path,
		OperationID: operationID(route.Method, route.Path),
		Tags:        []string{tagFor(route.Path)},
		Parameters:  pathParameters(route.Path),
		Responses:   map[string]Response{"200": {Description: "OK"}},
		Feature:     config.Feature,
	}

	if !disabled(config, "auth") {
		operation.Security = []map[string][]string{{"BearerAuth": {}}}
		operation.Responses["401"] = Response{Description: "Missing or invalid bearer token"}
	}
	if config.Feature != "" {
		operation.Responses["403"] = Response{Description: "Role may not access " + config.Feature}
	}
	if len(operation.Parameters) > 0 {
		operation.Responses["404"] = Response{Description: "Not found"}
	}
	if config.Timeout > 0 {
		operation.Responses["504"] = Response{Description: "Request timeout"}
	}
	if config.Cache != nil {
		operation.CacheTTL = config.Cache.TTL.String()
		operation.CacheScope = "user"
		if config.Cache.Shared {
			operation.CacheScope = "role"
		}
	}

	return operation
}

func disabled(config *types.RouteConfig, name string) bool {
	for _, n := range config.DisabledMiddlewares {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func pathParameters(path string) []Parameter {
	var params []Parameter
	for _, segment := range strings.Split(path, "/") {
		if len(segment) > 2 && segment[0] == '{' && segment[len(segment)-1] == '}' {
			params = append(params, Parameter{
				Name:     segment[1 : len(segment)-1],
				In:       "path",
				Required: true,
				Schema:   map[string]string{"type": "string"},
			})
		}
	}
	return params
}

// tagFor groups /api/<resource>/... under resource; everything else is "system".
func tagFor(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) >= 2 && segments[0] == "api" {
		return segments[1]
	}
	return "system"
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		segment = strings.Trim(segment, "{}")
		if segment == "" {
			continue
		}
		b.WriteString(strings.ToUpper(segment[:1]))
		b.WriteString(segment[1:])
	}
	return b.String()
}

func (dm *DocumentationManager) handleOpenAPIJSON(ctx *fasthttp.RequestCtx) {
	spec := dm.GetSpec()
	if spec == nil {
		spec = dm.Generate()
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, spec)
}
