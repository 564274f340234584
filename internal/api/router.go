package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/middleware"
	"github.com/rhesis-ai/rhesis/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log          *logrus.Logger
	Auth         *middleware.Authenticator
	Guard        *middleware.BruteForceGuard
	Tokens       TokenAuthenticator
	TokenUsage   TokenUsageRecorder
	Sessions     SessionStore
	DB           HealthChecker
	Schema       SchemaChecker
	Role         RoleChecker
	Hub          *ws.Hub
	Projects     ProjectService
	Tests        TestService
	TestSets     TestSetService
	Endpoints    EndpointService
	TestRuns     TestRunService
	TokenService TokenService
	Tasks        TaskService
	Admin        AdminService
	Audit        AuditService
	CORSOrigins  []string
	Version      string

	// OrgRateLimit and OrgRateBurst bound requests per organization on
	// authenticated routes; zero disables the limit.
	OrgRateLimit       int
	OrgRateBurst       int
	AuditRetentionDays int
	// HTTPS enables HSTS.
	HTTPS bool
}

// Router-level limits.
const (
	maxBodySize = 10 << 20 // 10 MB
	rateLimit   = 100      // requests per second per IP
	rateBurst   = 200      // token bucket burst size
)

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(ctx context.Context, r *gin.Engine, deps *RouterDeps) error {
	corsCfg := cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{"X-Total-Count", "X-Request-ID"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: true, // session cookie
	}
	if err := corsCfg.Validate(); err != nil {
		return fmt.Errorf("cors configuration: %w", err)
	}

	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders(deps.HTTPS))
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(cors.New(corsCfg))
	r.Use(middleware.NewRateLimiter(ctx, rateLimit, rateBurst).Handler())
	r.Use(middleware.PrometheusMiddleware())

	// Metrics endpoint (unauthenticated, like health).
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return nil
}

// registerRoutes wires every handler under its route class. Nothing reads
// a tenant identity except through Require.
func registerRoutes(ctx context.Context, api *gin.RouterGroup, deps *RouterDeps) {
	log := deps.Log

	var clients ClientCounter
	if deps.Hub != nil {
		clients = deps.Hub
	}

	health := NewHealthHandler(deps.DB, deps.Schema, deps.Role, clients, log, deps.Version)
	login := NewAuthHandler(deps.Tokens, deps.TokenUsage, deps.Sessions, deps.Guard, log)
	projects := NewProjectHandler(deps.Projects, log)
	tests := NewTestHandler(deps.Tests, log)
	testSets := NewTestSetHandler(deps.TestSets, log)
	endpoints := NewEndpointHandler(deps.Endpoints, log)
	runs := NewTestRunHandler(deps.TestRuns, log)
	tokens := NewTokenHandler(deps.TokenService, log)
	tasks := NewTaskHandler(deps.Tasks, log)
	admin := NewAdminHandler(deps.Admin, log)
	audit := NewAuditHandler(deps.Audit, log, deps.AuditRetentionDays)

	public := api.Group("", deps.Auth.Require(middleware.Public))
	public.GET("/health", health.Liveness)
	public.GET("/ready", health.Readiness)
	public.POST("/auth/login", login.Login)

	session := api.Group("", deps.Auth.Require(middleware.SessionOnly))
	session.POST("/auth/logout", login.Logout)

	authed := api.Group("", deps.Auth.Require(middleware.TokenOrSession))
	if deps.OrgRateLimit > 0 && deps.OrgRateBurst > 0 {
		authed.Use(middleware.NewRateLimiter(ctx, deps.OrgRateLimit, deps.OrgRateBurst).PerOrganization())
	}

	authed.GET("/projects/", projects.List)
	authed.POST("/projects/", projects.Create)
	authed.GET("/projects/:id", projects.Get)
	authed.PUT("/projects/:id", projects.Update)
	authed.DELETE("/projects/:id", projects.Delete)

	authed.GET("/tests/", tests.List)
	authed.POST("/tests/", tests.Create)
	authed.GET("/tests/:id", tests.Get)
	authed.PUT("/tests/:id", tests.Update)
	authed.DELETE("/tests/:id", tests.Delete)

	authed.GET("/test-sets/", testSets.List)
	authed.POST("/test-sets/", testSets.Create)
	authed.GET("/test-sets/:id", testSets.Get)
	authed.PUT("/test-sets/:id", testSets.Update)
	authed.DELETE("/test-sets/:id", testSets.Delete)
	authed.POST("/test-sets/:id/execute", testSets.Execute)

	authed.GET("/endpoints/", endpoints.List)
	authed.POST("/endpoints/", endpoints.Create)
	authed.GET("/endpoints/:id", endpoints.Get)
	authed.PUT("/endpoints/:id", endpoints.Update)
	authed.DELETE("/endpoints/:id", endpoints.Delete)

	authed.GET("/test-runs/", runs.List)
	authed.GET("/test-runs/:id", runs.Get)

	authed.GET("/tasks/:id", tasks.Get)
	authed.DELETE("/tasks/:id", tasks.Revoke)

	authed.POST("/tokens/", tokens.Create)
	authed.GET("/tokens/", tokens.List)
	authed.DELETE("/tokens/:id", tokens.Revoke)

	authed.GET("/admin/organizations", admin.ListOrganizations)

	authed.GET("/audit", audit.Query)
	authed.DELETE("/audit", audit.Purge)

	if deps.Hub != nil {
		authed.GET("/ws", wsHandler(ctx, log, deps.Hub, deps.CORSOrigins, deps.Tokens))
	}
}

// NewRouter creates and configures the Gin engine with all middleware and
// routes. It fails when the middleware configuration is unusable, for
// example an empty CORS origin list.
func NewRouter(ctx context.Context, deps *RouterDeps) (http.Handler, error) {
	r := gin.New()
	r.RedirectTrailingSlash = false
	if err := setupMiddleware(ctx, r, deps); err != nil {
		return nil, err
	}
	registerRoutes(ctx, r.Group("/api/v1"), deps)

	return r, nil
}
