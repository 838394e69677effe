package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/crmauth/internal/apikey"
	apikeydomain "github.com/smallbiznis/crmauth/internal/apikey/domain"
	"github.com/smallbiznis/crmauth/internal/audit"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/internal/auth"
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/authorization"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/observability"
	obslogger "github.com/smallbiznis/crmauth/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/crmauth/internal/observability/metrics"
	obstracing "github.com/smallbiznis/crmauth/internal/observability/tracing"
	"github.com/smallbiznis/crmauth/internal/organization"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/internal/organization/resolver"
	"github.com/smallbiznis/crmauth/internal/providers"
	"github.com/smallbiznis/crmauth/internal/ratelimit"
	"github.com/smallbiznis/crmauth/internal/realtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	providers.Module,
	ratelimit.Module,
	organization.Module,
	auth.Module,
	apikey.Module,
	realtime.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	clock           clock.Clock
	authsvc         authdomain.Service
	organizationSvc orgdomain.Service
	resolver        *resolver.Resolver
	apiKeySvc       apikeydomain.Service
	authorizer      *authorization.Authorizer
	auditSvc        auditdomain.Service
	realtime        *realtime.Handler
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Clock           clock.Clock
	Authsvc         authdomain.Service
	OrganizationSvc orgdomain.Service
	Resolver        *resolver.Resolver
	APIKeySvc       apikeydomain.Service
	Authorizer      *authorization.Authorizer
	AuditSvc        auditdomain.Service

	Realtime *realtime.Handler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}

	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		clock:           clk,
		authsvc:         p.Authsvc,
		organizationSvc: p.OrganizationSvc,
		resolver:        p.Resolver,
		apiKeySvc:       p.APIKeySvc,
		authorizer:      p.Authorizer,
		auditSvc:        p.AuditSvc,
		realtime:        p.Realtime,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerServiceRoutes()
	svc.registerRealtimeRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.Signup)
	auth.POST("/login", s.Login)
	auth.POST("/password/forgot", s.ResolveOrganization(), s.ForgotPassword)
	auth.POST("/password/reset", s.ResetPassword)
	auth.GET("/session", s.OptionalAuth(), s.SessionStatus)

	session := auth.Group("", s.Authenticated(), s.TenantScope())
	{
		session.POST("/logout", s.Logout)
		session.POST("/logout-all", s.LogoutAll)
		session.POST("/refresh", s.Refresh)
		session.GET("/me", s.Me)
		session.GET("/sessions", s.ListSessions)
		session.POST("/change-password", s.ChangePassword)
	}
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1",
		s.Authenticated(),
		s.ValidateOrganizationContext(),
		s.RequireOrganization(),
		s.TenantScope(),
	)

	admin := s.RequireRole(authorization.RoleAdmin)

	// -------- Organization --------
	api.GET("/organization", s.GetOrganization)
	api.PATCH("/organization", admin, s.UpdateOrganization)
	api.POST("/organization/deactivate", admin, s.DeactivateOrganization)

	// -------- Users --------
	api.GET("/users", s.RequirePermission(authorization.UsersRead), s.ListUsers)
	api.POST("/users", admin, s.CreateUser)
	api.GET("/users/:id", s.RequirePermission(authorization.UsersRead), s.GetUser)
	api.PATCH("/users/:id", admin, s.UpdateUser)
	api.DELETE("/users/:id", admin, s.DeleteUser)

	// -------- API keys --------
	keys := api.Group("/api-keys", s.RequirePermission(authorization.APIKeysManage))
	{
		keys.GET("", s.ListAPIKeys)
		keys.POST("", s.CreateAPIKey)
		keys.GET("/:id", s.GetAPIKey)
		keys.POST("/:id/rotate", s.RotateAPIKey)
		keys.POST("/:id/deactivate", s.DeactivateAPIKey)
		keys.DELETE("/:id", s.DeleteAPIKey)
	}

	// -------- Roles --------
	roles := api.Group("/roles", admin)
	{
		roles.GET("/:role/permissions", s.GetRolePermissions)
		roles.PUT("/:role/permissions/:permission", s.GrantRolePermission)
		roles.DELETE("/:role/permissions/:permission", s.RevokeRolePermission)
	}

	// -------- Audit --------
	api.GET("/audit-logs", s.RequirePermission(authorization.AuditRead), s.ListAuditLogs)
}

func (s *Server) registerServiceRoutes() {
	service := s.engine.Group("/service/v1", s.APIKeyRequired(), s.ValidateAPIKeyOrganizationContext())

	service.GET("/whoami", s.Whoami)
	service.GET("/rate-limit", s.APIKeyRateLimit)
	service.GET("/users", s.RequireAPIKeyPermission(authorization.UsersRead), s.ListUsers)
}

func (s *Server) registerRealtimeRoutes() {
	if s.realtime == nil {
		return
	}
	s.engine.GET("/ws", s.realtime.Serve)
}

// allowed is the permission check behind RequirePermission. Without an
// authorizer only admins and explicit grants pass.
func (s *Server) allowed(orgID uuid.UUID, role authorization.Role, granted authorization.PermissionSet, perm authorization.Permission) bool {
	if s.authorizer == nil {
		return role == authorization.RoleAdmin || granted.Has(perm)
	}
	return s.authorizer.Allowed(orgID, role, granted, perm)
}
