package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/auth"
	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/database"
	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/response"
	"github.com/mrlokans/crudkit/internal/rest"
	"github.com/mrlokans/crudkit/internal/status"
	"github.com/mrlokans/crudkit/internal/sysmgmt"
)

const (
	apiPrefix = "/api"
	loginPath = apiPrefix + "/auth/login"
)

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.Config{}
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	if err := router.SetTrustedProxies(appCfg.HTTP.TrustedProxies); err != nil {
		logging.L().Warn("invalid trusted proxies, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(logging.RequestID())
	if !appCfg.Logger.AccessLogDisabled {
		router.Use(logging.GinLogger())
	}
	router.Use(logging.GinRecovery())
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware())
	}

	// Apply security headers to all responses
	router.Use(auth.SecurityHeadersMiddleware())
	router.Use(auth.StrictTransportSecurityMiddleware(0))

	router.Use(response.NewManager(appCfg.Response).Install())
	router.Use(database.QueryRecorder(appCfg.Database))

	// CSRF must run before session so that session context is preserved
	if cfg.Sessions != nil && len(cfg.CSRFSecret) > 0 {
		router.Use(auth.CSRFMiddleware(cfg.CSRFSecret, appCfg.Auth.SecureCookies, func(c *gin.Context) bool {
			return c.Request.URL.Path == loginPath
		}))
	}
	if cfg.Sessions != nil {
		router.Use(cfg.Sessions.LoadAndSave())
	}

	// The rest manager has to be installed before any model route is added.
	if cfg.App != nil {
		cfg.App.Manager.Install(router)
	}

	router.NoRoute(func(c *gin.Context) {
		response.Write(c, false, status.URINotFound)
	})
	router.NoMethod(func(c *gin.Context) {
		response.Write(c, false, status.MethodNotAllowed)
	})

	// Health endpoints
	health := NewHealthController(cfg.Database, cfg.TaskClient, cfg.Version)
	router.GET("/health", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group(apiPrefix)
	if cfg.App != nil {
		cfg.App.Register(api)
		api.GET("/routes", rest.LoginRequired(), func(c *gin.Context) {
			response.Write(c, true, cfg.App.Manager.Routes())
		})
		api.GET("/csrf", func(c *gin.Context) {
			response.Write(c, true, gin.H{"token": auth.GetCSRFToken(c)})
		})
	}

	// Task management endpoints
	if cfg.TaskClient != nil {
		tasksController := NewTasksController(cfg.TaskClient)
		read := rest.PermissionRequired(sysmgmt.ModuleActionLogs, "")
		run := rest.PermissionRequired(sysmgmt.ModuleActionLogs, rest.TypeDelete)
		api.GET("/tasks/types", read, tasksController.ListTaskTypes)
		api.GET("/tasks/status/:id", read, tasksController.GetTaskStatus)
		api.POST("/tasks/run/:type", run, tasksController.RunTask)
	}

	// Forwarded services
	if len(cfg.Proxies) > 0 {
		proxy := NewProxyController(cfg.ProxyClient, cfg.Proxies)
		router.Any("/proxy/:name/*path", rest.LoginRequired(), proxy.Forward)
	}

	return router
}
