package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/auth"
	"github.com/certforge/certforge/internal/config"
	"github.com/certforge/certforge/internal/issue"
	"github.com/certforge/certforge/internal/management"
	"github.com/certforge/certforge/internal/storage"
	"github.com/certforge/certforge/internal/verify"
)

// ApplyCommonMiddleware applies essential middleware to an Echo instance.
// It injects dependencies into the context.
func ApplyCommonMiddleware(e *echo.Echo, store storage.Storage, cfg *config.Config, issuer *issue.Issuer, baseLogger *zap.Logger) {
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	// Middleware to set context values
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			reqLogger := baseLogger.With(zap.String("request_id", reqID))

			c.Set("store", store)
			c.Set("cfg", cfg)
			c.Set("issuer", issuer)
			c.Set("logger", reqLogger)
			return next(c)
		}
	})
}

// SetupRouter defines all HTTP routes for the application.
func SetupRouter(e *echo.Echo, store storage.Storage, cfg *config.Config) {
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "certforge is running")
	})

	// Public verification lookup
	e.GET("/verify/:certID", verify.HandleVerify)

	secret := []byte(cfg.AuthSecret)
	issuerOnly := auth.BearerAuthMiddleware(secret, store, auth.RoleIssuer)
	adminOnly := auth.BearerAuthMiddleware(secret, store, auth.RoleAdmin)

	apiGroup := e.Group("/api/v1")

	// Issuance
	apiGroup.POST("/issue", issue.HandleIssueBatch, issuerOnly)

	// Template management
	templateGroup := apiGroup.Group("/templates")
	templateGroup.POST("", management.HandleCreateTemplate, issuerOnly)
	templateGroup.GET("", management.HandleListTemplates, issuerOnly)
	templateGroup.GET("/:templateID", management.HandleGetTemplate, issuerOnly)
	templateGroup.POST("/:templateID/status", management.HandleUpdateTemplateStatus, adminOnly)

	// Certificate administration
	apiGroup.POST("/certificates/:certID/revoke", management.HandleRevokeCertificate, adminOnly)

	// Organization administration
	apiGroup.POST("/orgs", management.HandleCreateOrganization, adminOnly)
	apiGroup.GET("/orgs/:orgID/usage", management.HandleGetOrgUsage, issuerOnly)
}
