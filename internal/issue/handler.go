package issue

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/auth"
	"github.com/certforge/certforge/internal/storage"
)

// HandleIssueBatch handles POST requests to run one issuance batch. The
// auth middleware has already required the issuer role.
func HandleIssueBatch(c echo.Context) error {
	issuer := c.Get("issuer").(*Issuer)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleIssueBatch"))
	ctx := c.Request().Context()

	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing identity")
	}

	var req Request
	if err := c.Bind(&req); err != nil {
		reqLogger.Warn("Failed to bind request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	res, err := issuer.IssueBatch(ctx, identity, req)
	if err != nil {
		var quotaErr *QuotaError
		switch {
		case errors.Is(err, ErrInvalidRequest):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrOrgForbidden):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		case errors.Is(err, ErrTemplateNotApproved):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		case errors.As(err, &quotaErr):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		default:
			reqLogger.Error("Batch failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "Issuance failed")
		}
	}
	return c.JSON(http.StatusOK, res)
}
