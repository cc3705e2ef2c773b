// Package verify serves the public certificate lookup page data.
package verify

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/storage"
)

// HandleVerify handles GET requests for the public verification lookup.
// It returns the public-safe subset of the ledger entry: no recipient
// email, no issuer identity.
func HandleVerify(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleVerify"))
	ctx := c.Request().Context()

	certID := c.Param("certID")
	cert, err := store.GetCertificate(ctx, certID)
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
	}
	if err != nil {
		reqLogger.Error("Failed to load certificate", zap.String("cert_id", certID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load certificate")
	}
	return c.JSON(http.StatusOK, cert.PublicView())
}
