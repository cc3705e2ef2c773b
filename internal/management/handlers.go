// Package management exposes the administrative API: template lifecycle,
// organization records and certificate revocation.
package management

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/auth"
	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/storage"
)

var logger *zap.Logger

func init() {
	logger = zap.L().Named("management")
}

// --- Template Management ---

// HandleCreateTemplate handles POST requests to register a new template.
// Templates start in pending status and must be approved before issuance.
func HandleCreateTemplate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleCreateTemplate"))
	ctx := c.Request().Context()

	var tpl model.Template
	if err := c.Bind(&tpl); err != nil {
		reqLogger.Warn("Failed to bind request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if tpl.Name == "" || tpl.OrgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Template name and orgId are required")
	}
	if tpl.Fields.Len() == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Template has no fields")
	}
	if err := tpl.Renderable(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	tpl.ID = uuid.NewString()
	tpl.Status = model.TemplateStatusPending
	tpl.CreatedAt = time.Now().UTC()
	if err := store.SaveTemplate(ctx, &tpl); err != nil {
		reqLogger.Error("Failed to save template", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save template")
	}

	reqLogger.Info("Template created", zap.String("template_id", tpl.ID), zap.String("org_id", tpl.OrgID))
	return c.JSON(http.StatusCreated, &tpl)
}

// HandleGetTemplate handles GET requests for a single template.
func HandleGetTemplate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleGetTemplate"))
	ctx := c.Request().Context()

	tpl, err := store.GetTemplate(ctx, c.Param("templateID"))
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Template not found")
	}
	if err != nil {
		reqLogger.Error("Failed to load template", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load template")
	}
	return c.JSON(http.StatusOK, tpl)
}

// HandleListTemplates handles GET requests listing an organization's templates.
func HandleListTemplates(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleListTemplates"))
	ctx := c.Request().Context()

	orgID := c.QueryParam("org")
	if orgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Query parameter 'org' is required")
	}
	tpls, err := store.ListTemplatesByOrg(ctx, orgID)
	if err != nil {
		reqLogger.Error("Failed to list templates", zap.String("org_id", orgID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list templates")
	}
	if tpls == nil {
		tpls = []*model.Template{}
	}
	return c.JSON(http.StatusOK, tpls)
}

// templateStatusRequest defines the expected JSON body for a status change.
type templateStatusRequest struct {
	Status string `json:"status"`
}

// HandleUpdateTemplateStatus handles POST requests transitioning a pending
// template to approved or rejected.
func HandleUpdateTemplateStatus(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleUpdateTemplateStatus"))
	ctx := c.Request().Context()

	var req templateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Status != model.TemplateStatusApproved && req.Status != model.TemplateStatusRejected {
		return echo.NewHTTPError(http.StatusBadRequest, "Status must be approved or rejected")
	}

	templateID := c.Param("templateID")
	tpl, err := store.GetTemplate(ctx, templateID)
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Template not found")
	}
	if err != nil {
		reqLogger.Error("Failed to load template", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load template")
	}
	if tpl.Status != model.TemplateStatusPending {
		return echo.NewHTTPError(http.StatusConflict, "Template status is already decided")
	}

	if err := store.UpdateTemplateStatus(ctx, templateID, req.Status); err != nil {
		reqLogger.Error("Failed to update template status", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update template status")
	}
	reqLogger.Info("Template status updated", zap.String("template_id", templateID), zap.String("status", req.Status))
	return c.NoContent(http.StatusNoContent)
}

// --- Certificate Revocation ---

// HandleRevokeCertificate handles POST requests invalidating an issued
// certificate. The transition is monotone: valid to revoked, never back.
func HandleRevokeCertificate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleRevokeCertificate"))
	ctx := c.Request().Context()

	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing identity")
	}

	certID := c.Param("certID")
	err := store.UpdateCertificateRevocation(ctx, certID, identity.UID, time.Now().UTC())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
	case errors.Is(err, storage.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "Certificate is already revoked")
	case err != nil:
		reqLogger.Error("Failed to revoke certificate", zap.String("cert_id", certID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to revoke certificate")
	}

	reqLogger.Info("Certificate revoked", zap.String("cert_id", certID), zap.String("revoked_by", identity.UID))
	return c.NoContent(http.StatusNoContent)
}

// --- Organization Management ---

// createOrgRequest defines the expected JSON body for creating an organization.
type createOrgRequest struct {
	Name         string `json:"name"`
	MonthlyLimit int    `json:"monthlyLimit"`
}

// HandleCreateOrganization handles POST requests registering an organization
// with its plan quota.
func HandleCreateOrganization(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleCreateOrganization"))
	ctx := c.Request().Context()

	var req createOrgRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Name == "" || req.MonthlyLimit <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Organization name and a positive monthlyLimit are required")
	}

	org := &model.Organization{
		ID:           uuid.NewString(),
		Name:         req.Name,
		MonthlyLimit: req.MonthlyLimit,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.SaveOrganization(ctx, org); err != nil {
		reqLogger.Error("Failed to save organization", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save organization")
	}
	reqLogger.Info("Organization created", zap.String("org_id", org.ID))
	return c.JSON(http.StatusCreated, org)
}

// orgUsageResponse reports current-month issuance against the plan quota.
type orgUsageResponse struct {
	OrgID        string `json:"orgId"`
	Used         int    `json:"used"`
	MonthlyLimit int    `json:"monthlyLimit"`
}

// HandleGetOrgUsage handles GET requests for an organization's
// current-month issuance usage.
func HandleGetOrgUsage(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleGetOrgUsage"))
	ctx := c.Request().Context()

	orgID := c.Param("orgID")
	org, err := store.GetOrganization(ctx, orgID)
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Organization not found")
	}
	if err != nil {
		reqLogger.Error("Failed to load organization", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load organization")
	}

	used, err := store.CountIssuedInMonth(ctx, orgID, time.Now().UTC())
	if err != nil {
		reqLogger.Error("Failed to count issuance", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to count issuance")
	}
	return c.JSON(http.StatusOK, orgUsageResponse{OrgID: orgID, Used: used, MonthlyLimit: org.MonthlyLimit})
}
