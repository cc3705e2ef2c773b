// Package issue drives one issuance batch: precondition checks once, then a
// per-recipient pipeline (identifier, QR, document, upload, ledger entry)
// with partial-failure accounting.
package issue

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/auth"
	"github.com/certforge/certforge/internal/blob"
	"github.com/certforge/certforge/internal/mailer"
	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/render"
	"github.com/certforge/certforge/internal/storage"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "issue"))
}

// Batch-fatal error conditions. These abort the whole request before any
// recipient is processed.
var (
	ErrInvalidRequest      = errors.New("issue: missing organization, template, job title or recipients")
	ErrTemplateNotApproved = errors.New("issue: template is not approved for issuance")
	ErrOrgForbidden        = errors.New("issue: caller does not belong to the requested organization")
)

// QuotaError reports a batch that would exceed the organization's monthly
// plan quota.
type QuotaError struct {
	Used      int
	Limit     int
	Requested int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("issue: monthly quota exceeded: %d of %d used, %d requested", e.Used, e.Limit, e.Requested)
}

// Request is one issuance batch: one template, one job title, N recipients.
type Request struct {
	OrgID      string            `json:"orgId"`
	TemplateID string            `json:"templateId"`
	JobTitle   string            `json:"jobTitle"`
	Recipients []model.Recipient `json:"recipients"`
}

// Result is the batch outcome returned to the caller. There is no
// per-recipient error detail; failures are logged for the operator.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Issuer orchestrates issuance batches. All collaborators are injected;
// the Issuer holds no ambient global state.
type Issuer struct {
	store      storage.Storage
	blobs      blob.Store
	compositor *render.Compositor
	mail       mailer.Mailer
	baseURL    string
}

// New creates an Issuer. baseURL is the public origin used in verification
// links and QR payloads.
func New(store storage.Storage, blobs blob.Store, compositor *render.Compositor, mail mailer.Mailer, baseURL string) *Issuer {
	return &Issuer{
		store:      store,
		blobs:      blobs,
		compositor: compositor,
		mail:       mail,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// IssueBatch runs one batch to completion. Preconditions (template exists
// and is approved, organization exists, quota allows the full batch) are
// checked once and are batch-fatal. Per-recipient failures increment the
// failure counter and never abort sibling recipients.
func (i *Issuer) IssueBatch(ctx context.Context, identity auth.Identity, req Request) (*Result, error) {
	if req.OrgID == "" || req.TemplateID == "" || req.JobTitle == "" || len(req.Recipients) == 0 {
		return nil, ErrInvalidRequest
	}
	// Issuer tokens are scoped to one organization; admins and API keys
	// (no org claim) may issue for any.
	if identity.OrgID != "" && identity.OrgID != req.OrgID && !identity.HasRole(auth.RoleAdmin) {
		return nil, ErrOrgForbidden
	}

	org, err := i.store.GetOrganization(ctx, req.OrgID)
	if err != nil {
		return nil, fmt.Errorf("issue: organization %s: %w", req.OrgID, err)
	}
	tpl, err := i.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("issue: template %s: %w", req.TemplateID, err)
	}
	if tpl.OrgID != req.OrgID {
		return nil, fmt.Errorf("issue: template %s: %w", req.TemplateID, storage.ErrNotFound)
	}
	if tpl.Status != model.TemplateStatusApproved {
		return nil, ErrTemplateNotApproved
	}

	// Best-effort quota check: concurrent batches for the same org can both
	// pass and jointly exceed the limit. Documented behavior, kept as-is.
	used, err := i.store.CountIssuedInMonth(ctx, org.ID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("issue: quota lookup for org %s: %w", org.ID, err)
	}
	if used+len(req.Recipients) > org.MonthlyLimit {
		return nil, &QuotaError{Used: used, Limit: org.MonthlyLimit, Requested: len(req.Recipients)}
	}

	res := &Result{}
	for _, rec := range req.Recipients {
		if err := i.issueOne(ctx, identity, org, tpl, req.JobTitle, rec); err != nil {
			res.Failed++
			logger.Warn("recipient failed",
				zap.String("org_id", org.ID),
				zap.String("recipient_email", rec.Get("email")),
				zap.Error(err))
			continue
		}
		res.Success++
	}
	logger.Info("batch complete",
		zap.String("org_id", org.ID),
		zap.String("template_id", tpl.ID),
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed))
	return res, nil
}

// issueOne runs the per-recipient pipeline. Exactly one ledger entry exists
// on success; any failure before the ledger write leaves zero entries.
func (i *Issuer) issueOne(ctx context.Context, identity auth.Identity, org *model.Organization, tpl *model.Template, jobTitle string, rec model.Recipient) error {
	name := strings.TrimSpace(rec.Get("name"))
	email := strings.TrimSpace(rec.Get("email"))
	if name == "" || email == "" {
		return errors.New("issue: recipient row is missing name or email")
	}

	certID := uuid.NewString()
	slug := Slugify(name)
	verifyURL := i.baseURL + "/verify/" + certID

	var qrURL string
	var qrPNG []byte
	if qr, ok := tpl.Fields.QR(); ok && qr.Enabled {
		png, err := qrcode.Encode(verifyURL, qrcode.Medium, 512)
		if err != nil {
			return fmt.Errorf("issue: failed to generate QR code: %w", err)
		}
		qrPNG = png
		qrURL, err = i.blobs.Upload(ctx, qrPNG, path.Join(org.ID, "qrcodes"), certID, blob.KindImage)
		if err != nil {
			return fmt.Errorf("issue: failed to upload QR code: %w", err)
		}
	}

	docBytes, err := i.compositor.Compose(ctx, render.Job{
		Template:  tpl,
		Recipient: rec,
		JobTitle:  jobTitle,
		CertID:    certID,
		VerifyURL: verifyURL,
		QRPNG:     qrPNG,
	})
	if err != nil {
		return err
	}
	pdfURL, err := i.blobs.Upload(ctx, docBytes, path.Join(org.ID, "certificates"), certID, blob.KindDocument)
	if err != nil {
		return fmt.Errorf("issue: failed to upload document: %w", err)
	}

	cert := &model.Certificate{
		CertID:         certID,
		OrgID:          org.ID,
		RecipientName:  name,
		RecipientEmail: email,
		RecipientSlug:  slug,
		JobTitle:       jobTitle,
		OrgName:        org.Name,
		Status:         model.CertificateStatusValid,
		QRURL:          qrURL,
		PDFURL:         pdfURL,
		IssuedBy:       identity.UID,
		TemplateID:     tpl.ID,
		Dept:           tpl.DepartmentID,
		IssuedAt:       time.Now().UTC(),
	}
	if err := i.store.SaveCertificate(ctx, cert); err != nil {
		return fmt.Errorf("issue: failed to write ledger entry: %w", err)
	}

	// The certificate exists once the ledger entry is written; a mail
	// failure is logged and does not fail the recipient.
	i.sendNotification(ctx, cert, verifyURL)
	return nil
}

func (i *Issuer) sendNotification(ctx context.Context, cert *model.Certificate, verifyURL string) {
	subject := fmt.Sprintf("Your certificate from %s", cert.OrgName)
	html := fmt.Sprintf(
		`<p>Hello %s,</p><p>%s has issued you a certificate for <b>%s</b>.</p><p>View and verify it at <a href=%q>%s</a>.</p>`,
		cert.RecipientName, cert.OrgName, cert.JobTitle, verifyURL, verifyURL)
	if err := i.mail.Send(ctx, cert.RecipientEmail, subject, html); err != nil {
		logger.Warn("notification email failed",
			zap.String("cert_id", cert.CertID),
			zap.String("recipient_email", cert.RecipientEmail),
			zap.Error(err))
	}
}

var (
	slugSpaces = regexp.MustCompile(`\s+`)
	slugStrip  = regexp.MustCompile(`[^a-z0-9-]`)
)

// Slugify derives the URL-safe achievement-page slug from a recipient name:
// lowercase, whitespace to hyphens, everything outside [a-z0-9-] stripped.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugSpaces.ReplaceAllString(s, "-")
	return slugStrip.ReplaceAllString(s, "")
}
