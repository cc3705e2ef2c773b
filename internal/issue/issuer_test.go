package issue_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/auth"
	"github.com/certforge/certforge/internal/blob"
	"github.com/certforge/certforge/internal/fontkit"
	"github.com/certforge/certforge/internal/issue"
	"github.com/certforge/certforge/internal/mailer"
	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/render"
	"github.com/certforge/certforge/internal/storage"
)

const testBaseURL = "https://certs.example.com"

var testIdentity = auth.Identity{UID: "user-1", OrgID: "org-1", Roles: []string{auth.RoleIssuer}}

// recordMailer captures notification sends for assertions.
type recordMailer struct {
	to   []string
	fail bool
}

func (m *recordMailer) Send(ctx context.Context, to, subject, html string) error {
	if m.fail {
		return errors.New("mail gateway down")
	}
	m.to = append(m.to, to)
	return nil
}

type fixture struct {
	store  *storage.MemoryStorage
	blobs  *blob.MemoryStore
	mail   *recordMailer
	issuer *issue.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	blobs := blob.NewMemoryStore()
	mail := &recordMailer{}
	resolver := fontkit.NewWebResolver("http://127.0.0.1:0/css", time.Second)
	comp := render.NewCompositor(resolver, 5*time.Second)
	return &fixture{
		store:  store,
		blobs:  blobs,
		mail:   mail,
		issuer: issue.New(store, blobs, comp, mail, testBaseURL),
	}
}

func (f *fixture) seedOrg(t *testing.T, monthlyLimit int) {
	t.Helper()
	require.NoError(t, f.store.SaveOrganization(context.Background(), &model.Organization{
		ID: "org-1", Name: "Acme Institute", MonthlyLimit: monthlyLimit,
	}))
}

func (f *fixture) seedTemplate(t *testing.T, status string, qrEnabled bool) {
	t.Helper()
	tpl := &model.Template{
		ID:     "tpl-1",
		Name:   "Completion",
		OrgID:  "org-1",
		Status: status,
	}
	tpl.Fields.Set("recipientName", model.TextField{
		Enabled: true, X: 100, Y: 220, W: 640,
		Font: fontkit.FamilySerif, Bold: true, Size: 36,
		Color: "#1a1a2e", Align: model.AlignCenter,
	})
	tpl.Fields.Set("certId", model.TextField{
		Enabled: true, X: 40, Y: 540,
		Font: fontkit.FamilyMono, Size: 10, Align: model.AlignLeft,
	})
	tpl.Fields.Set(model.QRFieldKey, model.QRField{Enabled: qrEnabled, X: 720, Y: 60, Size: 90})
	require.NoError(t, f.store.SaveTemplate(context.Background(), tpl))
}

func recipient(pairs ...string) model.Recipient {
	var rec model.Recipient
	for i := 0; i+1 < len(pairs); i += 2 {
		rec.Set(pairs[i], pairs[i+1])
	}
	return rec
}

func baseRequest(recipients ...model.Recipient) issue.Request {
	return issue.Request{
		OrgID:      "org-1",
		TemplateID: "tpl-1",
		JobTitle:   "Engineer",
		Recipients: recipients,
	}
}

func TestIssueBatchSingleRecipient(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t, 100)
	f.seedTemplate(t, model.TemplateStatusApproved, true)

	res, err := f.issuer.IssueBatch(context.Background(), testIdentity,
		baseRequest(recipient("name", "Ada Lovelace", "email", "ada@example.com")))
	require.NoError(t, err)
	assert.Equal(t, &issue.Result{Success: 1, Failed: 0}, res)

	// One ledger entry with the full issuance record.
	used, err := f.store.CountIssuedInMonth(context.Background(), "org-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	var cert *model.Certificate
	for _, name := range f.blobs.Names() {
		if strings.HasSuffix(name, ".pdf") {
			certID := strings.TrimSuffix(name[strings.LastIndex(name, "/")+1:], ".pdf")
			cert, err = f.store.GetCertificate(context.Background(), certID)
			require.NoError(t, err)
		}
	}
	require.NotNil(t, cert, "ledger entry must match the uploaded document")
	assert.Equal(t, "Ada Lovelace", cert.RecipientName)
	assert.Equal(t, "ada@example.com", cert.RecipientEmail)
	assert.Equal(t, "ada-lovelace", cert.RecipientSlug)
	assert.Equal(t, "Engineer", cert.JobTitle)
	assert.Equal(t, "Acme Institute", cert.OrgName)
	assert.Equal(t, model.CertificateStatusValid, cert.Status)
	assert.Equal(t, "user-1", cert.IssuedBy)
	assert.NotEmpty(t, cert.PDFURL)
	assert.NotEmpty(t, cert.QRURL)
	assert.Contains(t, cert.QRURL, cert.CertID)

	// QR image plus document.
	assert.Equal(t, 2, f.blobs.Len())
	assert.Equal(t, []string{"ada@example.com"}, f.mail.to)
}

func TestIssueBatchPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t, 100)
	f.seedTemplate(t, model.TemplateStatusApproved, false)

	res, err := f.issuer.IssueBatch(context.Background(), testIdentity, baseRequest(
		recipient("name", "Ada Lovelace", "email", "ada@example.com"),
		recipient("name", "Grace Hopper", "email", "grace@example.com"),
		recipient("name", "No Email Row"), // missing email
		recipient("name", "Alan Turing", "email", "alan@example.com"),
		recipient("email", "anonymous@example.com"), // missing name
	))
	require.NoError(t, err, "recipient failures do not fail the batch")
	assert.Equal(t, &issue.Result{Success: 3, Failed: 2}, res)

	used, err := f.store.CountIssuedInMonth(context.Background(), "org-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 3, used, "failed rows leave no ledger entry")
	assert.Equal(t, 3, f.blobs.Len(), "no QR field: one document per success")
}

func TestIssueBatchQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t, 200)
	f.seedTemplate(t, model.TemplateStatusApproved, false)

	// 199 already issued this month.
	now := time.Now().UTC()
	for i := 0; i < 199; i++ {
		require.NoError(t, f.store.SaveCertificate(context.Background(), &model.Certificate{
			CertID: fmt.Sprintf("seed-%03d", i),
			OrgID:  "org-1", Status: model.CertificateStatusValid, IssuedAt: now,
		}))
	}

	res, err := f.issuer.IssueBatch(context.Background(), testIdentity, baseRequest(
		recipient("name", "Ada Lovelace", "email", "ada@example.com"),
		recipient("name", "Grace Hopper", "email", "grace@example.com"),
	))
	require.Error(t, err)
	assert.Nil(t, res)

	var quotaErr *issue.QuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 199, quotaErr.Used)
	assert.Equal(t, 200, quotaErr.Limit)
	assert.Equal(t, 2, quotaErr.Requested)

	used, err := f.store.CountIssuedInMonth(context.Background(), "org-1", now)
	require.NoError(t, err)
	assert.Equal(t, 199, used, "an over-quota batch processes no recipients")
}

func TestIssueBatchExactQuotaFits(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t, 2)
	f.seedTemplate(t, model.TemplateStatusApproved, false)

	res, err := f.issuer.IssueBatch(context.Background(), testIdentity, baseRequest(
		recipient("name", "Ada Lovelace", "email", "ada@example.com"),
		recipient("name", "Grace Hopper", "email", "grace@example.com"),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
}

func TestIssueBatchValidation(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t, 100)
	f.seedTemplate(t, model.TemplateStatusApproved, false)

	cases := []struct {
		name string
		req  issue.Request
	}{
		{"missing org", issue.Request{TemplateID: "tpl-1", JobTitle: "Engineer", Recipients: []model.Recipient{recipient("name", "A", "email", "a@x")}}},
		{"missing template", issue.Request{OrgID: "org-1", JobTitle: "Engineer", Recipients: []model.Recipient{recipient("name", "A", "email", "a@x")}}},
		{"missing job title", issue.Request{OrgID: "org-1", TemplateID: "tpl-1", Recipients: []model.Recipient{recipient("name", "A", "email", "a@x")}}},
		{"no recipients", issue.Request{OrgID: "org-1", TemplateID: "tpl-1", JobTitle: "Engineer"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.issuer.IssueBatch(context.Background(), testIdentity, tc.req)
			assert.ErrorIs(t, err, issue.ErrInvalidRequest)
		})
	}
}

func TestIssueBatchTemplateNotFound(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t, 100)

	_, err := f.issuer.IssueBatch(context.Background(), testIdentity,
		baseRequest(recipient("name", "A", "email", "a@x")))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIssueBatchTemplateFromAnotherOrg(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t, 100)
	f.seedTemplate(t, model.TemplateStatusApproved, false)
	require.NoError(t, f.store.SaveOrganization(context.Background(), &model.Organization{
		ID: "org-2", Name: "Rival Corp", MonthlyLimit: 100,
	}))

	// Admin identity so the org-membership gate is not what rejects this.
	admin := auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
	req := baseRequest(recipient("name", "A", "email", "a@x"))
	req.OrgID = "org-2"
	_, err := f.issuer.IssueBatch(context.Background(), admin, req)
	assert.ErrorIs(t, err, storage.ErrNotFound, "cross-org template access reads as not found")
}

func TestIssueBatchOrgScope(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t, 100)
	f.seedTemplate(t, model.TemplateStatusApproved, false)
	req := baseRequest(recipient("name", "Ada Lovelace", "email", "ada@example.com"))

	t.Run("issuer token bound to another org", func(t *testing.T) {
		outsider := auth.Identity{UID: "user-2", OrgID: "org-2", Roles: []string{auth.RoleIssuer}}
		_, err := f.issuer.IssueBatch(context.Background(), outsider, req)
		assert.ErrorIs(t, err, issue.ErrOrgForbidden)
	})

	t.Run("admin token crosses orgs", func(t *testing.T) {
		admin := auth.Identity{UID: "admin-1", OrgID: "org-2", Roles: []string{auth.RoleAdmin}}
		res, err := f.issuer.IssueBatch(context.Background(), admin, req)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Success)
	})

	t.Run("API key identity has no org claim", func(t *testing.T) {
		key := auth.Identity{UID: "api-key", Roles: []string{auth.RoleIssuer}}
		res, err := f.issuer.IssueBatch(context.Background(), key, req)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Success)
	})
}

func TestIssueBatchTemplateNotApproved(t *testing.T) {
	for _, status := range []string{model.TemplateStatusPending, model.TemplateStatusRejected} {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t)
			f.seedOrg(t, 100)
			f.seedTemplate(t, status, false)

			_, err := f.issuer.IssueBatch(context.Background(), testIdentity,
				baseRequest(recipient("name", "A", "email", "a@x")))
			assert.ErrorIs(t, err, issue.ErrTemplateNotApproved)
		})
	}
}

func TestIssueBatchMailFailureDoesNotFailRecipient(t *testing.T) {
	f := newFixture(t)
	f.mail.fail = true
	f.seedOrg(t, 100)
	f.seedTemplate(t, model.TemplateStatusApproved, false)

	res, err := f.issuer.IssueBatch(context.Background(), testIdentity,
		baseRequest(recipient("name", "Ada Lovelace", "email", "ada@example.com")))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)

	used, err := f.store.CountIssuedInMonth(context.Background(), "org-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, used, "ledger entry survives a mail gateway outage")
}

func TestReissueProducesDistinctCertificates(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t, 100)
	f.seedTemplate(t, model.TemplateStatusApproved, false)

	req := baseRequest(recipient("name", "Ada Lovelace", "email", "ada@example.com"))
	_, err := f.issuer.IssueBatch(context.Background(), testIdentity, req)
	require.NoError(t, err)
	_, err = f.issuer.IssueBatch(context.Background(), testIdentity, req)
	require.NoError(t, err)

	used, err := f.store.CountIssuedInMonth(context.Background(), "org-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, used, "reissuing the same recipient creates a new certificate")
	assert.Equal(t, 2, f.blobs.Len())
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Ada Lovelace":        "ada-lovelace",
		"  Grace   Hopper  ":  "grace-hopper",
		"José Álvarez":        "jos-lvarez",
		"O'Brien, Conan":      "obrien-conan",
		"x":                   "x",
		"ALLCAPS":             "allcaps",
		"already-sluggy-name": "already-sluggy-name",
	}
	for in, want := range cases {
		assert.Equal(t, want, issue.Slugify(in), "Slugify(%q)", in)
	}
}

var _ mailer.Mailer = (*recordMailer)(nil)
