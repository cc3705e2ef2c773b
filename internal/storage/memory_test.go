package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/storage"
)

func TestNotFoundSentinels(t *testing.T) {
	s := storage.NewMemoryStorage()
	ctx := context.Background()

	_, err := s.GetOrganization(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetCertificate(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetAPIKey(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	err = s.UpdateTemplateStatus(ctx, "missing", model.TemplateStatusApproved)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	err = s.UpdateCertificateRevocation(ctx, "missing", "admin", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRevocationIsMonotone(t *testing.T) {
	s := storage.NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.SaveCertificate(ctx, &model.Certificate{
		CertID: "cert-1", OrgID: "org-1", Status: model.CertificateStatusValid,
	}))

	now := time.Now().UTC()
	require.NoError(t, s.UpdateCertificateRevocation(ctx, "cert-1", "admin-1", now))

	cert, err := s.GetCertificate(ctx, "cert-1")
	require.NoError(t, err)
	assert.Equal(t, model.CertificateStatusRevoked, cert.Status)
	assert.Equal(t, "admin-1", cert.RevokedBy)
	assert.Equal(t, now, cert.RevokedAt)

	err = s.UpdateCertificateRevocation(ctx, "cert-1", "admin-2", time.Now())
	assert.ErrorIs(t, err, storage.ErrConflict)

	// The first revocation record survives the conflicting attempt.
	cert, err = s.GetCertificate(ctx, "cert-1")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", cert.RevokedBy)
}

func TestCountIssuedInMonthWindow(t *testing.T) {
	s := storage.NewMemoryStorage()
	ctx := context.Background()

	month := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)
	issue := func(id string, at time.Time, org string) {
		require.NoError(t, s.SaveCertificate(ctx, &model.Certificate{
			CertID: id, OrgID: org, Status: model.CertificateStatusValid, IssuedAt: at,
		}))
	}

	issue("first-instant", time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC), "org-1")
	issue("mid-month", time.Date(2026, time.August, 15, 9, 30, 0, 0, time.UTC), "org-1")
	issue("last-instant", time.Date(2026, time.August, 31, 23, 59, 59, 999999999, time.UTC), "org-1")
	issue("prior-month", time.Date(2026, time.July, 31, 23, 59, 59, 0, time.UTC), "org-1")
	issue("next-month", time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC), "org-1")
	issue("other-org", time.Date(2026, time.August, 10, 0, 0, 0, 0, time.UTC), "org-2")

	count, err := s.CountIssuedInMonth(ctx, "org-1", month)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = s.CountIssuedInMonth(ctx, "org-2", month)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCountIssuedIncludesRevoked(t *testing.T) {
	// Revocation does not refund quota.
	s := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.SaveCertificate(ctx, &model.Certificate{
		CertID: "cert-1", OrgID: "org-1", Status: model.CertificateStatusValid, IssuedAt: now,
	}))
	require.NoError(t, s.UpdateCertificateRevocation(ctx, "cert-1", "admin", now))

	count, err := s.CountIssuedInMonth(ctx, "org-1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListTemplatesByOrg(t *testing.T) {
	s := storage.NewMemoryStorage()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		org := "org-1"
		if i == 2 {
			org = "org-2"
		}
		require.NoError(t, s.SaveTemplate(ctx, &model.Template{
			ID: fmt.Sprintf("tpl-%d", i), Name: "T", OrgID: org, Status: model.TemplateStatusPending,
		}))
	}

	tpls, err := s.ListTemplatesByOrg(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, tpls, 2)

	tpls, err = s.ListTemplatesByOrg(ctx, "org-3")
	require.NoError(t, err)
	assert.Empty(t, tpls)
}

func TestAPIKeyRoundTrip(t *testing.T) {
	s := storage.NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.SaveAPIKey(ctx, "key-1", []string{"issuer"}))
	roles, err := s.GetAPIKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"issuer"}, roles)

	// Returned slice is a copy; mutating it must not poison the store.
	roles[0] = "admin"
	roles, err = s.GetAPIKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"issuer"}, roles)
}

func TestSavedRecordsAreDetached(t *testing.T) {
	s := storage.NewMemoryStorage()
	ctx := context.Background()

	org := &model.Organization{ID: "org-1", Name: "Acme", MonthlyLimit: 10}
	require.NoError(t, s.SaveOrganization(ctx, org))
	org.Name = "Mutated"

	stored, err := s.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", stored.Name)
}
