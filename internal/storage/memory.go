package storage

import (
	"context"
	"sync"
	"time"

	"github.com/certforge/certforge/internal/model"
)

// MemoryStorage is an in-memory Storage implementation used by tests and
// local development. Safe for concurrent use.
type MemoryStorage struct {
	mu    sync.RWMutex
	orgs  map[string]model.Organization
	tpls  map[string]model.Template
	certs map[string]model.Certificate
	keys  map[string][]string
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		orgs:  make(map[string]model.Organization),
		tpls:  make(map[string]model.Template),
		certs: make(map[string]model.Certificate),
		keys:  make(map[string][]string),
	}
}

func (s *MemoryStorage) SaveOrganization(ctx context.Context, org *model.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	s.orgs[org.ID] = *org
	return nil
}

func (s *MemoryStorage) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &org, nil
}

func (s *MemoryStorage) SaveTemplate(ctx context.Context, tpl *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	s.tpls[tpl.ID] = *tpl
	return nil
}

func (s *MemoryStorage) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.tpls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tpl, nil
}

func (s *MemoryStorage) ListTemplatesByOrg(ctx context.Context, orgID string) ([]*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Template
	for id := range s.tpls {
		tpl := s.tpls[id]
		if tpl.OrgID == orgID {
			out = append(out, &tpl)
		}
	}
	return out, nil
}

func (s *MemoryStorage) UpdateTemplateStatus(ctx context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.tpls[id]
	if !ok {
		return ErrNotFound
	}
	tpl.Status = status
	s.tpls[id] = tpl
	return nil
}

func (s *MemoryStorage) SaveCertificate(ctx context.Context, cert *model.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[cert.CertID] = *cert
	return nil
}

func (s *MemoryStorage) GetCertificate(ctx context.Context, certID string) (*model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[certID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cert, nil
}

func (s *MemoryStorage) UpdateCertificateRevocation(ctx context.Context, certID string, revokedBy string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certID]
	if !ok {
		return ErrNotFound
	}
	if cert.Status != model.CertificateStatusValid {
		return ErrConflict
	}
	cert.Status = model.CertificateStatusRevoked
	cert.RevokedBy = revokedBy
	cert.RevokedAt = revokedAt
	s.certs[certID] = cert
	return nil
}

func (s *MemoryStorage) CountIssuedInMonth(ctx context.Context, orgID string, month time.Time) (int, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, cert := range s.certs {
		if cert.OrgID != orgID {
			continue
		}
		if !cert.IssuedAt.Before(start) && cert.IssuedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) SaveAPIKey(ctx context.Context, apiKey string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[apiKey] = append([]string(nil), roles...)
	return nil
}

func (s *MemoryStorage) GetAPIKey(ctx context.Context, apiKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles, ok := s.keys[apiKey]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), roles...), nil
}

// WithinTransaction runs fn against the store itself; the memory store has
// no transactional isolation.
func (s *MemoryStorage) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	return fn(ctx, s)
}

func (s *MemoryStorage) Close() error { return nil }
