package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq" // PostgreSQL driver AND helpers like pq.Array
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/certforge/certforge/internal/model"
)

var logger *zap.Logger

// init initializes the package logger.
func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "storage"))
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a write contradicts current state, e.g.
// revoking an already revoked certificate.
var ErrConflict = errors.New("storage: conflict")

// --- Interfaces ---

// Querier defines common methods implemented by *sql.DB and *sql.Tx.
// This allows storage methods to work with either a pool or a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Storage defines the interface for the certificate ledger and template store.
type Storage interface {
	// Organization Methods
	SaveOrganization(ctx context.Context, org *model.Organization) error
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)

	// Template Methods
	SaveTemplate(ctx context.Context, tpl *model.Template) error
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	ListTemplatesByOrg(ctx context.Context, orgID string) ([]*model.Template, error)
	UpdateTemplateStatus(ctx context.Context, id string, status string) error

	// Certificate Ledger Methods
	SaveCertificate(ctx context.Context, cert *model.Certificate) error
	GetCertificate(ctx context.Context, certID string) (*model.Certificate, error)
	UpdateCertificateRevocation(ctx context.Context, certID string, revokedBy string, revokedAt time.Time) error
	// CountIssuedInMonth counts ledger entries for an org within the
	// calendar month containing the given instant.
	CountIssuedInMonth(ctx context.Context, orgID string, month time.Time) (int, error)

	// API Key Methods
	SaveAPIKey(ctx context.Context, apiKey string, roles []string) error // UPSERT
	GetAPIKey(ctx context.Context, apiKey string) ([]string, error)

	// Transaction Helper (a no-op wrapper on the memory store)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error

	Close() error // Close the underlying connection pool
}

// NewStorage is the factory function.
func NewStorage(storageType, dbHost, dbUser, dbPassword, dbName string, dbPort int, dbSSLMode string) (Storage, error) {
	switch strings.ToLower(storageType) {
	case "postgres":
		return NewPostgreSQLStorage(dbHost, dbUser, dbPassword, dbName, dbPort, dbSSLMode)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		logger.Error("Invalid storage type specified", zap.String("storage_type", storageType))
		return nil, fmt.Errorf("storage: invalid storage type: %s", storageType)
	}
}

// --- PostgreSQL Implementation ---

// pgStore implements Storage over any Querier (pool or transaction).
type pgStore struct {
	q Querier
}

// PostgreSQLStorage holds the connection pool.
type PostgreSQLStorage struct {
	pgStore
	db *sql.DB
}

// Ensure both flavors implement Storage (compile-time check).
var (
	_ Storage = (*PostgreSQLStorage)(nil)
	_ Storage = (*pgStore)(nil)
)

// NewPostgreSQLStorage creates a new PostgreSQLStorage instance and ensures schema exists.
func NewPostgreSQLStorage(dbHost, dbUser, dbPassword, dbName string, dbPort int, dbSSLMode string) (*PostgreSQLStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		dbHost, dbUser, dbPassword, dbName, dbPort, dbSSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		logger.Error("Failed to open PostgreSQL connection", zap.Error(err))
		return nil, fmt.Errorf("storage: failed to open PostgreSQL database: %w", err)
	}

	// Configure connection pool (tune as needed)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		logger.Error("Failed to ping PostgreSQL database", zap.Error(err), zap.String("host", dbHost), zap.Int("port", dbPort), zap.String("dbname", dbName))
		return nil, fmt.Errorf("storage: failed to connect to PostgreSQL database: %w", err)
	}
	logger.Info("Successfully connected to PostgreSQL database", zap.String("host", dbHost), zap.Int("port", dbPort), zap.String("dbname", dbName))

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second) // Longer timeout for DDL
	defer schemaCancel()
	if err := ensureSchema(schemaCtx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &PostgreSQLStorage{pgStore: pgStore{q: db}, db: db}
	logger.Info("PostgreSQLStorage initialized")
	return s, nil
}

// ensureSchema creates tables and indexes if they don't exist.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			monthly_limit INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			background_url TEXT NOT NULL DEFAULT '',
			fields_json TEXT NOT NULL,
			org_id TEXT NOT NULL,
			department_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_templates_org ON templates (org_id);`,
		`CREATE TABLE IF NOT EXISTS certificates (
			cert_id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			recipient_name TEXT NOT NULL,
			recipient_email TEXT NOT NULL,
			recipient_slug TEXT NOT NULL DEFAULT '',
			job_title TEXT NOT NULL DEFAULT '',
			org_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			qr_url TEXT NOT NULL DEFAULT '',
			pdf_url TEXT NOT NULL DEFAULT '',
			issued_by TEXT NOT NULL DEFAULT '',
			template_id TEXT NOT NULL DEFAULT '',
			dept TEXT NOT NULL DEFAULT '',
			issued_at TIMESTAMP WITH TIME ZONE NOT NULL,
			revoked_by TEXT NOT NULL DEFAULT '',
			revoked_at TIMESTAMP WITH TIME ZONE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_certificates_org_issued ON certificates (org_id, issued_at);`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			api_key TEXT PRIMARY KEY,
			roles TEXT[] NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Error("Failed to execute schema statement", zap.Error(err), zap.String("stmt", stmt))
			return fmt.Errorf("storage: failed to ensure schema: %w", err)
		}
	}
	logger.Info("Database schema ensured")
	return nil
}

// --- Organization Methods ---

func (s *pgStore) SaveOrganization(ctx context.Context, org *model.Organization) error {
	query := `
		INSERT INTO organizations (id, name, monthly_limit, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, monthly_limit = EXCLUDED.monthly_limit;`
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, query, org.ID, org.Name, org.MonthlyLimit, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save organization %s: %w", org.ID, err)
	}
	return nil
}

func (s *pgStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	query := `SELECT id, name, monthly_limit, created_at FROM organizations WHERE id = $1;`
	org := &model.Organization{}
	err := s.q.QueryRowContext(ctx, query, id).Scan(&org.ID, &org.Name, &org.MonthlyLimit, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get organization %s: %w", id, err)
	}
	return org, nil
}

// --- Template Methods ---

func (s *pgStore) SaveTemplate(ctx context.Context, tpl *model.Template) error {
	fieldsJSON, err := json.Marshal(tpl.Fields)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal template fields: %w", err)
	}
	tpl.FieldsJSON = string(fieldsJSON)
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO templates (id, name, background_url, fields_json, org_id, department_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			background_url = EXCLUDED.background_url,
			fields_json = EXCLUDED.fields_json,
			status = EXCLUDED.status;`
	_, err = s.q.ExecContext(ctx, query,
		tpl.ID, tpl.Name, tpl.BackgroundURL, tpl.FieldsJSON, tpl.OrgID, tpl.DepartmentID, tpl.Status, tpl.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save template %s: %w", tpl.ID, err)
	}
	return nil
}

func scanTemplate(scan func(dest ...interface{}) error) (*model.Template, error) {
	tpl := &model.Template{}
	err := scan(&tpl.ID, &tpl.Name, &tpl.BackgroundURL, &tpl.FieldsJSON,
		&tpl.OrgID, &tpl.DepartmentID, &tpl.Status, &tpl.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tpl.FieldsJSON), &tpl.Fields); err != nil {
		return nil, fmt.Errorf("storage: failed to unmarshal template fields: %w", err)
	}
	return tpl, nil
}

const templateColumns = `id, name, background_url, fields_json, org_id, department_id, status, created_at`

func (s *pgStore) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = $1;`
	row := s.q.QueryRowContext(ctx, query, id)
	tpl, err := scanTemplate(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get template %s: %w", id, err)
	}
	return tpl, nil
}

func (s *pgStore) ListTemplatesByOrg(ctx context.Context, orgID string) ([]*model.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE org_id = $1 ORDER BY created_at;`
	rows, err := s.q.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list templates for org %s: %w", orgID, err)
	}
	defer rows.Close()

	var tpls []*model.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to scan template row: %w", err)
		}
		tpls = append(tpls, tpl)
	}
	return tpls, rows.Err()
}

func (s *pgStore) UpdateTemplateStatus(ctx context.Context, id string, status string) error {
	query := `UPDATE templates SET status = $2 WHERE id = $1;`
	res, err := s.q.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("storage: failed to update template %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Certificate Ledger Methods ---

func (s *pgStore) SaveCertificate(ctx context.Context, cert *model.Certificate) error {
	query := `
		INSERT INTO certificates (
			cert_id, org_id, recipient_name, recipient_email, recipient_slug,
			job_title, org_name, status, qr_url, pdf_url, issued_by,
			template_id, dept, issued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);`
	_, err := s.q.ExecContext(ctx, query,
		cert.CertID, cert.OrgID, cert.RecipientName, cert.RecipientEmail, cert.RecipientSlug,
		cert.JobTitle, cert.OrgName, cert.Status, cert.QRURL, cert.PDFURL, cert.IssuedBy,
		cert.TemplateID, cert.Dept, cert.IssuedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save certificate %s: %w", cert.CertID, err)
	}
	return nil
}

func (s *pgStore) GetCertificate(ctx context.Context, certID string) (*model.Certificate, error) {
	query := `
		SELECT cert_id, org_id, recipient_name, recipient_email, recipient_slug,
			job_title, org_name, status, qr_url, pdf_url, issued_by,
			template_id, dept, issued_at, revoked_by, revoked_at
		FROM certificates WHERE cert_id = $1;`
	cert := &model.Certificate{}
	var revokedAt sql.NullTime
	err := s.q.QueryRowContext(ctx, query, certID).Scan(
		&cert.CertID, &cert.OrgID, &cert.RecipientName, &cert.RecipientEmail, &cert.RecipientSlug,
		&cert.JobTitle, &cert.OrgName, &cert.Status, &cert.QRURL, &cert.PDFURL, &cert.IssuedBy,
		&cert.TemplateID, &cert.Dept, &cert.IssuedAt, &cert.RevokedBy, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get certificate %s: %w", certID, err)
	}
	if revokedAt.Valid {
		cert.RevokedAt = revokedAt.Time
	}
	return cert, nil
}

func (s *pgStore) UpdateCertificateRevocation(ctx context.Context, certID string, revokedBy string, revokedAt time.Time) error {
	query := `
		UPDATE certificates SET status = $2, revoked_by = $3, revoked_at = $4
		WHERE cert_id = $1 AND status = $5;`
	res, err := s.q.ExecContext(ctx, query, certID,
		model.CertificateStatusRevoked, revokedBy, revokedAt, model.CertificateStatusValid)
	if err != nil {
		return fmt.Errorf("storage: failed to revoke certificate %s: %w", certID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already revoked; let the caller disambiguate.
		if _, getErr := s.GetCertificate(ctx, certID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *pgStore) CountIssuedInMonth(ctx context.Context, orgID string, month time.Time) (int, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	query := `SELECT COUNT(*) FROM certificates WHERE org_id = $1 AND issued_at >= $2 AND issued_at < $3;`
	var count int
	if err := s.q.QueryRowContext(ctx, query, orgID, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: failed to count issuance for org %s: %w", orgID, err)
	}
	return count, nil
}

// --- API Key Methods ---

func (s *pgStore) SaveAPIKey(ctx context.Context, apiKey string, roles []string) error {
	query := `
		INSERT INTO api_keys (api_key, roles) VALUES ($1, $2)
		ON CONFLICT (api_key) DO UPDATE SET roles = EXCLUDED.roles;`
	_, err := s.q.ExecContext(ctx, query, apiKey, pq.Array(roles))
	if err != nil {
		return fmt.Errorf("storage: failed to save API key: %w", err)
	}
	return nil
}

func (s *pgStore) GetAPIKey(ctx context.Context, apiKey string) ([]string, error) {
	query := `SELECT roles FROM api_keys WHERE api_key = $1;`
	var roles pq.StringArray
	err := s.q.QueryRowContext(ctx, query, apiKey).Scan(&roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get API key: %w", err)
	}
	return []string(roles), nil
}

// --- Transactions ---

// WithinTransaction on the bare pgStore (i.e. inside an existing tx) just
// runs fn against itself; nested transactions are not supported.
func (s *pgStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	return fn(ctx, s)
}

func (s *pgStore) Close() error { return nil }

// WithinTransaction runs fn inside a database transaction, committing on
// nil and rolling back on error or panic.
func (s *PostgreSQLStorage) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: failed to begin transaction: %w", err)
	}
	txStore := &pgStore{q: tx}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgreSQLStorage) Close() error { return s.db.Close() }
