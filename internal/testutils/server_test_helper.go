// internal/testutils/server_test_helper.go
package testutils

import (
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/certforge/certforge/internal/blob"
	"github.com/certforge/certforge/internal/config"
	"github.com/certforge/certforge/internal/fontkit"
	"github.com/certforge/certforge/internal/issue"
	"github.com/certforge/certforge/internal/mailer"
	"github.com/certforge/certforge/internal/render"
	"github.com/certforge/certforge/internal/server"
	"github.com/certforge/certforge/internal/storage"
)

// TestAuthSecret signs bearer tokens in tests.
const TestAuthSecret = "test-secret-0123456789abcdefghij"

// SetupTestServer initializes all components needed to run the Echo app for
// testing: in-memory storage and blob store, a font resolver whose webfont
// endpoint is unreachable (built-ins still resolve, everything else falls
// back), and a dropped mailer.
func SetupTestServer(t *testing.T) (*echo.Echo, storage.Storage, *blob.MemoryStore) {
	t.Helper()

	testLogger := zaptest.NewLogger(t)

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load base config for test: %v", err)
	}
	cfg.AuthSecret = TestAuthSecret
	cfg.PublicBaseURL = "https://certs.example.com"

	store := storage.NewMemoryStorage()
	blobs := blob.NewMemoryStore()
	resolver := fontkit.NewWebResolver("http://127.0.0.1:0/css", time.Second)
	compositor := render.NewCompositor(resolver, 5*time.Second)
	issuer := issue.New(store, blobs, compositor, mailer.NopMailer{}, cfg.PublicBaseURL)

	e := echo.New()
	server.ApplyCommonMiddleware(e, store, cfg, issuer, testLogger)
	server.SetupRouter(e, store, cfg)

	return e, store, blobs
}
