// Package mailer dispatches recipient notifications through an external
// transactional email REST API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "mailer"))
}

// Mailer sends one transactional message.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// RESTMailer posts messages to a transactional email HTTP endpoint.
type RESTMailer struct {
	apiURL string
	apiKey string
	from   string
	client *http.Client
}

var _ Mailer = (*RESTMailer)(nil)

// NewRESTMailer creates a mailer against the given endpoint. All requests
// are bounded by timeout.
func NewRESTMailer(apiURL, apiKey, from string, timeout time.Duration) *RESTMailer {
	return &RESTMailer{
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (m *RESTMailer) Send(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(sendRequest{From: m.from, To: to, Subject: subject, HTML: html})
	if err != nil {
		return fmt.Errorf("mailer: failed to encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailer: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: send to %s failed: %w", to, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailer: send to %s returned status %d", to, resp.StatusCode)
	}
	logger.Debug("email dispatched", zap.String("to", to))
	return nil
}

// NopMailer drops every message. Used when no email endpoint is configured.
type NopMailer struct{}

var _ Mailer = NopMailer{}

func (NopMailer) Send(ctx context.Context, to, subject, html string) error { return nil }
