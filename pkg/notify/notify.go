package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/rs/zerolog"
)

// Notifier delivers alert e-mails.
type Notifier interface {
	SendAlert(ctx context.Context, alert models.AlertEmail) error
}

// HTTPNotifier posts alerts to the notification service's trusted e-mail endpoint.
type HTTPNotifier struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPNotifier creates an HTTPNotifier. A zero timeout falls back to 30s.
func NewHTTPNotifier(baseURL, token string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPNotifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the URL alerts are posted to.
func (n *HTTPNotifier) Endpoint() string {
	return fmt.Sprintf("%s/sendemail/%s/trusted", n.baseURL, url.PathEscape(n.token))
}

// SendAlert posts the alert as JSON and fails on any non-2xx response.
func (n *HTTPNotifier) SendAlert(ctx context.Context, alert models.AlertEmail) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("alert rejected, received status code %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// LogNotifier writes alerts to the log instead of delivering them. It stands in
// when no notification service is configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) SendAlert(_ context.Context, alert models.AlertEmail) error {
	n.Logger.Warn().
		Str("device_id", alert.UDID).
		Str("cause", alert.Cause).
		Strs("emails_to", alert.EmailsTo).
		Msg("No notification service configured, alert not delivered")
	return nil
}
