package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Threatscope-Signature"

// WebhookConfig holds configuration for the webhook sink.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Headers map[string]string
}

// WebhookSink posts alerts as JSON to an external endpoint.
type WebhookSink struct {
	client  *http.Client
	url     string
	secret  string
	headers map[string]string
}

// NewWebhookSink creates a new webhook sink.
func NewWebhookSink(config WebhookConfig) *WebhookSink {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSink{
		client:  &http.Client{Timeout: timeout},
		url:     config.URL,
		secret:  config.Secret,
		headers: config.Headers,
	}
}

type webhookEnvelope struct {
	Event     string `json:"event"`
	Alert     Record `json:"alert"`
	Timestamp string `json:"timestamp"`
}

// Create sends the alert. The receiver may return {"id": "..."} to assign the
// id; otherwise the id generated for the delivery is used.
func (s *WebhookSink) Create(ctx context.Context, rec Record) (string, error) {
	rec.ID = uuid.New().String()

	body, err := json.Marshal(webhookEnvelope{
		Event:     "alert.created",
		Alert:     rec,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(body, s.secret))
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var assigned struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(respBody, &assigned) == nil && assigned.ID != "" {
		return assigned.ID, nil
	}
	return rec.ID, nil
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value against payload.
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}
