package cache

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
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookInvalidator tells an external cache to drop its occurrence lists.
// Each request is signed with HMAC-SHA256 over the body so the receiver can
// verify it.
type WebhookInvalidator struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewWebhookInvalidator POSTs to url. A zero or negative timeout falls back
// to 10s.
func NewWebhookInvalidator(url, secret string, timeout time.Duration) *WebhookInvalidator {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookInvalidator{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type invalidationEvent struct {
	Scope         string    `json:"scope"`
	InvalidatedAt time.Time `json:"invalidatedAt"`
}

// Invalidate sends:
//
//	Content-Type:         application/json
//	X-Incidentd-Event:    cache.invalidate
//	X-Hub-Signature-256:  sha256=<hex HMAC-SHA256 of the body>
func (w *WebhookInvalidator) Invalidate(ctx context.Context) error {
	payload, err := json.Marshal(invalidationEvent{Scope: DefaultListPrefix, InvalidatedAt: w.now()})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Incidentd-Event", "cache.invalidate")
	req.Header.Set("X-Hub-Signature-256", "sha256="+w.sign(payload))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookInvalidator) sign(payload []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
