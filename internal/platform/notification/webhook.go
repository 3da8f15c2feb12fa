package notification

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
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

type WebhookOption func(*WebhookSink)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookSink) { w.client = c }
}

// WithRetryDelays sets the pauses between attempts. The number of attempts is
// len(delays)+1.
func WithRetryDelays(delays ...time.Duration) WebhookOption {
	return func(w *WebhookSink) { w.delays = delays }
}

// WebhookSink POSTs each notification as signed JSON to one endpoint.
// Receivers verify X-Webhook-Signature with the shared secret.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
	delays []time.Duration
	now    func() time.Time
}

func NewWebhookSink(rawURL, secret string, opts ...WebhookOption) (*WebhookSink, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	w := &WebhookSink{
		url:    rawURL,
		secret: secret,
		client: &http.Client{Timeout: 5 * time.Second},
		delays: []time.Duration{time.Second, 2 * time.Second},
		now:    time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

func validateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

func (w *WebhookSink) Name() string { return "webhook" }

// Timeout is the delivery budget: every attempt at the client timeout plus the
// pauses between them.
func (w *WebhookSink) Timeout() time.Duration {
	perAttempt := w.client.Timeout
	if perAttempt <= 0 {
		perAttempt = 10 * time.Second
	}
	budget := time.Duration(len(w.delays)+1) * perAttempt
	for _, d := range w.delays {
		budget += d
	}
	return budget
}

// Deliver retries transport errors and 5xx responses; a 4xx is final.
func (w *WebhookSink) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	deliveryID := uuid.New().String()

	var lastErr error
	for attempt := 0; ; attempt++ {
		retry, err := w.post(ctx, deliveryID, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt >= len(w.delays) {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook delivery %s: %w", deliveryID, ctx.Err())
		case <-time.After(w.delays[attempt]):
		}
	}
	return fmt.Errorf("webhook delivery %s: %w", deliveryID, lastErr)
}

func (w *WebhookSink) post(ctx context.Context, deliveryID string, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, w.secret))
	req.Header.Set("X-Webhook-ID", deliveryID)
	req.Header.Set("X-Webhook-Timestamp", w.now().UTC().Format(time.RFC3339))

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
}
