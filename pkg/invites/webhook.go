package invites

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/platinummonkey/passportd/pkg/observability"
)

// Webhook request headers
const (
	HeaderEvent     = "X-Passportd-Event"
	HeaderDelivery  = "X-Passportd-Delivery"
	HeaderSignature = "X-Passportd-Signature"
)

// RetryConfig configures webhook retry behavior
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// delay is the backoff before retry number attempt (1-based)
func (c RetryConfig) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return c.InitialDelay
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// WebhookNotifier posts messages as JSON to an HTTP endpoint that takes care
// of delivery, typically a mail relay. Bodies are signed with HMAC-SHA256 when
// a secret is set.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	retry  RetryConfig
	logger *observability.Logger
}

// NewWebhookNotifier creates a notifier posting to url
func NewWebhookNotifier(url, secret string, retry RetryConfig, logger *observability.Logger) *WebhookNotifier {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffMultiplier <= 1.0 {
		retry.BackoffMultiplier = 2.0
	}
	if retry.MaxDelay < retry.InitialDelay {
		retry.MaxDelay = retry.InitialDelay
	}
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
		logger: observability.OrDefault(logger).WithField("component", "webhook_notifier"),
	}
}

// Notify posts msg, retrying transport failures and 5xx responses with
// exponential backoff. A 4xx response is final.
func (n *WebhookNotifier) Notify(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.retry.MaxAttempts; attempt++ {
		retryable, err := n.send(ctx, msg, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == n.retry.MaxAttempts {
			break
		}

		n.logger.WithError(err).WithField("attempt", attempt).Debug("webhook delivery failed, retrying")
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook delivery cancelled: %w", ctx.Err())
		case <-time.After(n.retry.delay(attempt)):
		}
	}
	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}

func (n *WebhookNotifier) send(ctx context.Context, msg *Message, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(msg.Kind))
	req.Header.Set(HeaderDelivery, msg.InvitationID.String())
	if n.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return false, nil
}

// Sign returns the signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header produced by Sign
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
