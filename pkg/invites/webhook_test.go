package invites

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2}
}

func TestWebhookNotifier_Delivers(t *testing.T) {
	msg := &Message{
		Kind:         MessageActivation,
		To:           "new@example.com",
		Subject:      "Welcome",
		Link:         "https://passports.example.com/register/x/y",
		InvitationID: uuid.New(),
	}

	var received Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, string(MessageActivation), r.Header.Get(HeaderEvent))
		assert.Equal(t, msg.InvitationID.String(), r.Header.Get(HeaderDelivery))
		assert.True(t, VerifySignature(body, r.Header.Get(HeaderSignature), "s3cret"))
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret", fastRetry(1), nil)
	require.NoError(t, n.Notify(context.Background(), msg))
	assert.Equal(t, msg.To, received.To)
	assert.Equal(t, msg.Link, received.Link)
}

func TestWebhookNotifier_Retries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		attempts  int
		wantCalls int32
		wantErr   bool
	}{
		{"recovers after server errors", []int{500, 502, 200}, 4, 3, false},
		{"gives up after max attempts", []int{503, 503, 503, 503}, 3, 3, true},
		{"client errors are final", []int{400, 200}, 4, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				i := calls.Add(1) - 1
				w.WriteHeader(tt.statuses[i])
			}))
			defer srv.Close()

			err := NewWebhookNotifier(srv.URL, "", fastRetry(tt.attempts), nil).Notify(context.Background(), &Message{Kind: MessageReminder})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestWebhookNotifier_NoSignatureWithoutSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(HeaderSignature))
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookNotifier(srv.URL, "", fastRetry(1), nil).Notify(context.Background(), &Message{}))
	assert.Error(t, NewWebhookNotifier(srv.URL, "", fastRetry(1), nil).Notify(context.Background(), nil))
}

func TestRetryConfigDelay(t *testing.T) {
	c := RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2}
	assert.Equal(t, time.Second, c.delay(1))
	assert.Equal(t, 2*time.Second, c.delay(2))
	assert.Equal(t, 4*time.Second, c.delay(3))
	assert.Equal(t, 5*time.Second, c.delay(4))
}
