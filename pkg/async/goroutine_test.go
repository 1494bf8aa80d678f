package async

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/observability"
)

func TestSafeGo_Success(t *testing.T) {
	var ran atomic.Bool
	SafeGo(context.Background(), nil, time.Second, "test", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.Eventually(t, ran.Load, time.Second, 10*time.Millisecond)
}

func TestSafeGo_OutlivesParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	result := make(chan error, 1)

	SafeGo(parent, nil, time.Second, "detached", func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		result <- ctx.Err()
		return nil
	})

	<-started
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task did not finish")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	result := make(chan error, 1)
	SafeGo(context.Background(), nil, 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("timeout was not enforced")
	}
}

func TestDispatcher_LogsErrorsAndPanics(t *testing.T) {
	var buf safeBuffer
	d := NewDispatcher(observability.NewLogger(observability.InfoLevel, &buf), time.Second)

	d.Go(context.Background(), "failing", func(ctx context.Context) error {
		return errors.New("notifier unavailable")
	})
	d.Go(context.Background(), "panicking", func(ctx context.Context) error {
		panic("boom")
	})

	require.NoError(t, d.Wait(time.Second))
	out := buf.String()
	assert.Contains(t, out, "notifier unavailable")
	assert.Contains(t, out, "PANIC recovered")
}

func TestDispatcher_WaitTimeout(t *testing.T) {
	d := NewDispatcher(nil, time.Second)
	release := make(chan struct{})
	d.Go(context.Background(), "blocked", func(ctx context.Context) error {
		<-release
		return nil
	})

	err := d.Wait(10 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still running")

	close(release)
	assert.NoError(t, d.Wait(time.Second))
}

// safeBuffer serializes writes from concurrent tasks.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
