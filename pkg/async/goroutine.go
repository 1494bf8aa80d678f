package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/passportd/pkg/observability"
)

// SafeGo runs fn in its own goroutine with a timeout and panic recovery.
// The task is detached from parentCtx cancellation so that it outlives the
// request that started it, while keeping parentCtx's values.
//
//	SafeGo(r.Context(), logger, 30*time.Second, "invite dispatch", func(ctx context.Context) error {
//	    return notifier.Notify(ctx, msg)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, logger, timeout, taskName, fn)
}

func run(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
	defer cancel()

	logger = observability.OrDefault(logger).WithField("task", taskName)
	defer observability.RecoverPanic(logger, taskName)

	if err := fn(ctx); err != nil {
		logger.WithError(err).Error("background task failed")
	}
}

// Dispatcher runs fire-and-forget tasks like SafeGo and tracks them so a
// shutting-down process can wait for in-flight work.
type Dispatcher struct {
	logger  *observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher whose tasks each get timeout to finish
func NewDispatcher(logger *observability.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{logger: logger, timeout: timeout}
}

// Go starts fn in the background
func (d *Dispatcher) Go(ctx context.Context, taskName string, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		run(ctx, d.logger, d.timeout, taskName, fn)
	}()
}

// Wait blocks until every started task has returned or timeout elapses
func (d *Dispatcher) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("background tasks still running after %v", timeout)
	}
}
