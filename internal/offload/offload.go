// Package offload runs read-only queries against the contact store on a
// dedicated short-lived worker. Each call opens its own read-only
// connection, runs exactly one unit of work under a hard deadline, and
// tears the connection down, so a wedged or long-running query can never
// hold the writer's database open or leak into the next request.
package offload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dealview/contactsync/internal/store"
)

// DefaultTimeout is the hard ceiling on one offloaded query.
const DefaultTimeout = 30 * time.Second

// ErrTimeout reports that the deadline killed the query. It is distinct
// from a query failure: callers that see it know the store itself may be
// healthy and a narrower query could still succeed.
var ErrTimeout = errors.New("offload: query deadline exceeded")

// Runner dispatches one-shot read-only queries. The zero timeout means
// DefaultTimeout. Safe for concurrent use; every Do call is independent.
type Runner struct {
	opts    store.Options
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner over the store at opts. ReadOnly is forced
// regardless of what the caller set.
func NewRunner(opts store.Options, timeout time.Duration, logger *slog.Logger) *Runner {
	opts.ReadOnly = true

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{opts: opts, timeout: timeout, logger: logger}
}

// Do opens a fresh read-only store, runs fn on its own goroutine, and
// closes the store when fn returns or the deadline expires, whichever is
// first. On expiry the connection is closed out from under fn, which
// unblocks any query stuck inside the driver, and Do returns ErrTimeout.
func (r *Runner) Do(ctx context.Context, fn func(ctx context.Context, s *store.Store) error) error {
	s, err := store.Open(r.opts, r.logger)
	if err != nil {
		return fmt.Errorf("offload: opening read-only store: %w", err)
	}

	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("offload: panic in query: %v", p)
			}
		}()

		done <- fn(qctx, s)
	}()

	select {
	case err := <-done:
		if cerr := s.Close(); cerr != nil {
			r.logger.Warn("closing read-only store", slog.String("error", cerr.Error()))
		}

		if err != nil {
			return fmt.Errorf("offload: query failed: %w", err)
		}

		return nil

	case <-qctx.Done():
		// Forced teardown: the worker goroutine exits once its queries
		// error out against the closed handle. The buffered channel lets
		// its late send complete without a receiver.
		if cerr := s.Close(); cerr != nil {
			r.logger.Warn("closing read-only store after deadline", slog.String("error", cerr.Error()))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Warn("offloaded query hit hard deadline", slog.Duration("timeout", r.timeout))

		return ErrTimeout
	}
}
