package hubsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/hubd/internal/engine"
)

// SyncTransientError reports a peer call that kept failing until its retry
// budget or the session deadline ran out.
type SyncTransientError struct {
	Peer     string
	Op       string
	Attempts int
	Err      error
}

func (e *SyncTransientError) Error() string {
	return fmt.Sprintf("sync %s: %s failed after %d attempt(s): %v", e.Peer, e.Op, e.Attempts, e.Err)
}

func (e *SyncTransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a SyncTransientError.
func IsTransient(err error) bool {
	var te *SyncTransientError
	return errors.As(err, &te)
}

// RetryConfig bounds the retries of one peer call.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// call runs fn under the session's retry policy. engine.ErrNotFound is
// returned as is; every other failure becomes a SyncTransientError.
func call[T any](ctx context.Context, s *session, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := 0
	v, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempts++
		v, err := fn(ctx)
		if err != nil && (errors.Is(err, engine.ErrNotFound) || ctx.Err() != nil) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, s.cfg.Retry.backOff(ctx), func(err error, wait time.Duration) {
		s.logger.Debug("peer call failed, retrying",
			"peer", s.peer.ID(),
			"op", op,
			"attempt", attempts,
			"wait", wait,
			"error", err)
	})
	if err == nil || errors.Is(err, engine.ErrNotFound) {
		return v, err
	}
	return v, &SyncTransientError{Peer: s.peer.ID(), Op: op, Attempts: attempts, Err: err}
}
