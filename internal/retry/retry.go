// Package retry runs portal interactions that are allowed to fail
// transiently, with a fixed attempt budget and multiplicative backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// detailLimit keeps attempt warnings to one line even for chromedp errors
// that embed full DOM dumps.
const detailLimit = 150

// Executor re-runs an operation until it succeeds, the attempts are
// exhausted, or the error is classified as not worth retrying.
type Executor struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64

	// Retryable decides whether an error is transient. A nil func retries
	// everything.
	Retryable func(error) bool
	// OnExhausted runs once when the attempt budget is spent, before the
	// final error is returned. Used to capture a screenshot of the page
	// at the moment of failure.
	OnExhausted func(desc string)

	Logger *slog.Logger
}

// Do runs fn up to Attempts times. Non-retryable errors and context
// cancellation propagate immediately.
func (e *Executor) Do(ctx context.Context, desc string, fn func(context.Context) error) error {
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	delay := e.Delay
	var lastErr error
	for attempt := 1; attempt <= e.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if e.Retryable != nil && !e.Retryable(err) {
			return err
		}
		log.Warn("attempt failed",
			"op", desc,
			"attempt", attempt,
			"of", e.Attempts,
			"err", truncate(err.Error(), detailLimit),
		)
		if attempt == e.Attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * e.Backoff)
	}
	if e.OnExhausted != nil {
		e.OnExhausted(desc)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", desc, e.Attempts, lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
