// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package deliver drives message delivery with bounded retries.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/sender"
	"github.com/fluffy-critter/rss2discord/internal/request"

	"github.com/cenkalti/backoff/v4"
)

const (
	maxAttempts         = 4 // send attempts for transient failures
	rateLimitRetryLimit = 5 // extra attempts allowed when rate limited

	defaultRateLimitWait = 5 * time.Second  // when the destination gave no retry-after
	maxRateLimitWait     = 60 * time.Second // cap on how long we trust a retry-after
)

// Dispatcher delivers messages through a [sender.Sender], retrying per
// policy: rate limits wait out the indicated duration, transient failures
// back off exponentially, permanent failures stop immediately. One
// Dispatcher delivers strictly sequentially; ordering within a feed is the
// caller's reason for that.
type Dispatcher struct {
	sender sender.Sender
	slog   *slog.Logger

	// test seams
	sleep      func(context.Context, time.Duration) bool
	newBackOff func() backoff.BackOff
}

// New returns a Dispatcher delivering through s.
func New(s sender.Sender, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		sender:     s,
		slog:       log,
		sleep:      sleep,
		newBackOff: newBackOff,
	}
}

func newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

// Deliver sends one message, applying the retry policy. It returns nil only
// when the destination confirmed the delivery; the caller must not mark the
// entry as seen otherwise. A cancelled context surfaces as ctx.Err() so the
// caller can still commit what was already delivered.
func (d *Dispatcher) Deliver(ctx context.Context, msg sender.Message) error {
	bo := d.newBackOff()

	var attempts, rateLimitRetries int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.sender.Send(ctx, msg)
		if err == nil {
			return nil
		}

		var rle *sender.RateLimitError
		switch {
		case errors.As(err, &rle):
			rateLimitRetries++
			if rateLimitRetries > rateLimitRetryLimit {
				return fmt.Errorf("still rate limited after %d retries: %w", rateLimitRetryLimit, err)
			}
			wait := rle.RetryAfter
			if wait <= 0 {
				wait = defaultRateLimitWait
			}
			wait = min(wait, maxRateLimitWait)
			d.slog.Warn("delivery rate limited, waiting", "wait", wait, "retries", rateLimitRetries)
			if !d.sleep(ctx, wait) {
				return ctx.Err()
			}

		case permanent(err):
			return fmt.Errorf("permanent delivery failure: %w", err)

		default:
			attempts++
			if attempts >= maxAttempts {
				return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return err
			}
			d.slog.Warn("delivery failed, backing off", "wait", wait, "attempt", attempts, "error", err)
			if !d.sleep(ctx, wait) {
				return ctx.Err()
			}
		}
	}
}

// permanent reports whether err can't be fixed by retrying: a client error
// other than 429 (e.g. a malformed payload).
func permanent(err error) bool {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
		statusErr.StatusCode != http.StatusTooManyRequests
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
