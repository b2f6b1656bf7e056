// Package poll provides a generic poll-until-terminal helper for providers
// whose chat operation is asynchronous: submit a job, poll its status, fetch
// the result. The pacing strategy is pluggable because providers impose their
// own rate expectations.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeadline is returned when the operation did not reach a terminal status
// within the configured deadline.
var ErrDeadline = errors.New("poll deadline exceeded")

// Strategy decides how long to wait before the next status check.
// attempt starts at 1 for the wait after the first check.
type Strategy interface {
	NextInterval(attempt int) time.Duration
}

// Fixed waits the same interval between every check.
type Fixed time.Duration

func (f Fixed) NextInterval(int) time.Duration { return time.Duration(f) }

// Exponential grows the interval by Factor per attempt, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

func (e Exponential) NextInterval(attempt int) time.Duration {
	d := e.Initial
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	factor := e.Factor
	if factor <= 1 {
		factor = 2
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// CheckFunc performs one status check. It returns the operation's current
// status plus the value that will be handed back once a terminal status is
// reached. A non-nil error aborts polling immediately.
type CheckFunc[T any] func(ctx context.Context) (status string, value T, err error)

// Options configures one Poll run.
type Options struct {
	Strategy Strategy
	Deadline time.Duration // overall budget; 0 means rely on ctx alone
	Terminal []string      // statuses that complete the operation successfully
	Failing  []string      // statuses that fail it
}

// Poll calls check until it reports a terminal or failing status, the
// deadline passes, or ctx is cancelled. It blocks the calling goroutine, so
// run it off the request-handling path.
func Poll[T any](ctx context.Context, check CheckFunc[T], opts Options) (T, error) {
	var zero T

	if opts.Strategy == nil {
		opts.Strategy = Fixed(time.Second)
	}
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	terminal := statusSet(opts.Terminal)
	failing := statusSet(opts.Failing)

	for attempt := 1; ; attempt++ {
		status, value, err := check(ctx)
		if err != nil {
			return zero, err
		}
		if _, ok := terminal[status]; ok {
			return value, nil
		}
		if _, ok := failing[status]; ok {
			return zero, fmt.Errorf("operation ended with status %q", status)
		}

		timer := time.NewTimer(opts.Strategy.NextInterval(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, fmt.Errorf("%w after %d attempts (last status %q)", ErrDeadline, attempt, status)
			}
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

func statusSet(statuses []string) map[string]struct{} {
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}
