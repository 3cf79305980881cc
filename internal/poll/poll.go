// Package poll repeatedly describes a remote operation until it reaches a
// terminal status or its stage runs out of time.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/kernelforge/internal/fault"
)

// DefaultInterval is the pause between two status checks.
const DefaultInterval = 15 * time.Second

// Outcome classifies one observation of a remote operation.
type Outcome int

const (
	Pending Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Clock is the time source used by Until.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Options configure a poll loop.
type Options struct {
	// Name identifies the operation in error messages.
	Name string

	Clock    Clock
	Interval time.Duration

	// Timeout is measured from Start. A zero Start means "now".
	Timeout time.Duration
	Start   time.Time
}

// Until calls describe until classify reports a terminal outcome.
//
// A terminal success returns the observation and a nil error. A terminal
// failure returns the observation with an error wrapping
// fault.ErrTerminalFailure. Between checks it sleeps for the interval, or
// only for what is left of the timeout when a full interval would overshoot
// it; once the timeout has elapsed it fails with fault.ErrDeadlineExceeded
// instead of checking again.
func Until[T any](ctx context.Context, opts Options, describe func(context.Context) (T, error), classify func(T) Outcome) (T, error) {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	start := opts.Start
	if start.IsZero() {
		start = clock.Now()
	}
	name := opts.Name
	if name == "" {
		name = "operation"
	}

	for {
		obs, err := describe(ctx)
		if err != nil {
			return obs, fmt.Errorf("describe %s: %w", name, deadlineAware(err))
		}

		switch classify(obs) {
		case Succeeded:
			return obs, nil
		case Failed:
			return obs, fmt.Errorf("%s: %w", name, fault.ErrTerminalFailure)
		}

		elapsed := clock.Now().Sub(start)
		if elapsed >= opts.Timeout {
			return obs, fmt.Errorf("%s exceeded the timeout of %s: %w", name, opts.Timeout, fault.ErrDeadlineExceeded)
		}

		wait := interval
		if elapsed+interval >= opts.Timeout {
			wait = opts.Timeout - elapsed
		}
		if err := clock.Sleep(ctx, wait); err != nil {
			return obs, fmt.Errorf("waiting on %s: %w", name, deadlineAware(err))
		}
	}
}

// deadlineAware classifies an expired context as a deadline failure.
func deadlineAware(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, fault.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", fault.ErrDeadlineExceeded, err)
	}
	return err
}
