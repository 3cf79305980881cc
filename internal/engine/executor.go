package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/seantiz/kernelforge/internal/budget"
	"github.com/seantiz/kernelforge/internal/fault"
	"github.com/seantiz/kernelforge/internal/poll"
	"github.com/seantiz/kernelforge/internal/workflow"
)

// Observer is notified as stages start and finish. Calls are made from the
// goroutine executing the run.
type Observer interface {
	StageStarted(runID, stage string, timeout time.Duration)
	StageFinished(runID, stage string, elapsed time.Duration, err error)
}

// Executor runs plans stage by stage against a deadline.
type Executor struct {
	clock    poll.Clock
	interval time.Duration
	strict   bool
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock sets the time source used for budgets and poll loops.
func WithClock(c poll.Clock) ExecutorOption {
	return func(x *Executor) { x.clock = c }
}

// WithPollInterval sets the pause between status checks.
func WithPollInterval(d time.Duration) ExecutorOption {
	return func(x *Executor) { x.interval = d }
}

// WithStrictBudget makes an overcommitted budget a configuration error
// instead of a warning.
func WithStrictBudget(strict bool) ExecutorOption {
	return func(x *Executor) { x.strict = strict }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(x *Executor) { x.logger = l }
}

// NewExecutor returns an Executor using the system clock and the default
// poll interval unless overridden.
func NewExecutor(opts ...ExecutorOption) *Executor {
	x := &Executor{
		clock:    poll.SystemClock,
		interval: poll.DefaultInterval,
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Clock returns the executor's time source.
func (x *Executor) Clock() poll.Clock {
	return x.clock
}

// Run executes the plan in order until a stage fails or every stage has
// been recorded. Every stage that was attempted has a recorded result,
// including the one that failed; stages after it stay unset.
//
// The returned report is never nil. The error is the one that ended the
// run, prefixed with the failing stage name.
func (x *Executor) Run(ctx context.Context, runID string, plan Plan, deadline Deadline, observers ...Observer) (*Report, error) {
	logger := x.logger.With("run_id", runID, "variant", plan.Variant)
	report := &Report{RunID: runID, Variant: plan.Variant}

	spec, err := workflow.NewSpec(plan.StageNames()...)
	if err != nil {
		return x.finish(logger, report, nil, fault.Configf("%v", err))
	}
	state := workflow.NewState(spec)

	if err := checkGroups(plan); err != nil {
		return x.finish(logger, report, state, err)
	}

	available := deadline.Remaining(x.clock.Now())
	b, err := budget.Compute(available, plan.Policy)
	if err != nil {
		return x.finish(logger, report, state, err)
	}
	report.Budget = b
	for _, g := range b.Names() {
		stageTimeout.WithLabelValues(plan.Variant, g).Set(float64(b.Seconds(g)))
	}

	if over := b.Overcommitted(available); len(over) > 0 {
		for _, g := range over {
			overcommittedTotal.WithLabelValues(plan.Variant, g).Inc()
		}
		if x.strict {
			return x.finish(logger, report, state,
				fault.Configf("timeout for %v exceeds the %s left before the deadline", over, available.Truncate(time.Second)))
		}
		logger.Warn("stage timeout exceeds time left before deadline",
			"groups", over,
			"available_s", int(available.Seconds()),
			"budget", b,
		)
	}

	logger.Info("run started", "stages", spec.Stages(), "available_s", int(available.Seconds()), "budget", b)

	groupStart := make(map[string]time.Time)
	for _, st := range plan.Stages {
		timeout, _ := b.Timeout(st.Group)
		start, ok := groupStart[st.Group]
		if !ok {
			start = x.clock.Now()
			groupStart[st.Group] = start
		}

		sc := &StageContext{
			RunID:    runID,
			Stage:    st.Name,
			Group:    st.Group,
			Start:    start,
			Timeout:  timeout,
			Clock:    x.clock,
			Interval: x.interval,
			Logger:   logger.With("stage", st.Name),
		}
		for _, o := range observers {
			o.StageStarted(runID, st.Name, timeout)
		}

		began := x.clock.Now()
		var payload any
		if ok && began.Sub(start) >= timeout {
			// The group clock ran out in an earlier stage; do not submit.
			err = fmt.Errorf("%s time budget of %s spent before the stage began: %w", st.Group, timeout, fault.ErrDeadlineExceeded)
		} else {
			payload, err = runStage(ctx, st, sc)
		}
		elapsed := x.clock.Now().Sub(began)
		stageDuration.WithLabelValues(plan.Variant, st.Name, outcomeLabel(err)).Observe(elapsed.Seconds())
		for _, o := range observers {
			o.StageFinished(runID, st.Name, elapsed, err)
		}

		if err != nil {
			if p, ok := fault.Payload(err); ok {
				payload = p
			} else {
				payload = workflow.Failure{Message: err.Error()}
			}
			state.RecordAndAdvance(payload)
			return x.finish(logger, report, state, fmt.Errorf("%s: %w", st.Name, err))
		}

		state.RecordAndAdvance(payload)
		sc.Logger.Info("stage completed", "elapsed_s", int(elapsed.Seconds()))
	}

	return x.finish(logger, report, state, nil)
}

// runStage calls the stage, turning a panic into an error so that the
// stage still gets a recorded result.
func runStage(ctx context.Context, st Stage, sc *StageContext) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	if st.Run == nil {
		return nil, fault.Configf("stage %s has no implementation", st.Name)
	}
	return st.Run(ctx, sc)
}

// checkGroups verifies that every stage draws from a declared allocation.
func checkGroups(plan Plan) error {
	declared := make(map[string]bool, len(plan.Policy))
	for _, a := range plan.Policy {
		declared[a.Name] = true
	}
	for _, st := range plan.Stages {
		if !declared[st.Group] {
			return fault.Configf("stage %s uses undeclared time budget group %q", st.Name, st.Group)
		}
	}
	return nil
}

func (x *Executor) finish(logger *slog.Logger, report *Report, state *workflow.State, err error) (*Report, error) {
	if state != nil {
		report.Results = state.Results()
		report.Completed = state.Completed()
	}

	if err != nil {
		report.Status = ReportFailed
		report.Error = fault.Message(err)
		report.ErrorKind = fault.Kind(err)
		logger.Error("run failed", "error", err, "kind", report.ErrorKind, "completed", report.Completed)
	} else {
		report.Status = ReportSuccess
		logger.Info("run succeeded", "completed", report.Completed)
	}
	runsTotal.WithLabelValues(report.Variant, report.Status, report.ErrorKind).Inc()
	return report, err
}
