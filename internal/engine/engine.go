package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/kernelforge/internal/fault"
	"github.com/seantiz/kernelforge/internal/model"
	"github.com/seantiz/kernelforge/internal/store"
)

// DefaultRemaining is the time budget of a run submitted without one.
const DefaultRemaining = 15 * time.Minute

// Engine records runs in the store and executes them, synchronously or in
// the background, streaming stage progress through its broker.
type Engine struct {
	store     store.Store
	registry  *Registry
	executor  *Executor
	logger    *slog.Logger
	wg        sync.WaitGroup
	broker    *Broker
	remaining time.Duration
}

// NewEngine creates a new run engine.
func NewEngine(s store.Store, reg *Registry, x *Executor, logger *slog.Logger) *Engine {
	return &Engine{
		store:     s,
		registry:  reg,
		executor:  x,
		logger:    logger,
		broker:    NewBroker(),
		remaining: DefaultRemaining,
	}
}

// SetDefaultRemaining sets the budget used for runs submitted without one.
func (e *Engine) SetDefaultRemaining(d time.Duration) {
	if d > 0 {
		e.remaining = d
	}
}

// Broker returns the engine's progress broker for SSE subscription.
func (e *Engine) Broker() *Broker {
	return e.broker
}

// Registry returns the variant registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Submit creates a run record and launches asynchronous execution in a
// goroutine. The run is stored with status "pending" before returning.
// The goroutine operates on a copy of the run to avoid data races with
// the caller.
func (e *Engine) Submit(ctx context.Context, r *model.Run) error {
	e.prepare(r)
	if err := e.store.CreateRun(ctx, r); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	rCopy := *r
	e.wg.Go(func() {
		e.execute(&rCopy)
	})

	return nil
}

// Execute creates a run record and executes it before returning. The
// returned run carries the final status and report.
func (e *Engine) Execute(ctx context.Context, r *model.Run) (*model.Run, error) {
	e.prepare(r)
	if err := e.store.CreateRun(ctx, r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	e.execute(r)

	final, err := e.store.GetRun(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("reload run: %w", err)
	}
	return final, nil
}

// Wait blocks until all in-flight run goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) prepare(r *model.Run) {
	if r.ID == "" {
		r.ID = model.NewID()
	}
	if r.Status == "" {
		r.Status = model.StatusPending
	}
	if r.Variant == "" {
		if _, name, err := e.registry.Resolve(""); err == nil {
			r.Variant = name
		}
	}
	if r.RemainingMS <= 0 {
		r.RemainingMS = e.remaining.Milliseconds()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// execute runs the lifecycle of one run: pending→running→succeeded/failed.
// The run's time budget starts when it transitions to running.
func (e *Engine) execute(r *model.Run) {
	// Close the event stream when execution finishes, regardless of outcome.
	defer e.broker.Close(r.ID)

	if err := e.store.UpdateRunStatus(context.Background(), r.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "run_id", r.ID, "error", err)
		e.finish(r.ID, nil, nil, fmt.Errorf("failed to start: %w", err))
		return
	}

	start := time.Now().UTC()
	deadline := DeadlineIn(e.executor.Clock().Now(), time.Duration(r.RemainingMS)*time.Millisecond)

	plan, err := e.registry.Plan(r.Variant, r.Bundle)
	if err != nil {
		report := &Report{RunID: r.ID, Variant: plan.Variant, Status: ReportFailed, Error: fault.Message(err), ErrorKind: fault.Kind(err)}
		runsTotal.WithLabelValues(plan.Variant, ReportFailed, report.ErrorKind).Inc()
		e.finish(r.ID, &start, report, err)
		return
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline.At())
	defer cancel()

	obs := &streamObserver{engine: e}
	report, err := e.executor.Run(ctx, r.ID, plan, deadline, obs)
	e.finish(r.ID, &start, report, err)
}

// finish stores the outcome of a run. startedAt may be nil if execution
// never started.
func (e *Engine) finish(id string, startedAt *time.Time, report *Report, runErr error) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(now.Sub(*startedAt).Milliseconds())
	}

	r := &model.Run{
		ID:         id,
		Status:     model.StatusSucceeded,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}
	if runErr != nil {
		r.Status = model.StatusFailed
		r.Error = fault.Message(runErr)
		r.ErrorKind = fault.Kind(runErr)
	}
	if report != nil {
		data, err := json.Marshal(report)
		if err != nil {
			e.logger.Error("failed to encode run report", "run_id", id, "error", err)
		} else {
			r.Report = data
		}
	}

	if err := e.store.UpdateRun(context.Background(), r); err != nil {
		e.logger.Error("failed to update finished run", "run_id", id, "error", err)
	}
}

// streamObserver dual-writes stage progress: persist to SQLite for
// historical viewing, then publish to the Broker for real-time SSE.
type streamObserver struct {
	engine *Engine
	seq    atomic.Int32
}

func (o *streamObserver) StageStarted(runID, stage string, timeout time.Duration) {
	o.emit(runID, stage, fmt.Sprintf("%s started (timeout %ds)", stage, int(timeout.Seconds())))
}

func (o *streamObserver) StageFinished(runID, stage string, elapsed time.Duration, err error) {
	if err != nil {
		o.emit(runID, stage, fmt.Sprintf("%s failed after %ds: %s", stage, int(elapsed.Seconds()), fault.Message(err)))
		return
	}
	o.emit(runID, stage, fmt.Sprintf("%s completed in %ds", stage, int(elapsed.Seconds())))
}

func (o *streamObserver) emit(runID, stage, line string) {
	seq := int(o.seq.Add(1) - 1)
	if err := o.engine.store.InsertStageEvent(context.Background(), runID, seq, stage, line); err != nil {
		o.engine.logger.Error("failed to persist stage event", "run_id", runID, "seq", seq, "error", err)
	}
	o.engine.broker.Publish(runID, Progress{Seq: seq, Stage: stage, Line: line, Time: time.Now().UTC()})
}
