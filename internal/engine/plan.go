package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/seantiz/kernelforge/internal/budget"
	"github.com/seantiz/kernelforge/internal/poll"
	"github.com/seantiz/kernelforge/internal/workflow"
)

// StageFunc performs one stage. The returned payload is recorded as the
// stage's result. On failure the payload attached with fault.WithPayload is
// recorded instead, or a workflow.Failure built from the error message.
type StageFunc func(ctx context.Context, sc *StageContext) (any, error)

// Stage is one named step of a plan.
type Stage struct {
	Name string

	// Group names the budget allocation the stage draws from. Stages of the
	// same group share one deadline clock, started when the first of them begins.
	Group string

	Run StageFunc
}

// Plan is the ordered list of stages of one variant together with the
// policy used to split the available time between their groups.
type Plan struct {
	Variant string
	Stages  []Stage
	Policy  budget.Policy
}

// StageNames returns the stage names in execution order.
func (p Plan) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		names[i] = s.Name
	}
	return names
}

// StageContext is handed to a running stage.
type StageContext struct {
	RunID string
	Stage string
	Group string

	// Start is when the stage's group clock started; Timeout is measured from it.
	Start   time.Time
	Timeout time.Duration

	Clock    poll.Clock
	Interval time.Duration
	Logger   *slog.Logger
}

// PollOptions returns poll options bound to the stage's group clock.
func (sc *StageContext) PollOptions(name string) poll.Options {
	return poll.Options{
		Name:     name,
		Clock:    sc.Clock,
		Interval: sc.Interval,
		Timeout:  sc.Timeout,
		Start:    sc.Start,
	}
}

// Deadline is the instant by which a run must have finished. It is the only
// source of the time available to a run.
type Deadline struct {
	at time.Time
}

// DeadlineAt returns a deadline at t.
func DeadlineAt(t time.Time) Deadline {
	return Deadline{at: t}
}

// DeadlineIn returns a deadline remaining after now.
func DeadlineIn(now time.Time, remaining time.Duration) Deadline {
	return Deadline{at: now.Add(remaining)}
}

// At returns the deadline instant.
func (d Deadline) At() time.Time { return d.at }

// Remaining returns the time left before the deadline, never negative.
func (d Deadline) Remaining(now time.Time) time.Duration {
	left := d.at.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Report outcome values.
const (
	ReportSuccess = "SUCCESS"
	ReportFailed  = "FAILED"
)

// Report is the outcome of one run.
type Report struct {
	RunID     string           `json:"run_id,omitempty"`
	Variant   string           `json:"variant"`
	Status    string           `json:"status"`
	Results   workflow.Results `json:"results"`
	Completed []string         `json:"completed"`
	Budget    budget.Budget    `json:"budget"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
}

// Succeeded reports whether every stage completed.
func (r *Report) Succeeded() bool {
	return r.Status == ReportSuccess
}

// ResultsJSON returns the per-stage results encoded in stage order.
func (r *Report) ResultsJSON() (string, error) {
	data, err := json.Marshal(r.Results)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
