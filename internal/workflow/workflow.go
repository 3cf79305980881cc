// Package workflow holds the bookkeeping of a sequential stage run: the
// ordered stage names, which stage is about to execute, and the result
// recorded for each stage. It performs no I/O.
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// End is the terminal marker returned by State.Current once every stage has
// been recorded.
const End = "End"

var (
	// ErrEmptySpec is returned when a spec has no stages.
	ErrEmptySpec = errors.New("workflow has no stages")

	// ErrInvalidStageName is returned for an empty stage name or one that
	// collides with the terminal marker.
	ErrInvalidStageName = errors.New("invalid stage name")

	// ErrDuplicateStage is returned when a stage name appears twice.
	ErrDuplicateStage = errors.New("duplicate stage name")
)

// Spec is the ordered list of stage names. Insertion order is execution order.
type Spec struct {
	stages []string
}

// NewSpec validates names and returns a Spec.
func NewSpec(names ...string) (Spec, error) {
	if len(names) == 0 {
		return Spec{}, ErrEmptySpec
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || n == End {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidStageName, n)
		}
		if seen[n] {
			return Spec{}, fmt.Errorf("%w: %q", ErrDuplicateStage, n)
		}
		seen[n] = true
	}
	return Spec{stages: append([]string(nil), names...)}, nil
}

// MustSpec is like NewSpec but panics on error. Intended for fixed stage lists.
func MustSpec(names ...string) Spec {
	s, err := NewSpec(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// Stages returns a copy of the stage names.
func (s Spec) Stages() []string {
	return append([]string(nil), s.stages...)
}

// Len returns the number of stages.
func (s Spec) Len() int {
	return len(s.stages)
}

// State tracks the progress of one run. It is owned by a single run and is
// not safe for concurrent use.
type State struct {
	spec    Spec
	idx     int
	results Results
}

// NewState returns a State positioned at the first stage with every result unset.
func NewState(spec Spec) *State {
	return &State{
		spec:    spec,
		results: newResults(spec.stages),
	}
}

// Current returns the stage about to execute, or End.
func (s *State) Current() string {
	if s.idx >= len(s.spec.stages) {
		return End
	}
	return s.spec.stages[s.idx]
}

// IsComplete reports whether every stage has been recorded.
func (s *State) IsComplete() bool {
	return s.Current() == End
}

// RecordAndAdvance stores info as the current stage's result and moves to
// the next stage. It does nothing once the state is complete.
func (s *State) RecordAndAdvance(info any) {
	if s.IsComplete() {
		return
	}
	s.results.set(s.Current(), info)
	s.idx++
}

// Completed returns the names of the stages recorded so far, in order.
func (s *State) Completed() []string {
	return append([]string(nil), s.spec.stages[:s.idx]...)
}

// Results returns a snapshot of the per-stage results.
func (s *State) Results() Results {
	return s.results.clone()
}

// Results maps every stage name to its recorded payload. Keys keep the
// spec's order; a stage that was never reached is unset and encodes as null.
type Results struct {
	keys     []string
	values   map[string]any
	recorded map[string]bool
}

func newResults(keys []string) Results {
	r := Results{
		keys:     append([]string(nil), keys...),
		values:   make(map[string]any, len(keys)),
		recorded: make(map[string]bool, len(keys)),
	}
	for _, k := range keys {
		r.values[k] = nil
	}
	return r
}

func (r *Results) set(key string, v any) {
	r.values[key] = v
	r.recorded[key] = true
}

func (r Results) clone() Results {
	c := newResults(r.keys)
	for k, v := range r.values {
		c.values[k] = v
	}
	for k, v := range r.recorded {
		c.recorded[k] = v
	}
	return c
}

// Keys returns the stage names in order.
func (r Results) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Get returns the payload for stage and whether it has been recorded.
func (r Results) Get(stage string) (any, bool) {
	return r.values[stage], r.recorded[stage]
}

// Len returns the number of stages, recorded or not.
func (r Results) Len() int {
	return len(r.keys)
}

// MarshalJSON encodes the results as an object in stage order.
func (r Results) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("encode result %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Failure is the payload recorded for a stage that ended in failure.
type Failure struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}
