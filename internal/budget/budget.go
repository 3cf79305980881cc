// Package budget splits the time left for a run into per-group stage timeouts.
package budget

import (
	"encoding/json"
	"time"

	"github.com/seantiz/kernelforge/internal/fault"
)

// Stage group names.
const (
	GroupBuild   = "build"
	GroupPublish = "publish"
)

// Defaults for the allocation policy. All of them can be overridden through
// configuration.
const (
	// DefaultBuildFloor keeps image builds from being handed an unrealistically
	// short timeout.
	DefaultBuildFloor = 900 * time.Second

	// DefaultPublishFraction is the share of the remaining time given to the
	// post-build registration stages.
	DefaultPublishFraction = 0.9

	// DefaultPublishCeiling caps the registration stages, which move at the
	// image service's pace rather than ours.
	DefaultPublishCeiling = 600 * time.Second
)

// Allocation describes how much of the available time a stage group may use.
// Floor and Ceiling are ignored when zero.
type Allocation struct {
	Name     string
	Fraction float64
	Floor    time.Duration
	Ceiling  time.Duration
}

// Policy is an ordered set of allocations.
type Policy []Allocation

// Budget is the computed timeout per group. It is immutable.
type Budget struct {
	names    []string
	timeouts map[string]time.Duration
}

// Compute validates the policy and derives a whole-second timeout for every
// allocation from the available time.
func Compute(available time.Duration, p Policy) (Budget, error) {
	if available < 0 {
		available = 0
	}

	b := Budget{timeouts: make(map[string]time.Duration, len(p))}
	for _, a := range p {
		if a.Name == "" {
			return Budget{}, fault.Configf("allocation without a name")
		}
		if _, dup := b.timeouts[a.Name]; dup {
			return Budget{}, fault.Configf("allocation %q declared twice", a.Name)
		}
		if a.Fraction <= 0 || a.Fraction > 1 {
			return Budget{}, fault.Configf("%s time budget was set to %v; expected a value greater than 0 and at most 1", a.Name, a.Fraction)
		}
		if a.Floor < 0 || a.Ceiling < 0 {
			return Budget{}, fault.Configf("%s floor and ceiling must not be negative", a.Name)
		}
		if a.Floor > 0 && a.Ceiling > 0 && a.Floor > a.Ceiling {
			return Budget{}, fault.Configf("%s floor %s exceeds ceiling %s", a.Name, a.Floor, a.Ceiling)
		}

		secs := int64(available.Seconds() * a.Fraction)
		timeout := time.Duration(secs) * time.Second
		if a.Floor > 0 && timeout < a.Floor {
			timeout = a.Floor.Truncate(time.Second)
		}
		if a.Ceiling > 0 && timeout > a.Ceiling {
			timeout = a.Ceiling.Truncate(time.Second)
		}

		b.names = append(b.names, a.Name)
		b.timeouts[a.Name] = timeout
	}
	return b, nil
}

// Timeout returns the timeout for the named group.
func (b Budget) Timeout(name string) (time.Duration, bool) {
	t, ok := b.timeouts[name]
	return t, ok
}

// Seconds returns the timeout for the named group in whole seconds.
func (b Budget) Seconds(name string) int {
	return int(b.timeouts[name] / time.Second)
}

// Names returns the group names in policy order.
func (b Budget) Names() []string {
	return append([]string(nil), b.names...)
}

// Overcommitted returns the groups whose timeout is longer than the time
// actually available. A floor can produce this on purpose; callers decide
// whether that is acceptable.
func (b Budget) Overcommitted(available time.Duration) []string {
	var over []string
	for _, n := range b.names {
		if b.timeouts[n] > available {
			over = append(over, n)
		}
	}
	return over
}

// MarshalJSON encodes the budget as group name to seconds.
func (b Budget) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, len(b.names))
	for _, n := range b.names {
		m[n] = b.Seconds(n)
	}
	return json.Marshal(m)
}

// BuildAllocation returns the build group allocation for fraction f.
func BuildAllocation(f float64, floor time.Duration) Allocation {
	return Allocation{Name: GroupBuild, Fraction: f, Floor: floor}
}

// PublishAllocation returns the publish group allocation.
func PublishAllocation(f float64, ceiling time.Duration) Allocation {
	return Allocation{Name: GroupPublish, Fraction: f, Ceiling: ceiling}
}
