package budget

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/seantiz/kernelforge/internal/fault"
)

func TestComputeBuildFloor(t *testing.T) {
	b, err := Compute(900_000*time.Millisecond, Policy{BuildAllocation(1.0, DefaultBuildFloor)})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := b.Seconds(GroupBuild); got < 900 {
		t.Errorf("build = %ds, want >= 900", got)
	}

	b, err = Compute(60*time.Second, Policy{BuildAllocation(1.0, DefaultBuildFloor)})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := b.Seconds(GroupBuild); got != 900 {
		t.Errorf("build = %ds, want floor 900", got)
	}
}

func TestComputePublishCeiling(t *testing.T) {
	p := Policy{
		BuildAllocation(0.5, DefaultBuildFloor),
		PublishAllocation(DefaultPublishFraction, DefaultPublishCeiling),
	}
	b, err := Compute(10_000_000*time.Millisecond, p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := b.Seconds(GroupPublish); got != 600 {
		t.Errorf("publish = %ds, want 600", got)
	}
	if got := b.Seconds(GroupBuild); got != 5000 {
		t.Errorf("build = %ds, want 5000", got)
	}
	if !reflect.DeepEqual(b.Names(), []string{GroupBuild, GroupPublish}) {
		t.Errorf("Names() = %v", b.Names())
	}
}

func TestComputeTruncatesToSeconds(t *testing.T) {
	b, err := Compute(1999*time.Millisecond, Policy{{Name: "x", Fraction: 1}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got, _ := b.Timeout("x"); got != time.Second {
		t.Errorf("timeout = %v, want 1s", got)
	}
}

func TestComputeRejectsBadFractions(t *testing.T) {
	for _, f := range []float64{0, -0.1, 1.5} {
		_, err := Compute(time.Hour, Policy{BuildAllocation(f, DefaultBuildFloor)})
		if !errors.Is(err, fault.ErrConfiguration) {
			t.Errorf("fraction %v: error = %v, want configuration error", f, err)
		}
	}
}

func TestComputeRejectsBadPolicy(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
	}{
		{"unnamed", Policy{{Fraction: 1}}},
		{"duplicate", Policy{{Name: "a", Fraction: 1}, {Name: "a", Fraction: 0.5}}},
		{"negative floor", Policy{{Name: "a", Fraction: 1, Floor: -time.Second}}},
		{"floor above ceiling", Policy{{Name: "a", Fraction: 1, Floor: time.Hour, Ceiling: time.Minute}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compute(time.Hour, tt.p); !errors.Is(err, fault.ErrConfiguration) {
				t.Errorf("error = %v, want configuration error", err)
			}
		})
	}
}

func TestOvercommitted(t *testing.T) {
	available := 5 * time.Minute
	b, err := Compute(available, Policy{
		BuildAllocation(1.0, DefaultBuildFloor),
		PublishAllocation(DefaultPublishFraction, DefaultPublishCeiling),
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := b.Overcommitted(available); !reflect.DeepEqual(got, []string{GroupBuild}) {
		t.Errorf("Overcommitted() = %v, want [build]", got)
	}
}

func TestBudgetMarshalJSON(t *testing.T) {
	b, err := Compute(1000*time.Second, Policy{{Name: "build", Fraction: 0.5}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"build":500}` {
		t.Errorf("json = %s", data)
	}
}
