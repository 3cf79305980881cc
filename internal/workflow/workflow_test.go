package workflow

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

var publishStages = []string{"build", "create_image", "create_image_ver", "config_app_image", "update_domain"}

func TestNewSpecValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    []string
		want  error
		stage int
	}{
		{name: "empty", in: nil, want: ErrEmptySpec},
		{name: "blank name", in: []string{"build", ""}, want: ErrInvalidStageName},
		{name: "terminal marker", in: []string{End}, want: ErrInvalidStageName},
		{name: "duplicate", in: []string{"build", "build"}, want: ErrDuplicateStage},
		{name: "valid", in: publishStages, stage: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := NewSpec(tt.in...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("NewSpec() error = %v, want %v", err, tt.want)
			}
			if err == nil && spec.Len() != tt.stage {
				t.Errorf("Len() = %d, want %d", spec.Len(), tt.stage)
			}
		})
	}
}

func TestStateCompletesAfterNRecords(t *testing.T) {
	for n := 1; n <= len(publishStages); n++ {
		spec := MustSpec(publishStages[:n]...)
		st := NewState(spec)

		for i := 0; i < n; i++ {
			if st.IsComplete() {
				t.Fatalf("n=%d: complete after %d records", n, i)
			}
			if got := st.Current(); got != publishStages[i] {
				t.Fatalf("n=%d: Current() = %q, want %q", n, got, publishStages[i])
			}
			st.RecordAndAdvance(i)
		}

		if !st.IsComplete() {
			t.Fatalf("n=%d: not complete after %d records", n, n)
		}
		if st.Current() != End {
			t.Errorf("n=%d: Current() = %q, want %q", n, st.Current(), End)
		}

		before := st.Results()
		st.RecordAndAdvance("extra")
		after := st.Results()
		if !reflect.DeepEqual(before, after) {
			t.Errorf("n=%d: record after completion changed results", n)
		}
	}
}

func TestResultsKeysNeverChange(t *testing.T) {
	st := NewState(MustSpec(publishStages...))

	check := func() {
		t.Helper()
		r := st.Results()
		if !reflect.DeepEqual(r.Keys(), publishStages) {
			t.Fatalf("Keys() = %v, want %v", r.Keys(), publishStages)
		}
		if r.Len() != len(publishStages) {
			t.Fatalf("Len() = %d, want %d", r.Len(), len(publishStages))
		}
	}

	check()
	for range publishStages {
		st.RecordAndAdvance(map[string]string{"status": "ok"})
		check()
	}
	st.RecordAndAdvance("ignored")
	check()
}

func TestPartialResults(t *testing.T) {
	st := NewState(MustSpec(publishStages...))
	st.RecordAndAdvance(map[string]string{"id": "b1"})
	st.RecordAndAdvance(Failure{Status: "CREATE_FAILED", Message: "image failed"})

	r := st.Results()
	if _, ok := r.Get("build"); !ok {
		t.Error("build not recorded")
	}
	v, ok := r.Get("create_image")
	if !ok {
		t.Fatal("create_image not recorded")
	}
	if f, _ := v.(Failure); f.Status != "CREATE_FAILED" {
		t.Errorf("create_image payload = %#v", v)
	}
	for _, name := range publishStages[2:] {
		if v, ok := r.Get(name); ok || v != nil {
			t.Errorf("%s = %v (recorded=%v), want unset", name, v, ok)
		}
	}

	if got := st.Completed(); !reflect.DeepEqual(got, []string{"build", "create_image"}) {
		t.Errorf("Completed() = %v", got)
	}
}

func TestResultsSnapshotIsIndependent(t *testing.T) {
	st := NewState(MustSpec("build", "publish"))
	snap := st.Results()
	st.RecordAndAdvance("done")

	if _, ok := snap.Get("build"); ok {
		t.Error("snapshot observed a later record")
	}
}

func TestResultsMarshalJSONKeepsOrder(t *testing.T) {
	st := NewState(MustSpec("zeta", "alpha", "mid"))
	st.RecordAndAdvance(map[string]string{"id": "b1"})

	data, err := json.Marshal(st.Results())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"zeta":{"id":"b1"},"alpha":null,"mid":null}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}
