package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/cfn"

	"github.com/seantiz/kernelforge/internal/backend"
	"github.com/seantiz/kernelforge/internal/backend/fake"
	"github.com/seantiz/kernelforge/internal/engine"
	"github.com/seantiz/kernelforge/internal/poll/polltest"
	"github.com/seantiz/kernelforge/internal/provision"
)

const publishConfig = `{
	"cb_project": "kernels",
	"ecr_repo_name": "kernels",
	"image_name": "py310",
	"image_permissions": "arn:aws:iam::123456789012:role/sm",
	"app_image_config": {"AppImageConfigName": "py310-config"},
	"update_domain_input": {
		"DomainId": "d-abc",
		"DefaultUserSettings": {
			"KernelGatewayAppSettings": {
				"CustomImages": [{"ImageName": "py310", "AppImageConfigName": "py310-config"}]
			}
		}
	}
}`

type sent struct {
	url  string
	resp *cfn.Response
}

type recordingResponder struct {
	sent []sent
	err  error
}

func (r *recordingResponder) Send(_ context.Context, url string, resp *cfn.Response) error {
	r.sent = append(r.sent, sent{url: url, resp: resp})
	return r.err
}

func newHandler(t *testing.T, svc *fake.Services, opts ...Option) (*Handler, *recordingResponder) {
	t.Helper()
	reg := engine.NewRegistry()
	provision.Register(reg, svc.Backend(), provision.DefaultOptions())
	reg.SetDefault(provision.VariantPublish)

	x := engine.NewExecutor(engine.WithClock(polltest.NewClock(time.Now())))
	r := &recordingResponder{}
	opts = append([]Option{WithLogStream(func() string { return "2024/05/01/[$LATEST]abc" })}, opts...)
	return NewHandler(reg, x, r, opts...), r
}

func event(requestType cfn.RequestType, props map[string]any) cfn.Event {
	return cfn.Event{
		RequestType:        requestType,
		RequestID:          "req-1",
		ResponseURL:        "https://example.com/response",
		LogicalResourceID:  "KernelImage",
		StackID:            "stack-1",
		ResourceProperties: props,
	}
}

func invocationContext(t *testing.T, remaining time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	t.Cleanup(cancel)
	return ctx
}

func only(t *testing.T, r *recordingResponder) *cfn.Response {
	t.Helper()
	if len(r.sent) != 1 {
		t.Fatalf("responses sent = %d, want 1", len(r.sent))
	}
	if r.sent[0].url != "https://example.com/response" {
		t.Errorf("url = %q", r.sent[0].url)
	}
	return r.sent[0].resp
}

func TestHandlePublishSuccess(t *testing.T) {
	svc := fake.NewServices()
	h, r := newHandler(t, svc)

	err := h.Handle(invocationContext(t, 15*time.Minute), event(cfn.RequestCreate, map[string]any{"config": publishConfig}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	resp := only(t, r)
	if resp.Status != cfn.StatusSuccess {
		t.Fatalf("status = %q, data = %v", resp.Status, resp.Data)
	}
	if resp.PhysicalResourceID != "2024/05/01/[$LATEST]abc" || resp.RequestID != "req-1" {
		t.Errorf("response = %+v", resp)
	}

	results, _ := resp.Data["Results"].(string)
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(results), &decoded); err != nil {
		t.Fatalf("decode results %q: %v", results, err)
	}
	if len(decoded) != 5 {
		t.Errorf("results = %s", results)
	}
	if !strings.HasPrefix(results, `{"build":`) {
		t.Errorf("results not in stage order: %s", results)
	}
}

func TestHandleInlineConfigAndVariant(t *testing.T) {
	svc := fake.NewServices()
	h, r := newHandler(t, svc)

	props := map[string]any{
		"variant": "build",
		"config":  map[string]any{"cb_project": "kernels"},
	}
	if err := h.Handle(invocationContext(t, 15*time.Minute), event(cfn.RequestUpdate, props)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	resp := only(t, r)
	if resp.Status != cfn.StatusSuccess {
		t.Fatalf("status = %q, data = %v", resp.Status, resp.Data)
	}
	if svc.Images.Count("CreateImage") != 0 {
		t.Errorf("build variant touched images: %v", svc.Images.Calls())
	}
	if len(svc.Builds.Requests) != 1 || svc.Builds.Requests[0].Project != "kernels" {
		t.Errorf("build requests = %+v", svc.Builds.Requests)
	}
}

func TestHandleDeleteSkipsRun(t *testing.T) {
	svc := fake.NewServices()
	h, r := newHandler(t, svc)

	if err := h.Handle(context.Background(), event(cfn.RequestDelete, map[string]any{"config": publishConfig})); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	resp := only(t, r)
	if resp.Status != cfn.StatusSuccess || resp.Data["Results"] != "{}" {
		t.Errorf("response = %+v", resp)
	}
	if svc.TotalCalls() != 0 {
		t.Errorf("remote calls = %d, want 0", svc.TotalCalls())
	}
}

func TestHandleFailures(t *testing.T) {
	tests := []struct {
		name     string
		props    map[string]any
		setup    func(*fake.Services)
		wantKind string
	}{
		{
			name:     "missing config",
			props:    map[string]any{},
			wantKind: "ConfigurationError",
		},
		{
			name:     "malformed config",
			props:    map[string]any{"config": "{not json"},
			wantKind: "ConfigurationError",
		},
		{
			name:     "unsupported config type",
			props:    map[string]any{"config": 42.0},
			wantKind: "ConfigurationError",
		},
		{
			name:     "unknown variant",
			props:    map[string]any{"config": publishConfig, "variant": "deploy"},
			wantKind: "ConfigurationError",
		},
		{
			name:  "build failed",
			props: map[string]any{"config": publishConfig},
			setup: func(s *fake.Services) {
				s.Builds.Statuses = []string{backend.BuildFailed}
			},
			wantKind: "TerminalFailureError",
		},
		{
			name:  "build never finishes",
			props: map[string]any{"config": `{"cb_project":"p"}`, "variant": "build"},
			setup: func(s *fake.Services) {
				s.Builds.Statuses = []string{backend.BuildInProgress}
			},
			wantKind: "DeadlineExceededError",
		},
		{
			name:     "no matching custom image",
			props:    map[string]any{"config": strings.Replace(publishConfig, `"ImageName": "py310"`, `"ImageName": "r-kernel"`, 1)},
			wantKind: "MatchNotFoundError",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := fake.NewServices()
			if tt.setup != nil {
				tt.setup(svc)
			}
			h, r := newHandler(t, svc)

			if err := h.Handle(invocationContext(t, 15*time.Minute), event(cfn.RequestCreate, tt.props)); err != nil {
				t.Fatalf("Handle: %v", err)
			}

			resp := only(t, r)
			if resp.Status != cfn.StatusFailed {
				t.Fatalf("status = %q, want FAILED", resp.Status)
			}
			msg, _ := resp.Data["Error"].(string)
			if !strings.HasPrefix(msg, tt.wantKind+" ") {
				t.Errorf("Error = %q, want prefix %q", msg, tt.wantKind)
			}
			if _, ok := resp.Data["Results"]; ok {
				t.Error("failed response carries results")
			}
		})
	}
}

func TestHandleReturnsDeliveryError(t *testing.T) {
	h, r := newHandler(t, fake.NewServices())
	r.err = errors.New("connection reset")

	err := h.Handle(context.Background(), event(cfn.RequestDelete, nil))
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error = %v", err)
	}
}

func TestDeadlineHoldsBackReserve(t *testing.T) {
	h, _ := newHandler(t, fake.NewServices(), WithReserve(30*time.Second))

	dl := time.Now().Add(10 * time.Minute)
	ctx, cancel := context.WithDeadline(context.Background(), dl)
	defer cancel()

	if got := h.deadline(ctx).At(); !got.Equal(dl.Add(-30 * time.Second)) {
		t.Errorf("deadline = %v, want %v", got, dl.Add(-30*time.Second))
	}
}

func TestDeadlineFallback(t *testing.T) {
	h, _ := newHandler(t, fake.NewServices(), WithFallbackRemaining(5*time.Minute))

	now := h.executor.Clock().Now()
	if got := h.deadline(context.Background()).Remaining(now); got != 5*time.Minute {
		t.Errorf("remaining = %v, want 5m", got)
	}
}

func TestPhysicalIDFallsBackToEvent(t *testing.T) {
	h, r := newHandler(t, fake.NewServices(), WithLogStream(func() string { return "" }))

	ev := event(cfn.RequestDelete, nil)
	ev.PhysicalResourceID = "existing-id"
	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := only(t, r).PhysicalResourceID; got != "existing-id" {
		t.Errorf("PhysicalResourceID = %q", got)
	}
}
