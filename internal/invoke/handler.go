// Package invoke runs one provisioning workflow per CloudFormation custom
// resource event and reports its outcome to the stack.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/seantiz/kernelforge/internal/callback"
	"github.com/seantiz/kernelforge/internal/engine"
	"github.com/seantiz/kernelforge/internal/fault"
	"github.com/seantiz/kernelforge/internal/model"
)

// Resource property keys.
const (
	PropConfig  = "config"
	PropVariant = "variant"
)

// DefaultReserve is held back from the invocation deadline for sending the
// response.
const DefaultReserve = 10 * time.Second

// Responder delivers a custom resource response. *callback.Sender
// implements it.
type Responder interface {
	Send(ctx context.Context, url string, resp *cfn.Response) error
}

// Handler handles custom resource events.
type Handler struct {
	registry  *engine.Registry
	executor  *engine.Executor
	responder Responder
	logger    *slog.Logger

	variant   string
	reserve   time.Duration
	fallback  time.Duration
	logStream func() string
}

// Option configures a Handler.
type Option func(*Handler)

// WithVariant sets the variant run when the event does not name one.
func WithVariant(v string) Option {
	return func(h *Handler) { h.variant = v }
}

// WithReserve sets the time held back from the deadline for the response.
func WithReserve(d time.Duration) Option {
	return func(h *Handler) {
		if d >= 0 {
			h.reserve = d
		}
	}
}

// WithFallbackRemaining sets the budget used when the context has no deadline.
func WithFallbackRemaining(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.fallback = d
		}
	}
}

// WithLogStream overrides the source of the physical resource id.
func WithLogStream(f func() string) Option {
	return func(h *Handler) { h.logStream = f }
}

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a Handler.
func NewHandler(reg *engine.Registry, x *engine.Executor, r Responder, opts ...Option) *Handler {
	h := &Handler{
		registry:  reg,
		executor:  x,
		responder: r,
		logger:    slog.New(slog.DiscardHandler),
		reserve:   DefaultReserve,
		fallback:  engine.DefaultRemaining,
		logStream: func() string { return lambdacontext.LogStreamName },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle runs the workflow for event and sends exactly one response. The
// returned error is non-nil only when the response could not be delivered.
func (h *Handler) Handle(ctx context.Context, event cfn.Event) error {
	runID := model.NewID()
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		runID = lc.AwsRequestID
	}
	physicalID := h.logStream()
	if physicalID == "" {
		physicalID = event.PhysicalResourceID
	}
	if physicalID == "" {
		physicalID = runID
	}
	logger := h.logger.With("run_id", runID, "request_type", string(event.RequestType))

	if event.RequestType == cfn.RequestDelete {
		logger.Info("delete request acknowledged without running")
		return h.send(ctx, event, callback.Success(event, physicalID, map[string]any{"Results": "{}"}))
	}

	report, err := h.run(ctx, runID, event)
	if err != nil {
		logger.Error("run failed", "error", err, "error_kind", fault.Kind(err))
		return h.send(ctx, event, callback.Failure(event, physicalID, map[string]any{"Error": fault.Message(err)}))
	}

	results, err := report.ResultsJSON()
	if err != nil {
		logger.Error("encode results", "error", err)
		return h.send(ctx, event, callback.Failure(event, physicalID, map[string]any{"Error": fault.Message(err)}))
	}
	logger.Info("run succeeded", "variant", report.Variant)
	return h.send(ctx, event, callback.Success(event, physicalID, map[string]any{"Results": results}))
}

func (h *Handler) run(ctx context.Context, runID string, event cfn.Event) (*engine.Report, error) {
	bundle, err := configBundle(event.ResourceProperties)
	if err != nil {
		return nil, err
	}

	variant := h.variant
	if v, ok := event.ResourceProperties[PropVariant].(string); ok && v != "" {
		variant = v
	}

	plan, err := h.registry.Plan(variant, bundle)
	if err != nil {
		return nil, err
	}

	deadline := h.deadline(ctx)
	runCtx, cancel := context.WithDeadline(ctx, deadline.At())
	defer cancel()

	return h.executor.Run(runCtx, runID, plan, deadline)
}

// deadline is the invocation deadline less the response reserve.
func (h *Handler) deadline(ctx context.Context) engine.Deadline {
	if dl, ok := ctx.Deadline(); ok {
		return engine.DeadlineAt(dl.Add(-h.reserve))
	}
	return engine.DeadlineIn(h.executor.Clock().Now(), h.fallback)
}

// configBundle returns the provisioning bundle from the resource properties.
// Templates pass it as a JSON string; an inline object is re-encoded.
func configBundle(props map[string]any) ([]byte, error) {
	raw, ok := props[PropConfig]
	if !ok || raw == nil {
		return nil, fault.Configf("resource property %q is required", PropConfig)
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, fault.Configf("resource property %q is empty", PropConfig)
		}
		return []byte(v), nil
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fault.Configf("encode resource property %q: %v", PropConfig, err)
		}
		return data, nil
	default:
		return nil, fault.Configf("resource property %q has unsupported type %T", PropConfig, raw)
	}
}

func (h *Handler) send(ctx context.Context, event cfn.Event, resp *cfn.Response) error {
	// The run may have used the whole budget; delivery gets the reserve.
	sendCtx := context.WithoutCancel(ctx)
	if h.reserve > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, h.reserve)
		defer cancel()
	}
	if err := h.responder.Send(sendCtx, event.ResponseURL, resp); err != nil {
		return fmt.Errorf("deliver %s response: %w", resp.Status, err)
	}
	return nil
}
