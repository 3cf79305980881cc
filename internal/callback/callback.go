// Package callback delivers CloudFormation custom resource responses to the
// pre-signed URL carried by the triggering event.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-lambda-go/cfn"
)

const (
	DefaultAttempts = 3
	defaultDelay    = time.Second
	defaultMaxDelay = 5 * time.Second
)

// ErrRejected is returned when the response URL refuses the response with a
// client error. Such responses are not retried.
var ErrRejected = errors.New("response rejected")

// Sender PUTs custom resource responses, retrying transport errors and
// server errors a bounded number of times.
type Sender struct {
	client   *http.Client
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// Option configures a Sender.
type Option func(*Sender)

// WithHTTPClient sets the client used for the PUT.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.client = c }
}

// WithAttempts sets the number of delivery attempts. Zero keeps the default.
func WithAttempts(n uint) Option {
	return func(s *Sender) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithDelay sets the initial delay between attempts.
func WithDelay(d time.Duration) Option {
	return func(s *Sender) { s.delay = d }
}

// WithLogger sets the logger for retry messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// NewSender creates a Sender.
func NewSender(opts ...Option) *Sender {
	s := &Sender{
		client:   http.DefaultClient,
		attempts: DefaultAttempts,
		delay:    defaultDelay,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Success builds a SUCCESS response for event.
func Success(event cfn.Event, physicalID string, data map[string]any) *cfn.Response {
	r := cfn.NewResponse(&event)
	r.Status = cfn.StatusSuccess
	r.PhysicalResourceID = physicalID
	r.Data = data
	r.Reason = reason(physicalID)
	return r
}

// Failure builds a FAILED response for event.
func Failure(event cfn.Event, physicalID string, data map[string]any) *cfn.Response {
	r := cfn.NewResponse(&event)
	r.Status = cfn.StatusFailed
	r.PhysicalResourceID = physicalID
	r.Data = data
	r.Reason = reason(physicalID)
	return r
}

func reason(logStream string) string {
	return "See the details in CloudWatch Log Stream: " + logStream
}

// Send delivers resp to url. The body is sent without a content type, as
// the pre-signed URL requires.
func (s *Sender) Send(ctx context.Context, url string, resp *cfn.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	err = retry.Do(func() error {
		return s.put(ctx, url, body)
	},
		retry.Attempts(s.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(s.delay),
		retry.MaxDelay(defaultMaxDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("retrying response delivery",
				"request_id", resp.RequestID,
				"attempt", n+1,
				"error", err,
			)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("send %s response: %w", resp.Status, err)
	}
	return nil
}

func (s *Sender) put(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.ContentLength = int64(len(body))

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	switch {
	case res.StatusCode >= 500:
		return fmt.Errorf("response url returned %s", res.Status)
	case res.StatusCode >= 400:
		return retry.Unrecoverable(fmt.Errorf("%w: %s", ErrRejected, res.Status))
	}
	return nil
}
