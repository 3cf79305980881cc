package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/kernelforge/internal/backend"
	"github.com/seantiz/kernelforge/internal/engine"
	"github.com/seantiz/kernelforge/internal/fault"
	"github.com/seantiz/kernelforge/internal/poll"
	"github.com/seantiz/kernelforge/internal/workflow"
)

// Stage names, also used as the keys of the run results.
const (
	StageBuild              = "build"
	StageCreateImage        = "create_image"
	StageCreateImageVersion = "create_image_ver"
	StageAppImageConfig     = "config_app_image"
	StageUpdateDomain       = "update_domain"
)

// run holds the request and the values passed between the stages of one run.
type run struct {
	services backend.Services
	opts     Options
	req      *Request

	// version is set once the new image version is created, together with
	// update, a copy of the requested domain update stamped with it.
	version int32
	update  *backend.DomainUpdate
}

func (r *run) build(ctx context.Context, sc *engine.StageContext) (any, error) {
	token := IdempotencyToken(sc.Clock.Now(), r.opts.DedupWindow)
	started, err := r.services.Builds.StartBuild(ctx, backend.BuildRequest{
		Project:          r.req.Project,
		Env:              backend.EnvOverrides(r.req.EnvOverrides),
		IdempotencyToken: token,
	})
	if err != nil {
		return nil, submitFailed("", fmt.Errorf("start build of %s: %w: %w", r.req.Project, fault.ErrSubmission, err))
	}
	if started == nil || started.ID == "" {
		return nil, submitFailed("", fmt.Errorf("start build of %s returned no build id: %w", r.req.Project, fault.ErrSubmission))
	}
	sc.Logger.Info("build started", "build_id", started.ID, "token", token, "timeout_s", int(sc.Timeout.Seconds()))

	final, err := poll.Until(ctx, sc.PollOptions("build "+started.ID),
		func(ctx context.Context) (*backend.Build, error) {
			return r.services.Builds.GetBuild(ctx, started.ID)
		},
		classifyBuild,
	)
	if err != nil {
		status := started.Status
		if final != nil {
			status = final.Status
		}
		return nil, pollFailed("build "+started.ID, started.ID, status, "", err)
	}
	return final, nil
}

func (r *run) createImage(ctx context.Context, sc *engine.StageContext) (any, error) {
	name := r.req.ImageName
	created, err := upsert(ctx, sc,
		func(ctx context.Context) error {
			_, err := r.services.Images.DescribeImage(ctx, name)
			return err
		},
		func(ctx context.Context) error { return r.services.Images.UpdateImage(ctx, name, r.req.RoleARN) },
		func(ctx context.Context) error { return r.services.Images.CreateImage(ctx, name, r.req.RoleARN) },
	)
	if err != nil {
		return nil, submitFailed(name, fmt.Errorf("submit image %s: %w: %w", name, fault.ErrSubmission, err))
	}
	sc.Logger.Info("image submitted", "image", name, "created", created)

	final, err := poll.Until(ctx, sc.PollOptions("image "+name),
		func(ctx context.Context) (*backend.Image, error) {
			return r.services.Images.DescribeImage(ctx, name)
		},
		classifyImage,
	)
	if err != nil {
		var status, reason string
		if final != nil {
			status, reason = final.Status, final.FailureReason
		}
		return nil, pollFailed("image "+name, name, status, reason, err)
	}
	return final, nil
}

func (r *run) createImageVersion(ctx context.Context, sc *engine.StageContext) (any, error) {
	name := r.req.ImageName
	baseImage, err := r.services.Registry.ImageURI(ctx, r.req.Repository, r.req.ImageName)
	if err != nil {
		err = fmt.Errorf("resolve registry uri of %s:%s: %w", r.req.Repository, r.req.ImageName, err)
		return nil, fault.WithPayload(err, workflow.Failure{ID: name, Message: err.Error()})
	}

	// A version observed before the submission must not be mistaken for the new one.
	var previous int32
	if v, err := r.services.Images.DescribeImageVersion(ctx, name); err == nil && v != nil {
		previous = v.Version
	} else if err != nil && !errors.Is(err, backend.ErrNotFound) {
		sc.Logger.Debug("latest image version probe failed", "image", name, "error", err)
	}

	if err := r.services.Images.CreateImageVersion(ctx, name, baseImage); err != nil {
		return nil, submitFailed(name, fmt.Errorf("submit version of image %s: %w: %w", name, fault.ErrSubmission, err))
	}
	sc.Logger.Info("image version submitted", "image", name, "base_image", baseImage, "previous_version", previous)

	final, err := poll.Until(ctx, sc.PollOptions("image version "+name),
		func(ctx context.Context) (*backend.ImageVersion, error) {
			return r.services.Images.DescribeImageVersion(ctx, name)
		},
		func(v *backend.ImageVersion) poll.Outcome {
			if v != nil && v.Version <= previous {
				return poll.Pending
			}
			return classifyImageVersion(v)
		},
	)
	if err != nil {
		var status, reason string
		if final != nil {
			status, reason = final.Status, final.FailureReason
		}
		return nil, pollFailed("image version "+name, name, status, reason, err)
	}
	r.version = final.Version

	update := cloneDomainUpdate(r.req.DomainUpdate)
	if err := StampVersion(update, name, r.req.AppImageConfig.Name, r.version); err != nil {
		return nil, fault.WithPayload(err, workflow.Failure{ID: name, Status: final.Status, Message: err.Error()})
	}
	r.update = update
	return final, nil
}

func (r *run) configureAppImage(ctx context.Context, sc *engine.StageContext) (any, error) {
	spec := *r.req.AppImageConfig
	var result *backend.AppImageConfig
	created, err := upsert(ctx, sc,
		func(ctx context.Context) error {
			_, err := r.services.Images.DescribeAppImageConfig(ctx, spec.Name)
			return err
		},
		func(ctx context.Context) (err error) {
			result, err = r.services.Images.UpdateAppImageConfig(ctx, spec)
			return err
		},
		func(ctx context.Context) (err error) {
			result, err = r.services.Images.CreateAppImageConfig(ctx, spec)
			return err
		},
	)
	if err != nil {
		return nil, submitFailed(spec.Name, fmt.Errorf("submit app image config %s: %w: %w", spec.Name, fault.ErrSubmission, err))
	}
	if result == nil {
		result = &backend.AppImageConfig{Name: spec.Name}
	}
	sc.Logger.Info("app image config submitted", "app_image_config", spec.Name, "created", created)
	return result, nil
}

func (r *run) updateDomain(ctx context.Context, sc *engine.StageContext) (any, error) {
	update := r.update
	if err := r.services.Images.UpdateDomain(ctx, *update); err != nil {
		return nil, submitFailed(update.DomainID, fmt.Errorf("submit update of domain %s: %w: %w", update.DomainID, fault.ErrSubmission, err))
	}
	sc.Logger.Info("domain update submitted", "domain_id", update.DomainID, "image_version", r.version)

	final, err := poll.Until(ctx, sc.PollOptions("domain "+update.DomainID),
		func(ctx context.Context) (*backend.Domain, error) {
			return r.services.Images.DescribeDomain(ctx, update.DomainID)
		},
		classifyDomain,
	)
	if err != nil {
		var status, reason string
		if final != nil {
			status, reason = final.Status, final.FailureReason
		}
		return nil, pollFailed("domain "+update.DomainID, update.DomainID, status, reason, err)
	}
	return final, nil
}

// upsert updates a resource when the existence probe succeeds and creates it
// otherwise. Any probe error, not only "not found", falls through to create.
func upsert(ctx context.Context, sc *engine.StageContext, probe, update, create func(context.Context) error) (created bool, err error) {
	if perr := probe(ctx); perr == nil {
		return false, update(ctx)
	} else if !errors.Is(perr, backend.ErrNotFound) {
		sc.Logger.Warn("existence probe failed, creating", "error", perr)
	}
	return true, create(ctx)
}

func submitFailed(id string, err error) error {
	return fault.WithPayload(err, workflow.Failure{ID: id, Message: err.Error()})
}

// pollFailed records the last observed status of a resource whose poll
// loop ended without success.
func pollFailed(what, id, status, reason string, err error) error {
	if errors.Is(err, fault.ErrTerminalFailure) {
		if reason != "" {
			err = fmt.Errorf("%s reached status %s (%s): %w", what, status, reason, fault.ErrTerminalFailure)
		} else {
			err = fmt.Errorf("%s reached status %s: %w", what, status, fault.ErrTerminalFailure)
		}
	}
	return fault.WithPayload(err, workflow.Failure{ID: id, Status: status, Message: err.Error()})
}

func classifyBuild(b *backend.Build) poll.Outcome {
	if b == nil {
		return poll.Pending
	}
	switch b.Status {
	case backend.BuildSucceeded:
		return poll.Succeeded
	case backend.BuildFailed, backend.BuildFault, backend.BuildStopped, backend.BuildTimedOut:
		return poll.Failed
	default:
		return poll.Pending
	}
}

func classifyImage(i *backend.Image) poll.Outcome {
	if i == nil {
		return poll.Pending
	}
	switch i.Status {
	case backend.ImageCreated:
		return poll.Succeeded
	case backend.ImageCreateFailed, backend.ImageUpdateFailed, backend.ImageDeleteFailed, backend.ImageDeleting:
		return poll.Failed
	default:
		return poll.Pending
	}
}

func classifyImageVersion(v *backend.ImageVersion) poll.Outcome {
	if v == nil {
		return poll.Pending
	}
	switch v.Status {
	case backend.ImageCreated:
		return poll.Succeeded
	case backend.ImageCreateFailed, backend.ImageDeleteFailed, backend.ImageDeleting:
		return poll.Failed
	default:
		return poll.Pending
	}
}

func classifyDomain(d *backend.Domain) poll.Outcome {
	if d == nil {
		return poll.Pending
	}
	switch d.Status {
	case backend.DomainInService:
		return poll.Succeeded
	case backend.DomainFailed, backend.DomainDeleting, backend.DomainUpdateFailed, backend.DomainDeleteFailed:
		return poll.Failed
	default:
		return poll.Pending
	}
}
