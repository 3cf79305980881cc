package provision

import (
	"time"

	"github.com/seantiz/kernelforge/internal/backend"
	"github.com/seantiz/kernelforge/internal/budget"
	"github.com/seantiz/kernelforge/internal/engine"
)

// Variant names.
const (
	VariantBuild   = "build"
	VariantPublish = "publish"
)

// Options tune the time budget policy and build deduplication.
type Options struct {
	BuildFloor      time.Duration
	PublishFraction float64
	PublishCeiling  time.Duration
	DedupWindow     time.Duration
}

// DefaultOptions returns the standard policy.
func DefaultOptions() Options {
	return Options{
		BuildFloor:      budget.DefaultBuildFloor,
		PublishFraction: budget.DefaultPublishFraction,
		PublishCeiling:  budget.DefaultPublishCeiling,
		DedupWindow:     DefaultDedupWindow,
	}
}

// Register adds both variants to reg.
func Register(reg *engine.Registry, services backend.Services, opts Options) {
	reg.Register(VariantBuild, NewBuildPlanner(services, opts))
	reg.Register(VariantPublish, NewPublishPlanner(services, opts))
}

// BuildPlanner plans the build-only variant: one stage that starts an
// image build and waits for it.
type BuildPlanner struct {
	services backend.Services
	opts     Options
}

// NewBuildPlanner returns a BuildPlanner.
func NewBuildPlanner(services backend.Services, opts Options) *BuildPlanner {
	return &BuildPlanner{services: services, opts: opts}
}

// Plan implements engine.Planner.
func (p *BuildPlanner) Plan(bundle []byte) (engine.Plan, error) {
	req, err := ParseRequest(bundle)
	if err != nil {
		return engine.Plan{}, err
	}
	if err := req.ValidateBuild(); err != nil {
		return engine.Plan{}, err
	}

	r := &run{services: p.services, opts: p.opts, req: req}
	return engine.Plan{
		Variant: VariantBuild,
		Policy:  budget.Policy{budget.BuildAllocation(req.BuildFraction(), p.opts.BuildFloor)},
		Stages: []engine.Stage{
			{Name: StageBuild, Group: budget.GroupBuild, Run: r.build},
		},
	}, nil
}

// Describe implements engine.Planner.
func (p *BuildPlanner) Describe() engine.VariantInfo {
	return engine.VariantInfo{
		Description: "Build the container image and wait for the build to finish.",
		Stages:      []string{StageBuild},
		Groups:      []string{budget.GroupBuild},
	}
}

// PublishPlanner plans the full variant: build the image, then register it
// as a kernel image and attach the new version to the domain.
type PublishPlanner struct {
	services backend.Services
	opts     Options
}

// NewPublishPlanner returns a PublishPlanner.
func NewPublishPlanner(services backend.Services, opts Options) *PublishPlanner {
	return &PublishPlanner{services: services, opts: opts}
}

// Plan implements engine.Planner.
func (p *PublishPlanner) Plan(bundle []byte) (engine.Plan, error) {
	req, err := ParseRequest(bundle)
	if err != nil {
		return engine.Plan{}, err
	}
	if err := req.ValidatePublish(); err != nil {
		return engine.Plan{}, err
	}

	r := &run{services: p.services, opts: p.opts, req: req}
	return engine.Plan{
		Variant: VariantPublish,
		Policy: budget.Policy{
			budget.BuildAllocation(req.BuildFraction(), p.opts.BuildFloor),
			budget.PublishAllocation(p.opts.PublishFraction, p.opts.PublishCeiling),
		},
		Stages: []engine.Stage{
			{Name: StageBuild, Group: budget.GroupBuild, Run: r.build},
			{Name: StageCreateImage, Group: budget.GroupPublish, Run: r.createImage},
			{Name: StageCreateImageVersion, Group: budget.GroupPublish, Run: r.createImageVersion},
			{Name: StageAppImageConfig, Group: budget.GroupPublish, Run: r.configureAppImage},
			{Name: StageUpdateDomain, Group: budget.GroupPublish, Run: r.updateDomain},
		},
	}, nil
}

// Describe implements engine.Planner.
func (p *PublishPlanner) Describe() engine.VariantInfo {
	return engine.VariantInfo{
		Description: "Build the container image, register it as a kernel image version and attach it to the domain.",
		Stages: []string{
			StageBuild, StageCreateImage, StageCreateImageVersion, StageAppImageConfig, StageUpdateDomain,
		},
		Groups: []string{budget.GroupBuild, budget.GroupPublish},
	}
}
