// Package fake provides scripted in-memory implementations of the backend
// services. Each describe call walks through a configured status sequence,
// repeating the last entry once the sequence is exhausted. Every call is
// logged so tests can assert on exactly which remote operations ran.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/seantiz/kernelforge/internal/backend"
)

// Compile-time interface satisfaction checks.
var (
	_ backend.BuildService    = (*Builds)(nil)
	_ backend.ImageService    = (*Images)(nil)
	_ backend.RegistryLocator = (*Registry)(nil)
)

// ErrInjected is a generic failure tests can hand to Fail.
var ErrInjected = errors.New("injected failure")

// sequence yields scripted statuses.
type sequence struct {
	statuses []string
	next     int
}

func (s *sequence) pop(fallback string) string {
	if len(s.statuses) == 0 {
		return fallback
	}
	i := s.next
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	} else {
		s.next++
	}
	return s.statuses[i]
}

// recorder logs calls and holds injected failures.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
}

func (r *recorder) record(method string) error {
	r.calls = append(r.calls, method)
	return r.failures[method]
}

// Fail makes every later call to method return err.
func (r *recorder) Fail(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = make(map[string]error)
	}
	r.failures[method] = err
}

// Calls returns the methods invoked so far, in order.
func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Count returns how many times method was invoked.
func (r *recorder) Count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Builds is a scripted BuildService. Submissions with a token seen before
// return the earlier build.
type Builds struct {
	recorder

	// Statuses are returned by successive GetBuild calls.
	Statuses []string

	// NoHandle makes StartBuild return neither a build nor an error.
	NoHandle bool

	// Requests holds every StartBuild request received.
	Requests []backend.BuildRequest

	seq     *sequence
	byToken map[string]string
	builds  map[string]*backend.Build
}

// NewBuilds returns a Builds that reports statuses in order.
func NewBuilds(statuses ...string) *Builds {
	return &Builds{Statuses: statuses}
}

func (b *Builds) init() {
	if b.seq == nil {
		b.seq = &sequence{statuses: b.Statuses}
		b.byToken = make(map[string]string)
		b.builds = make(map[string]*backend.Build)
	}
}

// StartBuild registers a build, or returns the existing one for a repeated token.
func (b *Builds) StartBuild(_ context.Context, req backend.BuildRequest) (*backend.Build, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	if err := b.record("StartBuild"); err != nil {
		return nil, err
	}
	b.Requests = append(b.Requests, req)
	if b.NoHandle {
		return nil, nil
	}

	if id, ok := b.byToken[req.IdempotencyToken]; ok && req.IdempotencyToken != "" {
		cp := *b.builds[id]
		return &cp, nil
	}

	id := fmt.Sprintf("b%d", len(b.builds)+1)
	build := &backend.Build{
		ID:     id,
		ARN:    "arn:aws:codebuild:local:000000000000:build/" + req.Project + ":" + id,
		Number: int64(len(b.builds) + 1),
		Status: backend.BuildInProgress,
	}
	b.builds[id] = build
	b.byToken[req.IdempotencyToken] = id

	cp := *build
	return &cp, nil
}

// GetBuild returns the build with the next scripted status.
func (b *Builds) GetBuild(_ context.Context, id string) (*backend.Build, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	if err := b.record("GetBuild"); err != nil {
		return nil, err
	}
	build, ok := b.builds[id]
	if !ok {
		return nil, fmt.Errorf("build %s: %w", id, backend.ErrNotFound)
	}
	build.Status = b.seq.pop(backend.BuildSucceeded)
	cp := *build
	return &cp, nil
}

// Images is a scripted ImageService.
type Images struct {
	recorder

	// Existing images and app image configs are found by the upsert probe.
	ExistingImages     map[string]bool
	ExistingAppConfigs map[string]bool

	ImageStatuses   []string
	VersionStatuses []string
	DomainStatuses  []string

	// Versions seeds the latest version of an image, reported as created.
	// Each CreateImageVersion adds one to it.
	Versions map[string]int32

	// VersionLag is the number of DescribeImageVersion calls after a
	// submission that still report the previous version.
	VersionLag int

	// DomainUpdates holds every UpdateDomain request received.
	DomainUpdates []backend.DomainUpdate

	imageSeq, versionSeq, domainSeq *sequence
	mutated                         map[string]bool
	baseImages                      map[string]string
	lag                             map[string]int
}

func (m *Images) init() {
	if m.imageSeq != nil {
		return
	}
	m.imageSeq = &sequence{statuses: m.ImageStatuses}
	m.versionSeq = &sequence{statuses: m.VersionStatuses}
	m.domainSeq = &sequence{statuses: m.DomainStatuses}
	m.mutated = make(map[string]bool)
	m.baseImages = make(map[string]string)
	m.lag = make(map[string]int)
	if m.Versions == nil {
		m.Versions = make(map[string]int32)
	}
	if m.ExistingImages == nil {
		m.ExistingImages = make(map[string]bool)
	}
	if m.ExistingAppConfigs == nil {
		m.ExistingAppConfigs = make(map[string]bool)
	}
}

// DescribeImage reports ErrNotFound for unknown images. Once the image has
// been created or updated it walks through ImageStatuses.
func (m *Images) DescribeImage(_ context.Context, name string) (*backend.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("DescribeImage"); err != nil {
		return nil, err
	}
	if !m.ExistingImages[name] {
		return nil, fmt.Errorf("image %s: %w", name, backend.ErrNotFound)
	}
	status := backend.ImageCreated
	if m.mutated["image/"+name] {
		status = m.imageSeq.pop(backend.ImageCreated)
	}
	return &backend.Image{
		Name:   name,
		ARN:    "arn:aws:sagemaker:local:000000000000:image/" + name,
		Status: status,
	}, nil
}

// CreateImage registers name.
func (m *Images) CreateImage(_ context.Context, name, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("CreateImage"); err != nil {
		return err
	}
	m.ExistingImages[name] = true
	m.mutated["image/"+name] = true
	return nil
}

// UpdateImage fails for unknown images.
func (m *Images) UpdateImage(_ context.Context, name, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("UpdateImage"); err != nil {
		return err
	}
	if !m.ExistingImages[name] {
		return fmt.Errorf("image %s: %w", name, backend.ErrNotFound)
	}
	m.mutated["image/"+name] = true
	return nil
}

// CreateImageVersion adds a version of name built from baseImage. The new
// version walks through VersionStatuses from the start.
func (m *Images) CreateImageVersion(_ context.Context, name, baseImage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("CreateImageVersion"); err != nil {
		return err
	}
	m.Versions[name]++
	m.baseImages[name] = baseImage
	m.lag[name] = m.VersionLag
	m.versionSeq = &sequence{statuses: m.VersionStatuses}
	return nil
}

// DescribeImageVersion reports the latest version of name, or ErrNotFound
// when it has none.
func (m *Images) DescribeImageVersion(_ context.Context, name string) (*backend.ImageVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("DescribeImageVersion"); err != nil {
		return nil, err
	}
	version := m.Versions[name]
	if version == 0 {
		return nil, fmt.Errorf("image version %s: %w", name, backend.ErrNotFound)
	}
	status := backend.ImageCreated
	if _, submitted := m.baseImages[name]; submitted {
		if m.lag[name] > 0 && version > 1 {
			m.lag[name]--
			version--
		} else {
			status = m.versionSeq.pop(backend.ImageCreated)
		}
	}
	return &backend.ImageVersion{
		ImageName: name,
		ARN:       fmt.Sprintf("arn:aws:sagemaker:local:000000000000:image-version/%s/%d", name, version),
		Version:   version,
		Status:    status,
		BaseImage: m.baseImages[name],
	}, nil
}

// DescribeAppImageConfig reports ErrNotFound for unknown configs.
func (m *Images) DescribeAppImageConfig(_ context.Context, name string) (*backend.AppImageConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("DescribeAppImageConfig"); err != nil {
		return nil, err
	}
	if !m.ExistingAppConfigs[name] {
		return nil, fmt.Errorf("app image config %s: %w", name, backend.ErrNotFound)
	}
	return appConfig(name), nil
}

// CreateAppImageConfig registers the config.
func (m *Images) CreateAppImageConfig(_ context.Context, spec backend.AppImageConfigSpec) (*backend.AppImageConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("CreateAppImageConfig"); err != nil {
		return nil, err
	}
	if m.ExistingAppConfigs[spec.Name] {
		return nil, fmt.Errorf("app image config %s already exists", spec.Name)
	}
	m.ExistingAppConfigs[spec.Name] = true
	return appConfig(spec.Name), nil
}

// UpdateAppImageConfig fails for unknown configs.
func (m *Images) UpdateAppImageConfig(_ context.Context, spec backend.AppImageConfigSpec) (*backend.AppImageConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("UpdateAppImageConfig"); err != nil {
		return nil, err
	}
	if !m.ExistingAppConfigs[spec.Name] {
		return nil, fmt.Errorf("app image config %s: %w", spec.Name, backend.ErrNotFound)
	}
	return appConfig(spec.Name), nil
}

// UpdateDomain records the update.
func (m *Images) UpdateDomain(_ context.Context, update backend.DomainUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("UpdateDomain"); err != nil {
		return err
	}
	m.DomainUpdates = append(m.DomainUpdates, update)
	return nil
}

// DescribeDomain walks through DomainStatuses.
func (m *Images) DescribeDomain(_ context.Context, id string) (*backend.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.record("DescribeDomain"); err != nil {
		return nil, err
	}
	return &backend.Domain{
		ID:     id,
		ARN:    "arn:aws:sagemaker:local:000000000000:domain/" + id,
		Status: m.domainSeq.pop(backend.DomainInService),
	}, nil
}

func appConfig(name string) *backend.AppImageConfig {
	return &backend.AppImageConfig{
		Name: name,
		ARN:  "arn:aws:sagemaker:local:000000000000:app-image-config/" + name,
	}
}

// Registry resolves image URIs for a fixed account and region.
type Registry struct {
	recorder
	Account string
	Region  string
}

// ImageURI returns the registry URI of repository:tag.
func (r *Registry) ImageURI(_ context.Context, repository, tag string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("ImageURI"); err != nil {
		return "", err
	}
	account, region := r.Account, r.Region
	if account == "" {
		account = "000000000000"
	}
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s:%s", account, region, repository, tag), nil
}

// Services bundles the three fakes.
type Services struct {
	Builds   *Builds
	Images   *Images
	Registry *Registry
}

// NewServices returns fresh fakes with empty scripts.
func NewServices() *Services {
	return &Services{
		Builds:   &Builds{},
		Images:   &Images{},
		Registry: &Registry{},
	}
}

// Backend returns the fakes as a backend.Services bundle.
func (s *Services) Backend() backend.Services {
	return backend.Services{Builds: s.Builds, Images: s.Images, Registry: s.Registry}
}

// TotalCalls returns the number of remote calls made across all fakes.
func (s *Services) TotalCalls() int {
	return len(s.Builds.Calls()) + len(s.Images.Calls()) + len(s.Registry.Calls())
}
