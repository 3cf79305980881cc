// Package provision implements the kernel image workflows: building a
// container image and registering it as a notebook kernel on the ML platform.
package provision

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/seantiz/kernelforge/internal/backend"
	"github.com/seantiz/kernelforge/internal/fault"
)

// DefaultBuildFraction is the share of the available time given to the
// build when the bundle does not set build_time_budget.
const DefaultBuildFraction = 1.0

// Request is the configuration bundle of a run.
type Request struct {
	Project         string                      `json:"cb_project"`
	EnvOverrides    map[string]string           `json:"env_overrides,omitempty"`
	Repository      string                      `json:"ecr_repo_name,omitempty"`
	ImageName       string                      `json:"image_name,omitempty"`
	RoleARN         string                      `json:"image_permissions,omitempty"`
	BuildTimeBudget *float64                    `json:"build_time_budget,omitempty"`
	AppImageConfig  *backend.AppImageConfigSpec `json:"app_image_config,omitempty"`
	DomainUpdate    *backend.DomainUpdate       `json:"update_domain_input,omitempty"`
}

// ParseRequest decodes a bundle. Malformed JSON is a configuration error.
func ParseRequest(data []byte) (*Request, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fault.Configf("empty configuration bundle")
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fault.Configf("decode configuration bundle: %v", err)
	}
	return &r, nil
}

// BuildFraction returns the build share of the available time.
func (r *Request) BuildFraction() float64 {
	if r.BuildTimeBudget == nil {
		return DefaultBuildFraction
	}
	return *r.BuildTimeBudget
}

// ValidateBuild checks the fields needed to start a build.
func (r *Request) ValidateBuild() error {
	if r.Project == "" {
		return fault.Configf("cb_project is required")
	}
	return nil
}

// ValidatePublish checks the fields needed by the full build and
// registration workflow, including that the domain update names the image
// being versioned.
func (r *Request) ValidatePublish() error {
	if err := r.ValidateBuild(); err != nil {
		return err
	}
	switch {
	case r.Repository == "":
		return fault.Configf("ecr_repo_name is required")
	case r.ImageName == "":
		return fault.Configf("image_name is required")
	case r.RoleARN == "":
		return fault.Configf("image_permissions is required")
	case r.AppImageConfig == nil || r.AppImageConfig.Name == "":
		return fault.Configf("app_image_config.AppImageConfigName is required")
	case r.DomainUpdate == nil || r.DomainUpdate.DomainID == "":
		return fault.Configf("update_domain_input.DomainId is required")
	}

	settings := r.DomainUpdate.DefaultUserSettings.KernelGatewayAppSettings
	if settings == nil || matchCount(settings.CustomImages, r.ImageName, r.AppImageConfig.Name) == 0 {
		return fmt.Errorf("update_domain_input lists no custom image %q with app image config %q: %w",
			r.ImageName, r.AppImageConfig.Name, fault.ErrMatchNotFound)
	}
	return nil
}

// StampVersion sets the version number of every custom image entry whose
// image name and app image config name both match. It fails with
// fault.ErrMatchNotFound when no entry matches.
func StampVersion(update *backend.DomainUpdate, imageName, configName string, version int32) error {
	settings := update.DefaultUserSettings.KernelGatewayAppSettings
	if settings == nil {
		return fmt.Errorf("domain %s has no kernel gateway settings: %w", update.DomainID, fault.ErrMatchNotFound)
	}
	n := 0
	for i := range settings.CustomImages {
		ci := &settings.CustomImages[i]
		if ci.ImageName == imageName && ci.AppImageConfigName == configName {
			v := version
			ci.ImageVersionNumber = &v
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("no custom image %q with app image config %q: %w", imageName, configName, fault.ErrMatchNotFound)
	}
	return nil
}

func matchCount(images []backend.CustomImage, imageName, configName string) int {
	n := 0
	for _, ci := range images {
		if ci.ImageName == imageName && ci.AppImageConfigName == configName {
			n++
		}
	}
	return n
}

// cloneDomainUpdate deep-copies the parts of u that StampVersion modifies.
func cloneDomainUpdate(u *backend.DomainUpdate) *backend.DomainUpdate {
	c := *u
	if s := u.DefaultUserSettings.KernelGatewayAppSettings; s != nil {
		cs := *s
		cs.CustomImages = append([]backend.CustomImage(nil), s.CustomImages...)
		c.DefaultUserSettings.KernelGatewayAppSettings = &cs
	}
	return &c
}
