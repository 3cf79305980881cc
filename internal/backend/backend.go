package backend

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned by describe calls when the named resource does not exist.
var ErrNotFound = errors.New("resource not found")

// Build status values.
const (
	BuildSucceeded  = "SUCCEEDED"
	BuildFailed     = "FAILED"
	BuildFault      = "FAULT"
	BuildStopped    = "STOPPED"
	BuildTimedOut   = "TIMED_OUT"
	BuildInProgress = "IN_PROGRESS"
)

// Image and image version status values.
const (
	ImageCreating     = "CREATING"
	ImageCreated      = "CREATED"
	ImageCreateFailed = "CREATE_FAILED"
	ImageUpdating     = "UPDATING"
	ImageUpdateFailed = "UPDATE_FAILED"
	ImageDeleting     = "DELETING"
	ImageDeleteFailed = "DELETE_FAILED"
)

// Domain status values.
const (
	DomainInService    = "InService"
	DomainPending      = "Pending"
	DomainUpdating     = "Updating"
	DomainFailed       = "Failed"
	DomainDeleting     = "Deleting"
	DomainUpdateFailed = "Update_Failed"
	DomainDeleteFailed = "Delete_Failed"
)

// EnvTypePlaintext marks a build environment override as a literal value.
const EnvTypePlaintext = "PLAINTEXT"

// BuildService starts container image builds and reports their progress.
type BuildService interface {
	// StartBuild submits a build. Submissions carrying the same idempotency
	// token are collapsed by the service into one build.
	StartBuild(ctx context.Context, req BuildRequest) (*Build, error)

	// GetBuild returns the current state of a build.
	GetBuild(ctx context.Context, id string) (*Build, error)
}

// ImageService manages platform images, their versions, app image
// configurations and the domain that exposes them.
type ImageService interface {
	DescribeImage(ctx context.Context, name string) (*Image, error)
	CreateImage(ctx context.Context, name, roleARN string) error
	UpdateImage(ctx context.Context, name, roleARN string) error

	CreateImageVersion(ctx context.Context, name, baseImage string) error
	// DescribeImageVersion returns the latest version of the named image.
	DescribeImageVersion(ctx context.Context, name string) (*ImageVersion, error)

	DescribeAppImageConfig(ctx context.Context, name string) (*AppImageConfig, error)
	CreateAppImageConfig(ctx context.Context, spec AppImageConfigSpec) (*AppImageConfig, error)
	UpdateAppImageConfig(ctx context.Context, spec AppImageConfigSpec) (*AppImageConfig, error)

	UpdateDomain(ctx context.Context, update DomainUpdate) error
	DescribeDomain(ctx context.Context, id string) (*Domain, error)
}

// RegistryLocator resolves the fully qualified URI of a built image.
type RegistryLocator interface {
	ImageURI(ctx context.Context, repository, tag string) (string, error)
}

// Services bundles the capabilities handed to a run.
type Services struct {
	Builds   BuildService
	Images   ImageService
	Registry RegistryLocator
}

// EnvVar is a build environment override.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// EnvOverrides converts a name to value map into plaintext overrides, sorted
// by name so that submissions are deterministic.
func EnvOverrides(env map[string]string) []EnvVar {
	if len(env) == 0 {
		return nil
	}
	names := make([]string, 0, len(env))
	for k := range env {
		names = append(names, k)
	}
	sort.Strings(names)

	vars := make([]EnvVar, 0, len(names))
	for _, n := range names {
		vars = append(vars, EnvVar{Name: n, Value: env[n], Type: EnvTypePlaintext})
	}
	return vars
}

// BuildRequest describes a build submission.
type BuildRequest struct {
	Project          string
	Env              []EnvVar
	IdempotencyToken string
}

// Build is the state of one build.
type Build struct {
	ID        string     `json:"id"`
	ARN       string     `json:"arn,omitempty"`
	Number    int64      `json:"num,omitempty"`
	Status    string     `json:"status"`
	Phase     string     `json:"phase,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Image is a platform-managed image.
type Image struct {
	Name          string     `json:"name"`
	ARN           string     `json:"arn,omitempty"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// ImageVersion is one version of a platform-managed image.
type ImageVersion struct {
	ImageName     string `json:"image_name"`
	ARN           string `json:"arn,omitempty"`
	Version       int32  `json:"version"`
	Status        string `json:"status"`
	BaseImage     string `json:"base_image,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// AppImageConfig is the stored form of an app image configuration.
type AppImageConfig struct {
	Name string `json:"name"`
	ARN  string `json:"arn,omitempty"`
}

// Domain is the state of a platform domain.
type Domain struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	ARN           string `json:"arn,omitempty"`
	Status        string `json:"status"`
	URL           string `json:"url,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// AppImageConfigSpec is the desired app image configuration.
type AppImageConfigSpec struct {
	Name                     string                    `json:"AppImageConfigName"`
	KernelGatewayImageConfig *KernelGatewayImageConfig `json:"KernelGatewayImageConfig,omitempty"`
}

// KernelGatewayImageConfig describes the kernels an image provides.
type KernelGatewayImageConfig struct {
	KernelSpecs      []KernelSpec      `json:"KernelSpecs"`
	FileSystemConfig *FileSystemConfig `json:"FileSystemConfig,omitempty"`
}

// KernelSpec names one kernel.
type KernelSpec struct {
	Name        string `json:"Name"`
	DisplayName string `json:"DisplayName,omitempty"`
}

// FileSystemConfig describes the user file system inside the kernel container.
type FileSystemConfig struct {
	MountPath  string `json:"MountPath,omitempty"`
	DefaultUID *int32 `json:"DefaultUid,omitempty"`
	DefaultGID *int32 `json:"DefaultGid,omitempty"`
}

// DomainUpdate is the desired default user settings of a domain.
type DomainUpdate struct {
	DomainID            string       `json:"DomainId"`
	DefaultUserSettings UserSettings `json:"DefaultUserSettings"`
}

// UserSettings are the default settings applied to domain users.
type UserSettings struct {
	ExecutionRole            string                    `json:"ExecutionRole,omitempty"`
	KernelGatewayAppSettings *KernelGatewayAppSettings `json:"KernelGatewayAppSettings,omitempty"`
}

// KernelGatewayAppSettings lists the custom images offered to users.
type KernelGatewayAppSettings struct {
	CustomImages        []CustomImage `json:"CustomImages"`
	DefaultResourceSpec *ResourceSpec `json:"DefaultResourceSpec,omitempty"`
	LifecycleConfigARNs []string      `json:"LifecycleConfigArns,omitempty"`
}

// CustomImage references an image version and the app image config to run it with.
type CustomImage struct {
	ImageName          string `json:"ImageName"`
	AppImageConfigName string `json:"AppImageConfigName"`
	ImageVersionNumber *int32 `json:"ImageVersionNumber,omitempty"`
}

// ResourceSpec selects the default instance and image for new apps.
type ResourceSpec struct {
	InstanceType             string `json:"InstanceType,omitempty"`
	SageMakerImageARN        string `json:"SageMakerImageArn,omitempty"`
	SageMakerImageVersionARN string `json:"SageMakerImageVersionArn,omitempty"`
	LifecycleConfigARN       string `json:"LifecycleConfigArn,omitempty"`
}
