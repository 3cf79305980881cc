package awsbackend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"github.com/seantiz/kernelforge/internal/backend"
)

// SageMakerAPI is the part of the SageMaker client used by Images.
type SageMakerAPI interface {
	DescribeImage(ctx context.Context, in *sagemaker.DescribeImageInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeImageOutput, error)
	CreateImage(ctx context.Context, in *sagemaker.CreateImageInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateImageOutput, error)
	UpdateImage(ctx context.Context, in *sagemaker.UpdateImageInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdateImageOutput, error)
	CreateImageVersion(ctx context.Context, in *sagemaker.CreateImageVersionInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateImageVersionOutput, error)
	DescribeImageVersion(ctx context.Context, in *sagemaker.DescribeImageVersionInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeImageVersionOutput, error)
	DescribeAppImageConfig(ctx context.Context, in *sagemaker.DescribeAppImageConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeAppImageConfigOutput, error)
	CreateAppImageConfig(ctx context.Context, in *sagemaker.CreateAppImageConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateAppImageConfigOutput, error)
	UpdateAppImageConfig(ctx context.Context, in *sagemaker.UpdateAppImageConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdateAppImageConfigOutput, error)
	UpdateDomain(ctx context.Context, in *sagemaker.UpdateDomainInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdateDomainOutput, error)
	DescribeDomain(ctx context.Context, in *sagemaker.DescribeDomainInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeDomainOutput, error)
}

// Images is a backend.ImageService on SageMaker.
type Images struct {
	client SageMakerAPI
}

// NewImages creates an Images over client.
func NewImages(client SageMakerAPI) *Images {
	return &Images{client: client}
}

// DescribeImage returns the named image.
func (m *Images) DescribeImage(ctx context.Context, name string) (*backend.Image, error) {
	out, err := m.client.DescribeImage(ctx, &sagemaker.DescribeImageInput{ImageName: aws.String(name)})
	if err != nil {
		return nil, notFound(err, "describe image", name)
	}
	return &backend.Image{
		Name:          aws.ToString(out.ImageName),
		ARN:           aws.ToString(out.ImageArn),
		Status:        string(out.ImageStatus),
		FailureReason: aws.ToString(out.FailureReason),
		CreatedAt:     out.CreationTime,
	}, nil
}

// CreateImage registers a new image run under roleARN.
func (m *Images) CreateImage(ctx context.Context, name, roleARN string) error {
	_, err := m.client.CreateImage(ctx, &sagemaker.CreateImageInput{
		ImageName: aws.String(name),
		RoleArn:   aws.String(roleARN),
	})
	if err != nil {
		return fmt.Errorf("create image %s: %w", name, err)
	}
	return nil
}

// UpdateImage points an existing image at roleARN.
func (m *Images) UpdateImage(ctx context.Context, name, roleARN string) error {
	_, err := m.client.UpdateImage(ctx, &sagemaker.UpdateImageInput{
		ImageName: aws.String(name),
		RoleArn:   aws.String(roleARN),
	})
	if err != nil {
		return fmt.Errorf("update image %s: %w", name, err)
	}
	return nil
}

// CreateImageVersion adds a version of name built from baseImage. The SDK
// fills in the client token.
func (m *Images) CreateImageVersion(ctx context.Context, name, baseImage string) error {
	_, err := m.client.CreateImageVersion(ctx, &sagemaker.CreateImageVersionInput{
		ImageName: aws.String(name),
		BaseImage: aws.String(baseImage),
	})
	if err != nil {
		return fmt.Errorf("create image version of %s: %w", name, err)
	}
	return nil
}

// DescribeImageVersion returns the latest version of name.
func (m *Images) DescribeImageVersion(ctx context.Context, name string) (*backend.ImageVersion, error) {
	out, err := m.client.DescribeImageVersion(ctx, &sagemaker.DescribeImageVersionInput{ImageName: aws.String(name)})
	if err != nil {
		return nil, notFound(err, "describe image version of", name)
	}
	return &backend.ImageVersion{
		ImageName:     name,
		ARN:           aws.ToString(out.ImageVersionArn),
		Version:       aws.ToInt32(out.Version),
		Status:        string(out.ImageVersionStatus),
		BaseImage:     aws.ToString(out.BaseImage),
		FailureReason: aws.ToString(out.FailureReason),
	}, nil
}

// DescribeAppImageConfig returns the named app image config.
func (m *Images) DescribeAppImageConfig(ctx context.Context, name string) (*backend.AppImageConfig, error) {
	out, err := m.client.DescribeAppImageConfig(ctx, &sagemaker.DescribeAppImageConfigInput{AppImageConfigName: aws.String(name)})
	if err != nil {
		return nil, notFound(err, "describe app image config", name)
	}
	return &backend.AppImageConfig{
		Name: aws.ToString(out.AppImageConfigName),
		ARN:  aws.ToString(out.AppImageConfigArn),
	}, nil
}

// CreateAppImageConfig creates the app image config described by spec.
func (m *Images) CreateAppImageConfig(ctx context.Context, spec backend.AppImageConfigSpec) (*backend.AppImageConfig, error) {
	out, err := m.client.CreateAppImageConfig(ctx, &sagemaker.CreateAppImageConfigInput{
		AppImageConfigName:       aws.String(spec.Name),
		KernelGatewayImageConfig: kernelGatewayImageConfig(spec.KernelGatewayImageConfig),
	})
	if err != nil {
		return nil, fmt.Errorf("create app image config %s: %w", spec.Name, err)
	}
	return &backend.AppImageConfig{Name: spec.Name, ARN: aws.ToString(out.AppImageConfigArn)}, nil
}

// UpdateAppImageConfig replaces the kernel settings of an existing config.
func (m *Images) UpdateAppImageConfig(ctx context.Context, spec backend.AppImageConfigSpec) (*backend.AppImageConfig, error) {
	out, err := m.client.UpdateAppImageConfig(ctx, &sagemaker.UpdateAppImageConfigInput{
		AppImageConfigName:       aws.String(spec.Name),
		KernelGatewayImageConfig: kernelGatewayImageConfig(spec.KernelGatewayImageConfig),
	})
	if err != nil {
		return nil, fmt.Errorf("update app image config %s: %w", spec.Name, err)
	}
	return &backend.AppImageConfig{Name: spec.Name, ARN: aws.ToString(out.AppImageConfigArn)}, nil
}

// UpdateDomain applies the default user settings in update.
func (m *Images) UpdateDomain(ctx context.Context, update backend.DomainUpdate) error {
	_, err := m.client.UpdateDomain(ctx, &sagemaker.UpdateDomainInput{
		DomainId:            aws.String(update.DomainID),
		DefaultUserSettings: userSettings(update.DefaultUserSettings),
	})
	if err != nil {
		return fmt.Errorf("update domain %s: %w", update.DomainID, err)
	}
	return nil
}

// DescribeDomain returns the state of domain id.
func (m *Images) DescribeDomain(ctx context.Context, id string) (*backend.Domain, error) {
	out, err := m.client.DescribeDomain(ctx, &sagemaker.DescribeDomainInput{DomainId: aws.String(id)})
	if err != nil {
		return nil, notFound(err, "describe domain", id)
	}
	return &backend.Domain{
		ID:            aws.ToString(out.DomainId),
		Name:          aws.ToString(out.DomainName),
		ARN:           aws.ToString(out.DomainArn),
		Status:        string(out.Status),
		URL:           aws.ToString(out.Url),
		FailureReason: aws.ToString(out.FailureReason),
	}, nil
}

func kernelGatewayImageConfig(c *backend.KernelGatewayImageConfig) *smtypes.KernelGatewayImageConfig {
	if c == nil {
		return nil
	}
	out := &smtypes.KernelGatewayImageConfig{}
	for _, k := range c.KernelSpecs {
		spec := smtypes.KernelSpec{Name: aws.String(k.Name)}
		if k.DisplayName != "" {
			spec.DisplayName = aws.String(k.DisplayName)
		}
		out.KernelSpecs = append(out.KernelSpecs, spec)
	}
	if fs := c.FileSystemConfig; fs != nil {
		out.FileSystemConfig = &smtypes.FileSystemConfig{
			DefaultUid: fs.DefaultUID,
			DefaultGid: fs.DefaultGID,
		}
		if fs.MountPath != "" {
			out.FileSystemConfig.MountPath = aws.String(fs.MountPath)
		}
	}
	return out
}

func userSettings(s backend.UserSettings) *smtypes.UserSettings {
	out := &smtypes.UserSettings{}
	if s.ExecutionRole != "" {
		out.ExecutionRole = aws.String(s.ExecutionRole)
	}
	kg := s.KernelGatewayAppSettings
	if kg == nil {
		return out
	}

	settings := &smtypes.KernelGatewayAppSettings{
		LifecycleConfigArns: kg.LifecycleConfigARNs,
	}
	for _, ci := range kg.CustomImages {
		settings.CustomImages = append(settings.CustomImages, smtypes.CustomImage{
			ImageName:          aws.String(ci.ImageName),
			AppImageConfigName: aws.String(ci.AppImageConfigName),
			ImageVersionNumber: ci.ImageVersionNumber,
		})
	}
	if rs := kg.DefaultResourceSpec; rs != nil {
		settings.DefaultResourceSpec = &smtypes.ResourceSpec{
			InstanceType:             smtypes.AppInstanceType(rs.InstanceType),
			SageMakerImageArn:        optional(rs.SageMakerImageARN),
			SageMakerImageVersionArn: optional(rs.SageMakerImageVersionARN),
			LifecycleConfigArn:       optional(rs.LifecycleConfigARN),
		}
	}
	out.KernelGatewayAppSettings = settings
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
