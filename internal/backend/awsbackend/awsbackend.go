// Package awsbackend implements the backend services on CodeBuild,
// SageMaker and STS.
package awsbackend

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/seantiz/kernelforge/internal/backend"
)

// Load builds the services from the default credential chain and region.
func Load(ctx context.Context) (backend.Services, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return backend.Services{}, fmt.Errorf("load aws config: %w", err)
	}
	return New(cfg), nil
}

// New builds the services from cfg.
func New(cfg aws.Config) backend.Services {
	return backend.Services{
		Builds:   NewBuilds(codebuild.NewFromConfig(cfg)),
		Images:   NewImages(sagemaker.NewFromConfig(cfg)),
		Registry: NewRegistry(sts.NewFromConfig(cfg), cfg.Region),
	}
}

// notFound maps SageMaker's missing-resource error to backend.ErrNotFound.
func notFound(err error, what, name string) error {
	var rnf *smtypes.ResourceNotFound
	if errors.As(err, &rnf) {
		return fmt.Errorf("%s %s: %w", what, name, backend.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, name, err)
}
