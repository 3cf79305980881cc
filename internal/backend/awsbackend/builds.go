package awsbackend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"

	"github.com/seantiz/kernelforge/internal/backend"
)

// CodeBuildAPI is the part of the CodeBuild client used by Builds.
type CodeBuildAPI interface {
	StartBuild(ctx context.Context, in *codebuild.StartBuildInput, optFns ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
	BatchGetBuilds(ctx context.Context, in *codebuild.BatchGetBuildsInput, optFns ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error)
}

// Builds is a backend.BuildService on CodeBuild.
type Builds struct {
	client CodeBuildAPI
}

// NewBuilds creates a Builds over client.
func NewBuilds(client CodeBuildAPI) *Builds {
	return &Builds{client: client}
}

// StartBuild starts a build of the project. A response without a build is
// returned as a nil build so that the caller can classify the submission.
func (b *Builds) StartBuild(ctx context.Context, req backend.BuildRequest) (*backend.Build, error) {
	in := &codebuild.StartBuildInput{
		ProjectName: aws.String(req.Project),
	}
	if req.IdempotencyToken != "" {
		in.IdempotencyToken = aws.String(req.IdempotencyToken)
	}
	for _, e := range req.Env {
		in.EnvironmentVariablesOverride = append(in.EnvironmentVariablesOverride, cbtypes.EnvironmentVariable{
			Name:  aws.String(e.Name),
			Value: aws.String(e.Value),
			Type:  cbtypes.EnvironmentVariableType(e.Type),
		})
	}

	out, err := b.client.StartBuild(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("start build of %s: %w", req.Project, err)
	}
	if out.Build == nil {
		return nil, nil
	}
	return convertBuild(out.Build), nil
}

// GetBuild returns the current state of build id.
func (b *Builds) GetBuild(ctx context.Context, id string) (*backend.Build, error) {
	out, err := b.client.BatchGetBuilds(ctx, &codebuild.BatchGetBuildsInput{Ids: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("get build %s: %w", id, err)
	}
	for i := range out.Builds {
		if aws.ToString(out.Builds[i].Id) == id {
			return convertBuild(&out.Builds[i]), nil
		}
	}
	return nil, fmt.Errorf("build %s: %w", id, backend.ErrNotFound)
}

func convertBuild(b *cbtypes.Build) *backend.Build {
	return &backend.Build{
		ID:        aws.ToString(b.Id),
		ARN:       aws.ToString(b.Arn),
		Number:    aws.ToInt64(b.BuildNumber),
		Status:    string(b.BuildStatus),
		Phase:     aws.ToString(b.CurrentPhase),
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
	}
}
