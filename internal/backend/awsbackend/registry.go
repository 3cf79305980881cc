package awsbackend

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSAPI is the part of the STS client used by Registry.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Registry locates images in the caller's ECR registry.
type Registry struct {
	client STSAPI
	region string

	mu      sync.Mutex
	account string
}

// NewRegistry creates a Registry for region.
func NewRegistry(client STSAPI, region string) *Registry {
	return &Registry{client: client, region: region}
}

// ImageURI returns <account>.dkr.ecr.<region>.amazonaws.com/<repository>:<tag>.
// The account is looked up once.
func (r *Registry) ImageURI(ctx context.Context, repository, tag string) (string, error) {
	if r.region == "" {
		return "", fmt.Errorf("resolve image uri: no region configured")
	}
	account, err := r.accountID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s:%s", account, r.region, repository, tag), nil
}

func (r *Registry) accountID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account != "" {
		return r.account, nil
	}
	out, err := r.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	if aws.ToString(out.Account) == "" {
		return "", fmt.Errorf("get caller identity: empty account")
	}
	r.account = aws.ToString(out.Account)
	return r.account, nil
}
