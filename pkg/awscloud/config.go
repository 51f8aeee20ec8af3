// Package awscloud adapts CloudFormation and S3 to the engine's InfraClient and
// ObjectStore collaborators.
package awscloud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// LoadConfig resolves credentials from the default chain. An empty region
// falls back to the environment and shared config.
func LoadConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile = strings.TrimSpace(profile); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("aws region is required (set region in froyo.yaml or AWS_REGION)")
	}
	return cfg, nil
}

// NewClients builds both adapters from one resolved config.
func NewClients(cfg aws.Config) (*CloudFormation, *S3) {
	return NewCloudFormation(cloudformation.NewFromConfig(cfg)),
		NewS3(s3.NewFromConfig(cfg), cfg.Region)
}

// translateError maps provider API errors onto the engine taxonomy.
func translateError(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s %s: %w", op, resource, err)
	}

	code, msg := apiErr.ErrorCode(), apiErr.ErrorMessage()
	switch {
	case code == "ValidationError" && strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%s %s: %w: %s", op, resource, engine.ErrStackNotFound, msg)
	case code == "Throttling" || code == "ThrottlingException" || code == "SlowDown" || code == "RequestLimitExceeded":
		return engine.NewThrottledError(fmt.Sprintf("%s %s", op, resource), err).
			WithResource(resource).WithOperation(op).WithCode(engine.ErrCodeRateLimited)
	case code == "AccessDenied" || code == "AccessDeniedException":
		return engine.NewPermanentError(fmt.Sprintf("%s %s", op, resource), err).
			WithResource(resource).WithOperation(op).WithCode(engine.ErrCodePermissionDenied)
	case code == "AlreadyExistsException" || code == "BucketAlreadyOwnedByYou":
		return engine.NewConflictError(fmt.Sprintf("%s %s", op, resource), err).
			WithResource(resource).WithOperation(op).WithCode(engine.ErrCodeConflict)
	case apiErr.ErrorFault() == smithy.FaultServer:
		return engine.NewTransientError(fmt.Sprintf("%s %s", op, resource), err).
			WithResource(resource).WithOperation(op).WithCode(engine.ErrCodeProviderFailed)
	default:
		return fmt.Errorf("%s %s: %w", op, resource, err)
	}
}
