package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/registry"
)

// LambdaAPI is the subset of the Lambda client used here
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// DistributionResolver finds the CDN distribution of a group
type DistributionResolver func(ctx context.Context, group string) (string, error)

// StaticDistributions resolves distribution ids from a fixed map
func StaticDistributions(ids map[string]string) DistributionResolver {
	return func(ctx context.Context, group string) (string, error) {
		id, ok := ids[group]
		if !ok || id == "" {
			return "", fmt.Errorf("no distribution id configured for group %s", group)
		}
		return id, nil
	}
}

// switchPayload is the event the switch function expects
type switchPayload struct {
	Environment       string `json:"environment"`
	TargetEnvironment string `json:"targetEnvironment"`
}

// LambdaGateway invokes a per-group switch function and polls CloudFront
type LambdaGateway struct {
	propagation
	client        LambdaAPI
	registry      registry.Registry
	app           string
	distributions DistributionResolver
}

// Ensure LambdaGateway implements Gateway
var _ Gateway = (*LambdaGateway)(nil)

// NewLambdaGateway creates a new function-invoking gateway
func NewLambdaGateway(client LambdaAPI, cdn CloudFrontAPI, reg registry.Registry, app string, distributions DistributionResolver) *LambdaGateway {
	return &LambdaGateway{
		propagation:   propagation{source: NewCloudFrontStatus(cdn)},
		client:        client,
		registry:      reg,
		app:           app,
		distributions: distributions,
	}
}

// FunctionName is the switch function of a group
func (g *LambdaGateway) FunctionName(group string) string {
	return fmt.Sprintf("%s-%s-switch-environment", group, g.app)
}

func (g *LambdaGateway) SwitchTo(ctx context.Context, group string, color models.Color) error {
	payload, err := json.Marshal(switchPayload{Environment: group, TargetEnvironment: string(color)})
	if err != nil {
		return fmt.Errorf("failed to encode switch payload: %w", err)
	}
	name := g.FunctionName(group)
	logger.WithField("function", name).WithField("color", color).Info("Invoking switch function")

	out, err := g.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(name),
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke %s: %w", name, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("switch function %s failed (%s): %s", name, aws.ToString(out.FunctionError), string(out.Payload))
	}
	return recordActive(ctx, g.registry, group, color)
}

func (g *LambdaGateway) PropagationTarget(ctx context.Context, group string) (string, error) {
	return g.distributions(ctx, group)
}

func (g *LambdaGateway) WaitUntilPropagated(ctx context.Context, distributionID string, maxAttempts int, interval time.Duration) error {
	return g.wait(ctx, distributionID, maxAttempts, interval)
}
