package traffic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
)

const CLOUDFRONT_STATUS_DEPLOYED = "Deployed"

// CloudFrontAPI is the subset of the CloudFront client used here
type CloudFrontAPI interface {
	GetDistribution(ctx context.Context, params *cloudfront.GetDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error)
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// CloudFrontStatus reports a distribution's deployment status
type CloudFrontStatus struct {
	client CloudFrontAPI
}

// Ensure CloudFrontStatus implements StatusSource
var _ StatusSource = (*CloudFrontStatus)(nil)

// NewCloudFrontStatus creates a new distribution status source
func NewCloudFrontStatus(client CloudFrontAPI) *CloudFrontStatus {
	return &CloudFrontStatus{client: client}
}

func (c *CloudFrontStatus) Status(ctx context.Context, distributionID string) (string, error) {
	out, err := c.client.GetDistribution(ctx, &cloudfront.GetDistributionInput{Id: aws.String(distributionID)})
	if err != nil {
		return "", fmt.Errorf("failed to get distribution %s: %w", distributionID, err)
	}
	if out.Distribution == nil {
		return "", fmt.Errorf("distribution %s returned no body", distributionID)
	}
	return aws.ToString(out.Distribution.Status), nil
}

func (c *CloudFrontStatus) Settled(status string) bool {
	return status == CLOUDFRONT_STATUS_DEPLOYED
}

// Invalidate flushes the given paths from the distribution cache
func Invalidate(ctx context.Context, client CloudFrontAPI, distributionID string, paths ...string) (string, error) {
	if len(paths) == 0 {
		paths = []string{"/*"}
	}
	out, err := client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(distributionID),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(fmt.Sprintf("bluegreen-%d", time.Now().UnixNano())),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to invalidate %s on %s: %w", strings.Join(paths, ","), distributionID, err)
	}
	id := ""
	if out.Invalidation != nil {
		id = aws.ToString(out.Invalidation.Id)
	}
	logger.WithField("distribution", distributionID).WithField("invalidation", id).Info("Created invalidation")
	return id, nil
}
