package traffic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/registry"
)

// Route53API is the subset of the Route53 client used here
type Route53API interface {
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	GetChange(ctx context.Context, params *route53.GetChangeInput, optFns ...func(*route53.Options)) (*route53.GetChangeOutput, error)
}

// Route53Status reports whether a record change reached every name server
type Route53Status struct {
	client Route53API
}

// Ensure Route53Status implements StatusSource
var _ StatusSource = (*Route53Status)(nil)

func (r *Route53Status) Status(ctx context.Context, changeID string) (string, error) {
	out, err := r.client.GetChange(ctx, &route53.GetChangeInput{Id: aws.String(changeID)})
	if err != nil {
		return "", fmt.Errorf("failed to get change %s: %w", changeID, err)
	}
	if out.ChangeInfo == nil {
		return "", fmt.Errorf("change %s returned no info", changeID)
	}
	return string(out.ChangeInfo.Status), nil
}

func (r *Route53Status) Settled(status string) bool {
	return status == string(r53types.ChangeStatusInsync)
}

// Route53Gateway switches traffic by pointing a CNAME at the color's endpoint
type Route53Gateway struct {
	propagation
	client       Route53API
	registry     registry.Registry
	layout       registry.Layout
	hostedZoneID string
	ttl          int64

	mu          sync.Mutex
	lastChanges map[string]string
}

// Ensure Route53Gateway implements Gateway
var _ Gateway = (*Route53Gateway)(nil)

// NewRoute53Gateway creates a new DNS gateway
func NewRoute53Gateway(client Route53API, reg registry.Registry, layout registry.Layout, hostedZoneID string) *Route53Gateway {
	return &Route53Gateway{
		propagation:  propagation{source: &Route53Status{client: client}},
		client:       client,
		registry:     reg,
		layout:       layout,
		hostedZoneID: hostedZoneID,
		ttl:          60,
		lastChanges:  map[string]string{},
	}
}

// RecordName is the public host name of the group
func (g *Route53Gateway) RecordName(group string) string {
	return strings.TrimPrefix(g.layout.PublicURL(group), "https://")
}

func (g *Route53Gateway) SwitchTo(ctx context.Context, group string, color models.Color) error {
	target := strings.TrimPrefix(g.layout.IdleURL(group, color), "http://")
	name := g.RecordName(group)
	logger.WithField("record", name).WithField("target", target).Info("Upserting traffic record")

	out, err := g.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(g.hostedZoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Comment: aws.String(fmt.Sprintf("bluegreen: %s -> %s", group, color)),
			Changes: []r53types.Change{{
				Action: r53types.ChangeActionUpsert,
				ResourceRecordSet: &r53types.ResourceRecordSet{
					Name:            aws.String(name),
					Type:            r53types.RRTypeCname,
					TTL:             aws.Int64(g.ttl),
					ResourceRecords: []r53types.ResourceRecord{{Value: aws.String(target)}},
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", name, err)
	}
	if out.ChangeInfo != nil {
		g.mu.Lock()
		g.lastChanges[group] = aws.ToString(out.ChangeInfo.Id)
		g.mu.Unlock()
	}
	return recordActive(ctx, g.registry, group, color)
}

// PropagationTarget returns the id of the last change submitted for the group
func (g *Route53Gateway) PropagationTarget(ctx context.Context, group string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.lastChanges[group]
	if !ok {
		return "", fmt.Errorf("no record change submitted for group %s", group)
	}
	return id, nil
}

func (g *Route53Gateway) WaitUntilPropagated(ctx context.Context, changeID string, maxAttempts int, interval time.Duration) error {
	return g.wait(ctx, changeID, maxAttempts, interval)
}
