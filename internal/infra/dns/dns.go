package dns

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	rTypes "github.com/aws/aws-sdk-go-v2/service/route53/types"
)

const recordTTL = 300

type DNSProvisioner struct {
	client   *route53.Client
	cfClient *cloudfront.Client
}

func NewDNSProvisioner(awsConfig aws.Config) *DNSProvisioner {
	return &DNSProvisioner{
		client:   route53.NewFromConfig(awsConfig),
		cfClient: cloudfront.NewFromConfig(awsConfig),
	}
}

// UpsertCNAME points name at target in the hosted zone. Repeating it is harmless.
func (d *DNSProvisioner) UpsertCNAME(ctx context.Context, hostedZoneID, name, target string) error {
	input := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(strings.TrimPrefix(hostedZoneID, "/hostedzone/")),
		ChangeBatch: &rTypes.ChangeBatch{
			Comment: aws.String("church site " + name),
			Changes: []rTypes.Change{
				{
					Action: rTypes.ChangeActionUpsert,
					ResourceRecordSet: &rTypes.ResourceRecordSet{
						Name:            aws.String(name),
						Type:            rTypes.RRTypeCname,
						TTL:             aws.Int64(recordTTL),
						ResourceRecords: []rTypes.ResourceRecord{{Value: aws.String(target)}},
					},
				},
			},
		},
	}

	resp, err := d.client.ChangeResourceRecordSets(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upsert cname record: %w", err)
	}

	slog.Info("record change submitted", "name", name, "changeID", aws.ToString(resp.ChangeInfo.Id))
	return nil
}

// InvalidatePaths drops cached copies of paths from the distribution.
func (d *DNSProvisioner) InvalidatePaths(ctx context.Context, distributionID string, paths ...string) error {
	res, err := d.cfClient.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(fmt.Sprintf("%s-%d", strings.Join(paths, ","), time.Now().UnixNano())),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate %v: %w", paths, err)
	}
	slog.Info("invalidation created", "distribution", distributionID, "id", aws.ToString(res.Invalidation.Id))
	return nil
}
