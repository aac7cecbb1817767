package certs

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/acm/types"
)

type ACMCertificates struct {
	client *acm.Client
}

func NewACMCertificates(cfg aws.Config) *ACMCertificates {
	return &ACMCertificates{client: acm.NewFromConfig(cfg, func(o *acm.Options) {
		o.Region = "us-east-1" // region must be us-east-1 for CloudFront certificates
	})}
}

// CreateCertificate requests a DNS validated certificate. Requests repeated
// with the same token within an hour return the same ARN.
func (a *ACMCertificates) CreateCertificate(ctx context.Context, domain, token string) (string, error) {
	res, err := a.client.RequestCertificate(ctx, &acm.RequestCertificateInput{
		DomainName:       aws.String(domain),
		ValidationMethod: types.ValidationMethodDns,
		IdempotencyToken: aws.String(idempotencyToken(token)),
	})
	if err != nil {
		return "", err
	}

	return aws.ToString(res.CertificateArn), nil
}

// idempotencyToken keeps the word characters ACM accepts, at most 32 of them.
func idempotencyToken(s string) string {
	token := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return -1
	}, s)
	if len(token) > 32 {
		token = token[:32]
	}
	return token
}
