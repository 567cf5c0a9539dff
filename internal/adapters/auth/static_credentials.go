package auth

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/zatekoja/scribesync/internal/domain/providers"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

// StaticCredentialProvider returns fixed credentials. Used for local
// development and for backends that authenticate at the connection level.
type StaticCredentialProvider struct {
	creds providers.Credentials
}

// NewStaticCredentialProvider creates a provider returning creds
func NewStaticCredentialProvider(creds providers.Credentials) *StaticCredentialProvider {
	return &StaticCredentialProvider{creds: creds}
}

// Retrieve returns the configured credentials
func (p *StaticCredentialProvider) Retrieve(ctx context.Context) (providers.Credentials, error) {
	if p.creds.AccessKeyID == "" {
		return providers.Credentials{}, apperrors.NewUnauthorizedError("no static credentials configured")
	}
	return p.creds, nil
}

// AWSCredentials adapts a CredentialProvider to the AWS SDK, so the DynamoDB
// client signs requests with whatever the session currently supplies
func AWSCredentials(p providers.CredentialProvider) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		creds, err := p.Retrieve(ctx)
		if err != nil {
			return aws.Credentials{}, err
		}
		return aws.Credentials{
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
			SessionToken:    creds.SessionToken,
			Source:          "scribesync",
			CanExpire:       !creds.Expires.IsZero(),
			Expires:         creds.Expires,
		}, nil
	})
}

var _ providers.CredentialProvider = (*StaticCredentialProvider)(nil)
