package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/scribesync/pkg/config"
)

// LoadAWSConfig loads the shared AWS configuration for the configured region
func LoadAWSConfig(ctx context.Context, cfg *config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// NewClient creates a DynamoDB client. creds overrides the default credential
// chain when non-nil.
func NewClient(awsCfg aws.Config, creds aws.CredentialsProvider) *dynamodb.Client {
	if creds != nil {
		creds = aws.NewCredentialsCache(creds)
	} else {
		creds = awsCfg.Credentials
	}

	client := dynamodb.New(dynamodb.Options{
		Region:       awsCfg.Region,
		Credentials:  creds,
		HTTPClient:   awsCfg.HTTPClient,
		BaseEndpoint: awsCfg.BaseEndpoint,
		Logger:       awsCfg.Logger,
	})

	log.Info().Str("region", awsCfg.Region).Str("endpoint", aws.ToString(awsCfg.BaseEndpoint)).Msg("DynamoDB client configured")
	return client
}

// NewCognitoClient creates an unauthenticated Cognito identity client
func NewCognitoClient(awsCfg aws.Config) *cognitoidentity.Client {
	return cognitoidentity.New(cognitoidentity.Options{
		Region:     awsCfg.Region,
		HTTPClient: awsCfg.HTTPClient,
	})
}
