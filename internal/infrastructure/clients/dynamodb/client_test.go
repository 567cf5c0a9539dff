package dynamodb

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/scribesync/pkg/config"
)

func TestLoadAWSConfig_EndpointOverride(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	awsCfg, err := LoadAWSConfig(context.Background(), &config.AWSConfig{
		Region:      "eu-west-1",
		EndpointURL: "http://localhost:8000",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", awsCfg.Region)
	assert.Equal(t, "http://localhost:8000", aws.ToString(awsCfg.BaseEndpoint))

	client := NewClient(awsCfg, aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "s"}, nil
	}))
	assert.Equal(t, "eu-west-1", client.Options().Region)
	creds, err := client.Options().Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIA", creds.AccessKeyID)
}

func TestLoadAWSConfig_NoEndpoint(t *testing.T) {
	awsCfg, err := LoadAWSConfig(context.Background(), &config.AWSConfig{Region: "us-east-1"})
	require.NoError(t, err)
	assert.Nil(t, awsCfg.BaseEndpoint)
	assert.NotNil(t, NewCognitoClient(awsCfg))
}
