package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/scribesync/internal/domain/providers"
	"github.com/zatekoja/scribesync/pkg/retry"
)

// MockDynamoDB is a mock implementation of DynamoDBAPI
type MockDynamoDB struct {
	mock.Mock
}

func (m *MockDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

func (m *MockDynamoDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DeleteItemOutput), args.Error(1)
}

func (m *MockDynamoDB) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.BatchWriteItemOutput), args.Error(1)
}

func (m *MockDynamoDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.QueryOutput), args.Error(1)
}

func (m *MockDynamoDB) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.ScanOutput), args.Error(1)
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
}

func TestDynamoDBRecordStore_PutItemMarshalsAttributes(t *testing.T) {
	client := new(MockDynamoDB)
	store := NewDynamoDBRecordStore(client)

	client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		id, ok := in.Item["id"].(*types.AttributeValueMemberS)
		n, okN := in.Item["segmentIndex"].(*types.AttributeValueMemberN)
		return aws.ToString(in.TableName) == "patients" && ok && id.Value == "p-1" && okN && n.Value == "4"
	})).Return(&dynamodb.PutItemOutput{}, nil)

	err := store.PutItem(context.Background(), "patients", providers.Item{"id": "p-1", "segmentIndex": 4, "speaker": nil})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestDynamoDBRecordStore_BatchWriteRetriesUnprocessedItems(t *testing.T) {
	client := new(MockDynamoDB)
	store := NewDynamoDBRecordStore(client).WithRetryConfig(fastRetry())

	leftover := map[string][]types.WriteRequest{
		"segments": {{PutRequest: &types.PutRequest{Item: map[string]types.AttributeValue{
			"consultationId": &types.AttributeValueMemberS{Value: "c-1"},
			"segmentIndex":   &types.AttributeValueMemberN{Value: "1"},
		}}}},
	}
	client.On("BatchWriteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
		return len(in.RequestItems["segments"]) == 2
	})).Return(&dynamodb.BatchWriteItemOutput{UnprocessedItems: leftover}, nil).Once()
	client.On("BatchWriteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
		return len(in.RequestItems["segments"]) == 1
	})).Return(&dynamodb.BatchWriteItemOutput{}, nil).Once()

	err := store.BatchWriteItem(context.Background(), "segments", []providers.Item{
		{"consultationId": "c-1", "segmentIndex": 0},
		{"consultationId": "c-1", "segmentIndex": 1},
	})
	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "BatchWriteItem", 2)
}

func TestDynamoDBRecordStore_BatchWriteGivesUpOnPersistentBacklog(t *testing.T) {
	client := new(MockDynamoDB)
	store := NewDynamoDBRecordStore(client).WithRetryConfig(fastRetry())

	leftover := map[string][]types.WriteRequest{"segments": {{PutRequest: &types.PutRequest{}}}}
	client.On("BatchWriteItem", mock.Anything, mock.Anything).Return(&dynamodb.BatchWriteItemOutput{UnprocessedItems: leftover}, nil)

	err := store.BatchWriteItem(context.Background(), "segments", []providers.Item{{"consultationId": "c-1", "segmentIndex": 0}})
	assert.ErrorIs(t, err, ErrUnprocessedItems)
	client.AssertNumberOfCalls(t, "BatchWriteItem", 3)
}

func TestDynamoDBRecordStore_BatchWriteDoesNotRetryValidationErrors(t *testing.T) {
	client := new(MockDynamoDB)
	store := NewDynamoDBRecordStore(client).WithRetryConfig(fastRetry())
	client.On("BatchWriteItem", mock.Anything, mock.Anything).Return(nil, &smithy.GenericAPIError{Code: "ValidationException", Message: "bad key"})

	err := store.BatchWriteItem(context.Background(), "segments", []providers.Item{{"consultationId": "c-1", "segmentIndex": 0}})
	require.Error(t, err)
	client.AssertNumberOfCalls(t, "BatchWriteItem", 1)

	assert.Error(t, store.BatchWriteItem(context.Background(), "segments", make([]providers.Item, providers.MaxBatchWriteItems+1)))
}

func TestDynamoDBRecordStore_QueryMapsMissingIndex(t *testing.T) {
	client := new(MockDynamoDB)
	store := NewDynamoDBRecordStore(client)
	client.On("Query", mock.Anything, mock.Anything).Return(nil, &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: "The table does not have the specified index: owner-index",
	})

	_, err := store.Query(context.Background(), providers.QueryInput{
		Table:        "patients",
		IndexName:    "owner-index",
		KeyCondition: providers.Condition{Attribute: "ownerUserId", Value: "owner-1"},
	})
	assert.True(t, errors.Is(err, providers.ErrIndexNotFound))
}

func TestDynamoDBRecordStore_QueryBuildsKeyCondition(t *testing.T) {
	client := new(MockDynamoDB)
	store := NewDynamoDBRecordStore(client)

	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		v, ok := in.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberS)
		return aws.ToString(in.KeyConditionExpression) == "#k = :v" &&
			in.ExpressionAttributeNames["#k"] == "consultationId" &&
			ok && v.Value == "c-1" &&
			in.IndexName == nil &&
			aws.ToInt32(in.Limit) == 100
	})).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"consultationId": &types.AttributeValueMemberS{Value: "c-1"},
			"segmentIndex":   &types.AttributeValueMemberN{Value: "7"},
		}},
	}, nil)

	page, err := store.Query(context.Background(), providers.QueryInput{
		Table:        "segments",
		KeyCondition: providers.Condition{Attribute: "consultationId", Value: "c-1"},
		Limit:        100,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, float64(7), page.Items[0]["segmentIndex"])
	assert.Nil(t, page.LastEvaluatedKey)
}

func TestDynamoDBRecordStore_ScanReturnsLastEvaluatedKey(t *testing.T) {
	client := new(MockDynamoDB)
	store := NewDynamoDBRecordStore(client)

	client.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return aws.ToString(in.FilterExpression) == "#f = :v" && in.ExpressionAttributeNames["#f"] == "ownerUserId"
	})).Return(&dynamodb.ScanOutput{
		Items:            []map[string]types.AttributeValue{},
		LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "p-9"}},
	}, nil)

	page, err := store.Scan(context.Background(), providers.ScanInput{
		Table:  "patients",
		Filter: &providers.Condition{Attribute: "ownerUserId", Value: "owner-1"},
		Limit:  50,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, providers.Key{"id": "p-9"}, page.LastEvaluatedKey)
}

func TestDynamoDBRecordStore_DeleteItemWrapsErrors(t *testing.T) {
	client := new(MockDynamoDB)
	store := NewDynamoDBRecordStore(client)
	client.On("DeleteItem", mock.Anything, mock.Anything).Return(nil, errors.New("AccessDenied"))

	err := store.DeleteItem(context.Background(), "patients", providers.Key{"id": "p-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete item from patients")
}
