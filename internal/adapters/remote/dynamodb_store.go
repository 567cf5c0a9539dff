package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/scribesync/internal/domain/providers"
	"github.com/zatekoja/scribesync/pkg/retry"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// ErrUnprocessedItems is returned when a batch write could not be fully
// applied within the retry budget
var ErrUnprocessedItems = errors.New("batch write left unprocessed items")

// DynamoDBRecordStore implements RecordStore on DynamoDB
type DynamoDBRecordStore struct {
	client   DynamoDBAPI
	retryCfg retry.Config
}

// NewDynamoDBRecordStore creates a record store on client
func NewDynamoDBRecordStore(client DynamoDBAPI) *DynamoDBRecordStore {
	return &DynamoDBRecordStore{client: client, retryCfg: retry.WriteConfig()}
}

// WithRetryConfig replaces the retry policy for unprocessed batch items
func (s *DynamoDBRecordStore) WithRetryConfig(cfg retry.Config) *DynamoDBRecordStore {
	s.retryCfg = cfg
	return s
}

// PutItem writes item, replacing any record with the same key
func (s *DynamoDBRecordStore) PutItem(ctx context.Context, table string, item providers.Item) error {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("failed to marshal item for %s: %w", table, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put item into %s: %w", table, err)
	}
	return nil
}

// DeleteItem removes the record with key
func (s *DynamoDBRecordStore) DeleteItem(ctx context.Context, table string, key providers.Key) error {
	av, err := attributevalue.MarshalMap(map[string]any(key))
	if err != nil {
		return fmt.Errorf("failed to marshal key for %s: %w", table, err)
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       av,
	})
	if err != nil {
		return fmt.Errorf("delete item from %s: %w", table, err)
	}
	return nil
}

// BatchWriteItem puts up to MaxBatchWriteItems items, re-submitting
// unprocessed items with backoff
func (s *DynamoDBRecordStore) BatchWriteItem(ctx context.Context, table string, items []providers.Item) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > providers.MaxBatchWriteItems {
		return fmt.Errorf("batch of %d items exceeds the limit of %d", len(items), providers.MaxBatchWriteItems)
	}

	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		av, err := attributevalue.MarshalMap(map[string]any(item))
		if err != nil {
			return fmt.Errorf("failed to marshal item for %s: %w", table, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}

	pending := map[string][]types.WriteRequest{table: requests}
	err := retry.DoWithLog(ctx, s.retryCfg, "dynamodb", func() error {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			if isThrottle(err) {
				return err
			}
			return retry.Permanent(fmt.Errorf("batch write into %s: %w", table, err))
		}
		if len(out.UnprocessedItems) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		return fmt.Errorf("%w: %d remaining", ErrUnprocessedItems, len(pending[table]))
	}, func(attempt int, err error, nextDelay time.Duration) {
		log.Warn().Err(err).Str("table", table).Int("attempt", attempt).Dur("next_delay", nextDelay).Msg("retrying batch write")
	})
	return err
}

// Query returns records whose partition or index key equals the condition value
func (s *DynamoDBRecordStore) Query(ctx context.Context, input providers.QueryInput) (*providers.Page, error) {
	value, err := attributevalue.Marshal(input.KeyCondition.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key condition: %w", err)
	}
	startKey, err := marshalKey(input.ExclusiveStartKey)
	if err != nil {
		return nil, err
	}

	params := &dynamodb.QueryInput{
		TableName:                 aws.String(input.Table),
		KeyConditionExpression:    aws.String("#k = :v"),
		ExpressionAttributeNames:  map[string]string{"#k": input.KeyCondition.Attribute},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": value},
		ExclusiveStartKey:         startKey,
	}
	if input.IndexName != "" {
		params.IndexName = aws.String(input.IndexName)
	}
	if input.Limit > 0 {
		params.Limit = aws.Int32(int32(input.Limit))
	}

	out, err := s.client.Query(ctx, params)
	if err != nil {
		if input.IndexName != "" && isMissingIndex(err) {
			return nil, fmt.Errorf("%w: %s on %s", providers.ErrIndexNotFound, input.IndexName, input.Table)
		}
		return nil, fmt.Errorf("query %s: %w", input.Table, err)
	}
	return unmarshalPage(out.Items, out.LastEvaluatedKey)
}

// Scan reads the table, keeping records that match the optional filter
func (s *DynamoDBRecordStore) Scan(ctx context.Context, input providers.ScanInput) (*providers.Page, error) {
	startKey, err := marshalKey(input.ExclusiveStartKey)
	if err != nil {
		return nil, err
	}

	params := &dynamodb.ScanInput{
		TableName:         aws.String(input.Table),
		ExclusiveStartKey: startKey,
	}
	if input.Filter != nil {
		value, err := attributevalue.Marshal(input.Filter.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", err)
		}
		params.FilterExpression = aws.String("#f = :v")
		params.ExpressionAttributeNames = map[string]string{"#f": input.Filter.Attribute}
		params.ExpressionAttributeValues = map[string]types.AttributeValue{":v": value}
	}
	if input.Limit > 0 {
		params.Limit = aws.Int32(int32(input.Limit))
	}

	out, err := s.client.Scan(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", input.Table, err)
	}
	return unmarshalPage(out.Items, out.LastEvaluatedKey)
}

func marshalKey(key providers.Key) (map[string]types.AttributeValue, error) {
	if len(key) == 0 {
		return nil, nil
	}
	av, err := attributevalue.MarshalMap(map[string]any(key))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal start key: %w", err)
	}
	return av, nil
}

func unmarshalPage(rows []map[string]types.AttributeValue, lastKey map[string]types.AttributeValue) (*providers.Page, error) {
	page := &providers.Page{Items: make([]providers.Item, 0, len(rows))}
	for _, row := range rows {
		var item map[string]any
		if err := attributevalue.UnmarshalMap(row, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item: %w", err)
		}
		page.Items = append(page.Items, providers.Item(item))
	}
	if len(lastKey) > 0 {
		var key map[string]any
		if err := attributevalue.UnmarshalMap(lastKey, &key); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last evaluated key: %w", err)
		}
		page.LastEvaluatedKey = providers.Key(key)
	}
	return page, nil
}

func isMissingIndex(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationException" &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "index")
}

func isThrottle(err error) bool {
	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return true
	}
	var limit *types.RequestLimitExceeded
	if errors.As(err, &limit) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException"
}

var _ providers.RecordStore = (*DynamoDBRecordStore)(nil)
