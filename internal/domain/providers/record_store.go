package providers

import (
	"context"
	"errors"
)

// MaxBatchWriteItems is the largest batch BatchWriteItem accepts
const MaxBatchWriteItems = 25

// ErrIndexNotFound is returned by Query when the named index does not exist
var ErrIndexNotFound = errors.New("index not found")

// Item is a schemaless remote record keyed by attribute name
type Item map[string]any

// Key identifies a record by its primary key attributes
type Key map[string]any

// TableSchema describes a table's primary key
type TableSchema struct {
	PartitionKey string
	SortKey      string
}

// KeyOf extracts the primary key attributes from item
func (s TableSchema) KeyOf(item Item) Key {
	key := Key{s.PartitionKey: item[s.PartitionKey]}
	if s.SortKey != "" {
		key[s.SortKey] = item[s.SortKey]
	}
	return key
}

// Condition is an equality test on a single attribute
type Condition struct {
	Attribute string
	Value     any
}

// QueryInput selects records by key equality, optionally through a secondary index
type QueryInput struct {
	Table             string
	IndexName         string
	KeyCondition      Condition
	ExclusiveStartKey Key
	Limit             int
}

// ScanInput reads a whole table, optionally keeping only records matching Filter
type ScanInput struct {
	Table             string
	Filter            *Condition
	ExclusiveStartKey Key
	Limit             int
}

// Page is one page of query or scan results. A nil LastEvaluatedKey means
// there are no more pages.
type Page struct {
	Items            []Item
	LastEvaluatedKey Key
}

// RecordStore is the remote keyed-record store the sync layer writes to and
// hydrates from
type RecordStore interface {
	// PutItem writes item, replacing any record with the same primary key
	PutItem(ctx context.Context, table string, item Item) error

	// DeleteItem removes the record with the given key; missing keys are not an error
	DeleteItem(ctx context.Context, table string, key Key) error

	// BatchWriteItem puts up to MaxBatchWriteItems items into table
	BatchWriteItem(ctx context.Context, table string, items []Item) error

	// Query returns records whose key (or index key) matches the condition
	Query(ctx context.Context, input QueryInput) (*Page, error)

	// Scan returns records from a full table read
	Scan(ctx context.Context, input ScanInput) (*Page, error)
}
