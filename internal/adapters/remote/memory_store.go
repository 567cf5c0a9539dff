package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/zatekoja/scribesync/internal/domain/providers"
)

const defaultMemoryPageSize = 100

// MemoryRecordStore is an in-process RecordStore with the key, index and
// pagination behaviour of the managed store. Items are deep-copied through
// JSON, so numbers come back as float64 the way real stores decode them.
type MemoryRecordStore struct {
	mu       sync.RWMutex
	schemas  map[string]providers.TableSchema
	indexes  map[string]map[string]string
	tables   map[string]map[string]providers.Item
	pageSize int
}

// MemoryOption configures a MemoryRecordStore
type MemoryOption func(*MemoryRecordStore)

// WithIndex registers a secondary index on attribute for table
func WithIndex(table, indexName, attribute string) MemoryOption {
	return func(s *MemoryRecordStore) {
		if s.indexes[table] == nil {
			s.indexes[table] = map[string]string{}
		}
		s.indexes[table][indexName] = attribute
	}
}

// WithPageSize sets the default page size for Query and Scan
func WithPageSize(size int) MemoryOption {
	return func(s *MemoryRecordStore) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// NewMemoryRecordStore creates an empty store with the given table schemas
func NewMemoryRecordStore(schemas map[string]providers.TableSchema, opts ...MemoryOption) *MemoryRecordStore {
	s := &MemoryRecordStore{
		schemas:  make(map[string]providers.TableSchema, len(schemas)),
		indexes:  map[string]map[string]string{},
		tables:   map[string]map[string]providers.Item{},
		pageSize: defaultMemoryPageSize,
	}
	for table, schema := range schemas {
		s.schemas[table] = schema
		s.tables[table] = map[string]providers.Item{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutItem writes item, replacing any record with the same key
func (s *MemoryRecordStore) PutItem(ctx context.Context, table string, item providers.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(table, item)
}

// DeleteItem removes the record with key
func (s *MemoryRecordStore) DeleteItem(ctx context.Context, table string, key providers.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, err := s.schema(table)
	if err != nil {
		return err
	}
	k, err := keyString(schema, providers.Item(key))
	if err != nil {
		return err
	}
	delete(s.tables[table], k)
	return nil
}

// BatchWriteItem writes up to MaxBatchWriteItems items atomically
func (s *MemoryRecordStore) BatchWriteItem(ctx context.Context, table string, items []providers.Item) error {
	if len(items) > providers.MaxBatchWriteItems {
		return fmt.Errorf("batch of %d items exceeds the limit of %d", len(items), providers.MaxBatchWriteItems)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schema, err := s.schema(table)
	if err != nil {
		return err
	}
	for _, item := range items {
		if _, err := keyString(schema, item); err != nil {
			return err
		}
	}
	for _, item := range items {
		if err := s.put(table, item); err != nil {
			return err
		}
	}
	return nil
}

// Query returns records whose partition key, or index attribute, equals the condition value
func (s *MemoryRecordStore) Query(ctx context.Context, input providers.QueryInput) (*providers.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema, err := s.schema(input.Table)
	if err != nil {
		return nil, err
	}

	keyAttr := schema.PartitionKey
	if input.IndexName != "" {
		attr, ok := s.indexes[input.Table][input.IndexName]
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", providers.ErrIndexNotFound, input.IndexName, input.Table)
		}
		keyAttr = attr
	}
	if input.KeyCondition.Attribute != keyAttr {
		return nil, fmt.Errorf("query condition on %q does not match key attribute %q", input.KeyCondition.Attribute, keyAttr)
	}

	return s.page(input.Table, schema, &input.KeyCondition, input.ExclusiveStartKey, input.Limit)
}

// Scan reads the table in key order, keeping records that match the filter
func (s *MemoryRecordStore) Scan(ctx context.Context, input providers.ScanInput) (*providers.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema, err := s.schema(input.Table)
	if err != nil {
		return nil, err
	}
	return s.page(input.Table, schema, input.Filter, input.ExclusiveStartKey, input.Limit)
}

// Items returns every record in table in key order
func (s *MemoryRecordStore) Items(table string) []providers.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema := s.schemas[table]
	rows := s.sortedRows(table, schema)
	out := make([]providers.Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, cloneItemOrNil(row))
	}
	return out
}

func (s *MemoryRecordStore) schema(table string) (providers.TableSchema, error) {
	schema, ok := s.schemas[table]
	if !ok {
		return providers.TableSchema{}, fmt.Errorf("table %s not found", table)
	}
	return schema, nil
}

func (s *MemoryRecordStore) put(table string, item providers.Item) error {
	schema, err := s.schema(table)
	if err != nil {
		return err
	}
	k, err := keyString(schema, item)
	if err != nil {
		return err
	}
	clone, err := cloneItem(item)
	if err != nil {
		return err
	}
	s.tables[table][k] = clone
	return nil
}

// page evaluates up to limit records after startKey. Limit counts evaluated
// records, not matches, so a page can be empty while more pages remain.
func (s *MemoryRecordStore) page(table string, schema providers.TableSchema, cond *providers.Condition, startKey providers.Key, limit int) (*providers.Page, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	rows := s.sortedRows(table, schema)

	start := 0
	if len(startKey) > 0 {
		start = len(rows)
		for i, row := range rows {
			if compareKeys(schema, row, providers.Item(startKey)) > 0 {
				start = i
				break
			}
		}
	}

	page := &providers.Page{Items: []providers.Item{}}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	for _, row := range rows[start:end] {
		if cond != nil && !valuesEqual(row[cond.Attribute], cond.Value) {
			continue
		}
		page.Items = append(page.Items, cloneItemOrNil(row))
	}
	if end < len(rows) {
		page.LastEvaluatedKey = schema.KeyOf(rows[end-1])
	}
	return page, nil
}

func (s *MemoryRecordStore) sortedRows(table string, schema providers.TableSchema) []providers.Item {
	rows := make([]providers.Item, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return compareKeys(schema, rows[i], rows[j]) < 0
	})
	return rows
}

func keyString(schema providers.TableSchema, item providers.Item) (string, error) {
	pk, ok := item[schema.PartitionKey]
	if !ok || pk == nil {
		return "", fmt.Errorf("item is missing partition key %q", schema.PartitionKey)
	}
	if schema.SortKey == "" {
		return fmt.Sprint(pk), nil
	}
	sk, ok := item[schema.SortKey]
	if !ok || sk == nil {
		return "", fmt.Errorf("item is missing sort key %q", schema.SortKey)
	}
	if f, ok := toFloat(sk); ok {
		return fmt.Sprintf("%v\x00%g", pk, f), nil
	}
	return fmt.Sprintf("%v\x00%v", pk, sk), nil
}

func compareKeys(schema providers.TableSchema, a, b providers.Item) int {
	if c := compareValues(a[schema.PartitionKey], b[schema.PartitionKey]); c != 0 || schema.SortKey == "" {
		return c
	}
	return compareValues(a[schema.SortKey], b[schema.SortKey])
}

func compareValues(a, b any) int {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return compareValues(a, b) == 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func cloneItem(item providers.Item) (providers.Item, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("item is not serializable: %w", err)
	}
	var clone providers.Item
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil, err
	}
	return clone, nil
}

func cloneItemOrNil(item providers.Item) providers.Item {
	clone, err := cloneItem(item)
	if err != nil {
		return nil
	}
	return clone
}
