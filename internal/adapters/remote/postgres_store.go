package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/zatekoja/scribesync/internal/domain/providers"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

const (
	syncRecordsTable = "sync_records"
	ownerAttribute   = "ownerUserId"
)

// SyncRecordsDDL creates the table PostgresRecordStore reads and writes.
// Every logical table shares it, keyed by table name.
const SyncRecordsDDL = `CREATE TABLE IF NOT EXISTS sync_records (
	table_name    TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	sort_key      DOUBLE PRECISION NOT NULL DEFAULT 0,
	owner_user_id TEXT,
	item          JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (table_name, partition_key, sort_key)
);
CREATE INDEX IF NOT EXISTS sync_records_owner_idx ON sync_records (table_name, owner_user_id);`

// PostgresRecordStore implements RecordStore on a single jsonb table
type PostgresRecordStore struct {
	db         *sql.DB
	qb         *goqu.Database
	schemas    map[string]providers.TableSchema
	ownerIndex string
	pageSize   int
	now        func() time.Time
}

// PostgresOption configures a PostgresRecordStore
type PostgresOption func(*PostgresRecordStore)

// WithOwnerIndexName exposes the owner_user_id column as a queryable index
func WithOwnerIndexName(name string) PostgresOption {
	return func(s *PostgresRecordStore) {
		s.ownerIndex = name
	}
}

// NewPostgresRecordStore creates a record store on db
func NewPostgresRecordStore(db *sql.DB, schemas map[string]providers.TableSchema, opts ...PostgresOption) *PostgresRecordStore {
	s := &PostgresRecordStore{
		db:       db,
		qb:       goqu.New("postgres", db),
		schemas:  schemas,
		pageSize: defaultMemoryPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the backing table when it does not exist
func (s *PostgresRecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SyncRecordsDDL); err != nil {
		return apperrors.NewInternalError("failed to create sync_records table", err)
	}
	return nil
}

// PutItem writes item, replacing any record with the same key
func (s *PostgresRecordStore) PutItem(ctx context.Context, table string, item providers.Item) error {
	return s.upsert(ctx, table, []providers.Item{item})
}

// BatchWriteItem writes up to MaxBatchWriteItems items in one statement
func (s *PostgresRecordStore) BatchWriteItem(ctx context.Context, table string, items []providers.Item) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > providers.MaxBatchWriteItems {
		return apperrors.NewValidationError(fmt.Sprintf("batch of %d items exceeds the limit of %d", len(items), providers.MaxBatchWriteItems))
	}
	return s.upsert(ctx, table, items)
}

// DeleteItem removes the record with key
func (s *PostgresRecordStore) DeleteItem(ctx context.Context, table string, key providers.Key) error {
	schema, err := s.schema(table)
	if err != nil {
		return err
	}
	pk, sk, err := splitKey(schema, providers.Item(key))
	if err != nil {
		return err
	}

	query, args, err := s.qb.Delete(syncRecordsTable).Where(goqu.Ex{
		"table_name":    table,
		"partition_key": pk,
		"sort_key":      sk,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewExternalError(fmt.Sprintf("failed to delete record from %s", table), err)
	}
	return nil
}

// Query returns records whose partition key, or owner, equals the condition value
func (s *PostgresRecordStore) Query(ctx context.Context, input providers.QueryInput) (*providers.Page, error) {
	schema, err := s.schema(input.Table)
	if err != nil {
		return nil, err
	}

	var cond exp.Expression
	switch {
	case input.IndexName != "":
		if input.IndexName != s.ownerIndex || input.KeyCondition.Attribute != ownerAttribute {
			return nil, fmt.Errorf("%w: %s on %s", providers.ErrIndexNotFound, input.IndexName, input.Table)
		}
		cond = goqu.C("owner_user_id").Eq(fmt.Sprint(input.KeyCondition.Value))
	case input.KeyCondition.Attribute == schema.PartitionKey:
		cond = goqu.C("partition_key").Eq(fmt.Sprint(input.KeyCondition.Value))
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("query condition on %q does not match key attribute %q", input.KeyCondition.Attribute, schema.PartitionKey))
	}

	return s.page(ctx, input.Table, schema, cond, input.ExclusiveStartKey, input.Limit)
}

// Scan reads the table in key order, keeping records that match the filter
func (s *PostgresRecordStore) Scan(ctx context.Context, input providers.ScanInput) (*providers.Page, error) {
	schema, err := s.schema(input.Table)
	if err != nil {
		return nil, err
	}

	var cond exp.Expression
	if input.Filter != nil {
		value, err := json.Marshal(input.Filter.Value)
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("filter value is not serializable: %v", err))
		}
		cond = goqu.L("item -> ? = ?::jsonb", input.Filter.Attribute, string(value))
	}
	return s.page(ctx, input.Table, schema, cond, input.ExclusiveStartKey, input.Limit)
}

func (s *PostgresRecordStore) upsert(ctx context.Context, table string, items []providers.Item) error {
	schema, err := s.schema(table)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	byKey := make(map[string]int, len(items))
	rows := make([]any, 0, len(items))
	for _, item := range items {
		pk, sk, err := splitKey(schema, item)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(item)
		if err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("item is not serializable: %v", err))
		}
		owner, _ := item[ownerAttribute].(string)
		record := goqu.Record{
			"table_name":    table,
			"partition_key": pk,
			"sort_key":      sk,
			"owner_user_id": sql.NullString{String: owner, Valid: owner != ""},
			"item":          string(raw),
			"updated_at":    now,
		}
		// a single INSERT cannot touch the same conflict key twice
		k := pk + "\x00" + strconv.FormatFloat(sk, 'g', -1, 64)
		if i, ok := byKey[k]; ok {
			rows[i] = record
			continue
		}
		byKey[k] = len(rows)
		rows = append(rows, record)
	}

	query, args, err := s.qb.Insert(syncRecordsTable).Rows(rows...).OnConflict(
		goqu.DoUpdate("table_name, partition_key, sort_key", goqu.Record{
			"owner_user_id": goqu.L("EXCLUDED.owner_user_id"),
			"item":          goqu.L("EXCLUDED.item"),
			"updated_at":    goqu.L("EXCLUDED.updated_at"),
		}),
	).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build upsert query", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewExternalError(fmt.Sprintf("failed to write records to %s", table), err)
	}
	return nil
}

// page returns up to limit matching records after startKey. One extra row is
// read to decide whether another page exists.
func (s *PostgresRecordStore) page(ctx context.Context, table string, schema providers.TableSchema, cond exp.Expression, startKey providers.Key, limit int) (*providers.Page, error) {
	if limit <= 0 {
		limit = s.pageSize
	}

	where := []exp.Expression{goqu.C("table_name").Eq(table)}
	if cond != nil {
		where = append(where, cond)
	}
	if len(startKey) > 0 {
		pk, sk, err := splitKey(schema, providers.Item(startKey))
		if err != nil {
			return nil, err
		}
		where = append(where, goqu.L("(partition_key, sort_key) > (?, ?)", pk, sk))
	}

	query, args, err := s.qb.From(syncRecordsTable).
		Select("item").
		Where(where...).
		Order(goqu.C("partition_key").Asc(), goqu.C("sort_key").Asc()).
		Limit(uint(limit + 1)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build select query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewExternalError(fmt.Sprintf("failed to read records from %s", table), err)
	}
	defer rows.Close()

	page := &providers.Page{Items: []providers.Item{}}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperrors.NewInternalError("failed to scan record", err)
		}
		var item providers.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, apperrors.NewInternalError("failed to decode record", err)
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewExternalError(fmt.Sprintf("failed to read records from %s", table), err)
	}

	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.LastEvaluatedKey = schema.KeyOf(page.Items[limit-1])
	}
	return page, nil
}

func (s *PostgresRecordStore) schema(table string) (providers.TableSchema, error) {
	schema, ok := s.schemas[table]
	if !ok {
		return providers.TableSchema{}, apperrors.NewValidationError(fmt.Sprintf("table %s not found", table))
	}
	return schema, nil
}

// splitKey returns the partition key as text and the sort key as a number.
// Tables without a sort key use 0.
func splitKey(schema providers.TableSchema, item providers.Item) (string, float64, error) {
	pk, ok := item[schema.PartitionKey]
	if !ok || pk == nil {
		return "", 0, apperrors.NewValidationError(fmt.Sprintf("item is missing partition key %q", schema.PartitionKey))
	}
	if schema.SortKey == "" {
		return fmt.Sprint(pk), 0, nil
	}
	raw, ok := item[schema.SortKey]
	if !ok || raw == nil {
		return "", 0, apperrors.NewValidationError(fmt.Sprintf("item is missing sort key %q", schema.SortKey))
	}
	if f, ok := toFloat(raw); ok {
		return fmt.Sprint(pk), f, nil
	}
	f, err := strconv.ParseFloat(fmt.Sprint(raw), 64)
	if err != nil {
		return "", 0, apperrors.NewValidationError(fmt.Sprintf("sort key %q is not numeric", schema.SortKey))
	}
	return fmt.Sprint(pk), f, nil
}

var _ providers.RecordStore = (*PostgresRecordStore)(nil)
