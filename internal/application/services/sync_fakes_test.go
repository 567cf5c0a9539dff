package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/zatekoja/scribesync/internal/adapters/remote"
	"github.com/zatekoja/scribesync/internal/domain/providers"
)

// mapStorage is an in-memory LocalStorage
type mapStorage struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func newMapStorage() *mapStorage {
	return &mapStorage{values: map[string]string{}}
}

func (m *mapStorage) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", providers.ErrStorageKeyNotFound
	}
	return v, nil
}

func (m *mapStorage) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *mapStorage) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// MockRecordStore is a mock implementation of RecordStore
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) PutItem(ctx context.Context, table string, item providers.Item) error {
	args := m.Called(ctx, table, item)
	return args.Error(0)
}

func (m *MockRecordStore) DeleteItem(ctx context.Context, table string, key providers.Key) error {
	args := m.Called(ctx, table, key)
	return args.Error(0)
}

func (m *MockRecordStore) BatchWriteItem(ctx context.Context, table string, items []providers.Item) error {
	args := m.Called(ctx, table, items)
	return args.Error(0)
}

func (m *MockRecordStore) Query(ctx context.Context, input providers.QueryInput) (*providers.Page, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Page), args.Error(1)
}

func (m *MockRecordStore) Scan(ctx context.Context, input providers.ScanInput) (*providers.Page, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Page), args.Error(1)
}

// stubCredentials returns a fixed result from Retrieve
type stubCredentials struct {
	err error
}

func (s stubCredentials) Retrieve(ctx context.Context) (providers.Credentials, error) {
	if s.err != nil {
		return providers.Credentials{}, s.err
	}
	return providers.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "secret"}, nil
}

var errNoSession = errors.New("no current user session")

// fixedClock returns a clock that advances one second per call
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

// sequentialIDs returns an ID generator yielding id-1, id-2, ...
func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type syncFixture struct {
	tables     TableNames
	remote     *remote.MemoryRecordStore
	storage    *mapStorage
	queue      *SyncQueue
	dispatcher *SyncDispatcher
	store      *DomainStore
}

func newSyncFixture(ownerID string, opts ...remote.MemoryOption) *syncFixture {
	tables := DefaultTableNames()
	clock := fixedClock(time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))
	f := &syncFixture{
		tables:  tables,
		remote:  remote.NewMemoryRecordStore(tables.Schemas(), opts...),
		storage: newMapStorage(),
		queue:   NewSyncQueue(),
	}
	f.dispatcher = NewSyncDispatcher(f.queue, f.remote, tables, WithDispatcherClock(clock))
	f.store = NewDomainStore(ownerID, f.storage,
		WithClock(clock),
		WithDispatcher(f.dispatcher),
		WithIDGenerator(sequentialIDs("c")),
	)
	return f
}
