package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/scribesync/internal/adapters/remote"
	"github.com/zatekoja/scribesync/internal/domain/entities"
	"github.com/zatekoja/scribesync/internal/domain/providers"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

// switchableCredentials fails until a session is set
type switchableCredentials struct {
	mu       sync.Mutex
	signedIn bool
}

func (s *switchableCredentials) Retrieve(ctx context.Context) (providers.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.signedIn {
		return providers.Credentials{}, errNoSession
	}
	return providers.Credentials{AccessKeyID: "AKIA"}, nil
}

func (s *switchableCredentials) signIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedIn = true
}

// chanEventBus delivers published events to a single in-process subscriber
type chanEventBus struct {
	mu           sync.Mutex
	subs         map[string]chan *entities.LifecycleEvent
	unsubscribed []string
}

func newChanEventBus() *chanEventBus {
	return &chanEventBus{subs: map[string]chan *entities.LifecycleEvent{}}
}

func (b *chanEventBus) Publish(ctx context.Context, channel string, event *entities.LifecycleEvent) error {
	b.mu.Lock()
	ch, ok := b.subs[channel]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	ch <- event
	return nil
}

func (b *chanEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.LifecycleEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *entities.LifecycleEvent, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *chanEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, channel)
	b.unsubscribed = append(b.unsubscribed, channel)
	return nil
}

func (b *chanEventBus) Close() error { return nil }

// blockingScanStore holds every Scan until release is closed
type blockingScanStore struct {
	*remote.MemoryRecordStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingScanStore) Scan(ctx context.Context, input providers.ScanInput) (*providers.Page, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.MemoryRecordStore.Scan(ctx, input)
}

func newCoordinator(f *syncFixture, store providers.RecordStore, creds providers.CredentialProvider, opts ...CoordinatorOption) *SyncCoordinator {
	hydration := NewHydrationService(store, f.tables, f.store.OwnerID())
	opts = append([]CoordinatorOption{WithFlushInterval(0)}, opts...)
	return NewSyncCoordinator(f.store, f.dispatcher, hydration, creds, opts...)
}

func TestSyncCoordinator_FlushWithoutSessionIsUnauthorized(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	creds := &switchableCredentials{}
	c := newCoordinator(f, f.remote, creds)

	_, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Jane Doe"})
	require.NoError(t, err)

	err = c.FlushAll(ctx, "manual")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnauthorized))
	assert.Equal(t, 1, f.queue.Pending())
	assert.Contains(t, c.Status().LastError, "no valid session")
	assert.Empty(t, f.remote.Items(f.tables.Patients))

	creds.signIn()
	require.NoError(t, c.FlushAll(ctx, "manual"))
	assert.Equal(t, 0, f.queue.Pending())
	assert.Len(t, f.remote.Items(f.tables.Patients), 1)

	status := c.Status()
	assert.Empty(t, status.LastError)
	assert.NotNil(t, status.LastSyncedAt)
	assert.Equal(t, 1, status.Queue.Success)
}

func TestSyncCoordinator_HydrationWithoutSessionFails(t *testing.T) {
	f := newSyncFixture("owner-1")
	c := newCoordinator(f, f.remote, stubCredentials{err: errNoSession})

	err := c.ForceHydrate(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnauthorized))
	assert.Equal(t, entities.HydrationStatusError, c.Status().Hydration.Status)
}

func TestSyncCoordinator_PendingWritesLandBeforeHydration(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	c := newCoordinator(f, f.remote, stubCredentials{})

	patient, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Jane Doe"})
	require.NoError(t, err)
	consultation, err := f.store.AddConsultationForPatient(ctx, patient.ID)
	require.NoError(t, err)

	require.NoError(t, c.ForceHydrate(ctx))

	assert.Equal(t, 0, f.queue.Pending())
	require.Len(t, f.store.Patients(), 1)
	got, ok := f.store.Consultation(consultation.ID)
	require.True(t, ok)
	assert.Equal(t, patient.DisplayName, got.PatientName)
	assert.NotNil(t, f.store.LastHydratedAt())
	assert.Equal(t, entities.HydrationStatusSuccess, c.Status().Hydration.Status)
}

func TestSyncCoordinator_FailedPreFlushLeavesLocalStateIntact(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	failing := new(MockRecordStore)
	failing.On("PutItem", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("ProvisionedThroughputExceeded"))
	f.dispatcher = NewSyncDispatcher(f.queue, failing, f.tables)
	f.store = NewDomainStore("owner-1", f.storage, WithDispatcher(f.dispatcher))
	c := newCoordinator(f, failing, stubCredentials{})

	_, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Jane Doe"})
	require.NoError(t, err)

	err = c.ForceHydrate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before hydration")
	assert.Len(t, f.store.Patients(), 1)
	assert.Nil(t, f.store.LastHydratedAt())
	assert.Equal(t, entities.HydrationStatusError, c.Status().Hydration.Status)
	failing.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestSyncCoordinator_FlushDuringHydrationIsDeferred(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	blocking := &blockingScanStore{MemoryRecordStore: f.remote, entered: make(chan struct{}), release: make(chan struct{})}
	c := newCoordinator(f, blocking, stubCredentials{})

	done := make(chan error, 1)
	go func() { done <- c.ForceHydrate(ctx) }()
	<-blocking.entered

	f.queue.Enqueue(SyncTask{Kind: TaskKindPut, Label: "patient:late", Run: func(ctx context.Context) error {
		return f.remote.PutItem(ctx, f.tables.Patients, providers.Item{"id": "late", "ownerUserId": "owner-1"})
	}})
	assert.ErrorIs(t, c.FlushAll(ctx, "focus"), ErrFlushDeferred)
	assert.NoError(t, c.HandleLifecycleEvent(ctx, entities.NewLifecycleEvent("owner-1", entities.LifecycleEventVisible)))
	assert.Equal(t, 1, f.queue.Pending())

	close(blocking.release)
	require.NoError(t, <-done)

	assert.Equal(t, 0, f.queue.Pending())
	assert.Len(t, f.remote.Items(f.tables.Patients), 1)
}

func TestSyncCoordinator_InitHydratesEmptyStore(t *testing.T) {
	ctx := context.Background()
	seeded := newSyncFixture("owner-1")
	_, consultation := seedRemote(t, seeded)

	fresh := newSyncFixture("owner-1")
	c := newCoordinator(fresh, seeded.remote, stubCredentials{})
	require.NoError(t, c.Init(ctx))
	defer c.Dispose(ctx)

	got, ok := fresh.store.Consultation(consultation.ID)
	require.True(t, ok)
	assert.Equal(t, 3, got.TranscriptSegments.Len())
	assert.Equal(t, entities.HydrationStatusSuccess, c.Status().Hydration.Status)
}

func TestSyncCoordinator_InitSkipsHydrationWhenFresh(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	_, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Jane Doe"})
	require.NoError(t, err)
	f.storage.values[StorageKeyLastHydratedAt] = "2025-03-15T08:00:00Z"

	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	c := newCoordinator(f, f.remote, stubCredentials{}, WithCoordinatorClock(func() time.Time { return now }))
	require.NoError(t, c.Init(ctx))
	defer c.Dispose(ctx)

	assert.Equal(t, entities.HydrationStatusIdle, c.Status().Hydration.Status)
	assert.Equal(t, 0, f.queue.Pending())
	assert.Len(t, f.remote.Items(f.tables.Patients), 1)
}

func TestSyncCoordinator_InitHydratesWhenStale(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	_, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Jane Doe"})
	require.NoError(t, err)
	f.storage.values[StorageKeyLastHydratedAt] = "2025-03-10T08:00:00Z"

	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	c := newCoordinator(f, f.remote, stubCredentials{}, WithCoordinatorClock(func() time.Time { return now }))
	require.NoError(t, c.Init(ctx))
	defer c.Dispose(ctx)

	assert.Equal(t, entities.HydrationStatusSuccess, c.Status().Hydration.Status)
	assert.Len(t, f.store.Patients(), 1)
}

func TestSyncCoordinator_PeriodicFlushStopsAfterSignOut(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	c := newCoordinator(f, f.remote, stubCredentials{}, WithFlushInterval(5*time.Millisecond))
	_, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Jane Doe"})
	require.NoError(t, err)
	f.storage.values[StorageKeyLastHydratedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	require.NoError(t, c.Init(ctx))

	_, err = f.store.AddPatient(ctx, entities.PatientProfile{Name: "John Roe"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.queue.Pending() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.HandleLifecycleEvent(ctx, entities.NewLifecycleEvent("owner-1", entities.LifecycleEventSignOut)))

	_, err = f.store.AddPatient(ctx, entities.PatientProfile{Name: "Late Entry"})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, f.queue.Pending())

	require.NoError(t, c.Dispose(ctx))
	assert.Equal(t, 0, f.queue.Pending())
}

func TestSyncCoordinator_FlushesOnPublishedLifecycleEvent(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	bus := newChanEventBus()
	c := newCoordinator(f, f.remote, stubCredentials{})
	c.SetEventBus(bus)
	f.storage.values[StorageKeyLastHydratedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	_, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Jane Doe"})
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))

	_, err = f.store.AddPatient(ctx, entities.PatientProfile{Name: "John Roe"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, providers.GetLifecycleChannel("owner-1"), entities.NewLifecycleEvent("owner-1", entities.LifecycleEventOnline)))

	assert.Eventually(t, func() bool { return len(f.remote.Items(f.tables.Patients)) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Dispose(ctx))
	assert.Equal(t, []string{providers.GetLifecycleChannel("owner-1")}, bus.unsubscribed)
}

func TestSyncCoordinator_StatusReportsDeadLetters(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("")
	c := newCoordinator(f, f.remote, nil)

	_, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Jane Doe"})
	require.NoError(t, err)
	require.NoError(t, c.FlushAll(ctx, "manual"))

	status := c.Status()
	require.Len(t, status.DeadLetters, 1)
	assert.Equal(t, 0, status.Queue.Total)
	assert.NotNil(t, status.LastSyncedAt)
}

func TestSyncCoordinator_SkippedFlushDoesNotStampLastSynced(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	c := newCoordinator(f, f.remote, stubCredentials{})

	entered := make(chan struct{})
	release := make(chan struct{})
	f.queue.Enqueue(SyncTask{Kind: TaskKindPut, Label: "slow", Run: func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	}})
	done := make(chan error, 1)
	go func() { done <- f.queue.FlushAll(ctx, "background") }()
	<-entered

	require.NoError(t, c.FlushAll(ctx, "focus"))
	assert.Nil(t, c.Status().LastSyncedAt)

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, c.FlushAll(ctx, "focus"))
	assert.NotNil(t, c.Status().LastSyncedAt)
}

func TestSyncCoordinator_LocalEditDuringHydrationSurvivesCommit(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture("owner-1")
	blocking := &blockingScanStore{MemoryRecordStore: f.remote, entered: make(chan struct{}), release: make(chan struct{})}
	c := newCoordinator(f, blocking, stubCredentials{})

	hydrated := make(chan error, 1)
	go func() { hydrated <- c.ForceHydrate(ctx) }()
	<-blocking.entered

	added := make(chan entities.Patient, 1)
	go func() {
		p, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Walk In"})
		assert.NoError(t, err)
		added <- p
	}()
	assert.Never(t, func() bool { return len(added) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(blocking.release)
	require.NoError(t, <-hydrated)
	patient := <-added

	_, ok := f.store.Patient(patient.ID)
	assert.True(t, ok)
	require.NoError(t, c.FlushAll(ctx, "focus"))
	items := f.remote.Items(f.tables.Patients)
	require.Len(t, items, 1)
	assert.Equal(t, patient.ID, items[0]["id"])
}
