package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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

const testOwnerIndex = "ownerUserId-index"

func ownerIndexes(tables TableNames) []remote.MemoryOption {
	return []remote.MemoryOption{
		remote.WithIndex(tables.Patients, testOwnerIndex, AttrOwnerUserID),
		remote.WithIndex(tables.Consultations, testOwnerIndex, AttrOwnerUserID),
		remote.WithIndex(tables.ClinicalNotes, testOwnerIndex, AttrOwnerUserID),
		remote.WithIndex(tables.Templates, testOwnerIndex, AttrOwnerUserID),
	}
}

// seedRemote writes one patient with one consultation, three segments and a note
func seedRemote(t *testing.T, f *syncFixture) (entities.Patient, entities.Consultation) {
	t.Helper()
	ctx := context.Background()

	patient, err := f.store.AddPatient(ctx, entities.PatientProfile{Name: "Jane Doe", DateOfBirth: "1995-05-01", Sex: "Female"})
	require.NoError(t, err)
	c, err := f.store.AddConsultationForPatient(ctx, patient.ID)
	require.NoError(t, err)
	c, err = f.store.AppendSegments(ctx, c.ID, []entities.TranscriptSegment{{ID: "s-a", Text: "first"}, {ID: "s-b", Text: "second"}, {ID: "s-c", Text: "third"}})
	require.NoError(t, err)
	_, err = f.store.SaveClinicalNote(ctx, entities.ClinicalNote{ConsultationID: c.ID, Content: "SOAP"})
	require.NoError(t, err)
	_, err = f.store.UpsertTemplate(ctx, entities.Template{Name: "Follow-up", Sections: []entities.TemplateSection{{Name: "Plan"}}})
	require.NoError(t, err)
	require.NoError(t, f.queue.FlushAll(ctx, "seed"))
	return patient, c
}

func TestHydrationService_RoundTripThroughOwnerIndex(t *testing.T) {
	tables := DefaultTableNames()
	f := newSyncFixture("owner-1", ownerIndexes(tables)...)
	patient, c := seedRemote(t, f)

	svc := NewHydrationService(f.remote, tables, "owner-1", WithOwnerIndex(testOwnerIndex))
	bundle, err := svc.Hydrate(context.Background())
	require.NoError(t, err)

	require.Len(t, bundle.Patients, 1)
	assert.Equal(t, patient.ID, bundle.Patients[0].ID)
	require.Len(t, bundle.Consultations, 1)
	require.Len(t, bundle.ClinicalNotes, 1)
	require.Len(t, bundle.Templates, 1)

	got := bundle.Consultations[0]
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, []string{"s-a", "s-b", "s-c"}, got.TranscriptSegments.Keys())
	assert.Equal(t, patient.DisplayName, got.PatientName)
	assert.Equal(t, "Jane Doe", got.PatientProfile.Name)
	assert.Equal(t, entities.HydrationStatusSuccess, svc.State().Status)
}

func TestHydrationService_FallsBackToScanWhenIndexMissing(t *testing.T) {
	tables := DefaultTableNames()
	f := newSyncFixture("owner-1")
	_, c := seedRemote(t, f)

	svc := NewHydrationService(f.remote, tables, "owner-1", WithOwnerIndex("no-such-index"))
	bundle, err := svc.Hydrate(context.Background())
	require.NoError(t, err)
	require.Len(t, bundle.Consultations, 1)
	assert.Equal(t, c.ID, bundle.Consultations[0].ID)
	assert.Equal(t, 3, bundle.Consultations[0].TranscriptSegments.Len())
}

func TestHydrationService_OnlyReturnsOwnedRecords(t *testing.T) {
	tables := DefaultTableNames()
	f := newSyncFixture("owner-1", remote.WithPageSize(1))
	seedRemote(t, f)

	other := NewDomainStore("owner-2", newMapStorage(), WithDispatcher(f.dispatcher), WithIDGenerator(sequentialIDs("o")))
	_, err := other.AddPatient(context.Background(), entities.PatientProfile{Name: "Someone Else"})
	require.NoError(t, err)
	require.NoError(t, f.queue.FlushAll(context.Background(), "seed"))
	require.Len(t, f.remote.Items(tables.Patients), 2)

	bundle, err := NewHydrationService(f.remote, tables, "owner-1").Hydrate(context.Background())
	require.NoError(t, err)
	require.Len(t, bundle.Patients, 1)
	assert.Equal(t, "owner-1", bundle.Patients[0].OwnerID)
}

func TestHydrationService_SegmentsOrderedByIndexNotInsertion(t *testing.T) {
	tables := DefaultTableNames()
	store := remote.NewMemoryRecordStore(tables.Schemas())
	ctx := context.Background()

	require.NoError(t, store.PutItem(ctx, tables.Consultations, providers.Item{"id": "c-1", "ownerUserId": "owner-1", "title": "Visit"}))
	for _, idx := range []int{2, 0, 1} {
		seg := entities.TranscriptSegment{ID: []string{"zero", "one", "two"}[idx], Text: "t"}
		require.NoError(t, store.PutItem(ctx, tables.TranscriptSegments, EncodeSegment("c-1", idx, "owner-1", seg, time.Now())))
	}

	bundle, err := NewHydrationService(store, tables, "owner-1").Hydrate(ctx)
	require.NoError(t, err)
	require.Len(t, bundle.Consultations, 1)
	assert.Equal(t, []string{"zero", "one", "two"}, bundle.Consultations[0].TranscriptSegments.Keys())
}

func matchTable(table string) any {
	return mock.MatchedBy(func(in providers.ScanInput) bool { return in.Table == table })
}

func emptyPage() *providers.Page {
	return &providers.Page{Items: []providers.Item{}}
}

func TestHydrationService_LegacySegmentsFoundByFullScan(t *testing.T) {
	tables := DefaultTableNames()
	store := new(MockRecordStore)

	store.On("Scan", mock.Anything, matchTable(tables.Patients)).Return(emptyPage(), nil)
	store.On("Scan", mock.Anything, matchTable(tables.ClinicalNotes)).Return(emptyPage(), nil)
	store.On("Scan", mock.Anything, matchTable(tables.Templates)).Return(emptyPage(), nil)
	store.On("Scan", mock.Anything, matchTable(tables.Consultations)).Return(&providers.Page{Items: []providers.Item{
		{"id": "c-legacy", "ownerId": "owner-1", "name": "Old visit"},
	}}, nil)

	store.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("ValidationException: key schema mismatch"))
	store.On("Scan", mock.Anything, mock.MatchedBy(func(in providers.ScanInput) bool {
		return in.Table == tables.TranscriptSegments && in.Filter != nil
	})).Return(emptyPage(), nil)
	store.On("Scan", mock.Anything, mock.MatchedBy(func(in providers.ScanInput) bool {
		return in.Table == tables.TranscriptSegments && in.Filter == nil
	})).Return(&providers.Page{Items: []providers.Item{
		{"consultation_id": "c-legacy", "segmentIndex": "1", "segment_id": "b", "text": "later"},
		{"consultation_id": "c-legacy", "segmentIndex": float64(0), "segment_id": "a", "text": "earlier"},
		{"consultation_id": "c-other", "segmentIndex": float64(0), "segment_id": "x", "text": "elsewhere"},
	}}, nil)

	svc := NewHydrationService(store, tables, "owner-1")
	bundle, err := svc.Hydrate(context.Background())
	require.NoError(t, err)

	require.Len(t, bundle.Consultations, 1)
	c := bundle.Consultations[0]
	assert.Equal(t, "Old visit", c.Title)
	assert.Equal(t, "owner-1", c.OwnerID)
	assert.Equal(t, []string{"a", "b"}, c.TranscriptSegments.Keys())
	seg, ok := c.TranscriptSegments.Get("b")
	require.True(t, ok)
	assert.Equal(t, "later", seg.DisplayText)
}

func TestHydrationService_TableFailureAbortsAttempt(t *testing.T) {
	tables := DefaultTableNames()
	store := new(MockRecordStore)
	store.On("Scan", mock.Anything, matchTable(tables.Patients)).Return(nil, errors.New("AccessDeniedException"))
	store.On("Scan", mock.Anything, mock.Anything).Return(emptyPage(), nil)

	svc := NewHydrationService(store, tables, "owner-1")
	bundle, err := svc.Hydrate(context.Background())

	assert.Nil(t, bundle)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
	state := svc.State()
	assert.Equal(t, entities.HydrationStatusError, state.Status)
	assert.Contains(t, state.Message, "hydration failed")
	require.NotNil(t, state.CompletedAt)
}

func TestHydrationService_SegmentFailureLeavesTranscriptEmpty(t *testing.T) {
	tables := DefaultTableNames()
	store := new(MockRecordStore)
	store.On("Scan", mock.Anything, matchTable(tables.Patients)).Return(emptyPage(), nil)
	store.On("Scan", mock.Anything, matchTable(tables.ClinicalNotes)).Return(emptyPage(), nil)
	store.On("Scan", mock.Anything, matchTable(tables.Templates)).Return(emptyPage(), nil)
	store.On("Scan", mock.Anything, matchTable(tables.Consultations)).Return(&providers.Page{Items: []providers.Item{
		{"id": "c-1", "ownerUserId": "owner-1"},
	}}, nil)
	store.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))
	store.On("Scan", mock.Anything, matchTable(tables.TranscriptSegments)).Return(nil, errors.New("throttled"))

	bundle, err := NewHydrationService(store, tables, "owner-1").Hydrate(context.Background())
	require.NoError(t, err)
	require.Len(t, bundle.Consultations, 1)
	assert.Equal(t, 0, bundle.Consultations[0].TranscriptSegments.Len())
}

func TestHydrationService_RequiresOwner(t *testing.T) {
	svc := NewHydrationService(new(MockRecordStore), DefaultTableNames(), "")
	_, err := svc.Hydrate(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Equal(t, entities.HydrationStatusError, svc.State().Status)
}

func TestHydrationService_MarkFailed(t *testing.T) {
	svc := NewHydrationService(new(MockRecordStore), DefaultTableNames(), "owner-1")
	assert.Equal(t, entities.HydrationStatusIdle, svc.State().Status)

	svc.MarkFailed(errors.New("no current user session"))
	state := svc.State()
	assert.Equal(t, entities.HydrationStatusError, state.Status)
	assert.Equal(t, "no current user session", state.Message)
}

// slowSegmentStore delays segment queries and tracks how many run at once
type slowSegmentStore struct {
	*remote.MemoryRecordStore
	segmentsTable string
	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
	mu            sync.Mutex
}

func (s *slowSegmentStore) Query(ctx context.Context, input providers.QueryInput) (*providers.Page, error) {
	if input.Table == s.segmentsTable {
		n := s.inFlight.Add(1)
		s.mu.Lock()
		if n > s.maxInFlight.Load() {
			s.maxInFlight.Store(n)
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		defer s.inFlight.Add(-1)
	}
	return s.MemoryRecordStore.Query(ctx, input)
}

func TestHydrationService_BoundsSegmentConcurrency(t *testing.T) {
	tables := DefaultTableNames()
	ctx := context.Background()
	mem := remote.NewMemoryRecordStore(tables.Schemas())
	for _, id := range []string{"c-1", "c-2", "c-3", "c-4", "c-5", "c-6", "c-7"} {
		require.NoError(t, mem.PutItem(ctx, tables.Consultations, providers.Item{"id": id, "ownerUserId": "owner-1"}))
		require.NoError(t, mem.PutItem(ctx, tables.TranscriptSegments, EncodeSegment(id, 0, "owner-1", entities.TranscriptSegment{ID: id + "-s"}, time.Now())))
	}
	store := &slowSegmentStore{MemoryRecordStore: mem, segmentsTable: tables.TranscriptSegments}

	bundle, err := NewHydrationService(store, tables, "owner-1", WithHydrationConcurrency(2)).Hydrate(ctx)
	require.NoError(t, err)
	require.Len(t, bundle.Consultations, 7)
	for _, c := range bundle.Consultations {
		assert.Equal(t, 1, c.TranscriptSegments.Len())
	}
	assert.LessOrEqual(t, store.maxInFlight.Load(), int32(2))
	assert.GreaterOrEqual(t, store.maxInFlight.Load(), int32(1))
}
