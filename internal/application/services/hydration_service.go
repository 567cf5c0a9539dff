package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zatekoja/scribesync/internal/domain/entities"
	"github.com/zatekoja/scribesync/internal/domain/providers"
	"github.com/zatekoja/scribesync/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

const (
	// DefaultHydrationConcurrency caps concurrent per-consultation segment lookups
	DefaultHydrationConcurrency = 3

	queryPageLimit = 100
	scanPageLimit  = 50
)

// HydrationBundle is the full remote state of one principal
type HydrationBundle struct {
	Patients      []entities.Patient
	Consultations []entities.Consultation
	ClinicalNotes []entities.ClinicalNote
	Templates     []entities.Template
}

// HydrationService rebuilds local state from the remote store
type HydrationService struct {
	store       providers.RecordStore
	tables      TableNames
	ownerID     string
	ownerIndex  string
	concurrency int
	metrics     *observability.Metrics
	now         func() time.Time

	mu    sync.Mutex
	state entities.HydrationState
}

// HydrationOption configures a HydrationService
type HydrationOption func(*HydrationService)

// WithOwnerIndex queries owned records through the named secondary index
// before falling back to a filtered scan
func WithOwnerIndex(indexName string) HydrationOption {
	return func(s *HydrationService) {
		s.ownerIndex = indexName
	}
}

// WithHydrationConcurrency caps concurrent segment lookups
func WithHydrationConcurrency(n int) HydrationOption {
	return func(s *HydrationService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithHydrationClock overrides the clock used for state timestamps
func WithHydrationClock(now func() time.Time) HydrationOption {
	return func(s *HydrationService) {
		s.now = now
	}
}

// NewHydrationService creates a hydration service for ownerID
func NewHydrationService(store providers.RecordStore, tables TableNames, ownerID string, opts ...HydrationOption) *HydrationService {
	s := &HydrationService{
		store:       store,
		tables:      tables,
		ownerID:     ownerID,
		concurrency: DefaultHydrationConcurrency,
		now:         time.Now,
		state:       entities.HydrationState{Status: entities.HydrationStatusIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetMetrics attaches otel metrics to the service
func (s *HydrationService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// State returns the state of the most recent hydration attempt
func (s *HydrationService) State() entities.HydrationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Retry starts a new hydration attempt
func (s *HydrationService) Retry(ctx context.Context) (*HydrationBundle, error) {
	return s.Hydrate(ctx)
}

// MarkFailed moves the service to the error state without fetching
func (s *HydrationService) MarkFailed(err error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = entities.HydrationState{
		Status:      entities.HydrationStatusError,
		Message:     err.Error(),
		StartedAt:   s.state.StartedAt,
		CompletedAt: &now,
	}
}

// Hydrate fetches every record owned by the principal. Any table fetch error
// fails the whole attempt; segment lookup errors only leave that
// consultation's transcript empty.
func (s *HydrationService) Hydrate(ctx context.Context) (*HydrationBundle, error) {
	started := s.now()
	s.mu.Lock()
	s.state = entities.HydrationState{Status: entities.HydrationStatusLoading, StartedAt: &started}
	s.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "HydrationService.Hydrate")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("sync.owner_id", s.ownerID))

	bundle, err := s.hydrate(ctx)

	finished := s.now()
	s.mu.Lock()
	if err != nil {
		s.state = entities.HydrationState{
			Status:      entities.HydrationStatusError,
			Message:     err.Error(),
			StartedAt:   &started,
			CompletedAt: &finished,
		}
	} else {
		s.state = entities.HydrationState{
			Status:      entities.HydrationStatusSuccess,
			StartedAt:   &started,
			CompletedAt: &finished,
		}
	}
	status := s.state.Status
	s.mu.Unlock()

	observability.RecordHydrationDuration(ctx, s.metrics, string(status), finished.Sub(started))
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return bundle, nil
}

func (s *HydrationService) hydrate(ctx context.Context) (*HydrationBundle, error) {
	logger := observability.LoggerFromContext(ctx)
	if s.ownerID == "" {
		return nil, apperrors.NewValidationError("owner id is required for hydration")
	}

	var patientItems, consultationItems, noteItems, templateItems []providers.Item
	g, gctx := errgroup.WithContext(ctx)
	fetches := []struct {
		table string
		dest  *[]providers.Item
	}{
		{s.tables.Patients, &patientItems},
		{s.tables.Consultations, &consultationItems},
		{s.tables.ClinicalNotes, &noteItems},
		{s.tables.Templates, &templateItems},
	}
	for _, f := range fetches {
		g.Go(func() error {
			items, err := s.fetchOwned(gctx, f.table)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", f.table, err)
			}
			*f.dest = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.NewExternalError("hydration failed", err)
	}

	bundle := &HydrationBundle{
		Patients:      decodeAll(patientItems, DecodePatient, "patient"),
		Consultations: decodeAll(consultationItems, DecodeConsultation, "consultation"),
		ClinicalNotes: decodeAll(noteItems, DecodeClinicalNote, "clinical note"),
		Templates:     decodeAll(templateItems, DecodeTemplate, "template"),
	}

	segments, err := s.fetchSegments(ctx, bundle.Consultations)
	if err != nil {
		return nil, apperrors.NewExternalError("hydration failed", err)
	}

	patientsByID := make(map[string]entities.Patient, len(bundle.Patients))
	for _, p := range bundle.Patients {
		patientsByID[p.ID] = p
	}
	for i := range bundle.Consultations {
		c := &bundle.Consultations[i]
		if ordered, ok := segments[c.ID]; ok {
			c.TranscriptSegments = ordered
		}
		if p, ok := patientsByID[c.PatientID]; ok {
			c.PatientProfile = p.Profile
			if p.DisplayName != "" {
				c.PatientName = p.DisplayName
			}
		}
	}

	logger.Info().
		Int("patients", len(bundle.Patients)).
		Int("consultations", len(bundle.Consultations)).
		Int("clinical_notes", len(bundle.ClinicalNotes)).
		Int("templates", len(bundle.Templates)).
		Int("transcripts", len(segments)).
		Msg("hydration complete")
	return bundle, nil
}

// fetchOwned reads every record of table owned by the principal, preferring
// the owner index and falling back to a filtered scan
func (s *HydrationService) fetchOwned(ctx context.Context, table string) ([]providers.Item, error) {
	owner := providers.Condition{Attribute: AttrOwnerUserID, Value: s.ownerID}

	if s.ownerIndex != "" {
		items, err := collectPages(ctx, func(start providers.Key) (*providers.Page, error) {
			return s.store.Query(ctx, providers.QueryInput{
				Table:             table,
				IndexName:         s.ownerIndex,
				KeyCondition:      owner,
				ExclusiveStartKey: start,
				Limit:             queryPageLimit,
			})
		})
		if err == nil {
			return items, nil
		}
		log.Warn().Err(err).Str("table", table).Str("index", s.ownerIndex).Msg("owner index query failed, falling back to scan")
	}

	return collectPages(ctx, func(start providers.Key) (*providers.Page, error) {
		return s.store.Scan(ctx, providers.ScanInput{
			Table:             table,
			Filter:            &owner,
			ExclusiveStartKey: start,
			Limit:             scanPageLimit,
		})
	})
}

// fetchSegments looks up transcripts for every consultation with at most
// s.concurrency lookups in flight
func (s *HydrationService) fetchSegments(ctx context.Context, consultations []entities.Consultation) (map[string]*entities.OrderedSegments, error) {
	results := make(map[string]*entities.OrderedSegments, len(consultations))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, c := range consultations {
		consultationID := c.ID
		g.Go(func() error {
			records, err := s.segmentsFor(ctx, consultationID)
			if err != nil {
				log.Error().Err(err).Str("consultation_id", consultationID).Msg("transcript lookup failed")
				return nil
			}
			if len(records) == 0 {
				return nil
			}
			mu.Lock()
			results[consultationID] = SortSegments(records)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// segmentsFor tries, in order, a key query on consultationId, a filtered scan
// on consultationId, and a full scan matching any consultation id alias. The
// full scan stops at the first page with matches.
func (s *HydrationService) segmentsFor(ctx context.Context, consultationID string) ([]entities.IndexedSegment, error) {
	table := s.tables.TranscriptSegments
	cond := providers.Condition{Attribute: AttrConsultationID, Value: consultationID}

	items, err := collectPages(ctx, func(start providers.Key) (*providers.Page, error) {
		return s.store.Query(ctx, providers.QueryInput{
			Table:             table,
			KeyCondition:      cond,
			ExclusiveStartKey: start,
			Limit:             queryPageLimit,
		})
	})
	if err != nil {
		log.Debug().Err(err).Str("consultation_id", consultationID).Msg("segment key query failed")
	} else if records := decodeSegments(items, consultationID); len(records) > 0 {
		return records, nil
	}

	items, err = collectPages(ctx, func(start providers.Key) (*providers.Page, error) {
		return s.store.Scan(ctx, providers.ScanInput{
			Table:             table,
			Filter:            &cond,
			ExclusiveStartKey: start,
		})
	})
	if err != nil {
		log.Debug().Err(err).Str("consultation_id", consultationID).Msg("segment filtered scan failed")
	} else if records := decodeSegments(items, consultationID); len(records) > 0 {
		return records, nil
	}

	aliases := ConsultationIDAliases()
	var start providers.Key
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.store.Scan(ctx, providers.ScanInput{Table: table, ExclusiveStartKey: start})
		if err != nil {
			return nil, fmt.Errorf("all segment lookups failed for %s: %w", consultationID, err)
		}
		var matched []providers.Item
		for _, item := range page.Items {
			if stringAttr(item, aliases...) == consultationID {
				matched = append(matched, item)
			}
		}
		if records := decodeSegments(matched, consultationID); len(records) > 0 {
			return records, nil
		}
		if len(page.LastEvaluatedKey) == 0 {
			return nil, nil
		}
		start = page.LastEvaluatedKey
	}
}

func decodeSegments(items []providers.Item, consultationID string) []entities.IndexedSegment {
	records := make([]entities.IndexedSegment, 0, len(items))
	for _, item := range items {
		rec, err := DecodeSegmentRecord(item)
		if err != nil {
			log.Debug().Err(err).Str("consultation_id", consultationID).Msg("skipping undecodable segment")
			continue
		}
		if rec.ConsultationID != consultationID {
			continue
		}
		records = append(records, rec)
	}
	return records
}

func decodeAll[T any](items []providers.Item, decode func(providers.Item) (T, error), kind string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, err := decode(item)
		if err != nil {
			log.Warn().Err(err).Str("kind", kind).Msg("skipping undecodable record")
			continue
		}
		out = append(out, v)
	}
	return out
}

// collectPages follows LastEvaluatedKey until the last page
func collectPages(ctx context.Context, fetch func(start providers.Key) (*providers.Page, error)) ([]providers.Item, error) {
	var items []providers.Item
	var start providers.Key
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(start)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if len(page.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = page.LastEvaluatedKey
	}
}
