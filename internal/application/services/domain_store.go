package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/scribesync/internal/domain/entities"
	"github.com/zatekoja/scribesync/internal/domain/providers"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

// Local storage keys
const (
	StorageKeyConsultations        = "consultations"
	StorageKeyPatients             = "patients"
	StorageKeyTemplates            = "templates"
	StorageKeyClinicalNotes        = "clinicalNotes"
	StorageKeyActiveConsultationID = "activeConsultationId"
	StorageKeyLastHydratedAt       = "lastHydratedAt"
)

var (
	// ErrUnknownPatient is returned for operations on a patient that does not exist
	ErrUnknownPatient = apperrors.NewNotFoundError("patient not found")

	// ErrUnknownConsultation is returned for operations on a consultation that does not exist
	ErrUnknownConsultation = apperrors.NewNotFoundError("consultation not found")

	// ErrUnknownTemplate is returned for operations on a template that does not exist
	ErrUnknownTemplate = apperrors.NewNotFoundError("template not found")

	// ErrUnknownClinicalNote is returned for operations on a note that does not exist
	ErrUnknownClinicalNote = apperrors.NewNotFoundError("clinical note not found")
)

// RemoteSync queues remote writes for local changes
type RemoteSync interface {
	EnqueuePatientUpsert(patient entities.Patient) error
	EnqueuePatientDeletion(patientID, ownerID string) error
	EnqueueConsultationUpsert(consultation entities.Consultation) error
	EnqueueConsultationDeletion(consultationID, ownerID string) error
	EnqueueTranscriptSegments(consultationID string, segments []entities.TranscriptSegment, baseIndex int, ownerID string) error
	EnqueueSegmentDeletion(consultationID string, segmentIndex int, ownerID string) error
	EnqueueTemplateUpsert(template entities.Template) error
	EnqueueTemplateDeletion(templateID, ownerID string) error
	EnqueueClinicalNote(note entities.ClinicalNote) error
	EnqueueClinicalNoteDeletion(noteID, ownerID string) error
}

// StoreSnapshot is a point-in-time copy of the local domain store
type StoreSnapshot struct {
	Patients             []entities.Patient      `json:"patients"`
	Consultations        []entities.Consultation `json:"consultations"`
	Templates            []entities.Template     `json:"templates"`
	ClinicalNotes        []entities.ClinicalNote `json:"clinicalNotes"`
	ActiveConsultationID string                  `json:"activeConsultationId,omitempty"`
	LastHydratedAt       *time.Time              `json:"lastHydratedAt,omitempty"`
}

// DomainStore holds the canonical local copy of patients, consultations,
// templates and clinical notes. Every mutation runs under one lock, is
// persisted to local storage, and is then queued for the remote store.
type DomainStore struct {
	// writes is shared by every mutation and held exclusively by HoldWrites
	writes  sync.RWMutex
	mu      sync.Mutex
	ownerID string
	storage providers.LocalStorage
	remote  RemoteSync
	now     func() time.Time
	newID   func() string

	patients       []entities.Patient
	consultations  []entities.Consultation
	templates      []entities.Template
	notes          []entities.ClinicalNote
	activeID       string
	lastHydratedAt *time.Time
}

// StoreOption configures a DomainStore
type StoreOption func(*DomainStore)

// WithClock overrides the store's clock
func WithClock(now func() time.Time) StoreOption {
	return func(s *DomainStore) {
		s.now = now
	}
}

// WithDispatcher queues remote writes for every local change
func WithDispatcher(remote RemoteSync) StoreOption {
	return func(s *DomainStore) {
		s.remote = remote
	}
}

// WithIDGenerator overrides how new record IDs are generated
func WithIDGenerator(newID func() string) StoreOption {
	return func(s *DomainStore) {
		s.newID = newID
	}
}

// NewDomainStore creates an empty store for ownerID persisted to storage
func NewDomainStore(ownerID string, storage providers.LocalStorage, opts ...StoreOption) *DomainStore {
	s := &DomainStore{
		ownerID: ownerID,
		storage: storage,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HoldWrites blocks every local mutation until the returned release func is
// called. Reads and ReplaceAll are not blocked. Hydration holds it from the
// pre-hydrate flush until its bundle is committed, so no local edit can be
// overwritten by ReplaceAll while its remote write is still queued.
func (s *DomainStore) HoldWrites() (release func()) {
	s.writes.Lock()
	var once sync.Once
	return func() { once.Do(s.writes.Unlock) }
}

func (s *DomainStore) lockForWrite() (unlock func()) {
	s.writes.RLock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.writes.RUnlock()
	}
}

// OwnerID returns the principal that owns the store's records
func (s *DomainStore) OwnerID() string {
	return s.ownerID
}

// Load restores state from local storage. Missing keys leave the
// corresponding collection empty; unreadable values are logged and skipped.
func (s *DomainStore) Load(ctx context.Context) error {
	defer s.lockForWrite()()

	var (
		patients      []entities.Patient
		consultations []entities.Consultation
		templates     []entities.Template
		notes         []entities.ClinicalNote
	)
	targets := []struct {
		key  string
		dest any
	}{
		{StorageKeyPatients, &patients},
		{StorageKeyConsultations, &consultations},
		{StorageKeyTemplates, &templates},
		{StorageKeyClinicalNotes, &notes},
	}
	for _, target := range targets {
		raw, err := s.storage.Get(ctx, target.key)
		if errors.Is(err, providers.ErrStorageKeyNotFound) {
			continue
		}
		if err != nil {
			return apperrors.NewInternalError("failed to read local storage", err)
		}
		if err := json.Unmarshal([]byte(raw), target.dest); err != nil {
			log.Warn().Err(err).Str("key", target.key).Msg("discarding unreadable local state")
		}
	}

	for i := range patients {
		if patients[i].OwnerID == "" {
			patients[i].OwnerID = s.ownerID
		}
	}
	for i := range consultations {
		consultations[i].ApplyDefaults()
		if consultations[i].OwnerID == "" {
			consultations[i].OwnerID = s.ownerID
		}
	}

	s.patients = patients
	s.consultations = consultations
	s.templates = templates
	s.notes = notes
	s.activeID = ""
	s.lastHydratedAt = nil

	if active, err := s.storage.Get(ctx, StorageKeyActiveConsultationID); err == nil {
		if s.consultationIndex(active) >= 0 {
			s.activeID = active
		}
	} else if !errors.Is(err, providers.ErrStorageKeyNotFound) {
		return apperrors.NewInternalError("failed to read local storage", err)
	}

	if raw, err := s.storage.Get(ctx, StorageKeyLastHydratedAt); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			s.lastHydratedAt = &t
		}
	} else if !errors.Is(err, providers.ErrStorageKeyNotFound) {
		return apperrors.NewInternalError("failed to read local storage", err)
	}

	return nil
}

// AddPatient upserts the patient identified by profile and clears the
// active consultation
func (s *DomainStore) AddPatient(ctx context.Context, profile entities.PatientProfile) (entities.Patient, error) {
	if strings.TrimSpace(profile.Name) == "" {
		return entities.Patient{}, apperrors.NewValidationError("patient name is required")
	}

	defer s.lockForWrite()()

	patient := s.upsertPatient(profile, s.now())
	s.activeID = ""

	err := s.persist(ctx, StorageKeyPatients, StorageKeyActiveConsultationID)
	s.sync(func(r RemoteSync) error { return r.EnqueuePatientUpsert(patient) })
	return patient, err
}

// AddConsultationForPatient creates a consultation for an existing patient and
// makes it active
func (s *DomainStore) AddConsultationForPatient(ctx context.Context, patientID string) (entities.Consultation, error) {
	defer s.lockForWrite()()

	pi := s.patientIndex(patientID)
	if pi < 0 {
		return entities.Consultation{}, ErrUnknownPatient
	}
	patient := s.patients[pi]

	number := 1
	for _, c := range s.consultations {
		if c.PatientID == patientID {
			number++
		}
	}

	c := entities.NewConsultation(s.newID())
	c.Title = fmt.Sprintf("Consultation %d", number)
	c.UpdatedAt = s.now()
	c.PatientID = patient.ID
	c.PatientName = patient.DisplayName
	c.PatientProfile = patient.Profile
	c.OwnerID = patient.OwnerID
	if c.OwnerID == "" {
		c.OwnerID = s.ownerID
	}

	s.consultations = append(s.consultations, c)
	s.activeID = c.ID

	err := s.persist(ctx, StorageKeyConsultations, StorageKeyActiveConsultationID)
	created := c.Clone()
	s.sync(func(r RemoteSync) error { return r.EnqueueConsultationUpsert(created) })
	return c.Clone(), err
}

// UpdateConsultation merges patch into the consultation. A patient profile in
// the patch re-derives the patient identity and upserts the patient record in
// the same transition.
func (s *DomainStore) UpdateConsultation(ctx context.Context, id string, patch entities.ConsultationPatch) (entities.Consultation, error) {
	if patch.SessionState != nil && !patch.SessionState.Valid() {
		return entities.Consultation{}, apperrors.NewValidationError(fmt.Sprintf("unknown session state %q", *patch.SessionState))
	}

	defer s.lockForWrite()()

	ci := s.consultationIndex(id)
	if ci < 0 {
		return entities.Consultation{}, ErrUnknownConsultation
	}

	now := s.now()
	c := s.consultations[ci].Clone()
	previousSegments := c.TranscriptSegments.Len()
	patch.Apply(&c)
	c.UpdatedAt = now
	if c.OwnerID == "" {
		c.OwnerID = s.ownerID
	}

	keys := []string{StorageKeyConsultations}
	var patient *entities.Patient
	if patch.PatientProfile != nil {
		profile := c.PatientProfile.Merge(*patch.PatientProfile)
		p := s.upsertPatient(profile, now)
		c.PatientProfile = profile
		c.PatientID = p.ID
		c.PatientName = p.DisplayName
		patient = &p
		keys = append(keys, StorageKeyPatients)
	}
	s.consultations[ci] = c

	err := s.persist(ctx, keys...)
	if patch.AffectsRemote() {
		updated := c.Clone()
		s.sync(func(r RemoteSync) error { return r.EnqueueConsultationUpsert(updated) })
	}
	if patient != nil {
		s.sync(func(r RemoteSync) error { return r.EnqueuePatientUpsert(*patient) })
	}
	if patch.TranscriptSegments != nil {
		s.rewriteRemoteSegments(c, previousSegments)
	}
	return c.Clone(), err
}

// DeleteConsultation removes a consultation and its clinical notes
func (s *DomainStore) DeleteConsultation(ctx context.Context, id string) error {
	defer s.lockForWrite()()

	ci := s.consultationIndex(id)
	if ci < 0 {
		return ErrUnknownConsultation
	}
	owner := s.ownerFor(s.consultations[ci].OwnerID)
	segmentCount := s.consultations[ci].TranscriptSegments.Len()

	s.consultations = append(s.consultations[:ci:ci], s.consultations[ci+1:]...)
	removedNotes := s.removeNotesFor(map[string]bool{id: true})
	s.reassignActive()

	err := s.persist(ctx, StorageKeyConsultations, StorageKeyClinicalNotes, StorageKeyActiveConsultationID)
	s.sync(func(r RemoteSync) error { return r.EnqueueConsultationDeletion(id, owner) })
	s.deleteRemoteSegments(id, owner, 0, segmentCount)
	for _, n := range removedNotes {
		noteID, noteOwner := n.ID, s.ownerFor(n.OwnerID)
		s.sync(func(r RemoteSync) error { return r.EnqueueClinicalNoteDeletion(noteID, noteOwner) })
	}
	return err
}

// DeletePatient removes a patient together with its consultations and their notes
func (s *DomainStore) DeletePatient(ctx context.Context, patientID string) error {
	defer s.lockForWrite()()

	pi := s.patientIndex(patientID)
	removed := map[string]bool{}
	var removedConsultations []entities.Consultation
	kept := s.consultations[:0:0]
	for _, c := range s.consultations {
		if c.PatientID == patientID {
			removed[c.ID] = true
			removedConsultations = append(removedConsultations, c)
			continue
		}
		kept = append(kept, c)
	}
	if pi < 0 && len(removed) == 0 {
		return ErrUnknownPatient
	}

	patientOwner := s.ownerID
	if pi >= 0 {
		patientOwner = s.ownerFor(s.patients[pi].OwnerID)
		s.patients = append(s.patients[:pi:pi], s.patients[pi+1:]...)
	}
	s.consultations = kept
	removedNotes := s.removeNotesFor(removed)
	s.reassignActive()

	err := s.persist(ctx, StorageKeyPatients, StorageKeyConsultations, StorageKeyClinicalNotes, StorageKeyActiveConsultationID)
	if pi >= 0 {
		s.sync(func(r RemoteSync) error { return r.EnqueuePatientDeletion(patientID, patientOwner) })
	}
	for _, c := range removedConsultations {
		consultationID, owner := c.ID, s.ownerFor(c.OwnerID)
		s.sync(func(r RemoteSync) error { return r.EnqueueConsultationDeletion(consultationID, owner) })
		s.deleteRemoteSegments(consultationID, owner, 0, c.TranscriptSegments.Len())
	}
	for _, n := range removedNotes {
		noteID, noteOwner := n.ID, s.ownerFor(n.OwnerID)
		s.sync(func(r RemoteSync) error { return r.EnqueueClinicalNoteDeletion(noteID, noteOwner) })
	}
	return err
}

// ResetConsultation clears transcript and working state so a fresh recording
// can start
func (s *DomainStore) ResetConsultation(ctx context.Context, id string) (entities.Consultation, error) {
	defer s.lockForWrite()()

	ci := s.consultationIndex(id)
	if ci < 0 {
		return entities.Consultation{}, ErrUnknownConsultation
	}
	c := s.consultations[ci].Clone()
	segmentCount := c.TranscriptSegments.Len()
	c.TranscriptSegments = entities.NewOrderedSegments()
	c.InterimTranscript = ""
	c.InterimSpeaker = nil
	c.Notes = nil
	c.Error = nil
	c.Loading = false
	c.SessionState = entities.SessionStateIdle
	c.UpdatedAt = s.now()
	s.consultations[ci] = c

	err := s.persist(ctx, StorageKeyConsultations)
	reset := c.Clone()
	s.sync(func(r RemoteSync) error { return r.EnqueueConsultationUpsert(reset) })
	s.deleteRemoteSegments(id, s.ownerFor(c.OwnerID), 0, segmentCount)
	return c.Clone(), err
}

// FinalizeConsultationTimestamp sets createdAt the first time it is called
func (s *DomainStore) FinalizeConsultationTimestamp(ctx context.Context, id string) (entities.Consultation, error) {
	defer s.lockForWrite()()

	ci := s.consultationIndex(id)
	if ci < 0 {
		return entities.Consultation{}, ErrUnknownConsultation
	}
	if s.consultations[ci].CreatedAt != nil {
		return s.consultations[ci].Clone(), nil
	}

	now := s.now()
	c := s.consultations[ci].Clone()
	c.CreatedAt = &now
	c.UpdatedAt = now
	s.consultations[ci] = c

	err := s.persist(ctx, StorageKeyConsultations)
	finalized := c.Clone()
	s.sync(func(r RemoteSync) error { return r.EnqueueConsultationUpsert(finalized) })
	return c.Clone(), err
}

// SetActiveConsultation selects a consultation; an empty id clears the selection
func (s *DomainStore) SetActiveConsultation(ctx context.Context, id string) error {
	defer s.lockForWrite()()

	if id != "" && s.consultationIndex(id) < 0 {
		return ErrUnknownConsultation
	}
	s.activeID = id
	return s.persist(ctx, StorageKeyActiveConsultationID)
}

// AppendSegments adds finalized segments to a consultation and queues them
// for sync. New segments are queued from the consultation's size before the
// append; segments already present are replaced in place and re-synced at
// their existing index.
func (s *DomainStore) AppendSegments(ctx context.Context, consultationID string, segments []entities.TranscriptSegment) (entities.Consultation, error) {
	for i, seg := range segments {
		if seg.ID == "" {
			return entities.Consultation{}, apperrors.NewValidationError(fmt.Sprintf("segment at offset %d has no id", i))
		}
	}

	defer s.lockForWrite()()

	ci := s.consultationIndex(consultationID)
	if ci < 0 {
		return entities.Consultation{}, ErrUnknownConsultation
	}
	c := s.consultations[ci].Clone()
	owner := s.ownerFor(c.OwnerID)

	baseIndex := c.TranscriptSegments.Len()
	var appended []entities.TranscriptSegment
	type redelivery struct {
		index   int
		segment entities.TranscriptSegment
	}
	var redelivered []redelivery
	for _, seg := range segments {
		index, isNew := c.TranscriptSegments.Set(seg)
		if isNew {
			appended = append(appended, seg)
		} else {
			redelivered = append(redelivered, redelivery{index: index, segment: seg})
		}
	}
	c.UpdatedAt = s.now()
	s.consultations[ci] = c

	err := s.persist(ctx, StorageKeyConsultations)
	if len(appended) > 0 {
		s.sync(func(r RemoteSync) error {
			return r.EnqueueTranscriptSegments(consultationID, appended, baseIndex, owner)
		})
	}
	for _, rd := range redelivered {
		s.sync(func(r RemoteSync) error {
			return r.EnqueueTranscriptSegments(consultationID, []entities.TranscriptSegment{rd.segment}, rd.index, owner)
		})
	}
	return c.Clone(), err
}

// EnqueueSegmentsForSync queues segments the caller has already stored
// locally. baseIndex must be the local segment count before they were added.
func (s *DomainStore) EnqueueSegmentsForSync(ctx context.Context, consultationID string, segments []entities.TranscriptSegment, baseIndex int) error {
	defer s.lockForWrite()()

	if s.remote == nil {
		return nil
	}
	owner := s.ownerID
	if ci := s.consultationIndex(consultationID); ci >= 0 {
		owner = s.ownerFor(s.consultations[ci].OwnerID)
	}
	return s.remote.EnqueueTranscriptSegments(consultationID, segments, baseIndex, owner)
}

// UpsertTemplate validates and stores a template
func (s *DomainStore) UpsertTemplate(ctx context.Context, template entities.Template) (entities.Template, error) {
	if err := template.Validate(); err != nil {
		return entities.Template{}, apperrors.NewValidationError(err.Error())
	}

	defer s.lockForWrite()()

	now := s.now()
	if template.ID == "" {
		template.ID = s.newID()
	}
	if template.OwnerID == "" {
		template.OwnerID = s.ownerID
	}
	template.Sections = append([]entities.TemplateSection(nil), template.Sections...)
	for i := range template.Sections {
		if template.Sections[i].ID == "" {
			template.Sections[i].ID = fmt.Sprintf("sec_%d", i+1)
		}
	}
	template.UpdatedAt = now

	if ti := s.templateIndex(template.ID); ti >= 0 {
		template.CreatedAt = s.templates[ti].CreatedAt
		s.templates[ti] = template
	} else {
		template.CreatedAt = now
		s.templates = append(s.templates, template)
	}

	err := s.persist(ctx, StorageKeyTemplates)
	s.sync(func(r RemoteSync) error { return r.EnqueueTemplateUpsert(template) })
	return template, err
}

// DeleteTemplate removes a template
func (s *DomainStore) DeleteTemplate(ctx context.Context, id string) error {
	defer s.lockForWrite()()

	ti := s.templateIndex(id)
	if ti < 0 {
		return ErrUnknownTemplate
	}
	owner := s.ownerFor(s.templates[ti].OwnerID)
	s.templates = append(s.templates[:ti:ti], s.templates[ti+1:]...)

	err := s.persist(ctx, StorageKeyTemplates)
	s.sync(func(r RemoteSync) error { return r.EnqueueTemplateDeletion(id, owner) })
	return err
}

// SaveClinicalNote stores a generated note for a known consultation
func (s *DomainStore) SaveClinicalNote(ctx context.Context, note entities.ClinicalNote) (entities.ClinicalNote, error) {
	if note.ConsultationID == "" {
		return entities.ClinicalNote{}, apperrors.NewValidationError("clinical note requires a consultation id")
	}

	defer s.lockForWrite()()

	ci := s.consultationIndex(note.ConsultationID)
	if ci < 0 {
		return entities.ClinicalNote{}, ErrUnknownConsultation
	}

	now := s.now()
	if note.ID == "" {
		note.ID = s.newID()
	}
	if note.OwnerID == "" {
		note.OwnerID = s.ownerFor(s.consultations[ci].OwnerID)
	}
	if note.NoteType == "" {
		note.NoteType = s.consultations[ci].NoteType
	}
	note.UpdatedAt = now

	if ni := s.noteIndex(note.ID); ni >= 0 {
		note.CreatedAt = s.notes[ni].CreatedAt
		s.notes[ni] = note
	} else {
		note.CreatedAt = now
		s.notes = append(s.notes, note)
	}

	err := s.persist(ctx, StorageKeyClinicalNotes)
	s.sync(func(r RemoteSync) error { return r.EnqueueClinicalNote(note) })
	return note, err
}

// DeleteClinicalNote removes a clinical note
func (s *DomainStore) DeleteClinicalNote(ctx context.Context, id string) error {
	defer s.lockForWrite()()

	ni := s.noteIndex(id)
	if ni < 0 {
		return ErrUnknownClinicalNote
	}
	owner := s.ownerFor(s.notes[ni].OwnerID)
	s.notes = append(s.notes[:ni:ni], s.notes[ni+1:]...)

	err := s.persist(ctx, StorageKeyClinicalNotes)
	s.sync(func(r RemoteSync) error { return r.EnqueueClinicalNoteDeletion(id, owner) })
	return err
}

// ReplaceAll swaps every collection for the hydrated bundle. The active
// consultation is kept if it still exists.
func (s *DomainStore) ReplaceAll(ctx context.Context, bundle *HydrationBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patients = append([]entities.Patient{}, bundle.Patients...)
	s.consultations = make([]entities.Consultation, 0, len(bundle.Consultations))
	for _, c := range bundle.Consultations {
		c = c.Clone()
		c.ApplyDefaults()
		s.consultations = append(s.consultations, c)
	}
	s.templates = append([]entities.Template{}, bundle.Templates...)
	s.notes = append([]entities.ClinicalNote{}, bundle.ClinicalNotes...)

	if s.consultationIndex(s.activeID) < 0 {
		s.reassignActive()
	}
	now := s.now()
	s.lastHydratedAt = &now

	return s.persist(ctx,
		StorageKeyPatients, StorageKeyConsultations, StorageKeyTemplates,
		StorageKeyClinicalNotes, StorageKeyActiveConsultationID, StorageKeyLastHydratedAt)
}

// Snapshot returns a copy of the whole store
func (s *DomainStore) Snapshot() StoreSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StoreSnapshot{
		Patients:             append([]entities.Patient{}, s.patients...),
		Consultations:        s.cloneConsultations(),
		Templates:            append([]entities.Template{}, s.templates...),
		ClinicalNotes:        append([]entities.ClinicalNote{}, s.notes...),
		ActiveConsultationID: s.activeID,
	}
	if s.lastHydratedAt != nil {
		t := *s.lastHydratedAt
		snap.LastHydratedAt = &t
	}
	return snap
}

// Patients returns all patients
func (s *DomainStore) Patients() []entities.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.Patient{}, s.patients...)
}

// Patient returns the patient with id
func (s *DomainStore) Patient(id string) (entities.Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pi := s.patientIndex(id); pi >= 0 {
		return s.patients[pi], true
	}
	return entities.Patient{}, false
}

// Consultations returns all consultations
func (s *DomainStore) Consultations() []entities.Consultation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneConsultations()
}

// Consultation returns the consultation with id
func (s *DomainStore) Consultation(id string) (entities.Consultation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ci := s.consultationIndex(id); ci >= 0 {
		return s.consultations[ci].Clone(), true
	}
	return entities.Consultation{}, false
}

// ActiveConsultationID returns the selected consultation, or ""
func (s *DomainStore) ActiveConsultationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Templates returns all templates
func (s *DomainStore) Templates() []entities.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.Template{}, s.templates...)
}

// ClinicalNotes returns all clinical notes
func (s *DomainStore) ClinicalNotes() []entities.ClinicalNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.ClinicalNote{}, s.notes...)
}

// IsEmpty reports whether the store holds no records at all
func (s *DomainStore) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patients) == 0 && len(s.consultations) == 0 && len(s.templates) == 0 && len(s.notes) == 0
}

// LastHydratedAt returns when the store was last replaced by hydration
func (s *DomainStore) LastHydratedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastHydratedAt == nil {
		return nil
	}
	t := *s.lastHydratedAt
	return &t
}

// upsertPatient must be called with s.mu held
func (s *DomainStore) upsertPatient(profile entities.PatientProfile, now time.Time) entities.Patient {
	identity := DerivePatientIdentity(profile, now)
	if pi := s.patientIndex(identity.ID); pi >= 0 {
		p := s.patients[pi]
		p.DisplayName = identity.DisplayName
		p.Profile = profile
		p.UpdatedAt = &now
		if p.OwnerID == "" {
			p.OwnerID = s.ownerID
		}
		s.patients[pi] = p
		return p
	}
	p := entities.Patient{
		ID:          identity.ID,
		OwnerID:     s.ownerID,
		DisplayName: identity.DisplayName,
		Profile:     profile,
		CreatedAt:   now,
		UpdatedAt:   &now,
	}
	s.patients = append(s.patients, p)
	return p
}

func (s *DomainStore) removeNotesFor(consultationIDs map[string]bool) []entities.ClinicalNote {
	var removed []entities.ClinicalNote
	kept := s.notes[:0:0]
	for _, n := range s.notes {
		if consultationIDs[n.ConsultationID] {
			removed = append(removed, n)
			continue
		}
		kept = append(kept, n)
	}
	s.notes = kept
	return removed
}

func (s *DomainStore) reassignActive() {
	if s.activeID != "" && s.consultationIndex(s.activeID) >= 0 {
		return
	}
	if len(s.consultations) > 0 {
		s.activeID = s.consultations[0].ID
	} else {
		s.activeID = ""
	}
}

func (s *DomainStore) ownerFor(ownerID string) string {
	if ownerID != "" {
		return ownerID
	}
	return s.ownerID
}

// deleteRemoteSegments queues removal of the remote segments stored at
// indices [from, to). Must be called with s.mu held.
func (s *DomainStore) deleteRemoteSegments(consultationID, owner string, from, to int) {
	for i := from; i < to; i++ {
		index := i
		s.sync(func(r RemoteSync) error { return r.EnqueueSegmentDeletion(consultationID, index, owner) })
	}
}

// rewriteRemoteSegments replaces the remote transcript of c with its local
// one. Segments are rewritten from index 0 and any remote records past the
// new length are removed.
func (s *DomainStore) rewriteRemoteSegments(c entities.Consultation, previous int) {
	owner := s.ownerFor(c.OwnerID)
	segments := c.TranscriptSegments.Values()
	if len(segments) > 0 {
		s.sync(func(r RemoteSync) error {
			return r.EnqueueTranscriptSegments(c.ID, segments, 0, owner)
		})
	}
	s.deleteRemoteSegments(c.ID, owner, len(segments), previous)
}

// sync queues a remote write. Rejections are recorded by the dispatcher as
// dead letters and do not undo the local change.
func (s *DomainStore) sync(enqueue func(RemoteSync) error) {
	if s.remote == nil {
		return
	}
	if err := enqueue(s.remote); err != nil {
		log.Warn().Err(err).Msg("local change not queued for sync")
	}
}

// persist writes the named collections to local storage
func (s *DomainStore) persist(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		var (
			value string
			err   error
		)
		switch key {
		case StorageKeyPatients:
			value, err = marshalString(s.patients)
		case StorageKeyConsultations:
			value, err = marshalString(s.consultations)
		case StorageKeyTemplates:
			value, err = marshalString(s.templates)
		case StorageKeyClinicalNotes:
			value, err = marshalString(s.notes)
		case StorageKeyActiveConsultationID:
			if s.activeID == "" {
				if err := s.storage.Remove(ctx, key); err != nil {
					return apperrors.NewInternalError("failed to persist local state", err)
				}
				continue
			}
			value = s.activeID
		case StorageKeyLastHydratedAt:
			if s.lastHydratedAt == nil {
				continue
			}
			value = s.lastHydratedAt.UTC().Format(time.RFC3339Nano)
		default:
			return fmt.Errorf("unknown storage key %q", key)
		}
		if err != nil {
			return apperrors.NewInternalError("failed to encode local state", err)
		}
		if err := s.storage.Set(ctx, key, value); err != nil {
			return apperrors.NewInternalError("failed to persist local state", err)
		}
	}
	return nil
}

func marshalString(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *DomainStore) cloneConsultations() []entities.Consultation {
	out := make([]entities.Consultation, 0, len(s.consultations))
	for _, c := range s.consultations {
		out = append(out, c.Clone())
	}
	return out
}

func (s *DomainStore) patientIndex(id string) int {
	for i, p := range s.patients {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *DomainStore) consultationIndex(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range s.consultations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *DomainStore) templateIndex(id string) int {
	for i, t := range s.templates {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *DomainStore) noteIndex(id string) int {
	for i, n := range s.notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}
