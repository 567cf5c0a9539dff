package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/scribesync/internal/domain/entities"
	"github.com/zatekoja/scribesync/internal/domain/providers"
	"github.com/zatekoja/scribesync/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

const (
	// DefaultSegmentBatchLimit is the number of segments written per batch task
	DefaultSegmentBatchLimit = providers.MaxBatchWriteItems

	maxDeadLetters = 100
)

// TableNames names the remote tables records are written to
type TableNames struct {
	Patients           string
	Consultations      string
	ClinicalNotes      string
	TranscriptSegments string
	Templates          string
}

// DefaultTableNames returns the table names of the reference deployment
func DefaultTableNames() TableNames {
	return TableNames{
		Patients:           "medical-scribe-patients",
		Consultations:      "medical-scribe-consultations",
		ClinicalNotes:      "medical-scribe-clinical-notes",
		TranscriptSegments: "medical-scribe-transcript-segments",
		Templates:          "medical-scribe-templates",
	}
}

// Schemas returns the primary key layout of every table
func (t TableNames) Schemas() map[string]providers.TableSchema {
	byID := providers.TableSchema{PartitionKey: AttrID}
	return map[string]providers.TableSchema{
		t.Patients:           byID,
		t.Consultations:      byID,
		t.ClinicalNotes:      byID,
		t.Templates:          byID,
		t.TranscriptSegments: {PartitionKey: AttrConsultationID, SortKey: AttrSegmentIndex},
	}
}

// SyncDispatcher turns domain changes into sync queue tasks. Enqueueing never
// performs I/O; each task snapshots its record when it is built.
type SyncDispatcher struct {
	queue      *SyncQueue
	store      providers.RecordStore
	tables     TableNames
	batchLimit int
	metrics    *observability.Metrics
	now        func() time.Time

	mu          sync.Mutex
	deadLetters []entities.DeadLetter
}

// DispatcherOption configures a SyncDispatcher
type DispatcherOption func(*SyncDispatcher)

// WithSegmentBatchLimit sets how many segments go into one batch write
func WithSegmentBatchLimit(limit int) DispatcherOption {
	return func(d *SyncDispatcher) {
		if limit > 0 && limit <= providers.MaxBatchWriteItems {
			d.batchLimit = limit
		}
	}
}

// WithDispatcherClock overrides the clock used for record timestamps
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *SyncDispatcher) {
		d.now = now
	}
}

// NewSyncDispatcher creates a dispatcher writing to store through queue
func NewSyncDispatcher(queue *SyncQueue, store providers.RecordStore, tables TableNames, opts ...DispatcherOption) *SyncDispatcher {
	d := &SyncDispatcher{
		queue:      queue,
		store:      store,
		tables:     tables,
		batchLimit: DefaultSegmentBatchLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetMetrics attaches otel metrics to the dispatcher
func (d *SyncDispatcher) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

// Queue returns the queue tasks are enqueued on
func (d *SyncDispatcher) Queue() *SyncQueue {
	return d.queue
}

// EnqueuePatientUpsert queues a full overwrite of the patient record
func (d *SyncDispatcher) EnqueuePatientUpsert(patient entities.Patient) error {
	label := "patient:" + patient.ID
	if err := d.requireRecord(label, patient.ID, patient.OwnerID); err != nil {
		return err
	}
	d.enqueuePut(label, d.tables.Patients, EncodePatient(patient))
	return nil
}

// EnqueuePatientDeletion queues removal of the patient record
func (d *SyncDispatcher) EnqueuePatientDeletion(patientID, ownerID string) error {
	label := "delete-patient:" + patientID
	if err := d.requireRecord(label, patientID, ownerID); err != nil {
		return err
	}
	d.enqueueDelete(label, d.tables.Patients, providers.Key{AttrID: patientID})
	return nil
}

// EnqueueConsultationUpsert queues a full overwrite of the consultation record
func (d *SyncDispatcher) EnqueueConsultationUpsert(consultation entities.Consultation) error {
	label := "consultation:" + consultation.ID
	if err := d.requireRecord(label, consultation.ID, consultation.OwnerID); err != nil {
		return err
	}
	d.enqueuePut(label, d.tables.Consultations, EncodeConsultation(consultation))
	return nil
}

// EnqueueConsultationDeletion queues removal of the consultation record
func (d *SyncDispatcher) EnqueueConsultationDeletion(consultationID, ownerID string) error {
	label := "delete-consultation:" + consultationID
	if err := d.requireRecord(label, consultationID, ownerID); err != nil {
		return err
	}
	d.enqueueDelete(label, d.tables.Consultations, providers.Key{AttrID: consultationID})
	return nil
}

// EnqueueTranscriptSegments queues segments in batches. Segment i is stored
// under segmentIndex baseIndex+i, so baseIndex must be the consultation's
// local segment count before these segments were added. The call is rejected
// as a whole if any input is invalid.
func (d *SyncDispatcher) EnqueueTranscriptSegments(consultationID string, segments []entities.TranscriptSegment, baseIndex int, ownerID string) error {
	if len(segments) == 0 {
		return nil
	}
	label := fmt.Sprintf("segments:%s:%d", consultationID, baseIndex)
	if strings.TrimSpace(ownerID) == "" {
		return d.reject(label, "owner id is required before segments can be synced")
	}
	if strings.TrimSpace(consultationID) == "" {
		return d.reject(label, "consultation id is required")
	}
	if baseIndex < 0 {
		return d.reject(label, fmt.Sprintf("invalid base index %d", baseIndex))
	}
	for i, seg := range segments {
		if seg.ID == "" {
			return d.reject(label, fmt.Sprintf("segment at offset %d has no id", i))
		}
	}

	now := d.now()
	for start := 0; start < len(segments); start += d.batchLimit {
		end := start + d.batchLimit
		if end > len(segments) {
			end = len(segments)
		}
		items := make([]providers.Item, 0, end-start)
		for offset, seg := range segments[start:end] {
			items = append(items, EncodeSegment(consultationID, baseIndex+start+offset, ownerID, seg, now))
		}

		table := d.tables.TranscriptSegments
		batchLabel := fmt.Sprintf("segments:%s:%d-%d", consultationID, baseIndex+start, baseIndex+end-1)
		d.queue.Enqueue(SyncTask{
			Kind:  TaskKindBatchWrite,
			Label: batchLabel,
			Run: func(ctx context.Context) error {
				return d.store.BatchWriteItem(ctx, table, items)
			},
		})
	}
	return nil
}

// EnqueueSegmentDeletion queues removal of the segment stored at segmentIndex
func (d *SyncDispatcher) EnqueueSegmentDeletion(consultationID string, segmentIndex int, ownerID string) error {
	label := fmt.Sprintf("delete-segment:%s:%d", consultationID, segmentIndex)
	if err := d.requireRecord(label, consultationID, ownerID); err != nil {
		return err
	}
	if segmentIndex < 0 {
		return d.reject(label, fmt.Sprintf("invalid segment index %d", segmentIndex))
	}
	d.enqueueDelete(label, d.tables.TranscriptSegments, providers.Key{
		AttrConsultationID: consultationID,
		AttrSegmentIndex:   segmentIndex,
	})
	return nil
}

// EnqueueTemplateUpsert queues a full overwrite of the template record
func (d *SyncDispatcher) EnqueueTemplateUpsert(template entities.Template) error {
	label := "template:" + template.ID
	if err := d.requireRecord(label, template.ID, template.OwnerID); err != nil {
		return err
	}
	if err := template.Validate(); err != nil {
		return d.reject(label, err.Error())
	}
	d.enqueuePut(label, d.tables.Templates, EncodeTemplate(template))
	return nil
}

// EnqueueTemplateDeletion queues removal of the template record
func (d *SyncDispatcher) EnqueueTemplateDeletion(templateID, ownerID string) error {
	label := "delete-template:" + templateID
	if err := d.requireRecord(label, templateID, ownerID); err != nil {
		return err
	}
	d.enqueueDelete(label, d.tables.Templates, providers.Key{AttrID: templateID})
	return nil
}

// EnqueueClinicalNote queues a full overwrite of the clinical note record
func (d *SyncDispatcher) EnqueueClinicalNote(note entities.ClinicalNote) error {
	label := "clinical-note:" + note.ID
	if err := d.requireRecord(label, note.ID, note.OwnerID); err != nil {
		return err
	}
	if note.ConsultationID == "" {
		return d.reject(label, "clinical note has no consultation id")
	}
	d.enqueuePut(label, d.tables.ClinicalNotes, EncodeClinicalNote(note))
	return nil
}

// EnqueueClinicalNoteDeletion queues removal of the clinical note record
func (d *SyncDispatcher) EnqueueClinicalNoteDeletion(noteID, ownerID string) error {
	label := "delete-clinical-note:" + noteID
	if err := d.requireRecord(label, noteID, ownerID); err != nil {
		return err
	}
	d.enqueueDelete(label, d.tables.ClinicalNotes, providers.Key{AttrID: noteID})
	return nil
}

// DeadLetters returns the most recent rejected enqueues, oldest first
func (d *SyncDispatcher) DeadLetters() []entities.DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]entities.DeadLetter, len(d.deadLetters))
	copy(out, d.deadLetters)
	return out
}

func (d *SyncDispatcher) enqueuePut(label, table string, item providers.Item) {
	d.queue.Enqueue(SyncTask{
		Kind:  TaskKindPut,
		Label: label,
		Run: func(ctx context.Context) error {
			return d.store.PutItem(ctx, table, item)
		},
	})
}

func (d *SyncDispatcher) enqueueDelete(label, table string, key providers.Key) {
	d.queue.Enqueue(SyncTask{
		Kind:  TaskKindDelete,
		Label: label,
		Run: func(ctx context.Context) error {
			return d.store.DeleteItem(ctx, table, key)
		},
	})
}

func (d *SyncDispatcher) requireRecord(label, id, ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return d.reject(label, "owner id is required before a remote write can be queued")
	}
	if strings.TrimSpace(id) == "" {
		return d.reject(label, "record id is required")
	}
	return nil
}

// reject records a dead letter and returns the validation error
func (d *SyncDispatcher) reject(label, reason string) error {
	d.mu.Lock()
	d.deadLetters = append(d.deadLetters, entities.DeadLetter{Label: label, Reason: reason, At: d.now()})
	if len(d.deadLetters) > maxDeadLetters {
		d.deadLetters = d.deadLetters[len(d.deadLetters)-maxDeadLetters:]
	}
	d.mu.Unlock()

	observability.RecordEnqueueRejected(context.Background(), d.metrics, label)
	log.Warn().Str("label", label).Str("reason", reason).Msg("remote write rejected")
	return apperrors.NewValidationError(fmt.Sprintf("%s: %s", label, reason))
}
