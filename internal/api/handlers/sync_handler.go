package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/scribesync/internal/domain/entities"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

// SyncController is the subset of the sync coordinator used over HTTP
type SyncController interface {
	FlushAll(ctx context.Context, reason string) error
	ForceHydrate(ctx context.Context) error
	RetryHydrate(ctx context.Context) error
	HandleLifecycleEvent(ctx context.Context, event *entities.LifecycleEvent) error
	Status() entities.SyncStatus
}

// SyncHandler exposes flush, hydration and lifecycle triggers
type SyncHandler struct {
	sync    SyncController
	ownerID string
}

// NewSyncHandler creates a sync handler. A nil controller means background
// sync is disabled and every endpoint answers 503.
func NewSyncHandler(sync SyncController, ownerID string) *SyncHandler {
	return &SyncHandler{sync: sync, ownerID: ownerID}
}

var errSyncDisabled = apperrors.NewDisabledError("background sync is disabled")

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		respondWithAppError(w, errSyncDisabled)
		return
	}
	respondWithJSON(w, http.StatusOK, h.sync.Status())
}

// Flush handles POST /api/sync/flush
func (h *SyncHandler) Flush(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		respondWithAppError(w, errSyncDisabled)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual"
	}
	if err := h.sync.FlushAll(r.Context(), reason); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.sync.Status())
}

// Hydrate handles POST /api/sync/hydrate
func (h *SyncHandler) Hydrate(w http.ResponseWriter, r *http.Request) {
	h.runHydration(w, r, func(ctx context.Context) error { return h.sync.ForceHydrate(ctx) })
}

// RetryHydrate handles POST /api/sync/hydrate/retry
func (h *SyncHandler) RetryHydrate(w http.ResponseWriter, r *http.Request) {
	h.runHydration(w, r, func(ctx context.Context) error { return h.sync.RetryHydrate(ctx) })
}

func (h *SyncHandler) runHydration(w http.ResponseWriter, r *http.Request, run func(context.Context) error) {
	if h.sync == nil {
		respondWithAppError(w, errSyncDisabled)
		return
	}
	if err := run(r.Context()); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.sync.Status())
}

// TriggerLifecycleEvent handles POST /api/lifecycle/{event}
func (h *SyncHandler) TriggerLifecycleEvent(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		respondWithAppError(w, errSyncDisabled)
		return
	}
	eventType, ok := entities.ParseLifecycleEventType(r.PathValue("event"))
	if !ok {
		respondWithError(w, http.StatusBadRequest, "unknown lifecycle event")
		return
	}

	event := entities.NewLifecycleEvent(h.ownerID, eventType)
	if err := h.sync.HandleLifecycleEvent(r.Context(), event); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"event_id": event.ID,
	})
}
