package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/scribesync/internal/domain/entities"
)

// ConsultationStore defines the consultation operations used by the handler
type ConsultationStore interface {
	Consultations() []entities.Consultation
	Consultation(id string) (entities.Consultation, bool)
	ActiveConsultationID() string
	UpdateConsultation(ctx context.Context, id string, patch entities.ConsultationPatch) (entities.Consultation, error)
	DeleteConsultation(ctx context.Context, id string) error
	ResetConsultation(ctx context.Context, id string) (entities.Consultation, error)
	FinalizeConsultationTimestamp(ctx context.Context, id string) (entities.Consultation, error)
	SetActiveConsultation(ctx context.Context, id string) error
	AppendSegments(ctx context.Context, consultationID string, segments []entities.TranscriptSegment) (entities.Consultation, error)
}

// ConsultationHandler handles consultation endpoints
type ConsultationHandler struct {
	store ConsultationStore
}

// NewConsultationHandler creates a new consultation handler
func NewConsultationHandler(store ConsultationStore) *ConsultationHandler {
	return &ConsultationHandler{store: store}
}

type consultationListResponse struct {
	Consultations        []entities.Consultation `json:"consultations"`
	ActiveConsultationID string                  `json:"activeConsultationId,omitempty"`
}

type appendSegmentsRequest struct {
	Segments []entities.TranscriptSegment `json:"segments"`
}

// ListConsultations handles GET /api/consultations
func (h *ConsultationHandler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, consultationListResponse{
		Consultations:        h.store.Consultations(),
		ActiveConsultationID: h.store.ActiveConsultationID(),
	})
}

// GetConsultation handles GET /api/consultations/{id}
func (h *ConsultationHandler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	consultation, ok := h.store.Consultation(r.PathValue("id"))
	if !ok {
		respondWithError(w, http.StatusNotFound, "consultation not found")
		return
	}
	respondWithJSON(w, http.StatusOK, consultation)
}

// UpdateConsultation handles PATCH /api/consultations/{id}
func (h *ConsultationHandler) UpdateConsultation(w http.ResponseWriter, r *http.Request) {
	var patch entities.ConsultationPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondWithAppError(w, err)
		return
	}
	consultation, err := h.store.UpdateConsultation(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, consultation)
}

// DeleteConsultation handles DELETE /api/consultations/{id}
func (h *ConsultationHandler) DeleteConsultation(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteConsultation(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetConsultation handles POST /api/consultations/{id}/reset
func (h *ConsultationHandler) ResetConsultation(w http.ResponseWriter, r *http.Request) {
	consultation, err := h.store.ResetConsultation(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, consultation)
}

// FinalizeConsultation handles POST /api/consultations/{id}/finalize
func (h *ConsultationHandler) FinalizeConsultation(w http.ResponseWriter, r *http.Request) {
	consultation, err := h.store.FinalizeConsultationTimestamp(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, consultation)
}

// ActivateConsultation handles POST /api/consultations/{id}/activate
func (h *ConsultationHandler) ActivateConsultation(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetActiveConsultation(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AppendSegments handles POST /api/consultations/{id}/segments
func (h *ConsultationHandler) AppendSegments(w http.ResponseWriter, r *http.Request) {
	var req appendSegmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}
	if len(req.Segments) == 0 {
		respondWithError(w, http.StatusBadRequest, "segments are required")
		return
	}
	consultation, err := h.store.AppendSegments(r.Context(), r.PathValue("id"), req.Segments)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, consultation)
}
