package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/scribesync/internal/domain/entities"
)

// TemplateStore defines the template and clinical note operations used by the handler
type TemplateStore interface {
	Templates() []entities.Template
	UpsertTemplate(ctx context.Context, template entities.Template) (entities.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
	ClinicalNotes() []entities.ClinicalNote
	SaveClinicalNote(ctx context.Context, note entities.ClinicalNote) (entities.ClinicalNote, error)
	DeleteClinicalNote(ctx context.Context, id string) error
}

// TemplateHandler handles note template and clinical note endpoints
type TemplateHandler struct {
	store TemplateStore
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(store TemplateStore) *TemplateHandler {
	return &TemplateHandler{store: store}
}

// ListTemplates handles GET /api/templates
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.store.Templates())
}

// PutTemplate handles PUT /api/templates/{id}
func (h *TemplateHandler) PutTemplate(w http.ResponseWriter, r *http.Request) {
	var template entities.Template
	if err := decodeJSON(r, &template); err != nil {
		respondWithAppError(w, err)
		return
	}
	template.ID = r.PathValue("id")
	saved, err := h.store.UpsertTemplate(r.Context(), template)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

// DeleteTemplate handles DELETE /api/templates/{id}
func (h *TemplateHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTemplate(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListClinicalNotes handles GET /api/clinical-notes
func (h *TemplateHandler) ListClinicalNotes(w http.ResponseWriter, r *http.Request) {
	notes := h.store.ClinicalNotes()
	if consultationID := r.URL.Query().Get("consultationId"); consultationID != "" {
		filtered := notes[:0]
		for _, n := range notes {
			if n.ConsultationID == consultationID {
				filtered = append(filtered, n)
			}
		}
		notes = filtered
	}
	respondWithJSON(w, http.StatusOK, notes)
}

// PutClinicalNote handles PUT /api/clinical-notes/{id}
func (h *TemplateHandler) PutClinicalNote(w http.ResponseWriter, r *http.Request) {
	var note entities.ClinicalNote
	if err := decodeJSON(r, &note); err != nil {
		respondWithAppError(w, err)
		return
	}
	note.ID = r.PathValue("id")
	saved, err := h.store.SaveClinicalNote(r.Context(), note)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

// DeleteClinicalNote handles DELETE /api/clinical-notes/{id}
func (h *TemplateHandler) DeleteClinicalNote(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteClinicalNote(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
