package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/scribesync/internal/domain/entities"
)

// PatientStore defines the patient operations used by the handler
type PatientStore interface {
	Patients() []entities.Patient
	AddPatient(ctx context.Context, profile entities.PatientProfile) (entities.Patient, error)
	DeletePatient(ctx context.Context, patientID string) error
	AddConsultationForPatient(ctx context.Context, patientID string) (entities.Consultation, error)
}

// PatientHandler handles patient endpoints
type PatientHandler struct {
	store PatientStore
}

// NewPatientHandler creates a new patient handler
func NewPatientHandler(store PatientStore) *PatientHandler {
	return &PatientHandler{store: store}
}

// ListPatients handles GET /api/patients
func (h *PatientHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.store.Patients())
}

// AddPatient handles POST /api/patients
func (h *PatientHandler) AddPatient(w http.ResponseWriter, r *http.Request) {
	var profile entities.PatientProfile
	if err := decodeJSON(r, &profile); err != nil {
		respondWithAppError(w, err)
		return
	}
	patient, err := h.store.AddPatient(r.Context(), profile)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, patient)
}

// DeletePatient handles DELETE /api/patients/{id}
func (h *PatientHandler) DeletePatient(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeletePatient(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddConsultation handles POST /api/patients/{id}/consultations
func (h *PatientHandler) AddConsultation(w http.ResponseWriter, r *http.Request) {
	consultation, err := h.store.AddConsultationForPatient(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, consultation)
}
