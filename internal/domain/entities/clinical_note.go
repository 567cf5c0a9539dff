package entities

import "time"

// ClinicalNote is a generated note attached to a consultation
type ClinicalNote struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerUserId"`
	ConsultationID string    `json:"consultationId"`
	NoteType       string    `json:"noteType"`
	Content        string    `json:"content"`
	Title          string    `json:"title,omitempty"`
	Language       string    `json:"language,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Status         string    `json:"status,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
