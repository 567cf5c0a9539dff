package entities

import (
	"strings"
	"time"
)

// PatientProfile holds the identifying and contact details entered for a patient
type PatientProfile struct {
	Name                string `json:"name"`
	DateOfBirth         string `json:"dateOfBirth"`
	Sex                 string `json:"sex"`
	MedicalRecordNumber string `json:"medicalRecordNumber"`
	ReferringPhysician  string `json:"referringPhysician"`
	Email               string `json:"email"`
	PhoneNumber         string `json:"phoneNumber"`
}

// HasContent reports whether any profile field has been filled in
func (p PatientProfile) HasContent() bool {
	return strings.TrimSpace(p.Name) != "" ||
		p.DateOfBirth != "" ||
		p.Sex != "" ||
		p.MedicalRecordNumber != "" ||
		p.ReferringPhysician != "" ||
		p.Email != "" ||
		p.PhoneNumber != ""
}

// Merge overlays the non-empty fields of other onto p
func (p PatientProfile) Merge(other PatientProfile) PatientProfile {
	merged := p
	if other.Name != "" {
		merged.Name = other.Name
	}
	if other.DateOfBirth != "" {
		merged.DateOfBirth = other.DateOfBirth
	}
	if other.Sex != "" {
		merged.Sex = other.Sex
	}
	if other.MedicalRecordNumber != "" {
		merged.MedicalRecordNumber = other.MedicalRecordNumber
	}
	if other.ReferringPhysician != "" {
		merged.ReferringPhysician = other.ReferringPhysician
	}
	if other.Email != "" {
		merged.Email = other.Email
	}
	if other.PhoneNumber != "" {
		merged.PhoneNumber = other.PhoneNumber
	}
	return merged
}

// Patient is the owner-scoped patient record. Its ID is derived from the
// profile, so editing identifying fields can move a consultation to a
// different patient.
type Patient struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"ownerUserId"`
	DisplayName string         `json:"displayName"`
	Profile     PatientProfile `json:"profile"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   *time.Time     `json:"updatedAt,omitempty"`
}
