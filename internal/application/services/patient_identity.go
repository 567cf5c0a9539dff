package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/zatekoja/scribesync/internal/domain/entities"
)

const patientIDPrefix = "patient_"

var dateOfBirthLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
}

// PatientIdentity is the derived identity of a patient profile
type PatientIdentity struct {
	ID          string
	DisplayName string
}

// DerivePatientIdentity computes a patient's ID and display name from profile
// content. The ID hashes the name, date of birth and sex initial, so the same
// profile always maps to the same patient and it does not drift with age.
func DerivePatientIdentity(profile entities.PatientProfile, now time.Time) PatientIdentity {
	name := strings.TrimSpace(profile.Name)
	dob := normalizeDateOfBirth(profile.DateOfBirth)
	sex := sexInitial(profile.Sex)

	sum := sha256.Sum256([]byte(strings.ToLower(name) + "|" + dob + "|" + sex))

	return PatientIdentity{
		ID:          patientIDPrefix + hex.EncodeToString(sum[:])[:16],
		DisplayName: patientDisplayName(name, profile.DateOfBirth, sex, now),
	}
}

// patientDisplayName renders "Name (AGE+SexInitial)", omitting the suffix when
// neither age nor sex is known
func patientDisplayName(name, dateOfBirth, sex string, now time.Time) string {
	if name == "" {
		return ""
	}
	details := ""
	if age, ok := ageAt(dateOfBirth, now); ok {
		details += fmt.Sprintf("%d", age)
	}
	details += sex
	if details == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, details)
}

func parseDateOfBirth(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateOfBirthLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeDateOfBirth(raw string) string {
	if t, ok := parseDateOfBirth(raw); ok {
		return t.Format("2006-01-02")
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func ageAt(dateOfBirth string, now time.Time) (int, bool) {
	born, ok := parseDateOfBirth(dateOfBirth)
	if !ok || born.After(now) {
		return 0, false
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return age, true
}

func sexInitial(sex string) string {
	sex = strings.TrimSpace(sex)
	if sex == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(sex)
	return string(unicode.ToUpper(r))
}
