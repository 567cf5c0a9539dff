package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/scribesync/internal/domain/entities"
	"github.com/zatekoja/scribesync/internal/domain/providers"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

func TestNormalizeTemplateSections(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []entities.TemplateSection
	}{
		{
			name: "json string",
			raw:  `[{"name":"HPI"}]`,
			want: []entities.TemplateSection{{ID: "sec_1", Name: "HPI", Description: ""}},
		},
		{
			name: "native list with gaps",
			raw: []any{
				map[string]any{"id": "a", "name": "Plan", "description": "next steps"},
				map[string]any{},
			},
			want: []entities.TemplateSection{
				{ID: "a", Name: "Plan", Description: "next steps"},
				{ID: "sec_2", Name: "Section 2", Description: ""},
			},
		},
		{name: "absent", raw: nil, want: []entities.TemplateSection{}},
		{name: "malformed json", raw: `[{"name":`, want: []entities.TemplateSection{}},
		{name: "wrong type", raw: 42, want: []entities.TemplateSection{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTemplateSections(tt.raw))
		})
	}
}

func TestDecodeSegmentRecord_Aliases(t *testing.T) {
	for _, attr := range []string{"consultationId", "consultation_id", "ConsultationId"} {
		t.Run(attr, func(t *testing.T) {
			rec, err := DecodeSegmentRecord(providers.Item{
				attr:           "c-1",
				"segmentIndex": "3",
				"id":           "seg-9",
				"text":         "hello",
			})
			require.NoError(t, err)
			assert.Equal(t, "c-1", rec.ConsultationID)
			assert.Equal(t, 3, rec.SegmentIndex)
			assert.Equal(t, "seg-9", rec.Segment.ID)
			assert.Equal(t, "hello", rec.Segment.DisplayText)
			assert.Nil(t, rec.Segment.Speaker)
		})
	}
}

func TestDecodeSegmentRecord_NumericCoercion(t *testing.T) {
	for _, raw := range []any{7, int64(7), 7.0, json.Number("7"), "7"} {
		rec, err := DecodeSegmentRecord(providers.Item{"consultationId": "c", "segmentIndex": raw, "segmentId": "s"})
		require.NoError(t, err)
		assert.Equal(t, 7, rec.SegmentIndex)
	}

	_, err := DecodeSegmentRecord(providers.Item{"consultationId": "c", "segmentIndex": 1.5, "segmentId": "s"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestDecodeSegmentRecord_RejectsIncompleteRecords(t *testing.T) {
	tests := []providers.Item{
		{"segmentIndex": 0, "segmentId": "s"},
		{"consultationId": "c", "segmentId": "s"},
		{"consultationId": "c", "segmentIndex": 0},
		{"consultationId": "c", "segmentIndex": 0, "segmentId": "s", "schemaVersion": 99},
	}
	for _, item := range tests {
		_, err := DecodeSegmentRecord(item)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), "item %v", item)
	}
}

func TestSegmentRoundTripThroughJSON(t *testing.T) {
	speaker := "spk_0"
	seg := entities.TranscriptSegment{
		ID:      "seg-1",
		Speaker: &speaker,
		Text:    "chest pain",
		Entities: []entities.MedicalEntity{{
			BeginOffset: 0, EndOffset: 10, Category: "MEDICAL_CONDITION", Type: "DX_NAME",
			Traits: []entities.EntityTrait{{Name: "SYMPTOM", Score: 0.91}},
		}},
	}
	item := EncodeSegment("c-1", 4, "owner-1", seg, time.Now())

	// Stores hand back numbers as float64 after a JSON round trip.
	raw, err := json.Marshal(item)
	require.NoError(t, err)
	var decoded providers.Item
	require.NoError(t, json.Unmarshal(raw, &decoded))

	rec, err := DecodeSegmentRecord(decoded)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.SegmentIndex)
	assert.Equal(t, "chest pain", rec.Segment.DisplayText)
	require.Len(t, rec.Segment.Entities, 1)
	assert.Equal(t, 10, rec.Segment.Entities[0].EndOffset)
	assert.InDelta(t, 0.91, rec.Segment.Entities[0].Traits[0].Score, 1e-9)
	assert.Equal(t, "spk_0", *rec.Segment.Speaker)
}

func TestDecodeConsultation_AppliesDefaultsAndLegacyTitle(t *testing.T) {
	c, err := DecodeConsultation(providers.Item{
		"id":           "c-1",
		"ownerId":      "owner-1",
		"name":         "Consultation 2",
		"sessionState": "bogus",
		"hasShownHint": true,
		"createdAt":    nil,
		"updatedAt":    "2025-01-02T03:04:05Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "owner-1", c.OwnerID)
	assert.Equal(t, "Consultation 2", c.Title)
	assert.Equal(t, entities.SessionStateIdle, c.SessionState)
	assert.Equal(t, entities.DefaultLanguage, c.Language)
	assert.True(t, c.HasShownHint)
	assert.Nil(t, c.CreatedAt)
	assert.Equal(t, 0, c.TranscriptSegments.Len())
}

func TestDecodeTemplate_ExampleTextAlias(t *testing.T) {
	tpl, err := DecodeTemplate(providers.Item{"id": "t-1", "name": "SOAP", "exampleText": "S: ..."})
	require.NoError(t, err)
	assert.Equal(t, "S: ...", tpl.ExampleText)
	assert.Empty(t, tpl.Sections)
}

func TestPatientEncodeDecode(t *testing.T) {
	updated := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	p := entities.Patient{
		ID:          "patient_1",
		OwnerID:     "owner-1",
		DisplayName: "Jane Doe (25F)",
		Profile:     entities.PatientProfile{Name: "Jane Doe", Sex: "Female"},
		CreatedAt:   updated.Add(-time.Hour),
		UpdatedAt:   &updated,
	}

	item := EncodePatient(p)
	profile := item["profile"].(map[string]any)
	assert.NotContains(t, profile, "email")

	decoded, err := DecodePatient(item)
	require.NoError(t, err)
	assert.Equal(t, p.ID, decoded.ID)
	assert.Equal(t, p.Profile, decoded.Profile)
	assert.True(t, p.CreatedAt.Equal(decoded.CreatedAt))
	require.NotNil(t, decoded.UpdatedAt)
	assert.True(t, updated.Equal(*decoded.UpdatedAt))
}

func TestSortSegments(t *testing.T) {
	ordered := SortSegments([]entities.IndexedSegment{
		{SegmentIndex: 2, Segment: entities.TranscriptSegment{ID: "c"}},
		{SegmentIndex: 0, Segment: entities.TranscriptSegment{ID: "a"}},
		{SegmentIndex: 1, Segment: entities.TranscriptSegment{ID: "b"}},
	})
	assert.Equal(t, []string{"a", "b", "c"}, ordered.Keys())
}
