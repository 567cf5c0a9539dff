package services

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/scribesync/internal/domain/entities"
	"github.com/zatekoja/scribesync/internal/domain/providers"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

// RecordSchemaVersion is written on every encoded record. Records without a
// version are legacy records and are decoded through the alias table.
const RecordSchemaVersion = 1

// Remote attribute names
const (
	AttrID             = "id"
	AttrOwnerUserID    = "ownerUserId"
	AttrConsultationID = "consultationId"
	AttrSegmentIndex   = "segmentIndex"
	AttrSegmentID      = "segmentId"
	AttrSchemaVersion  = "schemaVersion"
)

// legacyAliases lists every attribute name accepted for a canonical attribute,
// canonical name first
var legacyAliases = map[string][]string{
	AttrOwnerUserID:    {"ownerUserId", "ownerId", "owner_user_id"},
	AttrConsultationID: {"consultationId", "consultation_id", "ConsultationId"},
	AttrSegmentID:      {"segmentId", "segment_id", "id"},
	"example_text":     {"example_text", "exampleText"},
	"title":            {"title", "name"},
	"displayName":      {"displayName", "name"},
}

// ConsultationIDAliases returns the attribute names a transcript segment may
// carry its consultation ID under
func ConsultationIDAliases() []string {
	aliases := legacyAliases[AttrConsultationID]
	out := make([]string, len(aliases))
	copy(out, aliases)
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// EncodePatient converts a patient into its remote record
func EncodePatient(p entities.Patient) providers.Item {
	item := providers.Item{
		AttrSchemaVersion: RecordSchemaVersion,
		AttrID:            p.ID,
		AttrOwnerUserID:   p.OwnerID,
		"displayName":     p.DisplayName,
		"profile":         encodeProfile(p.Profile),
		"createdAt":       formatTime(p.CreatedAt),
	}
	if p.UpdatedAt != nil {
		item["updatedAt"] = formatTime(*p.UpdatedAt)
	}
	return item
}

func encodeProfile(profile entities.PatientProfile) map[string]any {
	out := map[string]any{}
	fields := map[string]string{
		"name":                profile.Name,
		"dateOfBirth":         profile.DateOfBirth,
		"sex":                 profile.Sex,
		"medicalRecordNumber": profile.MedicalRecordNumber,
		"referringPhysician":  profile.ReferringPhysician,
		"email":               profile.Email,
		"phoneNumber":         profile.PhoneNumber,
	}
	for k, v := range fields {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// EncodeConsultation converts the synced fields of a consultation into its
// remote record. Local working state and transcript segments are not included.
func EncodeConsultation(c entities.Consultation) providers.Item {
	roles := map[string]any{}
	for speaker, role := range c.SpeakerRoles {
		if role != "" {
			roles[speaker] = role
		}
	}
	item := providers.Item{
		AttrSchemaVersion:   RecordSchemaVersion,
		AttrID:              c.ID,
		AttrOwnerUserID:     c.OwnerID,
		"patientId":         c.PatientID,
		"patientName":       c.PatientName,
		"title":             c.Title,
		"noteType":          c.NoteType,
		"language":          c.Language,
		"additionalContext": c.AdditionalContext,
		"speakerRoles":      roles,
		"sessionState":      string(c.SessionState),
		"connectionStatus":  c.ConnectionStatus,
		"activeTab":         c.ActiveTab,
		"hasShownHint":      c.HasShownHint,
		"customNameSet":     c.CustomNameSet,
		"createdAt":         nil,
		"updatedAt":         formatTime(c.UpdatedAt),
	}
	if c.CreatedAt != nil {
		item["createdAt"] = formatTime(*c.CreatedAt)
	}
	return item
}

// EncodeSegment converts a transcript segment stored at index into its remote record
func EncodeSegment(consultationID string, index int, ownerID string, seg entities.TranscriptSegment, now time.Time) providers.Item {
	displayText := seg.DisplayText
	if displayText == "" {
		displayText = seg.Text
	}
	item := providers.Item{
		AttrSchemaVersion:  RecordSchemaVersion,
		AttrConsultationID: consultationID,
		AttrSegmentIndex:   index,
		AttrOwnerUserID:    ownerID,
		AttrSegmentID:      seg.ID,
		"speaker":          nil,
		"text":             seg.Text,
		"displayText":      displayText,
		"translatedText":   nil,
		"entities":         encodeEntities(seg.Entities),
		"createdAt":        formatTime(now),
	}
	if seg.Speaker != nil {
		item["speaker"] = *seg.Speaker
	}
	if seg.TranslatedText != nil && *seg.TranslatedText != "" {
		item["translatedText"] = *seg.TranslatedText
	}
	return item
}

func encodeEntities(list []entities.MedicalEntity) []any {
	out := make([]any, 0, len(list))
	for _, e := range list {
		m := map[string]any{
			"BeginOffset": e.BeginOffset,
			"EndOffset":   e.EndOffset,
			"Category":    e.Category,
			"Type":        e.Type,
		}
		if len(e.Traits) > 0 {
			traits := make([]any, 0, len(e.Traits))
			for _, tr := range e.Traits {
				traits = append(traits, map[string]any{"Name": tr.Name, "Score": tr.Score})
			}
			m["Traits"] = traits
		}
		out = append(out, m)
	}
	return out
}

// EncodeTemplate converts a template into its remote record
func EncodeTemplate(t entities.Template) providers.Item {
	sections := make([]any, 0, len(t.Sections))
	for _, s := range t.Sections {
		sections = append(sections, map[string]any{
			"id":          s.ID,
			"name":        s.Name,
			"description": s.Description,
		})
	}
	return providers.Item{
		AttrSchemaVersion: RecordSchemaVersion,
		AttrID:            t.ID,
		AttrOwnerUserID:   t.OwnerID,
		"name":            t.Name,
		"sections":        sections,
		"example_text":    t.ExampleText,
		"createdAt":       formatTime(t.CreatedAt),
		"updatedAt":       formatTime(t.UpdatedAt),
	}
}

// EncodeClinicalNote converts a clinical note into its remote record
func EncodeClinicalNote(n entities.ClinicalNote) providers.Item {
	item := providers.Item{
		AttrSchemaVersion:  RecordSchemaVersion,
		AttrID:             n.ID,
		AttrOwnerUserID:    n.OwnerID,
		AttrConsultationID: n.ConsultationID,
		"noteType":         n.NoteType,
		"content":          n.Content,
		"createdAt":        formatTime(n.CreatedAt),
		"updatedAt":        formatTime(n.UpdatedAt),
	}
	optional := map[string]string{
		"title":    n.Title,
		"language": n.Language,
		"summary":  n.Summary,
		"status":   n.Status,
	}
	for k, v := range optional {
		if v != "" {
			item[k] = v
		}
	}
	return item
}

// DecodePatient converts a remote record into a patient
func DecodePatient(item providers.Item) (entities.Patient, error) {
	if err := checkSchemaVersion(item); err != nil {
		return entities.Patient{}, err
	}
	id := stringAttr(item, AttrID)
	if id == "" {
		return entities.Patient{}, apperrors.NewValidationError("patient record has no id")
	}
	p := entities.Patient{
		ID:          id,
		OwnerID:     stringAttr(item, legacyAliases[AttrOwnerUserID]...),
		DisplayName: stringAttr(item, legacyAliases["displayName"]...),
		Profile:     decodeProfile(item["profile"]),
	}
	if t, ok := timeAttr(item, "createdAt"); ok {
		p.CreatedAt = t
	}
	if t, ok := timeAttr(item, "updatedAt"); ok {
		p.UpdatedAt = &t
	}
	return p, nil
}

func decodeProfile(raw any) entities.PatientProfile {
	m, ok := asMap(raw)
	if !ok {
		return entities.PatientProfile{}
	}
	return entities.PatientProfile{
		Name:                stringAttr(m, "name"),
		DateOfBirth:         stringAttr(m, "dateOfBirth"),
		Sex:                 stringAttr(m, "sex"),
		MedicalRecordNumber: stringAttr(m, "medicalRecordNumber"),
		ReferringPhysician:  stringAttr(m, "referringPhysician"),
		Email:               stringAttr(m, "email"),
		PhoneNumber:         stringAttr(m, "phoneNumber"),
	}
}

// DecodeConsultation converts a remote record into a consultation with
// defaults applied and no transcript segments attached
func DecodeConsultation(item providers.Item) (entities.Consultation, error) {
	if err := checkSchemaVersion(item); err != nil {
		return entities.Consultation{}, err
	}
	id := stringAttr(item, AttrID)
	if id == "" {
		return entities.Consultation{}, apperrors.NewValidationError("consultation record has no id")
	}

	c := entities.NewConsultation(id)
	c.OwnerID = stringAttr(item, legacyAliases[AttrOwnerUserID]...)
	c.PatientID = stringAttr(item, "patientId")
	c.PatientName = stringAttr(item, "patientName")
	c.PatientProfile = decodeProfile(item["patientProfile"])
	c.Title = stringAttr(item, legacyAliases["title"]...)
	c.NoteType = stringAttr(item, "noteType")
	c.Language = stringAttr(item, "language")
	c.AdditionalContext = stringAttr(item, "additionalContext")
	c.SessionState = entities.SessionState(stringAttr(item, "sessionState"))
	c.ConnectionStatus = stringAttr(item, "connectionStatus")
	c.ActiveTab = stringAttr(item, "activeTab")
	c.HasShownHint = boolAttr(item, "hasShownHint")
	c.CustomNameSet = boolAttr(item, "customNameSet")
	c.SpeakerRoles = nil
	if roles, ok := asMap(item["speakerRoles"]); ok {
		c.SpeakerRoles = make(map[string]string, len(roles))
		for speaker, role := range roles {
			if s, ok := role.(string); ok && s != "" {
				c.SpeakerRoles[speaker] = s
			}
		}
	}
	if t, ok := timeAttr(item, "createdAt"); ok {
		c.CreatedAt = &t
	}
	if t, ok := timeAttr(item, "updatedAt"); ok {
		c.UpdatedAt = t
	}
	c.ApplyDefaults()
	return c, nil
}

// DecodeSegmentRecord converts a remote transcript segment record
func DecodeSegmentRecord(item providers.Item) (entities.IndexedSegment, error) {
	if err := checkSchemaVersion(item); err != nil {
		return entities.IndexedSegment{}, err
	}
	consultationID := stringAttr(item, legacyAliases[AttrConsultationID]...)
	if consultationID == "" {
		return entities.IndexedSegment{}, apperrors.NewValidationError("segment record has no consultation id")
	}
	rawIndex, ok := lookup(item, AttrSegmentIndex)
	if !ok {
		return entities.IndexedSegment{}, apperrors.NewValidationError("segment record has no segmentIndex")
	}
	index, err := coerceInt(rawIndex)
	if err != nil {
		return entities.IndexedSegment{}, apperrors.NewValidationError(fmt.Sprintf("segment record has invalid segmentIndex: %v", err))
	}
	segmentID := stringAttr(item, legacyAliases[AttrSegmentID]...)
	if segmentID == "" {
		return entities.IndexedSegment{}, apperrors.NewValidationError("segment record has no segment id")
	}

	seg := entities.TranscriptSegment{
		ID:             segmentID,
		Speaker:        optionalStringAttr(item, "speaker"),
		Text:           stringAttr(item, "text"),
		DisplayText:    stringAttr(item, "displayText"),
		TranslatedText: optionalStringAttr(item, "translatedText"),
		Entities:       decodeEntities(item["entities"]),
	}
	if seg.DisplayText == "" {
		seg.DisplayText = seg.Text
	}
	return entities.IndexedSegment{ConsultationID: consultationID, SegmentIndex: index, Segment: seg}, nil
}

func decodeEntities(raw any) []entities.MedicalEntity {
	list, ok := asList(raw)
	if !ok {
		return []entities.MedicalEntity{}
	}
	out := make([]entities.MedicalEntity, 0, len(list))
	for _, el := range list {
		m, ok := asMap(el)
		if !ok {
			continue
		}
		begin, _ := coerceInt(m["BeginOffset"])
		end, _ := coerceInt(m["EndOffset"])
		e := entities.MedicalEntity{
			BeginOffset: begin,
			EndOffset:   end,
			Category:    stringAttr(m, "Category"),
			Type:        stringAttr(m, "Type"),
		}
		if traits, ok := asList(m["Traits"]); ok {
			for _, rawTrait := range traits {
				tm, ok := asMap(rawTrait)
				if !ok {
					continue
				}
				score, _ := coerceFloat(tm["Score"])
				e.Traits = append(e.Traits, entities.EntityTrait{Name: stringAttr(tm, "Name"), Score: score})
			}
		}
		out = append(out, e)
	}
	return out
}

// SortSegments orders decoded segments by segmentIndex and builds the
// consultation's ordered segment map
func SortSegments(records []entities.IndexedSegment) *entities.OrderedSegments {
	sorted := make([]entities.IndexedSegment, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SegmentIndex < sorted[j].SegmentIndex
	})
	ordered := entities.NewOrderedSegments()
	for _, r := range sorted {
		ordered.Set(r.Segment)
	}
	return ordered
}

// DecodeTemplate converts a remote record into a template with normalized sections
func DecodeTemplate(item providers.Item) (entities.Template, error) {
	if err := checkSchemaVersion(item); err != nil {
		return entities.Template{}, err
	}
	id := stringAttr(item, AttrID)
	if id == "" {
		return entities.Template{}, apperrors.NewValidationError("template record has no id")
	}
	t := entities.Template{
		ID:          id,
		OwnerID:     stringAttr(item, legacyAliases[AttrOwnerUserID]...),
		Name:        stringAttr(item, "name"),
		Sections:    NormalizeTemplateSections(item["sections"]),
		ExampleText: stringAttr(item, legacyAliases["example_text"]...),
	}
	if ts, ok := timeAttr(item, "createdAt"); ok {
		t.CreatedAt = ts
	}
	if ts, ok := timeAttr(item, "updatedAt"); ok {
		t.UpdatedAt = ts
	}
	return t, nil
}

// NormalizeTemplateSections accepts sections as a list, a JSON-encoded list or
// nothing at all. Unparseable input yields an empty list. Missing section
// fields are backfilled from the section's position.
func NormalizeTemplateSections(raw any) []entities.TemplateSection {
	if s, ok := raw.(string); ok {
		var parsed []any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return []entities.TemplateSection{}
		}
		raw = parsed
	}
	list, ok := asList(raw)
	if !ok {
		return []entities.TemplateSection{}
	}

	sections := make([]entities.TemplateSection, 0, len(list))
	for i, el := range list {
		section := entities.TemplateSection{}
		switch v := el.(type) {
		case string:
			section.Name = v
		default:
			if m, ok := asMap(v); ok {
				section.ID = stringAttr(m, "id")
				section.Name = stringAttr(m, "name")
				section.Description = stringAttr(m, "description")
			}
		}
		if section.ID == "" {
			section.ID = fmt.Sprintf("sec_%d", i+1)
		}
		if section.Name == "" {
			section.Name = fmt.Sprintf("Section %d", i+1)
		}
		sections = append(sections, section)
	}
	return sections
}

// DecodeClinicalNote converts a remote record into a clinical note
func DecodeClinicalNote(item providers.Item) (entities.ClinicalNote, error) {
	if err := checkSchemaVersion(item); err != nil {
		return entities.ClinicalNote{}, err
	}
	id := stringAttr(item, AttrID)
	if id == "" {
		return entities.ClinicalNote{}, apperrors.NewValidationError("clinical note record has no id")
	}
	n := entities.ClinicalNote{
		ID:             id,
		OwnerID:        stringAttr(item, legacyAliases[AttrOwnerUserID]...),
		ConsultationID: stringAttr(item, legacyAliases[AttrConsultationID]...),
		NoteType:       stringAttr(item, "noteType"),
		Content:        stringAttr(item, "content"),
		Title:          stringAttr(item, "title"),
		Language:       stringAttr(item, "language"),
		Summary:        stringAttr(item, "summary"),
		Status:         stringAttr(item, "status"),
	}
	if t, ok := timeAttr(item, "createdAt"); ok {
		n.CreatedAt = t
	}
	if t, ok := timeAttr(item, "updatedAt"); ok {
		n.UpdatedAt = t
	}
	return n, nil
}

func checkSchemaVersion(item providers.Item) error {
	raw, ok := lookup(item, AttrSchemaVersion)
	if !ok {
		return nil
	}
	v, err := coerceInt(raw)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid schemaVersion: %v", err))
	}
	if v > RecordSchemaVersion {
		return apperrors.NewValidationError(fmt.Sprintf("unsupported schemaVersion %d", v))
	}
	return nil
}

// lookup returns the first present, non-nil attribute among names
func lookup(item map[string]any, names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := item[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringAttr(item map[string]any, names ...string) string {
	v, ok := lookup(item, names...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64, float32, int, int32, int64, bool:
		return fmt.Sprint(s)
	}
	return ""
}

func optionalStringAttr(item map[string]any, name string) *string {
	s := stringAttr(item, name)
	if s == "" {
		return nil
	}
	return &s
}

func boolAttr(item map[string]any, name string) bool {
	switch v := item[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func timeAttr(item map[string]any, name string) (time.Time, bool) {
	s := stringAttr(item, name)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func asMap(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case providers.Item:
		return m, true
	}
	return nil, false
}

func asList(raw any) ([]any, bool) {
	switch l := raw.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

// coerceInt accepts the numeric shapes different stores decode numbers into
func coerceInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt(f)
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.Atoi(s); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return floatToInt(f)
	}
	return 0, fmt.Errorf("unsupported numeric type %T", raw)
}

func floatToInt(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int(f), nil
}

func coerceFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, fmt.Errorf("unsupported numeric type %T", raw)
}
