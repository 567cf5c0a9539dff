package entities

// EntityTrait is a scored attribute attached to a detected medical entity
type EntityTrait struct {
	Name  string  `json:"Name"`
	Score float64 `json:"Score"`
}

// MedicalEntity is a span of transcript text tagged by entity detection
type MedicalEntity struct {
	BeginOffset int           `json:"BeginOffset"`
	EndOffset   int           `json:"EndOffset"`
	Category    string        `json:"Category"`
	Type        string        `json:"Type"`
	Traits      []EntityTrait `json:"Traits,omitempty"`
}

// TranscriptSegment is one finalized utterance produced by the transcription pipeline
type TranscriptSegment struct {
	ID             string          `json:"id"`
	Speaker        *string         `json:"speaker"`
	Text           string          `json:"text"`
	DisplayText    string          `json:"displayText"`
	TranslatedText *string         `json:"translatedText"`
	Entities       []MedicalEntity `json:"entities"`
}

// IndexedSegment pairs a segment with the position it is stored under remotely
type IndexedSegment struct {
	ConsultationID string
	SegmentIndex   int
	Segment        TranscriptSegment
}
