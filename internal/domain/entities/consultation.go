package entities

import (
	"time"
)

// SessionState represents the recording state of a consultation
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateRecording  SessionState = "recording"
	SessionStatePaused     SessionState = "paused"
	SessionStateStopped    SessionState = "stopped"
)

// Valid reports whether s is a known session state
func (s SessionState) Valid() bool {
	switch s {
	case SessionStateIdle, SessionStateConnecting, SessionStateRecording, SessionStatePaused, SessionStateStopped:
		return true
	}
	return false
}

// Consultation defaults applied to new and decoded records
const (
	DefaultConnectionStatus = "disconnected"
	DefaultLanguage         = "en-US"
	DefaultActiveTab        = "transcript"
	DefaultNoteType         = "standard"
)

// Consultation is a single recorded encounter with a patient.
// InterimTranscript, InterimSpeaker, Notes, Error and Loading are
// client-side working state and are never written to the remote store.
type Consultation struct {
	ID                 string            `json:"id"`
	OwnerID            string            `json:"ownerUserId"`
	PatientID          string            `json:"patientId"`
	PatientName        string            `json:"patientName"`
	PatientProfile     PatientProfile    `json:"patientProfile"`
	Title              string            `json:"name"`
	NoteType           string            `json:"noteType"`
	Language           string            `json:"language"`
	AdditionalContext  string            `json:"additionalContext"`
	SpeakerRoles       map[string]string `json:"speakerRoles"`
	SessionState       SessionState      `json:"sessionState"`
	ConnectionStatus   string            `json:"connectionStatus"`
	ActiveTab          string            `json:"activeTab"`
	HasShownHint       bool              `json:"hasShownHint"`
	CustomNameSet      bool              `json:"customNameSet"`
	TranscriptSegments *OrderedSegments  `json:"transcriptSegments"`
	CreatedAt          *time.Time        `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`

	InterimTranscript string  `json:"interimTranscript"`
	InterimSpeaker    *string `json:"interimSpeaker"`
	Notes             *string `json:"notes"`
	Error             *string `json:"error"`
	Loading           bool    `json:"loading"`
}

// NewConsultation returns a consultation with default nested state
func NewConsultation(id string) Consultation {
	return Consultation{
		ID:                 id,
		NoteType:           DefaultNoteType,
		Language:           DefaultLanguage,
		SpeakerRoles:       map[string]string{},
		SessionState:       SessionStateIdle,
		ConnectionStatus:   DefaultConnectionStatus,
		ActiveTab:          DefaultActiveTab,
		TranscriptSegments: NewOrderedSegments(),
	}
}

// ApplyDefaults fills zero-valued fields with consultation defaults
func (c *Consultation) ApplyDefaults() {
	if c.NoteType == "" {
		c.NoteType = DefaultNoteType
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.SpeakerRoles == nil {
		c.SpeakerRoles = map[string]string{}
	}
	if !c.SessionState.Valid() {
		c.SessionState = SessionStateIdle
	}
	if c.ConnectionStatus == "" {
		c.ConnectionStatus = DefaultConnectionStatus
	}
	if c.ActiveTab == "" {
		c.ActiveTab = DefaultActiveTab
	}
	if c.TranscriptSegments == nil {
		c.TranscriptSegments = NewOrderedSegments()
	}
}

// Clone returns a copy that shares no mutable state with c
func (c Consultation) Clone() Consultation {
	clone := c
	clone.SpeakerRoles = make(map[string]string, len(c.SpeakerRoles))
	for k, v := range c.SpeakerRoles {
		clone.SpeakerRoles[k] = v
	}
	clone.TranscriptSegments = c.TranscriptSegments.Clone()
	if c.CreatedAt != nil {
		createdAt := *c.CreatedAt
		clone.CreatedAt = &createdAt
	}
	return clone
}

// ConsultationPatch carries a partial update. Nil fields are left untouched,
// so concurrent patches touching different fields both survive.
type ConsultationPatch struct {
	Title              *string           `json:"name,omitempty"`
	NoteType           *string           `json:"noteType,omitempty"`
	Language           *string           `json:"language,omitempty"`
	AdditionalContext  *string           `json:"additionalContext,omitempty"`
	SpeakerRoles       map[string]string `json:"speakerRoles,omitempty"`
	SessionState       *SessionState     `json:"sessionState,omitempty"`
	ConnectionStatus   *string           `json:"connectionStatus,omitempty"`
	ActiveTab          *string           `json:"activeTab,omitempty"`
	HasShownHint       *bool             `json:"hasShownHint,omitempty"`
	CustomNameSet      *bool             `json:"customNameSet,omitempty"`
	PatientProfile     *PatientProfile   `json:"patientProfile,omitempty"`
	TranscriptSegments *OrderedSegments  `json:"transcriptSegments,omitempty"`
	InterimTranscript  *string           `json:"interimTranscript,omitempty"`
	InterimSpeaker     **string          `json:"-"`
	Notes              **string          `json:"-"`
	Error              **string          `json:"-"`
	Loading            *bool             `json:"loading,omitempty"`
}

// AffectsRemote reports whether the patch changes any synced field
func (p ConsultationPatch) AffectsRemote() bool {
	return p.Title != nil || p.NoteType != nil || p.Language != nil ||
		p.AdditionalContext != nil || p.SpeakerRoles != nil || p.SessionState != nil ||
		p.ConnectionStatus != nil || p.ActiveTab != nil || p.HasShownHint != nil ||
		p.CustomNameSet != nil || p.PatientProfile != nil
}

// Apply merges the patch into c field by field
func (p ConsultationPatch) Apply(c *Consultation) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.NoteType != nil {
		c.NoteType = *p.NoteType
	}
	if p.Language != nil {
		c.Language = *p.Language
	}
	if p.AdditionalContext != nil {
		c.AdditionalContext = *p.AdditionalContext
	}
	if p.SpeakerRoles != nil {
		roles := make(map[string]string, len(p.SpeakerRoles))
		for k, v := range p.SpeakerRoles {
			roles[k] = v
		}
		c.SpeakerRoles = roles
	}
	if p.SessionState != nil {
		c.SessionState = *p.SessionState
	}
	if p.ConnectionStatus != nil {
		c.ConnectionStatus = *p.ConnectionStatus
	}
	if p.ActiveTab != nil {
		c.ActiveTab = *p.ActiveTab
	}
	if p.HasShownHint != nil {
		c.HasShownHint = *p.HasShownHint
	}
	if p.CustomNameSet != nil {
		c.CustomNameSet = *p.CustomNameSet
	}
	if p.TranscriptSegments != nil {
		c.TranscriptSegments = p.TranscriptSegments.Clone()
	}
	if p.InterimTranscript != nil {
		c.InterimTranscript = *p.InterimTranscript
	}
	if p.InterimSpeaker != nil {
		c.InterimSpeaker = *p.InterimSpeaker
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	if p.Error != nil {
		c.Error = *p.Error
	}
	if p.Loading != nil {
		c.Loading = *p.Loading
	}
}
