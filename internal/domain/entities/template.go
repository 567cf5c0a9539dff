package entities

import (
	"fmt"
	"strings"
	"time"
)

// Template section limits
const (
	MinTemplateSections = 1
	MaxTemplateSections = 8
)

// TemplateSection is one heading of a note template
type TemplateSection struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Template is a user-defined note layout
type Template struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"ownerUserId"`
	Name        string            `json:"name"`
	Sections    []TemplateSection `json:"sections"`
	ExampleText string            `json:"example_text"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Validate checks the template's name and section bounds
func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	if len(t.Sections) < MinTemplateSections || len(t.Sections) > MaxTemplateSections {
		return fmt.Errorf("templates must have between %d and %d sections, got %d",
			MinTemplateSections, MaxTemplateSections, len(t.Sections))
	}
	for i, s := range t.Sections {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("section %d has no name", i+1)
		}
	}
	return nil
}
