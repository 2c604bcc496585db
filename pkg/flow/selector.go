package flow

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/touchflow/pkg/core"
)

// Selector represents element selection criteria. Exactly one field is used,
// checked in the order ID, Description, Class, Text.
type Selector struct {
	Text        string `yaml:"text"`        // text contains
	ID          string `yaml:"id"`          // resource-id / accessibility id
	Description string `yaml:"description"` // content-desc contains
	Class       string `yaml:"class"`       // widget class
}

// IsEmpty returns true if no selector fields are set.
func (s *Selector) IsEmpty() bool {
	return s.Text == "" && s.ID == "" && s.Description == "" && s.Class == ""
}

// Expand returns a copy with every field passed through fn (variable expansion).
func (s Selector) Expand(fn func(string) string) Selector {
	return Selector{
		Text:        fn(s.Text),
		ID:          fn(s.ID),
		Description: fn(s.Description),
		Class:       fn(s.Class),
	}
}

// Locator converts the selector into a driver locator.
func (s *Selector) Locator() (core.Locator, error) {
	switch {
	case s.ID != "":
		return core.ID(s.ID), nil
	case s.Description != "":
		return core.AttributeContains(core.DefaultDescriptionAttribute, s.Description), nil
	case s.Class != "":
		return core.ClassName(s.Class), nil
	case s.Text != "":
		return core.TextContains(s.Text), nil
	}
	return core.Locator{}, fmt.Errorf("empty selector")
}

// Describe returns a human-readable description of the selector.
func (s *Selector) Describe() string {
	var parts []string
	if s.Text != "" {
		parts = append(parts, fmt.Sprintf("text=%q", s.Text))
	}
	if s.ID != "" {
		parts = append(parts, fmt.Sprintf("id=%q", s.ID))
	}
	if s.Description != "" {
		parts = append(parts, fmt.Sprintf("description=%q", s.Description))
	}
	if s.Class != "" {
		parts = append(parts, fmt.Sprintf("class=%q", s.Class))
	}
	if len(parts) == 0 {
		return "<empty>"
	}
	return strings.Join(parts, ", ")
}
