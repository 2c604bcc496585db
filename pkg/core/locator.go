package core

import (
	"fmt"
	"strings"
)

// Strategy selects how a Locator is matched.
type Strategy int

const (
	ByText      Strategy = iota // primary text contains Value
	ByAttribute                 // attribute named Attribute contains Value
	ByID                        // resource-id / accessibility id equals Value
	ByClassName                 // widget class equals Value
)

// DefaultDescriptionAttribute is the accessibility attribute used by AttributeContains
// when no name is given. Compose UIs expose labels there instead of @text.
const DefaultDescriptionAttribute = "content-desc"

// String returns the string representation of Strategy
func (s Strategy) String() string {
	switch s {
	case ByText:
		return "text"
	case ByAttribute:
		return "attribute"
	case ByID:
		return "id"
	case ByClassName:
		return "className"
	default:
		return "unknown"
	}
}

// Locator describes how to find one element. Build a fresh value per match attempt.
type Locator struct {
	Strategy  Strategy
	Value     string
	Attribute string // only for ByAttribute
}

// TextContains matches elements whose text contains s.
func TextContains(s string) Locator {
	return Locator{Strategy: ByText, Value: s}
}

// AttributeContains matches elements whose attribute name contains s.
func AttributeContains(name, s string) Locator {
	if name == "" {
		name = DefaultDescriptionAttribute
	}
	return Locator{Strategy: ByAttribute, Value: s, Attribute: name}
}

// ID matches by resource-id or accessibility id.
func ID(s string) Locator {
	return Locator{Strategy: ByID, Value: s}
}

// ClassName matches by widget class.
func ClassName(s string) Locator {
	return Locator{Strategy: ByClassName, Value: s}
}

func (l Locator) String() string {
	if l.Strategy == ByAttribute {
		return fmt.Sprintf("%s[%s~=%q]", l.Strategy, l.Attribute, l.Value)
	}
	return fmt.Sprintf("%s=%q", l.Strategy, l.Value)
}

// XPathLiteral quotes s for use in an XPath 1.0 expression.
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
