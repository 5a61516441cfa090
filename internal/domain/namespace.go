package domain

import (
	"fmt"
	"strings"
)

// MemoryScope is the agent scope every preference namespace lives under.
const MemoryScope = "email_assistant"

// Category is a preference category.
type Category string

const (
	CategoryTriage     Category = "triage_preferences"
	CategoryResponse   Category = "response_preferences"
	CategoryCalendar   Category = "cal_preferences"
	CategoryBackground Category = "background"
)

// Categories lists every known category.
var Categories = []Category{CategoryTriage, CategoryResponse, CategoryCalendar, CategoryBackground}

// Namespace is the two-part key of a MemoryRecord.
type Namespace struct {
	Scope    string   `json:"scope"`
	Category Category `json:"category"`
}

// NS returns the namespace for a category in the default scope.
func NS(c Category) Namespace {
	return Namespace{Scope: MemoryScope, Category: c}
}

// String renders the namespace as "scope/category".
func (n Namespace) String() string {
	return n.Scope + "/" + string(n.Category)
}

// Tuple renders the namespace the way memory instructions show it.
func (n Namespace) Tuple() string {
	return fmt.Sprintf("('%s', '%s')", n.Scope, n.Category)
}

// ParseCategory resolves a category name.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown memory category %q", s)
}
