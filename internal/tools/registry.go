// Package tools holds the closed set of tools the response loop can call
// and the policy deciding which of them need a human verdict.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/llm"
)

// ID identifies a tool. The set is closed: adding a tool means adding an ID
// and an implementation.
type ID string

const (
	WriteEmail                ID = "write_email"
	ScheduleMeeting           ID = "schedule_meeting"
	CheckCalendarAvailability ID = "check_calendar_availability"
	Question                  ID = "Question"
	Done                      ID = "Done"
	SendEmail                 ID = "send_email_tool"
	ScheduleMeetingTool       ID = "schedule_meeting_tool"
	CheckCalendar             ID = "check_calendar_tool"
	FetchEmails               ID = "fetch_emails_tool"
)

// AllIDs lists every known tool.
var AllIDs = []ID{
	WriteEmail, ScheduleMeeting, CheckCalendarAvailability, Question, Done,
	SendEmail, ScheduleMeetingTool, CheckCalendar, FetchEmails,
}

// ErrUnknownTool is returned for names outside the enumeration or not
// registered in the active toolset.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a capability the agent can invoke during a conversation.
type Tool interface {
	// ID returns the tool's identifier.
	ID() ID

	// Description returns a human-readable description for the model.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() string

	// Execute runs the tool and returns its result text.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Mode selects the review policy.
type Mode string

const (
	ModeHITL   Mode = "hitl"
	ModeDirect Mode = "direct"
)

// reviewed lists the tools with hard-to-reverse effects.
var reviewed = map[ID]bool{
	WriteEmail:          true,
	ScheduleMeeting:     true,
	Question:            true,
	SendEmail:           true,
	ScheduleMeetingTool: true,
}

// Capabilities returns the verdicts a reviewer may give for id.
func Capabilities(id ID) domain.Capabilities {
	if id == Question {
		return domain.IgnoreRespond
	}
	return domain.AllVerdicts
}

// MemoryCategory returns the preference namespace edits and feedback on id
// feed into. Question has none.
func MemoryCategory(id ID) (domain.Category, bool) {
	switch id {
	case WriteEmail, SendEmail:
		return domain.CategoryResponse, true
	case ScheduleMeeting, ScheduleMeetingTool:
		return domain.CategoryCalendar, true
	default:
		return "", false
	}
}

// Registry holds the active toolset.
type Registry struct {
	mode  Mode
	order []ID
	tools map[ID]Tool
}

// NewRegistry creates a registry for mode holding tools in the given order.
func NewRegistry(mode Mode, tools ...Tool) (*Registry, error) {
	if mode != ModeHITL && mode != ModeDirect {
		return nil, fmt.Errorf("unknown tool mode %q", mode)
	}
	r := &Registry{mode: mode, tools: make(map[ID]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.tools[t.ID()]; dup {
			return nil, fmt.Errorf("tool %s registered twice", t.ID())
		}
		r.tools[t.ID()] = t
		r.order = append(r.order, t.ID())
	}
	if _, ok := r.tools[Done]; !ok {
		return nil, fmt.Errorf("toolset must include %s", Done)
	}
	return r, nil
}

// Mode returns the review policy mode.
func (r *Registry) Mode() Mode { return r.mode }

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.tools[ID(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t, nil
}

// RequiresReview reports whether id must pass through a human verdict
// before running. Question always does since only a human can answer it.
func (r *Registry) RequiresReview(id ID) bool {
	if r.mode == ModeDirect {
		return id == Question
	}
	return reviewed[id]
}

// IDs returns the registered tool ids in registration order.
func (r *Registry) IDs() []ID {
	return append([]ID(nil), r.order...)
}

// Definitions returns model-ready tool definitions in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, id := range r.order {
		t := r.tools[id]
		defs = append(defs, llm.ToolDefinition{
			Name:        string(id),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return defs
}

// Catalogue renders the numbered tool list used in the agent prompt, e.g.
// "1. write_email(to, subject, content) - Write and send an email."
func (r *Registry) Catalogue() string {
	var b strings.Builder
	for i, id := range r.order {
		t := r.tools[id]
		fmt.Fprintf(&b, "%d. %s(%s) - %s\n", i+1, id, strings.Join(schemaParams(t.Schema()), ", "), t.Description())
	}
	return b.String()
}

// schemaParams returns the parameter names of a JSON schema, required ones
// first in their declared order.
func schemaParams(schema string) []string {
	var s struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal([]byte(schema), &s); err != nil {
		return nil
	}
	seen := make(map[string]bool, len(s.Required))
	params := make([]string, 0, len(s.Properties))
	for _, name := range s.Required {
		if _, ok := s.Properties[name]; ok && !seen[name] {
			params = append(params, name)
			seen[name] = true
		}
	}
	var optional []string
	for name := range s.Properties {
		if !seen[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	return append(params, optional...)
}

// Build returns the registry for a configured toolset ("default" or
// "gmail"). deps is only read for the gmail toolset.
func Build(mode Mode, toolset string, deps *GmailDeps) (*Registry, error) {
	switch toolset {
	case "", "default":
		return NewRegistry(mode, DefaultToolset()...)
	case "gmail":
		if deps == nil || deps.Sender == nil || deps.Searcher == nil || deps.Calendar == nil {
			return nil, errors.New("gmail toolset needs a sender, a searcher and a calendar service")
		}
		return NewRegistry(mode, GmailToolset(*deps)...)
	default:
		return nil, fmt.Errorf("unknown toolset %q", toolset)
	}
}
