package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ActionRequest is the proposed action shown to a reviewer.
type ActionRequest struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
}

// Capabilities lists the verdicts a reviewer may choose.
type Capabilities struct {
	AllowIgnore  bool `json:"allow_ignore"`
	AllowRespond bool `json:"allow_respond"`
	AllowEdit    bool `json:"allow_edit"`
	AllowAccept  bool `json:"allow_accept"`
}

// Allows reports whether the verdict type is permitted.
func (c Capabilities) Allows(v Verdict) bool {
	switch v {
	case VerdictAccept:
		return c.AllowAccept
	case VerdictEdit:
		return c.AllowEdit
	case VerdictIgnore:
		return c.AllowIgnore
	case VerdictResponse:
		return c.AllowRespond
	default:
		return false
	}
}

// Common capability sets.
var (
	AllVerdicts   = Capabilities{AllowIgnore: true, AllowRespond: true, AllowEdit: true, AllowAccept: true}
	IgnoreRespond = Capabilities{AllowIgnore: true, AllowRespond: true}
)

// InterruptRequest is the structured request a suspended thread emits. It
// is delivered inside a single-element list.
type InterruptRequest struct {
	ActionRequest ActionRequest `json:"actionRequest"`
	Config        Capabilities  `json:"config"`
	Description   string        `json:"description"`
}

// Verdict is a reviewer decision type.
type Verdict string

const (
	VerdictAccept   Verdict = "accept"
	VerdictEdit     Verdict = "edit"
	VerdictIgnore   Verdict = "ignore"
	VerdictResponse Verdict = "response"
)

// InterruptResponse is the reviewer reply to an InterruptRequest.
type InterruptResponse struct {
	Type Verdict         `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Validate rejects verdict types outside the four known ones.
func (r InterruptResponse) Validate() error {
	switch r.Type {
	case VerdictAccept, VerdictEdit, VerdictIgnore, VerdictResponse:
		return nil
	default:
		return Fatalf(FatalVerdict, "unknown verdict type %q", r.Type)
	}
}

// EditedArgs returns the replacement arguments of an edit verdict. Both
// {"args": {...}} and a bare {...} mapping are accepted.
func (r InterruptResponse) EditedArgs() (map[string]any, error) {
	if len(bytes.TrimSpace(r.Args)) == 0 {
		return nil, Fatalf(FatalVerdict, "edit verdict without arguments")
	}
	var raw map[string]any
	if err := json.Unmarshal(r.Args, &raw); err != nil {
		return nil, Fatalf(FatalVerdict, "edit arguments must be an object: %v", err)
	}
	if raw == nil {
		return nil, Fatalf(FatalVerdict, "edit arguments must be an object, got %s", bytes.TrimSpace(r.Args))
	}
	if wrapped, ok := raw["args"]; ok {
		_, hasAction := raw["action"]
		if len(raw) == 1 || (len(raw) == 2 && hasAction) {
			inner, ok := wrapped.(map[string]any)
			if !ok || inner == nil {
				return nil, Fatalf(FatalVerdict, "edit arguments must be an object")
			}
			return inner, nil
		}
	}
	return raw, nil
}

// Feedback returns the free text of a response verdict.
func (r InterruptResponse) Feedback() string {
	trimmed := bytes.TrimSpace(r.Args)
	if len(trimmed) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

// NewResponse builds an InterruptResponse, encoding args as JSON.
func NewResponse(v Verdict, args any) (InterruptResponse, error) {
	if args == nil {
		return InterruptResponse{Type: v}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return InterruptResponse{}, fmt.Errorf("encoding verdict args: %w", err)
	}
	return InterruptResponse{Type: v, Args: raw}, nil
}
