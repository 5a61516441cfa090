package domain

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a thread transcript.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`  // assistant only
	ToolCallID string     `json:"toolCallId,omitempty"` // tool only
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolCall is a model request to invoke a registered tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolMessage builds a tool result correlated with the given call id.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// Clone returns a deep copy so callers can rewrite tool calls without
// touching the message held by a transcript.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

// Clone returns a copy of the call with its own argument map.
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.Args != nil {
		out.Args = make(map[string]any, len(tc.Args))
		for k, v := range tc.Args {
			out.Args[k] = v
		}
	}
	return out
}

// ArgsJSON renders the arguments the way they are shown to reviewers and
// to the model.
func (tc ToolCall) ArgsJSON() string {
	if len(tc.Args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(tc.Args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// FindToolCall returns the call with the given id and its index.
func (m Message) FindToolCall(id string) (ToolCall, int, bool) {
	for i, tc := range m.ToolCalls {
		if tc.ID == id {
			return tc, i, true
		}
	}
	return ToolCall{}, -1, false
}
