package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/llm"
)

// toLLMMessages converts a transcript into provider messages. System
// messages are dropped; the system prompt travels separately.
func toLLMMessages(msgs []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			continue
		case domain.RoleAssistant:
			lm := llm.Message{Role: llm.RoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.ArgsJSON()})
			}
			out = append(out, lm)
		case domain.RoleTool:
			out = append(out, llm.Message{Role: llm.RoleTool, Content: m.Content, ToolCallID: m.ToolCallID})
		default:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		}
	}
	return out
}

// fromCompletion turns a model response into an assistant message with a
// fresh id. Calls without an id get one.
func fromCompletion(resp *llm.CompletionResponse) domain.Message {
	msg := domain.Message{
		ID:      uuid.NewString(),
		Role:    domain.RoleAssistant,
		Content: resp.Content,
	}
	for _, tc := range resp.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{ID: id, Name: tc.Name, Args: decodeArgs(tc.Input)})
	}
	return msg
}

// decodeArgs parses tool input JSON, repairing it when the model produced
// something slightly off. Unparseable input yields an empty mapping.
func decodeArgs(input string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(input) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(input), &args); err == nil {
		return args
	}
	args = map[string]any{}
	if err := llm.DecodeStructured(input, &args); err != nil {
		return map[string]any{}
	}
	return args
}

// renderForMemory flattens messages into one plain text block so the
// distillation call does not depend on provider tool-call pairing rules.
func renderForMemory(msgs []domain.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&b, "[assistant] %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "[assistant tool call] %s %s\n", tc.Name, tc.ArgsJSON())
			}
		case domain.RoleTool:
			fmt.Fprintf(&b, "[tool result] %s\n", m.Content)
		default:
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		}
	}
	return b.String()
}
