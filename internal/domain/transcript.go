package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUncorrelatedToolMessage is returned when a tool message does not
	// answer a ToolCall issued earlier in the same transcript.
	ErrUncorrelatedToolMessage = errors.New("tool message does not match an earlier tool call")

	// ErrInvalidRole is returned for messages with an unknown role.
	ErrInvalidRole = errors.New("invalid message role")
)

// Transcript is the ordered message log of one thread. Positions are
// indexed by message id so that applying a message with a known id
// replaces that slot instead of appending.
type Transcript struct {
	messages []Message
	index    map[string]int
}

// NewTranscript builds a transcript by applying msgs in order.
func NewTranscript(msgs ...Message) (Transcript, error) {
	return ApplyMessages(Transcript{}, msgs...)
}

// ApplyMessage is the transcript reducer. If msg.ID is empty a fresh id is
// assigned and the message is appended. If a message with the same id
// already exists, the later message wins and takes over the earlier slot;
// causal order of all other messages is unchanged. The input transcript is
// never modified.
func ApplyMessage(t Transcript, msg Message) (Transcript, error) {
	switch msg.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return t, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	pos, replace := t.index[msg.ID]
	limit := len(t.messages)
	if replace {
		limit = pos
	}
	if msg.Role == RoleTool && !t.issuedBefore(msg.ToolCallID, limit) {
		return t, fmt.Errorf("%w: %q", ErrUncorrelatedToolMessage, msg.ToolCallID)
	}

	out := Transcript{
		messages: make([]Message, len(t.messages), len(t.messages)+1),
		index:    make(map[string]int, len(t.index)+1),
	}
	copy(out.messages, t.messages)
	for k, v := range t.index {
		out.index[k] = v
	}

	if replace {
		out.messages[pos] = msg.Clone()
		return out, nil
	}
	out.index[msg.ID] = len(out.messages)
	out.messages = append(out.messages, msg.Clone())
	return out, nil
}

// ApplyMessages folds ApplyMessage over msgs.
func ApplyMessages(t Transcript, msgs ...Message) (Transcript, error) {
	var err error
	for _, m := range msgs {
		t, err = ApplyMessage(t, m)
		if err != nil {
			return t, err
		}
	}
	return t, nil
}

func (t Transcript) issuedBefore(callID string, limit int) bool {
	if callID == "" {
		return false
	}
	for i := 0; i < limit; i++ {
		m := t.messages[i]
		if m.Role != RoleAssistant {
			continue
		}
		if _, _, ok := m.FindToolCall(callID); ok {
			return true
		}
	}
	return false
}

// Len returns the number of messages.
func (t Transcript) Len() int { return len(t.messages) }

// Messages returns a copy of the canonical message list.
func (t Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get returns the message with the given id.
func (t Transcript) Get(id string) (Message, bool) {
	pos, ok := t.index[id]
	if !ok {
		return Message{}, false
	}
	return t.messages[pos].Clone(), true
}

// Last returns the final message.
func (t Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1].Clone(), true
}

// LastAssistant returns the most recent assistant message.
func (t Transcript) LastAssistant() (Message, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == RoleAssistant {
			return t.messages[i].Clone(), true
		}
	}
	return Message{}, false
}

// Answered reports whether a tool message correlated with callID exists.
func (t Transcript) Answered(callID string) bool {
	for _, m := range t.messages {
		if m.Role == RoleTool && m.ToolCallID == callID {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the transcript as its message list.
func (t Transcript) MarshalJSON() ([]byte, error) {
	if t.messages == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.messages)
}

// UnmarshalJSON rebuilds the transcript and its id index.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	rebuilt, err := NewTranscript(msgs...)
	if err != nil {
		return fmt.Errorf("decoding transcript: %w", err)
	}
	*t = rebuilt
	return nil
}
