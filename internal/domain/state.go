package domain

import "time"

// Classification is the triage decision for an email.
type Classification string

const (
	ClassificationUnset   Classification = ""
	ClassificationRespond Classification = "respond"
	ClassificationNotify  Classification = "notify"
	ClassificationIgnore  Classification = "ignore"
)

// ParseClassification validates a model-produced classification.
func ParseClassification(s string) (Classification, error) {
	switch c := Classification(s); c {
	case ClassificationRespond, ClassificationNotify, ClassificationIgnore:
		return c, nil
	default:
		return ClassificationUnset, Fatalf(FatalClassification, "unknown classification %q", s)
	}
}

// Status is the lifecycle state of a thread.
type Status string

const (
	StatusRunning        Status = "running"
	StatusAwaitingReview Status = "awaiting_review"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// Terminal reports whether the thread can no longer make progress.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Node names a step of the workflow graph.
type Node string

const (
	NodeTriage       Node = "triage"
	NodeTriageReview Node = "triage_review"
	NodeGenerate     Node = "generate"
	NodeDispatch     Node = "dispatch"
	NodeReview       Node = "review"
	NodeMarkRead     Node = "mark_read"
	NodeEnd          Node = "end"
)

// ReviewKind distinguishes tool reviews from notify-only reviews.
type ReviewKind string

const (
	ReviewTool   ReviewKind = "tool"
	ReviewNotify ReviewKind = "notify"
)

// PendingReview identifies what a suspended thread is waiting on. Together
// with the transcript it is enough to rebuild the InterruptRequest.
type PendingReview struct {
	Kind       ReviewKind `json:"kind"`
	MessageID  string     `json:"messageId,omitempty"` // assistant message holding the call
	ToolCallID string     `json:"toolCallId,omitempty"`
	Index      int        `json:"index"` // position of the call in its message
	Since      time.Time  `json:"since"`
}

// ConversationState is the persisted unit of work for one thread.
type ConversationState struct {
	ThreadID       string         `json:"threadId"`
	Email          Email          `json:"email"`
	Classification Classification `json:"classification"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Transcript     Transcript     `json:"transcript"`
	Status         Status         `json:"status"`
	Node           Node           `json:"node"`
	Pending        *PendingReview `json:"pending,omitempty"`
	Cursor         int            `json:"cursor"` // next tool call to dispatch in the last assistant message
	Steps          int            `json:"steps"`
	Executed       []ExecutedCall `json:"executed,omitempty"`
	MarkRead       bool           `json:"markRead,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	ArchivedAt     *time.Time     `json:"archivedAt,omitempty"`
}

// NewConversationState creates the initial state for an inbound email.
func NewConversationState(threadID string, email Email) *ConversationState {
	now := time.Now().UTC()
	return &ConversationState{
		ThreadID:  threadID,
		Email:     email,
		Status:    StatusRunning,
		Node:      NodeTriage,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Archive marks the state terminal. Archived states are kept, never deleted.
func (s *ConversationState) Archive(status Status) {
	now := time.Now().UTC()
	s.Status = status
	s.Node = NodeEnd
	s.Pending = nil
	s.ArchivedAt = &now
	s.UpdatedAt = now
}

// ExecutedCall records a tool that actually ran, with the arguments it ran
// with.
type ExecutedCall struct {
	ToolCallID string         `json:"toolCallId"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
	At         time.Time      `json:"at"`
}

// RecordExecution appends an executed call to the state.
func (s *ConversationState) RecordExecution(tc ToolCall) {
	s.Executed = append(s.Executed, ExecutedCall{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Args:       tc.Clone().Args,
		At:         time.Now().UTC(),
	})
}
