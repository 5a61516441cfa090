package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assistantWithCalls(id string, calls ...ToolCall) Message {
	return Message{ID: id, Role: RoleAssistant, ToolCalls: calls}
}

// --- ApplyMessage tests ---

func TestApplyMessage_AppendsAndAssignsID(t *testing.T) {
	tr, err := ApplyMessage(Transcript{}, UserMessage("hello"))
	require.NoError(t, err)

	require.Equal(t, 1, tr.Len())
	last, ok := tr.Last()
	require.True(t, ok)
	assert.NotEmpty(t, last.ID)
	assert.False(t, last.Timestamp.IsZero())
	assert.Equal(t, "hello", last.Content)
}

func TestApplyMessage_DoesNotMutateInput(t *testing.T) {
	base, err := NewTranscript(UserMessage("one"))
	require.NoError(t, err)

	next, err := ApplyMessage(base, UserMessage("two"))
	require.NoError(t, err)

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, next.Len())
}

func TestApplyMessage_LastWriteWinsBySameID(t *testing.T) {
	orig := assistantWithCalls("ai-1",
		ToolCall{ID: "c1", Name: "schedule_meeting", Args: map[string]any{"duration_minutes": 45}},
		ToolCall{ID: "c2", Name: "write_email", Args: map[string]any{"content": "hi"}},
	)
	tr, err := NewTranscript(UserMessage("respond"), orig, UserMessage("after"))
	require.NoError(t, err)

	edited := orig.Clone()
	edited.ToolCalls[0].Args["duration_minutes"] = 30
	tr, err = ApplyMessage(tr, edited)
	require.NoError(t, err)

	require.Equal(t, 3, tr.Len(), "replacement must not append")
	got, ok := tr.Get("ai-1")
	require.True(t, ok)
	assert.Equal(t, 30, got.ToolCalls[0].Args["duration_minutes"])
	assert.Equal(t, "hi", got.ToolCalls[1].Args["content"])

	msgs := tr.Messages()
	assert.Equal(t, "ai-1", msgs[1].ID, "replaced message keeps its slot")
	assert.Equal(t, "after", msgs[2].Content)

	// The caller's copy of the original is untouched.
	assert.Equal(t, 45, orig.ToolCalls[0].Args["duration_minutes"])
}

func TestApplyMessage_ToolMessageRequiresEarlierCall(t *testing.T) {
	tr, err := NewTranscript(assistantWithCalls("ai-1", ToolCall{ID: "c1", Name: "Done"}))
	require.NoError(t, err)

	_, err = ApplyMessage(tr, ToolMessage("c1", "ok"))
	assert.NoError(t, err)

	_, err = ApplyMessage(tr, ToolMessage("missing", "ok"))
	assert.ErrorIs(t, err, ErrUncorrelatedToolMessage)

	_, err = ApplyMessage(Transcript{}, ToolMessage("", "ok"))
	assert.ErrorIs(t, err, ErrUncorrelatedToolMessage)
}

func TestApplyMessage_RejectsUnknownRole(t *testing.T) {
	_, err := ApplyMessage(Transcript{}, Message{Role: "robot"})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestTranscript_JSONRoundTripKeepsIndex(t *testing.T) {
	tr, err := NewTranscript(
		UserMessage("respond"),
		assistantWithCalls("ai-1", ToolCall{ID: "c1", Name: "write_email", Args: map[string]any{"to": "a@b.c"}}),
	)
	require.NoError(t, err)
	tr, err = ApplyMessage(tr, ToolMessage("c1", "sent"))
	require.NoError(t, err)

	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var decoded Transcript
	require.NoError(t, json.Unmarshal(data, &decoded))

	if diff := cmp.Diff(tr.Messages(), decoded.Messages()); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
	_, ok := decoded.Get("ai-1")
	assert.True(t, ok)
	assert.True(t, decoded.Answered("c1"))
}

func TestTranscript_LastAssistant(t *testing.T) {
	tr, err := NewTranscript(
		UserMessage("a"),
		assistantWithCalls("ai-1", ToolCall{ID: "c1", Name: "Done"}),
		ToolMessage("c1", "done"),
	)
	require.NoError(t, err)

	m, ok := tr.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "ai-1", m.ID)

	_, ok = Transcript{}.LastAssistant()
	assert.False(t, ok)
}

// --- Classification tests ---

func TestParseClassification(t *testing.T) {
	for _, valid := range []string{"respond", "notify", "ignore"} {
		c, err := ParseClassification(valid)
		require.NoError(t, err)
		assert.Equal(t, Classification(valid), c)
	}

	_, err := ParseClassification("urgent")
	require.Error(t, err)
	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, FatalClassification, fe.Kind)
	assert.True(t, IsFatal(err))
}

// --- Interrupt tests ---

func TestInterruptRequestWireShape(t *testing.T) {
	req := []InterruptRequest{{
		ActionRequest: ActionRequest{Action: "write_email", Args: map[string]any{"to": "x@y.z"}},
		Config:        IgnoreRespond,
		Description:   "desc",
	}}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var generic []map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	require.Len(t, generic, 1)

	action := generic[0]["actionRequest"].(map[string]any)
	assert.Equal(t, "write_email", action["action"])
	cfg := generic[0]["config"].(map[string]any)
	assert.Equal(t, true, cfg["allow_ignore"])
	assert.Equal(t, true, cfg["allow_respond"])
	assert.Equal(t, false, cfg["allow_edit"])
	assert.Equal(t, false, cfg["allow_accept"])
	assert.Equal(t, "desc", generic[0]["description"])
}

func TestInterruptResponse_Validate(t *testing.T) {
	for _, v := range []Verdict{VerdictAccept, VerdictEdit, VerdictIgnore, VerdictResponse} {
		assert.NoError(t, InterruptResponse{Type: v}.Validate())
	}
	err := InterruptResponse{Type: "approve"}.Validate()
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestInterruptResponse_EditedArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"nested", `{"args":{"duration_minutes":30}}`, map[string]any{"duration_minutes": float64(30)}},
		{"nested with action", `{"action":"schedule_meeting","args":{"subject":"x"}}`, map[string]any{"subject": "x"}},
		{"flat", `{"to":"a@b.c","subject":"s"}`, map[string]any{"to": "a@b.c", "subject": "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InterruptResponse{Type: VerdictEdit, Args: json.RawMessage(tt.raw)}.EditedArgs()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := InterruptResponse{Type: VerdictEdit}.EditedArgs()
	assert.True(t, IsFatal(err))
	_, err = InterruptResponse{Type: VerdictEdit, Args: json.RawMessage(`"text"`)}.EditedArgs()
	assert.True(t, IsFatal(err))

	for _, raw := range []string{`null`, ` null `, `{"args":null}`, `{"action":"write_email","args":[1]}`} {
		got, err := InterruptResponse{Type: VerdictEdit, Args: json.RawMessage(raw)}.EditedArgs()
		assert.True(t, IsFatal(err), raw)
		assert.Nil(t, got, raw)
	}
}

func TestInterruptResponse_Feedback(t *testing.T) {
	r, err := NewResponse(VerdictResponse, "make it shorter")
	require.NoError(t, err)
	assert.Equal(t, "make it shorter", r.Feedback())

	assert.Equal(t, "", InterruptResponse{Type: VerdictResponse}.Feedback())
	assert.Equal(t, `{"note":1}`, InterruptResponse{Type: VerdictResponse, Args: json.RawMessage(`{"note":1}`)}.Feedback())
}

func TestCapabilitiesAllows(t *testing.T) {
	assert.True(t, AllVerdicts.Allows(VerdictEdit))
	assert.False(t, IgnoreRespond.Allows(VerdictAccept))
	assert.False(t, IgnoreRespond.Allows(VerdictEdit))
	assert.True(t, IgnoreRespond.Allows(VerdictResponse))
	assert.False(t, AllVerdicts.Allows("other"))
}

// --- Namespace tests ---

func TestNamespace(t *testing.T) {
	ns := NS(CategoryCalendar)
	assert.Equal(t, "email_assistant/cal_preferences", ns.String())
	assert.Equal(t, "('email_assistant', 'cal_preferences')", ns.Tuple())

	c, err := ParseCategory("background")
	require.NoError(t, err)
	assert.Equal(t, CategoryBackground, c)

	_, err = ParseCategory("nope")
	assert.Error(t, err)
}

// --- State tests ---

func TestConversationState_Archive(t *testing.T) {
	s := NewConversationState("t-1", Email{From: "a", Subject: "s"})
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, NodeTriage, s.Node)

	s.Pending = &PendingReview{Kind: ReviewNotify}
	s.Archive(StatusCompleted)

	assert.True(t, s.Status.Terminal())
	assert.Equal(t, NodeEnd, s.Node)
	assert.Nil(t, s.Pending)
	require.NotNil(t, s.ArchivedAt)
}

func TestConversationState_RecordExecutionCopiesArgs(t *testing.T) {
	s := NewConversationState("t-1", Email{})
	tc := ToolCall{ID: "c1", Name: "write_email", Args: map[string]any{"to": "a"}}
	s.RecordExecution(tc)
	tc.Args["to"] = "b"

	require.Len(t, s.Executed, 1)
	assert.Equal(t, "a", s.Executed[0].Args["to"])
}

func TestEmailMarkdownAndValidate(t *testing.T) {
	e := Email{ID: "m-1", From: "alice@example.com", To: "me@example.com", Subject: "Lunch", Body: "Free at noon?"}
	md := e.Markdown()
	assert.Contains(t, md, "**Subject**: Lunch")
	assert.Contains(t, md, "**From**: alice@example.com")
	assert.Contains(t, md, "**ID**: m-1")
	assert.Contains(t, md, "Free at noon?")
	assert.NoError(t, e.Validate())

	assert.Error(t, Email{Subject: "x"}.Validate())
	assert.Error(t, Email{From: "x"}.Validate())
}
