package agent

import (
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/tools"
)

// notifyAction is the action name of a notify-only review.
const notifyAction = "Email Assistant: notify"

// interruptFor builds the single-element interrupt request for a suspended
// state from its PendingReview and transcript.
func (r *Runner) interruptFor(st *domain.ConversationState) ([]domain.InterruptRequest, error) {
	p := st.Pending
	if p == nil {
		return nil, ErrNotSuspended
	}
	email := st.Email.Markdown()

	if p.Kind == domain.ReviewNotify {
		return []domain.InterruptRequest{{
			ActionRequest: domain.ActionRequest{Action: notifyAction, Args: map[string]any{}},
			Config:        domain.IgnoreRespond,
			Description:   email,
		}}, nil
	}

	msg, ok := st.Transcript.Get(p.MessageID)
	if !ok {
		return nil, domain.Fatalf(domain.FatalTool, "pending message %s missing from transcript", p.MessageID)
	}
	tc, _, ok := msg.FindToolCall(p.ToolCallID)
	if !ok {
		return nil, domain.Fatalf(domain.FatalTool, "pending call %s missing from message %s", p.ToolCallID, p.MessageID)
	}
	args := tc.Clone().Args
	if args == nil {
		args = map[string]any{}
	}
	return []domain.InterruptRequest{{
		ActionRequest: domain.ActionRequest{Action: tc.Name, Args: args},
		Config:        tools.Capabilities(tools.ID(tc.Name)),
		Description:   email + "\n\n" + tools.FormatForDisplay(tc),
	}}, nil
}
