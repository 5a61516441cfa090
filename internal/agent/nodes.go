package agent

import (
	"context"
	"fmt"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/hooks"
	"github.com/soyeahso/mailroom/internal/llm"
	"github.com/soyeahso/mailroom/internal/tools"
)

// triageAnswer is the structured classification the model returns.
type triageAnswer struct {
	Reasoning      string `json:"reasoning"`
	Classification string `json:"classification"`
}

func (r *Runner) preferences(ctx context.Context, c domain.Category) (string, error) {
	text, err := r.memory.Get(ctx, domain.NS(c), DefaultPreferences(c))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", c, err)
	}
	return text, nil
}

func (r *Runner) triage(ctx context.Context, st *domain.ConversationState, _ *domain.InterruptResponse) (Step, error) {
	background, err := r.preferences(ctx, domain.CategoryBackground)
	if err != nil {
		return Step{}, err
	}
	rules, err := r.preferences(ctx, domain.CategoryTriage)
	if err != nil {
		return Step{}, err
	}

	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		System:      triageSystemPrompt(background, rules, r.opts.Now()),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: triageUserPrompt(st.Email)}},
		MaxTokens:   r.opts.MaxTokens,
		Temperature: llm.Temperature(r.opts.Temperature),
	})
	if err != nil {
		return Step{}, fmt.Errorf("triage completion: %w", err)
	}

	var answer triageAnswer
	if err := llm.DecodeStructured(resp.Content, &answer); err != nil {
		return Step{}, domain.Fatalf(domain.FatalClassification, "unreadable triage answer: %v", err)
	}
	c, err := domain.ParseClassification(answer.Classification)
	if err != nil {
		return Step{}, err
	}
	st.Classification = c
	st.Reasoning = answer.Reasoning

	r.log.Info().
		Str("thread", st.ThreadID).
		Str("classification", string(c)).
		Msg("email triaged")

	switch c {
	case domain.ClassificationRespond:
		return Step{
			Messages: []domain.Message{domain.UserMessage(fmt.Sprintf(msgRespondTo, st.Email.Markdown()))},
			Next:     domain.NodeGenerate,
		}, nil
	case domain.ClassificationNotify:
		return Step{
			Next:    domain.NodeTriageReview,
			Suspend: &domain.PendingReview{Kind: domain.ReviewNotify},
		}, nil
	default:
		return Step{Next: domain.NodeEnd}, nil
	}
}

func (r *Runner) triageReview(ctx context.Context, st *domain.ConversationState, verdict *domain.InterruptResponse) (Step, error) {
	if verdict == nil {
		return Step{
			Next:    domain.NodeTriageReview,
			Suspend: &domain.PendingReview{Kind: domain.ReviewNotify},
		}, nil
	}
	if !domain.IgnoreRespond.Allows(verdict.Type) {
		return Step{}, domain.Fatalf(domain.FatalVerdict, "verdict %q is not permitted for a notify review", verdict.Type)
	}

	notice := domain.UserMessage(fmt.Sprintf(msgNotifyAbout, st.Email.Markdown()))
	triageNS := domain.NS(domain.CategoryTriage)

	if verdict.Type == domain.VerdictIgnore {
		ignored := domain.UserMessage(msgNotifyIgnored)
		r.distil(ctx, st, triageNS, []domain.Message{notice, ignored})
		return Step{Messages: []domain.Message{notice, ignored}, Next: domain.NodeEnd}, nil
	}

	reply := domain.UserMessage(fmt.Sprintf(msgNotifyReply, verdict.Feedback()))
	r.distil(ctx, st, triageNS, []domain.Message{domain.UserMessage(msgNotifyRespond), notice, reply})
	return Step{Messages: []domain.Message{notice, reply}, Next: domain.NodeGenerate}, nil
}

func (r *Runner) generate(ctx context.Context, st *domain.ConversationState, _ *domain.InterruptResponse) (Step, error) {
	background, err := r.preferences(ctx, domain.CategoryBackground)
	if err != nil {
		return Step{}, err
	}
	responsePrefs, err := r.preferences(ctx, domain.CategoryResponse)
	if err != nil {
		return Step{}, err
	}
	calPrefs, err := r.preferences(ctx, domain.CategoryCalendar)
	if err != nil {
		return Step{}, err
	}

	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		System:      agentSystemPrompt(r.tools.Catalogue(), background, responsePrefs, calPrefs, r.opts.Now()),
		Messages:    toLLMMessages(st.Transcript.Messages()),
		Tools:       r.tools.Definitions(),
		ToolChoice:  llm.ToolChoiceAny,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: llm.Temperature(r.opts.Temperature),
	})
	if err != nil {
		return Step{}, fmt.Errorf("response completion: %w", err)
	}

	msg := fromCompletion(resp)
	st.Cursor = 0

	r.log.Debug().
		Str("thread", st.ThreadID).
		Int("toolCalls", len(msg.ToolCalls)).
		Int("inputTokens", resp.Usage.InputTokens).
		Int("outputTokens", resp.Usage.OutputTokens).
		Msg("assistant turn generated")
	return Step{Messages: []domain.Message{msg}, Next: domain.NodeDispatch}, nil
}

func (r *Runner) dispatch(ctx context.Context, st *domain.ConversationState, _ *domain.InterruptResponse) (Step, error) {
	last, ok := st.Transcript.LastAssistant()
	if !ok || len(last.ToolCalls) == 0 {
		return Step{
			Messages: []domain.Message{domain.UserMessage(msgCallATool)},
			Next:     domain.NodeGenerate,
		}, nil
	}

	resolved := make([]tools.Tool, len(last.ToolCalls))
	for i, tc := range last.ToolCalls {
		if tc.Name == string(tools.Done) {
			st.MarkRead = true
			return Step{Next: domain.NodeMarkRead}, nil
		}
		tool, err := r.tools.Lookup(tc.Name)
		if err != nil {
			return Step{}, domain.Fatalf(domain.FatalTool, "%v", err)
		}
		resolved[i] = tool
	}

	var msgs []domain.Message
	for i := st.Cursor; i < len(last.ToolCalls); i++ {
		tc, tool := last.ToolCalls[i], resolved[i]
		if r.tools.RequiresReview(tool.ID()) {
			st.Cursor = i
			return Step{
				Messages: msgs,
				Next:     domain.NodeReview,
				Suspend: &domain.PendingReview{
					Kind:       domain.ReviewTool,
					MessageID:  last.ID,
					ToolCallID: tc.ID,
					Index:      i,
				},
			}, nil
		}
		result, err := r.execute(ctx, st, tool, tc)
		if err != nil {
			return Step{}, err
		}
		msgs = append(msgs, domain.ToolMessage(tc.ID, result))
		st.Cursor = i + 1
	}
	return Step{Messages: msgs, Next: domain.NodeGenerate}, nil
}

// execute runs a tool. Tool failures become the result text so the model
// can react; only context cancellation is returned as an error.
func (r *Runner) execute(ctx context.Context, st *domain.ConversationState, tool tools.Tool, tc domain.ToolCall) (string, error) {
	out, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		r.log.Warn().
			Err(err).
			Str("thread", st.ThreadID).
			Str("tool", tc.Name).
			Msg("tool execution failed")
		r.hooks.Emit(ctx, hooks.EventToolExecuted, map[string]any{
			"thread": st.ThreadID,
			"tool":   tc.Name,
			"error":  err.Error(),
		})
		return "Error: " + err.Error(), nil
	}

	st.RecordExecution(tc)
	r.log.Info().
		Str("thread", st.ThreadID).
		Str("tool", tc.Name).
		Msg("tool executed")
	r.hooks.Emit(ctx, hooks.EventToolExecuted, map[string]any{
		"thread": st.ThreadID,
		"tool":   tc.Name,
	})
	return out, nil
}

func (r *Runner) markRead(ctx context.Context, st *domain.ConversationState, _ *domain.InterruptResponse) (Step, error) {
	e := st.Email
	if !st.MarkRead || r.mailbox == nil || e.ID == "" || e.Source == "" {
		return Step{Next: domain.NodeEnd}, nil
	}
	if err := r.mailbox.MarkRead(ctx, e.ID); err != nil {
		r.log.Warn().
			Err(err).
			Str("thread", st.ThreadID).
			Str("email", e.ID).
			Msg("failed to mark email read")
		return Step{Next: domain.NodeEnd}, nil
	}
	text := fmt.Sprintf("Email [%s] was marked as read", e.ID)
	if e.Source == "gmail" {
		text = fmt.Sprintf(msgMarkedRead, e.ID)
	}
	return Step{Messages: []domain.Message{domain.UserMessage(text)}, Next: domain.NodeEnd}, nil
}

// distil updates a namespace and logs failures. A lost preference update
// never fails the thread.
func (r *Runner) distil(ctx context.Context, st *domain.ConversationState, ns domain.Namespace, msgs []domain.Message) {
	if _, err := r.distiller.Distill(ctx, ns, msgs); err != nil {
		r.log.Warn().
			Err(err).
			Str("thread", st.ThreadID).
			Str("namespace", ns.String()).
			Msg("preference update failed")
	}
}

// reviewGroup picks verdict texts and preference categories for a tool.
type reviewGroup int

const (
	groupEmail reviewGroup = iota
	groupMeeting
	groupQuestion
)

func groupOf(id tools.ID) reviewGroup {
	switch id {
	case tools.Question:
		return groupQuestion
	case tools.ScheduleMeeting, tools.ScheduleMeetingTool:
		return groupMeeting
	default:
		return groupEmail
	}
}

func (r *Runner) review(ctx context.Context, st *domain.ConversationState, verdict *domain.InterruptResponse) (Step, error) {
	p := st.Pending
	if p == nil || p.Kind != domain.ReviewTool {
		return Step{}, domain.Fatalf(domain.FatalVerdict, "thread has no pending tool review")
	}
	if verdict == nil {
		pending := *p
		return Step{Next: domain.NodeReview, Suspend: &pending}, nil
	}

	msg, ok := st.Transcript.Get(p.MessageID)
	if !ok {
		return Step{}, domain.Fatalf(domain.FatalTool, "pending message %s missing from transcript", p.MessageID)
	}
	tc, idx, ok := msg.FindToolCall(p.ToolCallID)
	if !ok {
		return Step{}, domain.Fatalf(domain.FatalTool, "pending call %s missing from message %s", p.ToolCallID, p.MessageID)
	}
	tool, err := r.tools.Lookup(tc.Name)
	if err != nil {
		return Step{}, domain.Fatalf(domain.FatalTool, "%v", err)
	}
	id := tool.ID()
	if !tools.Capabilities(id).Allows(verdict.Type) {
		return Step{}, domain.Fatalf(domain.FatalVerdict, "verdict %q is not permitted for %s", verdict.Type, id)
	}
	st.Cursor = idx + 1
	group := groupOf(id)

	switch verdict.Type {
	case domain.VerdictAccept:
		result, err := r.execute(ctx, st, tool, tc)
		if err != nil {
			return Step{}, err
		}
		return Step{Messages: []domain.Message{domain.ToolMessage(tc.ID, result)}, Next: domain.NodeDispatch}, nil

	case domain.VerdictEdit:
		args, err := verdict.EditedArgs()
		if err != nil {
			return Step{}, err
		}
		updated := msg.Clone()
		updated.ToolCalls[idx].Args = args
		edited := updated.ToolCalls[idx]

		result, err := r.execute(ctx, st, tool, edited)
		if err != nil {
			return Step{}, err
		}
		if cat, ok := tools.MemoryCategory(id); ok {
			signal := signalEmailEdited
			if group == groupMeeting {
				signal = signalMeetEdited
			}
			r.distil(ctx, st, domain.NS(cat), []domain.Message{
				domain.UserMessage(fmt.Sprintf(signal, tc.ArgsJSON(), edited.ArgsJSON(), memoryReinforcement)),
			})
		}
		return Step{
			Messages: []domain.Message{updated, domain.ToolMessage(tc.ID, result)},
			Next:     domain.NodeDispatch,
		}, nil

	case domain.VerdictIgnore:
		text, signal := msgEmailIgnored, signalEmailIgnore
		switch group {
		case groupMeeting:
			text, signal = msgMeetingIgnored, signalMeetIgnore
		case groupQuestion:
			text, signal = msgQuestionIgnore, signalQuestIgnore
		}
		result := domain.ToolMessage(tc.ID, text)
		r.distil(ctx, st, domain.NS(domain.CategoryTriage), append(st.Transcript.Messages(),
			result, domain.UserMessage(fmt.Sprintf(signal, memoryReinforcement))))
		return Step{Messages: []domain.Message{result}, Next: domain.NodeEnd}, nil

	default: // response
		feedback := verdict.Feedback()
		if group == groupQuestion {
			return Step{
				Messages: []domain.Message{domain.ToolMessage(tc.ID, fmt.Sprintf(msgAnswered, feedback))},
				Next:     domain.NodeDispatch,
			}, nil
		}
		text, signal := msgEmailFeedback, signalEmailFeedbk
		if group == groupMeeting {
			text, signal = msgMeetFeedback, signalMeetFeedbk
		}
		result := domain.ToolMessage(tc.ID, fmt.Sprintf(text, feedback))
		if cat, ok := tools.MemoryCategory(id); ok {
			r.distil(ctx, st, domain.NS(cat), append(st.Transcript.Messages(),
				result, domain.UserMessage(fmt.Sprintf(signal, memoryReinforcement))))
		}
		return Step{Messages: []domain.Message{result}, Next: domain.NodeDispatch}, nil
	}
}
