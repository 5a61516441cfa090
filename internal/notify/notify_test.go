package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/mailroom/internal/agent"
	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/hooks"
	"github.com/soyeahso/mailroom/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

type fakeReviewer struct {
	resumed  []domain.InterruptResponse
	threads  []string
	resumeFn func(threadID string) (*agent.Outcome, error)
}

func (f *fakeReviewer) Resume(_ context.Context, threadID string, resp domain.InterruptResponse) (*agent.Outcome, error) {
	f.resumed = append(f.resumed, resp)
	f.threads = append(f.threads, threadID)
	if f.resumeFn != nil {
		return f.resumeFn(threadID)
	}
	return &agent.Outcome{ThreadID: threadID, Status: domain.StatusCompleted}, nil
}

func (f *fakeReviewer) Interrupt(_ context.Context, threadID string) ([]domain.InterruptRequest, error) {
	if threadID == "missing" {
		return nil, agent.ErrNotSuspended
	}
	return []domain.InterruptRequest{{
		ActionRequest: domain.ActionRequest{Action: "write_email"},
		Config:        domain.AllVerdicts,
		Description:   "# Email Draft",
	}}, nil
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		ok      bool
		verb    verb
		thread  string
		text    string
		wantErr bool
	}{
		{"hello there", false, "", "", "", false},
		{"!weather paris", false, "", "", "", false},
		{"!accept t-1", true, verbAccept, "t-1", "", false},
		{"  !IGNORE t-2 ", true, verbIgnore, "t-2", "", false},
		{"!respond t-3 make it shorter please", true, verbRespond, "t-3", "make it shorter please", false},
		{"!respond t-3", true, verbRespond, "t-3", "", true},
		{"!accept", true, verbAccept, "", "", true},
		{`!edit t-4 {"subject":"x"}`, true, verbEdit, "t-4", `{"subject":"x"}`, false},
		{"!show t-5", true, verbShow, "t-5", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, ok := parseCommand(tt.line)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.verb, cmd.Verb)
			assert.Equal(t, tt.thread, cmd.Thread)
			assert.Equal(t, tt.text, cmd.Text)
			assert.Equal(t, tt.wantErr, cmd.Err != "")
		})
	}
}

func TestCommandResponse(t *testing.T) {
	r, err := command{Verb: verbRespond, Thread: "t", Text: "yes"}.Response()
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictResponse, r.Type)
	assert.Equal(t, "yes", r.Feedback())

	r, err = command{Verb: verbEdit, Thread: "t", Text: `{"args":{"duration_minutes":30}}`}.Response()
	require.NoError(t, err)
	args, err := r.EditedArgs()
	require.NoError(t, err)
	assert.Equal(t, float64(30), args["duration_minutes"])

	_, err = command{Verb: verbEdit, Thread: "t", Text: "not json"}.Response()
	assert.Error(t, err)
	_, err = command{Verb: verbShow, Thread: "t"}.Response()
	assert.Error(t, err)
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	rev := &fakeReviewer{}
	n := NewIRC(config.IRCConfig{Owner: "boss"}, rev, testLogger())

	assert.Nil(t, n.handle(ctx, "boss", "just chatting"))
	assert.Nil(t, n.handle(ctx, "intruder", "!accept t-1"))
	assert.Empty(t, rev.resumed)

	replies := n.handle(ctx, "Boss", "!accept t-1")
	require.Len(t, replies, 1)
	assert.Equal(t, "t-1 completed (0 tool calls executed)", replies[0])
	require.Len(t, rev.resumed, 1)
	assert.Equal(t, domain.VerdictAccept, rev.resumed[0].Type)

	replies = n.handle(ctx, "boss", "!show t-1")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "write_email (allowed: accept, edit, ignore, respond)")
	assert.Contains(t, replies[0], "# Email Draft")

	replies = n.handle(ctx, "boss", "!show missing")
	assert.Contains(t, replies[0], "not awaiting review")

	replies = n.handle(ctx, "boss", "!respond t-2")
	assert.Equal(t, []string{usage}, replies)

	rev.resumeFn = func(threadID string) (*agent.Outcome, error) {
		return &agent.Outcome{
			ThreadID:  threadID,
			Status:    domain.StatusAwaitingReview,
			Interrupt: []domain.InterruptRequest{{ActionRequest: domain.ActionRequest{Action: "schedule_meeting"}}},
		}, nil
	}
	replies = n.handle(ctx, "boss", "!respond t-3 use friday")
	assert.Equal(t, []string{"t-3 now awaiting review of schedule_meeting"}, replies)

	rev.resumeFn = func(string) (*agent.Outcome, error) { return nil, errors.New("boom") }
	replies = n.handle(ctx, "boss", "!ignore t-4")
	assert.Equal(t, []string{"t-4: boom"}, replies)
}

func TestHandle_NoOwnerAllowsAnyone(t *testing.T) {
	rev := &fakeReviewer{}
	n := NewIRC(config.IRCConfig{}, rev, testLogger())
	replies := n.handle(context.Background(), "anyone", "!ignore t-1")
	require.Len(t, replies, 1)
	assert.Equal(t, []string{"t-1"}, rev.threads)
}

func TestStatusAndPostNotConnected(t *testing.T) {
	n := NewIRC(config.IRCConfig{Channels: []string{"#mail"}}, &fakeReviewer{}, testLogger())
	st := n.Status()
	assert.False(t, st.Connected)
	assert.False(t, st.Running)

	assert.ErrorIs(t, n.Post("#mail", "hi"), ErrNotConnected)
	assert.ErrorIs(t, n.Broadcast("hi"), ErrNotConnected)
}

func TestRegisterEmitsThroughHooks(t *testing.T) {
	n := NewIRC(config.IRCConfig{Channels: []string{"#mail"}}, &fakeReviewer{}, testLogger())
	hm := hooks.NewManager(testLogger())
	n.Register(hm)
	assert.Equal(t, 1, hm.Count(hooks.EventThreadSuspended))
	assert.Equal(t, 1, hm.Count(hooks.EventThreadFailed))

	// Not connected: the handler error is logged, not propagated.
	hm.Emit(context.Background(), hooks.EventThreadSuspended, map[string]any{"thread": "t-1"})
}

func TestGircConfigPorts(t *testing.T) {
	tls := NewIRC(config.IRCConfig{Server: "irc.test", Nick: "bot", UseTLS: true}, nil, testLogger())
	assert.Equal(t, 6697, tls.gircConfig().Port)
	assert.NotNil(t, tls.gircConfig().TLSConfig)

	plain := NewIRC(config.IRCConfig{Server: "irc.test", Nick: "bot", Port: 7000, Password: "pw"}, nil, testLogger())
	cfg := plain.gircConfig()
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "pw", cfg.ServerPass)
	assert.Nil(t, cfg.SASL)

	sasl := NewIRC(config.IRCConfig{Server: "irc.test", Nick: "bot", Password: "pw", SASL: true}, nil, testLogger())
	assert.NotNil(t, sasl.gircConfig().SASL)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "[review] t-1 write_email: Lunch", formatReview("t-1", "write_email", "Lunch"))
	assert.Equal(t, "accept, edit, ignore, respond", allowed(domain.AllVerdicts))
	assert.Equal(t, "ignore, respond", allowed(domain.IgnoreRespond))
	assert.Equal(t, "t failed: bad", formatOutcome(&agent.Outcome{ThreadID: "t", Status: domain.StatusFailed, Error: "bad"}))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, splitMessage("hello world", 400))
	assert.Equal(t, []string{"line one", "line two"}, splitMessage("line one\n\nline two", 400))

	for _, chunk := range splitMessage("abcdefghijklmnopqrstuvwxyz", 10) {
		assert.LessOrEqual(t, len(chunk), 10)
	}
}
