// Package notify tells reviewers about suspended threads over IRC and
// takes their verdicts back as channel commands.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lrstanley/girc"

	"github.com/soyeahso/mailroom/internal/agent"
	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/hooks"
	"github.com/soyeahso/mailroom/internal/logging"
	"github.com/soyeahso/mailroom/internal/version"
)

// ErrNotConnected is returned when posting before the client connected.
var ErrNotConnected = errors.New("irc: not connected")

// Reviewer is the part of the runner the IRC commands drive.
type Reviewer interface {
	Resume(ctx context.Context, threadID string, resp domain.InterruptResponse) (*agent.Outcome, error)
	Interrupt(ctx context.Context, threadID string) ([]domain.InterruptRequest, error)
}

// Status is the runtime state of the notifier.
type Status struct {
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// IRC posts review notices to the configured channels.
type IRC struct {
	cfg      config.IRCConfig
	reviewer Reviewer
	log      *logging.Logger

	mu      sync.RWMutex
	client  *girc.Client
	running bool
	lastErr string
}

// NewIRC creates an IRC notifier.
func NewIRC(cfg config.IRCConfig, reviewer Reviewer, log *logging.Logger) *IRC {
	return &IRC{cfg: cfg, reviewer: reviewer, log: log.Sub("irc")}
}

// Status returns the current runtime status.
func (n *IRC) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Status{
		Connected: n.client != nil && n.client.IsConnected(),
		Running:   n.running,
		LastError: n.lastErr,
	}
}

func (n *IRC) port() int {
	if n.cfg.Port != 0 {
		return n.cfg.Port
	}
	if n.cfg.UseTLS {
		return 6697
	}
	return 6667
}

func (n *IRC) gircConfig() girc.Config {
	cfg := girc.Config{
		Server:  n.cfg.Server,
		Port:    n.port(),
		Nick:    n.cfg.Nick,
		User:    n.cfg.Nick,
		Name:    "mailroom review bot",
		SSL:     n.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if n.cfg.UseTLS {
		cfg.TLSConfig = &tls.Config{ServerName: n.cfg.Server}
	}
	if n.cfg.SASL && n.cfg.Password != "" {
		cfg.SASL = &girc.SASLPlain{User: n.cfg.Nick, Pass: n.cfg.Password}
	} else if n.cfg.Password != "" {
		cfg.ServerPass = n.cfg.Password
	}
	return cfg
}

// Start connects and blocks until the connection ends or ctx is done.
func (n *IRC) Start(ctx context.Context) error {
	client := girc.New(n.gircConfig())
	client.Handlers.Add(girc.CONNECTED, n.onConnected)
	client.Handlers.Add(girc.PRIVMSG, n.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, n.onDisconnected)

	n.mu.Lock()
	n.client = client
	n.running = true
	n.lastErr = ""
	n.mu.Unlock()

	n.log.Info().
		Str("server", n.cfg.Server).
		Int("port", n.port()).
		Str("nick", n.cfg.Nick).
		Strs("channels", n.cfg.Channels).
		Bool("tls", n.cfg.UseTLS).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		n.mu.Lock()
		n.running = false
		if err != nil {
			n.lastErr = err.Error()
		}
		n.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		<-errCh
		n.mu.Lock()
		n.running = false
		n.mu.Unlock()
		return ctx.Err()
	}
}

// Stop disconnects from the server.
func (n *IRC) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil && n.client.IsConnected() {
		n.log.Info().Msg("disconnecting from IRC")
		n.client.Quit("mailroom shutting down")
	}
	n.running = false
}

const hookName = "irc-notify"

// Register subscribes the notifier to thread lifecycle events. The
// returned func unsubscribes it.
func (n *IRC) Register(hm *hooks.Manager) (unregister func()) {
	hm.On(hooks.EventThreadSuspended, hookName, func(_ context.Context, p hooks.Payload) error {
		return n.Broadcast(formatReview(p.Str("thread"), p.Str("action"), p.Str("subject")))
	})
	hm.On(hooks.EventThreadFailed, hookName, func(_ context.Context, p hooks.Payload) error {
		return n.Broadcast(fmt.Sprintf("[failed] %s: %s", p.Str("thread"), p.Str("error")))
	})
	return func() {
		hm.Off(hooks.EventThreadSuspended, hookName)
		hm.Off(hooks.EventThreadFailed, hookName)
	}
}

// Broadcast posts text to every configured channel.
func (n *IRC) Broadcast(text string) error {
	for _, ch := range n.cfg.Channels {
		if err := n.Post(ch, text); err != nil {
			return err
		}
	}
	return nil
}

// Post sends text to one target, splitting it into IRC-sized lines.
func (n *IRC) Post(target, text string) error {
	n.mu.RLock()
	client := n.client
	n.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}
	if target == "" {
		return errors.New("irc: no target specified")
	}
	lines := splitMessage(text, 400)
	for _, line := range lines {
		client.Cmd.Message(target, line)
	}
	n.log.Debug().Str("to", target).Int("lines", len(lines)).Msg("sent IRC message")
	return nil
}

func (n *IRC) onConnected(c *girc.Client, _ girc.Event) {
	n.log.Info().Str("nick", c.GetNick()).Msg("connected to IRC")
	for _, ch := range n.cfg.Channels {
		c.Cmd.Join(ch)
	}
}

func (n *IRC) onDisconnected(_ *girc.Client, _ girc.Event) {
	n.log.Warn().Msg("disconnected from IRC")
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()
}

func (n *IRC) onPrivmsg(c *girc.Client, e girc.Event) {
	if e.Source == nil || e.Source.Name == c.GetNick() || !e.IsFromChannel() {
		return
	}
	target := e.Params[0]
	for _, reply := range n.handle(context.Background(), e.Source.Name, e.Last()) {
		if err := n.Post(target, reply); err != nil {
			n.log.Warn().Err(err).Str("channel", target).Msg("failed to reply")
		}
	}
}

// handle runs a channel command and returns the replies to post.
func (n *IRC) handle(ctx context.Context, nick, body string) []string {
	cmd, ok := parseCommand(body)
	if !ok {
		return nil
	}
	if owner := n.cfg.Owner; owner != "" && !strings.EqualFold(nick, owner) {
		n.log.Debug().Str("nick", nick).Str("owner", owner).Msg("ignoring command from non-owner")
		return nil
	}
	if cmd.Err != "" {
		return []string{cmd.Err}
	}

	if cmd.Verb == verbShow {
		reqs, err := n.reviewer.Interrupt(ctx, cmd.Thread)
		if err != nil {
			return []string{fmt.Sprintf("%s: %v", cmd.Thread, err)}
		}
		req := reqs[0]
		return []string{fmt.Sprintf("%s %s (allowed: %s)\n%s",
			cmd.Thread, req.ActionRequest.Action, allowed(req.Config), req.Description)}
	}

	resp, err := cmd.Response()
	if err != nil {
		return []string{err.Error()}
	}
	n.log.Info().
		Str("nick", nick).
		Str("thread", cmd.Thread).
		Str("verdict", string(resp.Type)).
		Msg("verdict received over IRC")

	out, err := n.reviewer.Resume(ctx, cmd.Thread, resp)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", cmd.Thread, err)}
	}
	return []string{formatOutcome(out)}
}

func formatReview(thread, action, subject string) string {
	return fmt.Sprintf("[review] %s %s: %s", thread, action, subject)
}

func formatOutcome(out *agent.Outcome) string {
	if out.Status == domain.StatusAwaitingReview && len(out.Interrupt) > 0 {
		return fmt.Sprintf("%s now awaiting review of %s", out.ThreadID, out.Interrupt[0].ActionRequest.Action)
	}
	if out.Error != "" {
		return fmt.Sprintf("%s %s: %s", out.ThreadID, out.Status, out.Error)
	}
	return fmt.Sprintf("%s %s (%d tool calls executed)", out.ThreadID, out.Status, len(out.Executed))
}

func allowed(c domain.Capabilities) string {
	var v []string
	for _, pair := range []struct {
		ok   bool
		name string
	}{
		{c.AllowAccept, "accept"},
		{c.AllowEdit, "edit"},
		{c.AllowIgnore, "ignore"},
		{c.AllowRespond, "respond"},
	} {
		if pair.ok {
			v = append(v, pair.name)
		}
	}
	return strings.Join(v, ", ")
}

// splitMessage breaks text into IRC lines: one per input line, with lines
// longer than maxLen cut at byte boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		for len(line) > maxLen {
			chunks = append(chunks, line[:maxLen])
			line = line[maxLen:]
		}
		if line != "" {
			chunks = append(chunks, line)
		}
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}
