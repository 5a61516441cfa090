// Package mailbox fetches inbound mail for triage and marks processed
// messages as read.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
)

// ErrUnknownMessage is returned when marking a message the source never
// delivered.
var ErrUnknownMessage = errors.New("unknown message")

// Mailbox is an inbound mail source.
type Mailbox interface {
	// Fetch returns up to max unread messages, oldest first.
	Fetch(ctx context.Context, max int) ([]domain.Email, error)

	// MarkRead flags a message as processed.
	MarkRead(ctx context.Context, id string) error

	// Name identifies the source ("gmail", "imap", "memory").
	Name() string
}

// Open builds the mailbox selected by cfg.Kind. It returns nil for "none".
func Open(ctx context.Context, cfg config.MailboxConfig, paths config.Paths, log *logging.Logger) (Mailbox, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "gmail":
		httpClient, err := GoogleHTTPClient(ctx, cfg.Gmail, paths)
		if err != nil {
			return nil, err
		}
		svc, err := NewGmailService(ctx, httpClient)
		if err != nil {
			return nil, err
		}
		return NewGmail(svc, cfg.Gmail.Query, log), nil
	case "imap":
		return NewIMAP(cfg.IMAP, log), nil
	default:
		return nil, fmt.Errorf("unknown mailbox kind %q", cfg.Kind)
	}
}

// Memory is an in-process mailbox used by tests and the run command.
type Memory struct {
	mu     sync.Mutex
	emails map[string]domain.Email
	read   map[string]bool
}

// NewMemory creates a Memory mailbox holding emails. Emails without an id
// are given their position as id.
func NewMemory(emails ...domain.Email) *Memory {
	m := &Memory{emails: make(map[string]domain.Email), read: make(map[string]bool)}
	for i, e := range emails {
		if e.ID == "" {
			e.ID = fmt.Sprintf("m-%d", i+1)
		}
		e.Source = "memory"
		m.emails[e.ID] = e
	}
	return m
}

// Name implements Mailbox.
func (m *Memory) Name() string { return "memory" }

// Fetch implements Mailbox.
func (m *Memory) Fetch(_ context.Context, max int) ([]domain.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Email
	for id, e := range m.emails {
		if !m.read[id] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// MarkRead implements Mailbox.
func (m *Memory) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	m.read[id] = true
	return nil
}

// IsRead reports whether id was marked read.
func (m *Memory) IsRead(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read[id]
}
