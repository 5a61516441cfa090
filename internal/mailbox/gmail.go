package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
)

// DefaultGmailQuery selects unread inbox mail.
const DefaultGmailQuery = "is:unread in:inbox"

// Gmail reads mail through the Gmail API.
type Gmail struct {
	svc   *gmail.Service
	query string
	log   *logging.Logger
}

// NewGmail creates a Gmail mailbox. An empty query uses DefaultGmailQuery.
func NewGmail(svc *gmail.Service, query string, log *logging.Logger) *Gmail {
	if query == "" {
		query = DefaultGmailQuery
	}
	return &Gmail{svc: svc, query: query, log: log.Sub("gmail")}
}

// Name implements Mailbox.
func (g *Gmail) Name() string { return "gmail" }

// Fetch implements Mailbox.
func (g *Gmail) Fetch(ctx context.Context, max int) ([]domain.Email, error) {
	return g.Search(ctx, g.query, max)
}

// Search returns up to max messages matching a Gmail query, oldest first.
func (g *Gmail) Search(ctx context.Context, query string, max int) ([]domain.Email, error) {
	if max <= 0 {
		max = 10
	}
	if max > 100 {
		max = 100
	}
	g.log.Debug().Str("query", query).Int("max", max).Msg("listing messages")

	r, err := g.svc.Users.Messages.List("me").Q(query).MaxResults(int64(max)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	emails := make([]domain.Email, 0, len(r.Messages))
	for _, ref := range r.Messages {
		msg, err := g.svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			g.log.Warn().Err(err).Str("id", ref.Id).Msg("failed to get message details")
			continue
		}
		emails = append(emails, gmailToEmail(msg))
	}
	sort.SliceStable(emails, func(i, j int) bool {
		return emails[i].ReceivedAt.Before(emails[j].ReceivedAt)
	})
	return emails, nil
}

// MarkRead implements Mailbox by removing the UNREAD label.
func (g *Gmail) MarkRead(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	if _, err := g.svc.Users.Messages.Modify("me", id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("marking %s read: %w", id, err)
	}
	return nil
}

// Send sends a plain text message and returns its Gmail id.
func (g *Gmail) Send(ctx context.Context, to, subject, body string) (string, error) {
	var message strings.Builder
	fmt.Fprintf(&message, "To: %s\r\n", to)
	fmt.Fprintf(&message, "Subject: %s\r\n", subject)
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)

	raw := base64.URLEncoding.EncodeToString([]byte(message.String()))
	sent, err := g.svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return sent.Id, nil
}

func gmailToEmail(msg *gmail.Message) domain.Email {
	e := domain.Email{ID: msg.Id, ThreadID: msg.ThreadId, Source: "gmail"}
	if msg.InternalDate > 0 {
		e.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		e.Body = msg.Snippet
		return e
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			e.From = h.Value
		case "To":
			e.To = h.Value
		case "Subject":
			e.Subject = h.Value
		case "Date":
			if e.ReceivedAt.IsZero() {
				if t, err := mail.ParseDate(h.Value); err == nil {
					e.ReceivedAt = t.UTC()
				}
			}
		}
	}
	e.Body = extractBody(msg.Payload)
	if e.Body == "" {
		e.Body = msg.Snippet
	}
	return e
}

// extractBody returns the first text part, preferring text/plain.
func extractBody(payload *gmail.MessagePart) string {
	if body := findPart(payload, "text/plain"); body != "" {
		return body
	}
	return findPart(payload, "text/html")
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBase64URL(part.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, p := range part.Parts {
		if body := findPart(p, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
