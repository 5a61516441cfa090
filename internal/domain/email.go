package domain

import (
	"fmt"
	"strings"
	"time"
)

// Email is the inbound item a thread is created for.
type Email struct {
	ID         string    `json:"id,omitempty"`       // mailbox message id, empty for API-submitted mail
	ThreadID   string    `json:"threadId,omitempty"` // mailbox conversation id
	Source     string    `json:"source,omitempty"`   // "gmail" | "imap" | ""
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}

// Validate checks that the fields used for triage are present.
func (e Email) Validate() error {
	var missing []string
	if strings.TrimSpace(e.From) == "" {
		missing = append(missing, "from")
	}
	if strings.TrimSpace(e.Subject) == "" && strings.TrimSpace(e.Body) == "" {
		missing = append(missing, "subject or body")
	}
	if len(missing) > 0 {
		return fmt.Errorf("email is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Markdown renders the email for prompts and reviewer descriptions.
func (e Email) Markdown() string {
	var b strings.Builder
	b.WriteString("\n\n**Subject**: ")
	b.WriteString(e.Subject)
	b.WriteString("\n**From**: ")
	b.WriteString(e.From)
	b.WriteString("\n**To**: ")
	b.WriteString(e.To)
	if e.ID != "" {
		b.WriteString("\n**ID**: ")
		b.WriteString(e.ID)
	}
	b.WriteString("\n\n")
	b.WriteString(e.Body)
	b.WriteString("\n\n---\n")
	return b.String()
}
