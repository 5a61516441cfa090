package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/mailroom/internal/domain"
)

type verb string

const (
	verbAccept  verb = "accept"
	verbIgnore  verb = "ignore"
	verbRespond verb = "respond"
	verbEdit    verb = "edit"
	verbShow    verb = "show"
)

const usage = "usage: !show <thread> | !accept <thread> | !ignore <thread> | !respond <thread> <text> | !edit <thread> <json args>"

// command is a parsed "!verb thread [text]" line.
type command struct {
	Verb   verb
	Thread string
	Text   string
	Err    string // set for recognised but malformed commands
}

// parseCommand recognises reviewer commands. ok is false for ordinary chat.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "!") {
		return command{}, false
	}
	fields := strings.SplitN(line[1:], " ", 3)
	v := verb(strings.ToLower(fields[0]))
	switch v {
	case verbAccept, verbIgnore, verbRespond, verbEdit, verbShow:
	default:
		return command{}, false
	}

	cmd := command{Verb: v}
	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		cmd.Err = usage
		return cmd, true
	}
	cmd.Thread = strings.TrimSpace(fields[1])
	if len(fields) == 3 {
		cmd.Text = strings.TrimSpace(fields[2])
	}
	if (v == verbRespond || v == verbEdit) && cmd.Text == "" {
		cmd.Err = usage
	}
	return cmd, true
}

// Response converts a verdict command to an InterruptResponse.
func (c command) Response() (domain.InterruptResponse, error) {
	switch c.Verb {
	case verbAccept:
		return domain.InterruptResponse{Type: domain.VerdictAccept}, nil
	case verbIgnore:
		return domain.InterruptResponse{Type: domain.VerdictIgnore}, nil
	case verbRespond:
		return domain.NewResponse(domain.VerdictResponse, c.Text)
	case verbEdit:
		if !json.Valid([]byte(c.Text)) {
			return domain.InterruptResponse{}, fmt.Errorf("edit arguments must be JSON")
		}
		return domain.InterruptResponse{Type: domain.VerdictEdit, Args: json.RawMessage(c.Text)}, nil
	default:
		return domain.InterruptResponse{}, fmt.Errorf("%s is not a verdict", c.Verb)
	}
}
