package tools

import (
	"context"
	"fmt"
)

// funcTool adapts a function into a Tool.
type funcTool struct {
	id          ID
	description string
	schema      string
	fn          func(ctx context.Context, args map[string]any) (string, error)
}

func (t *funcTool) ID() ID              { return t.id }
func (t *funcTool) Description() string { return t.description }
func (t *funcTool) Schema() string      { return t.schema }

func (t *funcTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.fn(ctx, args)
}

const (
	writeEmailSchema = `{"type":"object","properties":{` +
		`"to":{"type":"string","description":"Recipient email address"},` +
		`"subject":{"type":"string","description":"Email subject"},` +
		`"content":{"type":"string","description":"Email body"}},` +
		`"required":["to","subject","content"]}`

	scheduleMeetingSchema = `{"type":"object","properties":{` +
		`"attendees":{"type":"array","items":{"type":"string"},"description":"Attendee email addresses"},` +
		`"subject":{"type":"string","description":"Meeting subject"},` +
		`"duration_minutes":{"type":"integer","description":"Meeting length in minutes"},` +
		`"preferred_day":{"type":"string","description":"Day of the meeting, YYYY-MM-DD"},` +
		`"start_time":{"type":"integer","description":"Start time as 24h HHMM, e.g. 1400"}},` +
		`"required":["attendees","subject","duration_minutes","preferred_day","start_time"]}`

	checkAvailabilitySchema = `{"type":"object","properties":{` +
		`"day":{"type":"string","description":"Day to check, YYYY-MM-DD"}},` +
		`"required":["day"]}`

	questionSchema = `{"type":"object","properties":{` +
		`"content":{"type":"string","description":"Question to ask the user"}},` +
		`"required":["content"]}`

	doneSchema = `{"type":"object","properties":{` +
		`"done":{"type":"boolean","description":"Set to true once the email has been handled"}}}`
)

// NewWriteEmail returns the simulated write_email tool.
func NewWriteEmail() Tool {
	return &funcTool{
		id:          WriteEmail,
		description: "Send emails to specified recipients",
		schema:      writeEmailSchema,
		fn: func(_ context.Context, args map[string]any) (string, error) {
			to, err := stringArg(args, "to")
			if err != nil {
				return "", err
			}
			subject, err := stringArg(args, "subject")
			if err != nil {
				return "", err
			}
			content, err := stringArg(args, "content")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Email sent to %s with subject '%s' and content: %s", to, subject, content), nil
		},
	}
}

// NewScheduleMeeting returns the simulated schedule_meeting tool.
func NewScheduleMeeting() Tool {
	return &funcTool{
		id:          ScheduleMeeting,
		description: "Schedule calendar meetings where preferred_day is a date",
		schema:      scheduleMeetingSchema,
		fn: func(_ context.Context, args map[string]any) (string, error) {
			attendees, err := attendeesArg(args, "attendees")
			if err != nil {
				return "", err
			}
			subject, err := stringArg(args, "subject")
			if err != nil {
				return "", err
			}
			minutes, err := intArg(args, "duration_minutes")
			if err != nil {
				return "", err
			}
			day, err := dayArg(args, "preferred_day")
			if err != nil {
				return "", err
			}
			start, err := stringArg(args, "start_time")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Meeting '%s' scheduled on %s at %s for %d minutes with %d attendees",
				subject, day.Format("Monday, January 02, 2006"), start, minutes, len(attendees)), nil
		},
	}
}

// NewCheckCalendarAvailability returns the simulated availability tool.
func NewCheckCalendarAvailability() Tool {
	return &funcTool{
		id:          CheckCalendarAvailability,
		description: "Check available time slots for a given day",
		schema:      checkAvailabilitySchema,
		fn: func(_ context.Context, args map[string]any) (string, error) {
			day, err := stringArg(args, "day")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Available times on %s: 9:00 AM, 2:00 PM, 4:00 PM", day), nil
		},
	}
}

// NewQuestion returns the Question tool. It only runs after a reviewer has
// answered, so executing it directly just echoes the question.
func NewQuestion() Tool {
	return &funcTool{
		id:          Question,
		description: "Ask the user any follow-up questions",
		schema:      questionSchema,
		fn: func(_ context.Context, args map[string]any) (string, error) {
			q, err := stringArg(args, "content")
			if err != nil {
				return "", err
			}
			return "Question asked: " + q, nil
		},
	}
}

// NewDone returns the terminal Done tool. The response loop intercepts it
// before dispatch.
func NewDone() Tool {
	return &funcTool{
		id:          Done,
		description: "E-mail has been sent",
		schema:      doneSchema,
		fn: func(context.Context, map[string]any) (string, error) {
			return "Done", nil
		},
	}
}

// DefaultToolset returns the simulated toolset.
func DefaultToolset() []Tool {
	return []Tool{
		NewWriteEmail(),
		NewScheduleMeeting(),
		NewCheckCalendarAvailability(),
		NewQuestion(),
		NewDone(),
	}
}
