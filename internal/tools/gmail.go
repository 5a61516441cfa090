package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/soyeahso/mailroom/internal/domain"
)

// Sender sends plain text mail. mailbox.Gmail implements it.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// Searcher runs a mailbox query. mailbox.Gmail implements it.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]domain.Email, error)
}

// GmailDeps are the services backing the gmail toolset.
type GmailDeps struct {
	Sender   Sender
	Searcher Searcher
	Calendar *calendar.Service
	// CalendarID defaults to "primary".
	CalendarID string
	// Location is used for meeting times given without an offset.
	Location *time.Location
}

const (
	sendEmailSchema = `{"type":"object","properties":{` +
		`"email_address":{"type":"string","description":"Recipient email address"},` +
		`"subject":{"type":"string","description":"Email subject"},` +
		`"content":{"type":"string","description":"Email body"}},` +
		`"required":["email_address","subject","content"]}`

	scheduleMeetingToolSchema = `{"type":"object","properties":{` +
		`"attendees":{"type":"array","items":{"type":"string"},"description":"Attendee email addresses"},` +
		`"subject":{"type":"string","description":"Meeting title"},` +
		`"duration_minutes":{"type":"integer","description":"Meeting length in minutes"},` +
		`"preferred_day":{"type":"string","description":"Day of the meeting, YYYY-MM-DD"},` +
		`"start_time":{"type":"string","description":"Start time, HH:MM in 24h"}},` +
		`"required":["attendees","subject","duration_minutes","preferred_day","start_time"]}`

	checkCalendarSchema = `{"type":"object","properties":{` +
		`"dates":{"type":"array","items":{"type":"string"},"description":"Days to check, YYYY-MM-DD"}},` +
		`"required":["dates"]}`

	fetchEmailsSchema = `{"type":"object","properties":{` +
		`"query":{"type":"string","description":"Gmail search query"},` +
		`"max_results":{"type":"integer","description":"Maximum messages to return"}},` +
		`"required":["query"]}`
)

// GmailToolset returns the toolset backed by Gmail and Google Calendar.
func GmailToolset(deps GmailDeps) []Tool {
	if deps.CalendarID == "" {
		deps.CalendarID = "primary"
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return []Tool{
		newSendEmailTool(deps),
		newScheduleMeetingTool(deps),
		newCheckCalendarTool(deps),
		newFetchEmailsTool(deps),
		NewQuestion(),
		NewDone(),
	}
}

func newSendEmailTool(deps GmailDeps) Tool {
	return &funcTool{
		id:          SendEmail,
		description: "Send an email through Gmail",
		schema:      sendEmailSchema,
		fn: func(ctx context.Context, args map[string]any) (string, error) {
			to, err := stringArg(args, "email_address")
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
			id, err := deps.Sender.Send(ctx, to, subject, content)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Email sent to %s with subject '%s' (message %s)", to, subject, id), nil
		},
	}
}

// clockArg parses "14:00", "1400", "14" or a number such as 1400.
func clockArg(args map[string]any, name string) (hour, minute int, err error) {
	s, err := stringArg(args, name)
	if err != nil {
		return 0, 0, err
	}
	s = strings.TrimSpace(s)
	if t, perr := time.Parse("15:04", s); perr == nil {
		return t.Hour(), t.Minute(), nil
	}
	if t, perr := time.Parse("3:04 PM", strings.ToUpper(s)); perr == nil {
		return t.Hour(), t.Minute(), nil
	}
	n, perr := strconv.Atoi(s)
	if perr != nil || n < 0 {
		return 0, 0, &ArgError{Name: name, Reason: fmt.Sprintf("unrecognised time %q", s)}
	}
	if n < 24 {
		return n, 0, nil
	}
	hour, minute = n/100, n%100
	if hour > 23 || minute > 59 {
		return 0, 0, &ArgError{Name: name, Reason: fmt.Sprintf("unrecognised time %q", s)}
	}
	return hour, minute, nil
}

func newScheduleMeetingTool(deps GmailDeps) Tool {
	return &funcTool{
		id:          ScheduleMeetingTool,
		description: "Schedule a meeting on Google Calendar and invite the attendees",
		schema:      scheduleMeetingToolSchema,
		fn: func(ctx context.Context, args map[string]any) (string, error) {
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
			hour, minute, err := clockArg(args, "start_time")
			if err != nil {
				return "", err
			}
			start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, deps.Location)
			end := start.Add(time.Duration(minutes) * time.Minute)

			ev := &calendar.Event{
				Summary: subject,
				Start:   &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
				End:     &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
			}
			for _, a := range attendees {
				ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: a})
			}
			created, err := deps.Calendar.Events.Insert(deps.CalendarID, ev).SendUpdates("all").Context(ctx).Do()
			if err != nil {
				return "", fmt.Errorf("creating event: %w", err)
			}
			return fmt.Sprintf("Meeting '%s' scheduled on %s at %s for %d minutes with %d attendees (event %s)",
				subject, start.Format("Monday, January 02, 2006"), start.Format("15:04"), minutes, len(attendees), created.Id), nil
		},
	}
}

func newCheckCalendarTool(deps GmailDeps) Tool {
	return &funcTool{
		id:          CheckCalendar,
		description: "List calendar events on the given days",
		schema:      checkCalendarSchema,
		fn: func(ctx context.Context, args map[string]any) (string, error) {
			dates, err := attendeesArg(args, "dates")
			if err != nil {
				return "", err
			}
			if len(dates) == 0 {
				return "", &ArgError{Name: "dates", Reason: "at least one date is required"}
			}
			var b strings.Builder
			for _, d := range dates {
				day, err := dayArg(map[string]any{"date": d}, "date")
				if err != nil {
					return "", err
				}
				from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, deps.Location)
				events, err := deps.Calendar.Events.List(deps.CalendarID).
					TimeMin(from.Format(time.RFC3339)).
					TimeMax(from.AddDate(0, 0, 1).Format(time.RFC3339)).
					SingleEvents(true).
					OrderBy("startTime").
					Context(ctx).Do()
				if err != nil {
					return "", fmt.Errorf("listing events for %s: %w", d, err)
				}
				fmt.Fprintf(&b, "Events on %s:\n", from.Format("Monday, January 02, 2006"))
				if len(events.Items) == 0 {
					b.WriteString("  No events\n")
					continue
				}
				for _, ev := range events.Items {
					fmt.Fprintf(&b, "  %s - %s: %s\n", eventTime(ev.Start), eventTime(ev.End), ev.Summary)
				}
			}
			return b.String(), nil
		},
	}
}

func eventTime(t *calendar.EventDateTime) string {
	if t == nil {
		return "?"
	}
	if t.DateTime == "" {
		return "all day"
	}
	parsed, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return t.DateTime
	}
	return parsed.Format("15:04")
}

func newFetchEmailsTool(deps GmailDeps) Tool {
	return &funcTool{
		id:          FetchEmails,
		description: "Search the mailbox and return matching emails",
		schema:      fetchEmailsSchema,
		fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return "", err
			}
			max := 5
			if _, ok := args["max_results"]; ok {
				if max, err = intArg(args, "max_results"); err != nil {
					return "", err
				}
			}
			emails, err := deps.Searcher.Search(ctx, query, max)
			if err != nil {
				return "", err
			}
			if len(emails) == 0 {
				return "No messages found.", nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Found %d message(s):\n", len(emails))
			for _, e := range emails {
				b.WriteString(e.Markdown())
			}
			return b.String(), nil
		},
	}
}
