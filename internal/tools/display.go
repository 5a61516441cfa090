package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/mailroom/internal/domain"
)

// FormatForDisplay renders a proposed tool call for a reviewer.
func FormatForDisplay(tc domain.ToolCall) string {
	var b strings.Builder
	switch ID(tc.Name) {
	case WriteEmail, SendEmail:
		b.WriteString("# Email Draft\n\n")
		fmt.Fprintf(&b, "**To**: %s\n", optionalString(tc.Args, "to"))
		fmt.Fprintf(&b, "**Subject**: %s\n\n", optionalString(tc.Args, "subject"))
		b.WriteString(optionalString(tc.Args, "content"))
		b.WriteString("\n")
	case ScheduleMeeting, ScheduleMeetingTool:
		attendees, _ := attendeesArg(tc.Args, "attendees")
		b.WriteString("# Calendar Invite\n\n")
		fmt.Fprintf(&b, "**Meeting**: %s\n", optionalString(tc.Args, "subject"))
		fmt.Fprintf(&b, "**Attendees**: %s\n", strings.Join(attendees, ", "))
		fmt.Fprintf(&b, "**Duration**: %s minutes\n", optionalString(tc.Args, "duration_minutes"))
		fmt.Fprintf(&b, "**Day**: %s\n", optionalString(tc.Args, "preferred_day"))
		fmt.Fprintf(&b, "**Start time**: %s\n", optionalString(tc.Args, "start_time"))
	case Question:
		b.WriteString("# Question for User\n\n")
		b.WriteString(optionalString(tc.Args, "content"))
		b.WriteString("\n")
	default:
		fmt.Fprintf(&b, "# Tool Call: %s\n\n", tc.Name)
		args, err := json.MarshalIndent(tc.Args, "", "  ")
		if err != nil {
			args = []byte(tc.ArgsJSON())
		}
		b.WriteString("Arguments:\n")
		b.Write(args)
		b.WriteString("\n")
	}
	return b.String()
}
