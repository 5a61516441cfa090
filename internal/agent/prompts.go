package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/mailroom/internal/domain"
)

// Default preference text used when a namespace has never been written.
const (
	DefaultBackground = `I am the owner of this mailbox. I work on a small software team and
handle email from colleagues, customers, vendors and family.`

	DefaultTriagePreferences = `Emails that are not worth responding to:
- Marketing newsletters and promotional emails
- Spam or suspicious emails
- Threads I am CC'd on for information only, with no direct question

Emails I should know about but that do not need a reply (notify):
- Team members out sick or on vacation
- Build, deployment and monitoring notifications
- Project status updates without action items
- Company announcements and HR deadline reminders
- Subscription and renewal reminders
- GitHub notifications

Emails worth responding to:
- Direct questions from team members
- Meeting requests that need confirmation
- Critical bug reports on projects I own
- Requests from management that need acknowledgment
- Client questions about project status or features
- Personal reminders about family or health appointments`

	DefaultResponsePreferences = `Use professional and concise language. If the email mentions a
deadline, acknowledge it explicitly in the reply.

When answering technical questions that need investigation:
- Say whether you will investigate yourself or who you will ask
- Give an expected timeline for an answer

When answering event or conference invitations:
- Acknowledge registration deadlines
- Ask for details about any workshops or topics mentioned
- Ask about group or early bird discounts when mentioned

When answering meeting requests:
- If times are proposed, check availability for each of them, then commit to one by
  scheduling the meeting, or say none of them work
- If no times are proposed, check the calendar and offer several options
- Restate the meeting duration and its purpose`

	DefaultCalendarPreferences = `30 minute meetings are preferred, but 15 minute meetings are also acceptable.`
)

// DefaultPreferences returns the built-in text for a category.
func DefaultPreferences(c domain.Category) string {
	switch c {
	case domain.CategoryTriage:
		return DefaultTriagePreferences
	case domain.CategoryResponse:
		return DefaultResponsePreferences
	case domain.CategoryCalendar:
		return DefaultCalendarPreferences
	case domain.CategoryBackground:
		return DefaultBackground
	default:
		return ""
	}
}

// memoryReinforcement closes every distillation signal message.
const memoryReinforcement = `Remember:
- NEVER overwrite the entire memory profile
- ONLY make targeted additions of new information
- ONLY update specific facts that are directly contradicted by feedback messages
- PRESERVE all other existing information in the profile
- Format the profile consistently with the original style
- Generate the profile as a string`

// memoryUpdateInstructions builds the system prompt for distillation.
func memoryUpdateInstructions(currentProfile string, ns domain.Namespace) string {
	var b strings.Builder
	b.WriteString(`# Role and Objective
You maintain the memory profile of an email assistant. You update stored user
preferences using feedback from a human reviewing the assistant's actions.

# Instructions
- NEVER overwrite the entire memory profile
- ONLY make targeted additions of new information
- ONLY update specific facts that are directly contradicted by feedback messages
- PRESERVE all other existing information in the profile
- Format the profile consistently with the original style
- Generate the profile as a string

# Reasoning Steps
1. Read the current profile
2. Read the feedback in the conversation below: edits to drafts or invites,
   explicit feedback, decisions to ignore an email
3. Extract the preferences that feedback reveals
4. Compare them with the profile and keep only new or contradicted facts
5. Output the complete updated profile

`)
	fmt.Fprintf(&b, "# Current profile for %s\n<memory_profile>\n%s\n</memory_profile>\n\n", ns.Tuple(), currentProfile)
	b.WriteString(`Answer with a single JSON object and nothing else:
{"chain_of_thought": "<which preferences to add or update and why>", "user_preferences": "<the complete updated profile>"}`)
	return b.String()
}

// triageSystemPrompt builds the classification system prompt.
func triageSystemPrompt(background, triagePreferences string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current date: %s\n\n", now.Format("2006-01-02"))
	b.WriteString("# Role\nYou triage incoming email for the user described below.\n\n")
	fmt.Fprintf(&b, "# Background\n%s\n\n", background)
	b.WriteString(`# Instructions
Categorize the email into exactly one of:
- ignore: not worth responding to or tracking
- notify: important information that needs no reply
- respond: needs a direct reply

`)
	fmt.Fprintf(&b, "# Rules\n%s\n\n", triagePreferences)
	b.WriteString(`Answer with a single JSON object and nothing else:
{"reasoning": "<step by step reasoning>", "classification": "ignore" | "notify" | "respond"}`)
	return b.String()
}

// triageUserPrompt renders the email to classify.
func triageUserPrompt(e domain.Email) string {
	return fmt.Sprintf(`Please determine how to handle the email thread below:

From: %s
To: %s
Subject: %s
%s`, e.From, e.To, e.Subject, e.Body)
}

// agentSystemPrompt builds the response loop system prompt.
func agentSystemPrompt(catalogue, background, responsePreferences, calPreferences string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current date: %s\n\n", now.Format("2006-01-02"))
	b.WriteString("# Role\nYou are an executive assistant acting on the user's email.\n\n")
	fmt.Fprintf(&b, "# Tools\nYou can use the following tools:\n%s\n", catalogue)
	b.WriteString(`# Instructions
When handling an email:
1. Analyze its content and purpose.
2. Always call exactly one tool at a time until the task is complete.
3. Use Question to ask the user a follow-up question when something is unclear.
4. For meeting requests, check calendar availability before scheduling.
5. After scheduling a meeting, send a short reply confirming it.
6. Once the reply has been sent, call Done.

`)
	fmt.Fprintf(&b, "# Background\n%s\n\n", background)
	fmt.Fprintf(&b, "# Response Preferences\n%s\n\n", responsePreferences)
	fmt.Fprintf(&b, "# Calendar Preferences\n%s\n", calPreferences)
	return b.String()
}

// Transcript texts written by the workflow.
const (
	msgRespondTo      = "Respond to the email: \n\n%s"
	msgNotifyAbout    = "Email to notify user about: %s"
	msgNotifyReply    = "User wants to reply to the email. Use this feedback to respond: %s"
	msgNotifyRespond  = "The user decided to respond to the email, so update the triage preferences to capture this."
	msgNotifyIgnored  = "The user decided to ignore the email even though it was classified as notify. Update triage preferences to capture this."
	msgMarkedRead     = "Gmail email [%s] was marked as read"
	msgCallATool      = "You must call one of the available tools. Call Done once the email has been handled."
	msgEmailIgnored   = "User ignored this email draft. Ignore this email and end the workflow."
	msgMeetingIgnored = "User ignored this calendar meeting draft. Ignore this email and end the workflow."
	msgQuestionIgnore = "User ignored this question. Ignore this email and end the workflow."
	msgEmailFeedback  = "User gave feedback, which can we incorporate into the email. Feedback: %s"
	msgMeetFeedback   = "User gave feedback, which can we incorporate into the meeting request. Feedback: %s"
	msgAnswered       = "User answered the question, which can we can use for any follow up actions. Feedback: %s"

	signalEmailEdited = "User edited the email response. Here is the initial email generated by the assistant: %s. Here is the edited email: %s. Follow all instructions above, and remember: %s."
	signalMeetEdited  = "User edited the calendar invitation. Here is the initial calendar invitation generated by the assistant: %s. Here is the edited calendar invitation: %s. Follow all instructions above, and remember: %s."
	signalEmailIgnore = "The user ignored the email draft. That means they did not want to respond to the email. Update the triage preferences to ensure emails of this type are not classified as respond. Follow all instructions above, and remember: %s."
	signalMeetIgnore  = "The user ignored the calendar meeting draft. That means they did not want to schedule a meeting for this email. Update the triage preferences to ensure emails of this type are not classified as respond. Follow all instructions above, and remember: %s."
	signalQuestIgnore = "The user ignored the Question. That means they did not want to answer the question or deal with this email. Update the triage preferences to ensure emails of this type are not classified as respond. Follow all instructions above, and remember: %s."
	signalEmailFeedbk = "User gave feedback, which we can use to update the response preferences. Follow all instructions above, and remember: %s."
	signalMeetFeedbk  = "User gave feedback, which we can use to update the calendar preferences. Follow all instructions above, and remember: %s."
)
