package tools

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ArgError reports a missing or malformed tool argument. It surfaces to the
// model as a tool result, never as a fatal error.
type ArgError struct {
	Name   string
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Name, e.Reason)
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", &ArgError{Name: name, Reason: "is required"}
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case float64, int, int64:
		return fmt.Sprint(s), nil
	default:
		return "", &ArgError{Name: name, Reason: fmt.Sprintf("expected a string, got %T", v)}
	}
}

func optionalString(args map[string]any, name string) string {
	s, err := stringArg(args, name)
	if err != nil {
		return ""
	}
	return s
}

func intArg(args map[string]any, name string) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, &ArgError{Name: name, Reason: "is required"}
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, &ArgError{Name: name, Reason: err.Error()}
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, &ArgError{Name: name, Reason: fmt.Sprintf("not an integer: %q", n)}
		}
		return i, nil
	default:
		return 0, &ArgError{Name: name, Reason: fmt.Sprintf("expected an integer, got %T", v)}
	}
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	listLiteral  = regexp.MustCompile(`^\s*\[.*\]\s*$`)
)

// attendeesArg accepts a JSON list, a list literal in a string, or free
// text from which addresses are extracted.
func attendeesArg(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, &ArgError{Name: name, Reason: "is required"}
	}
	switch a := v.(type) {
	case []string:
		return a, nil
	case []any:
		out := make([]string, 0, len(a))
		for _, item := range a {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	case string:
		if listLiteral.MatchString(a) {
			var list []string
			if err := json.Unmarshal([]byte(strings.ReplaceAll(a, "'", `"`)), &list); err == nil {
				return list, nil
			}
		}
		return emailPattern.FindAllString(a, -1), nil
	default:
		return nil, &ArgError{Name: name, Reason: fmt.Sprintf("expected a list, got %T", v)}
	}
}

var dayLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"Monday, January 2, 2006",
}

// dayArg parses a date the model produced in any of the common layouts.
func dayArg(args map[string]any, name string) (time.Time, error) {
	s, err := stringArg(args, name)
	if err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ArgError{Name: name, Reason: fmt.Sprintf("unrecognised date %q", s)}
}
