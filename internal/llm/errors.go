package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderError is a failure reported by a model vendor. Code holds the
// HTTP status when the vendor returned one.
type ProviderError struct {
	Provider string
	Message  string
	Code     int
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Retryable reports whether another model might succeed where this one
// failed: auth problems, throttling and server-side errors.
func (e *ProviderError) Retryable() bool {
	switch e.Code {
	case 401, 403, 429, 500, 502, 503, 529:
		return true
	}
	return false
}

var transientHints = []string{"overloaded", "rate limit", "capacity", "timeout"}

// IsRetryable reports whether err should send the request on to the next
// fallback model.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Retryable() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
