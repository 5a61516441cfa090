package domain

import (
	"errors"
	"fmt"
)

// FatalKind classifies errors that abort a thread.
type FatalKind string

const (
	FatalClassification FatalKind = "classification"
	FatalVerdict        FatalKind = "verdict"
	FatalTool           FatalKind = "tool"
)

// FatalError aborts the thread it occurs in. Everything else degrades to a
// message the model or a reviewer can act on.
type FatalError struct {
	Kind    FatalKind
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Fatalf builds a FatalError.
func Fatalf(kind FatalKind, format string, args ...any) *FatalError {
	return &FatalError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
