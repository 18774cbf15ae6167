package intake

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrUnknownField is returned when a host tries to set a key the draft does not carry.
	ErrUnknownField = errors.New("intake: unknown field")

	// ErrNotOnFinalStep is returned when submit is attempted before the last step.
	ErrNotOnFinalStep = errors.New("intake: submit is only available on the final step")

	// ErrClosed is returned when an operation targets a wizard that was closed.
	ErrClosed = errors.New("intake: wizard is closed")

	// ErrSessionNotFound is returned when a session id is unknown or expired.
	ErrSessionNotFound = errors.New("intake: session not found")
)

// FieldErrors maps a field key to a human-readable message.
// An absent key means the field is valid.
type FieldErrors map[string]string

// Empty reports whether no field carries an error.
func (e FieldErrors) Empty() bool {
	return len(e) == 0
}

// Clone returns an independent copy.
func (e FieldErrors) Clone() FieldErrors {
	out := make(FieldErrors, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Keys returns the field keys in sorted order.
func (e FieldErrors) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidationError is returned by a Backend when the server rejects
// individual fields. Field names match the submission payload keys.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "intake: validation failed"
	}
	return "intake: validation failed: " + strings.Join(e.Fields.Keys(), ", ")
}
