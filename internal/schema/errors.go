package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Issue is a single schema violation.
type Issue struct {
	Field   string `json:"field" msgpack:"field"`
	Message string `json:"message" msgpack:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// ValidationError reports every violation found in one metadata document.
type ValidationError struct {
	Subject string
	Issues  []Issue
}

func (e *ValidationError) Error() string {
	switch len(e.Issues) {
	case 0:
		return e.Subject + " is invalid"
	case 1:
		return fmt.Sprintf("invalid %s: %s", e.Subject, e.Issues[0])
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("invalid %s (%d issues): %s", e.Subject, len(e.Issues), strings.Join(parts, "; "))
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsValidationError returns the ValidationError wrapped by err, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// issues accumulates violations while walking a document.
type issues struct {
	list []Issue
}

func (s *issues) add(field, format string, args ...any) {
	s.list = append(s.list, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// mergeUnreported appends issues for fields that have not been reported yet.
func (s *issues) mergeUnreported(other []Issue) {
	reported := make(map[string]bool, len(s.list))
	for _, issue := range s.list {
		reported[issue.Field] = true
	}
	for _, issue := range other {
		if !reported[issue.Field] {
			s.list = append(s.list, issue)
		}
	}
}

func (s *issues) err(subject string) error {
	if len(s.list) == 0 {
		return nil
	}
	return &ValidationError{Subject: subject, Issues: s.list}
}

// NewValidationError builds a ValidationError with a single issue.
func NewValidationError(subject, field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Subject: subject,
		Issues:  []Issue{{Field: field, Message: fmt.Sprintf(format, args...)}},
	}
}

func fieldPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}

func indexPath(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}

// decodeError turns a JSON decoding failure into a ValidationError.
func decodeError(subject string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return NewValidationError(subject, typeErr.Field, "expected %s, got JSON %s", typeErr.Type, typeErr.Value)
	}
	return NewValidationError(subject, "", "malformed JSON: %v", err)
}
