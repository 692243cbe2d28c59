package common

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxEntityNameLength caps registry entity names; anything longer is
// almost certainly extraction noise, not a real merchant or agent.
const MaxEntityNameLength = 200

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// ValidateEntityName checks a registry entity name before creation.
func ValidateEntityName(field, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ValidationError{Field: field, Value: name, Message: "is required"}
	}
	if !utf8.ValidString(trimmed) {
		return ValidationError{Field: field, Value: name, Message: "is not valid UTF-8"}
	}
	if utf8.RuneCountInString(trimmed) > MaxEntityNameLength {
		return ValidationError{Field: field, Value: name, Message: fmt.Sprintf("exceeds %d characters", MaxEntityNameLength)}
	}
	return nil
}
