package tasks

import (
	"errors"
	"strings"
)

var (
	ErrNotFound    = errors.New("task not found")
	ErrInvalidID   = errors.New("invalid task id")
	ErrEmptyUpdate = errors.New("no fields to update")
	ErrImmutableID = errors.New("task id cannot be updated")
	ErrInvalidKey  = errors.New("field names must be non-empty, must not contain '.' and must not start with '$'")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists the fields that prevented a write.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}
