package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/prboard/internal/models"
)

// ErrAuth is the sentinel every *AuthError unwraps to.
var ErrAuth = errors.New("invalid credentials")

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when the request body is malformed. It is
// raised before any tenant lookup or model call.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// AuthError is returned for an unknown app id or a secret mismatch. Reason
// is for logs only and never reaches the client.
type AuthError struct {
	AppID  string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("invalid credentials for app %q: %s", e.AppID, e.Reason)
}

func (e *AuthError) Unwrap() error { return ErrAuth }

// ExtractionError wraps any failure to obtain a valid report from the model.
// No event row exists when it is returned.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return "extract review report: " + e.Err.Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Timeout reports whether the model call ran out of time.
func (e *ExtractionError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// PersistenceError is returned when the report was extracted but could not be
// appended. Report carries the computed result so the caller can still see it.
type PersistenceError struct {
	Err    error
	Report *models.ReviewReport
}

func (e *PersistenceError) Error() string {
	return "persist review event: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
