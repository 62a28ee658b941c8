package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// GitHubContext identifies the workflow run a comment was produced by.
type GitHubContext struct {
	Repo       string  `json:"repo" validate:"required"`
	Owner      string  `json:"owner" validate:"required"`
	Branch     string  `json:"branch" validate:"required"`
	BaseBranch string  `json:"baseBranch" validate:"required"`
	HeadBranch string  `json:"headBranch" validate:"required"`
	PRNumber   *int    `json:"prNumber,omitempty"`
	PRLink     *string `json:"prLink,omitempty"`
	RunID      string  `json:"runId" validate:"required"`
	RunNumber  *int    `json:"runNumber,omitempty"`
	RunAttempt *int    `json:"runAttempt,omitempty"`
	CommentID  string  `json:"commentId" validate:"required"`
}

// Request is the body of POST /api/v1/reporting.
type Request struct {
	AppID          string        `json:"appId" validate:"required"`
	AppPrivateKey  string        `json:"appPrivateKey" validate:"required"`
	CommentContent string        `json:"commentContent" validate:"required"`
	GitHub         GitHubContext `json:"github"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Decode reads and validates a request body.
func Decode(r io.Reader) (*Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, decodeError(err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return &ValidationError{Fields: []FieldError{{
			Field:   field,
			Message: fmt.Sprintf("expected %s, got %s", typeName(typeErr.Type), typeErr.Value),
		}}}
	}
	if errors.Is(err, io.EOF) {
		return &ValidationError{Fields: []FieldError{{Field: "body", Message: "request body is empty"}}}
	}
	return &ValidationError{Fields: []FieldError{{Field: "body", Message: "invalid JSON: " + err.Error()}}}
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "integer"
	case reflect.String:
		return "string"
	case reflect.Struct, reflect.Map:
		return "object"
	}
	return t.String()
}

// Validate checks required fields. The returned error is a *ValidationError.
func (r *Request) Validate() error {
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: []FieldError{{Field: "body", Message: err.Error()}}}
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Request.github.repo"; drop the struct name.
		name := fe.Namespace()
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		fields = append(fields, FieldError{Field: name, Message: fieldMessage(fe)})
	}
	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
