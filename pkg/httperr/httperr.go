package httperr

import (
	"errors"
	"net/http"
	"strings"
)

const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeSequenceViolation = "SEQUENCE_VIOLATION"
	CodeWONotInProgress   = "WO_NOT_IN_PROGRESS"
	CodeMissingYield      = "MISSING_YIELD"
	CodeInvalidYield      = "INVALID_YIELD"
	CodeLPConflict        = "LP_CONFLICT"
	CodeWOIncomplete      = "WO_OPERATIONS_INCOMPLETE"
	CodeInvalidTransition = "INVALID_TRANSITION"
)

// Error is an application error that already knows how it surfaces over HTTP.
type Error struct {
	Status  int
	Code    string
	Message string
	Details []string
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

func New(status int, code string, msg string) error {
	return &Error{Status: status, Code: code, Message: msg}
}

func NewBadRequest(msg string) error {
	return &Error{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: msg}
}

// NewValidation reports every problem found; Message is the first one.
func NewValidation(problems []string) error {
	msg := "validation failed"
	if len(problems) > 0 {
		msg = problems[0]
	}
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: msg,
		Details: append([]string(nil), problems...),
	}
}

func NewNotFound(msg string) error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: msg}
}

func NewForbidden(msg string) error {
	return &Error{Status: http.StatusForbidden, Code: CodeForbidden, Message: msg}
}

func NewConflict(code string, msg string) error {
	return &Error{Status: http.StatusConflict, Code: code, Message: msg}
}

func As(err error) (*Error, bool) {
	e, ok := errors.AsType[*Error](err)
	if !ok || e == nil {
		return nil, false
	}
	return e, true
}

func IsBadRequest(err error) bool {
	e, ok := As(err)
	return ok && e.Status == http.StatusBadRequest
}

func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
