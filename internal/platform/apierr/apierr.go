package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
)

type Error struct {
	Status int
	Code   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// StatusFor maps a domain error code to its HTTP status.
func StatusFor(code domainagg.ErrorCode) int {
	switch code {
	case domainagg.CodeValidation:
		return http.StatusUnprocessableEntity
	case domainagg.CodeNotFound:
		return http.StatusNotFound
	case domainagg.CodeConflict, domainagg.CodeInvariantViolation:
		return http.StatusConflict
	case domainagg.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case domainagg.CodeRetryable, domainagg.CodeConfiguration:
		return http.StatusServiceUnavailable
	case domainagg.CodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromError converts any error into an API error. Internal failures keep a generic
// message so storage details never reach clients.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var de *domainagg.Error
	if errors.As(err, &de) {
		status := StatusFor(de.Code)
		msg := de.Message
		if msg == "" && de.Cause != nil {
			msg = de.Cause.Error()
		}
		if msg == "" || status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
		return &Error{Status: status, Code: string(de.Code), Reason: string(de.Reason), Err: errors.New(msg)}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Status: http.StatusGatewayTimeout, Code: "timeout", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Status: http.StatusServiceUnavailable, Code: "canceled", Err: err}
	}
	return &Error{Status: http.StatusInternalServerError, Code: string(domainagg.CodeInternal), Err: errors.New("internal error")}
}
