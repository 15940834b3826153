package aggregates

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode standardizes aggregate failure semantics across the ledger.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "validation"
	CodeNotFound           ErrorCode = "not_found"
	CodeConflict           ErrorCode = "conflict"
	CodeInvariantViolation ErrorCode = "invariant_violation"
	CodePreconditionFailed ErrorCode = "precondition_failed"
	CodeRetryable          ErrorCode = "retryable"
	CodeConfiguration      ErrorCode = "configuration"
	CodeExternalService    ErrorCode = "external_service"
	CodeInternal           ErrorCode = "internal"
)

// Reason is the machine-readable cause carried by validation and conflict errors.
type Reason string

const (
	ReasonLicenseRejected         Reason = "LICENSE_REJECTED"
	ReasonLicenseChanged          Reason = "LICENSE_CHANGED"
	ReasonMissingEvidence         Reason = "MISSING_EVIDENCE"
	ReasonInsufficientSourceTrust Reason = "INSUFFICIENT_SOURCE_TRUST"
	ReasonNoEvidence              Reason = "NO_EVIDENCE"
	ReasonInvalidAdjustment       Reason = "INVALID_ADJUSTMENT"
	ReasonMissingJustification    Reason = "MISSING_JUSTIFICATION"
	ReasonUntrustedProvenance     Reason = "UNTRUSTED_PROVENANCE"
	ReasonUnknownSourceSystem     Reason = "UNKNOWN_SOURCE_SYSTEM"
	ReasonInvalidInput            Reason = "INVALID_INPUT"
	ReasonEvidenceInUse           Reason = "EVIDENCE_IN_USE"
	ReasonAssertionExists         Reason = "ASSERTION_EXISTS"
	ReasonNotCurrent              Reason = "NOT_CURRENT"
	ReasonConfidenceMissing       Reason = "CONFIDENCE_MISSING"
)

// Error is the canonical aggregate error wrapper.
type Error struct {
	Code    ErrorCode
	Reason  Reason
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	tag := string(e.Code)
	if e.Reason != "" {
		tag = tag + "/" + string(e.Reason)
	}
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, tag)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, tag)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, tag)
	default:
		return tag
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an aggregate error with explicit code + operation.
func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// NewReasonError builds an aggregate error that also carries a reason code.
func NewReasonError(code ErrorCode, reason Reason, op, message string) error {
	return &Error{
		Code:    code,
		Reason:  reason,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
	}
}

// Wrap annotates an existing error with aggregate error semantics.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(code, op, err.Error(), err)
}

// WrapReason annotates an existing error with a code and a reason.
func WrapReason(code ErrorCode, reason Reason, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Reason:  reason,
		Op:      strings.TrimSpace(op),
		Message: err.Error(),
		Cause:   err,
	}
}

// IsCode checks whether err (or wrapped err) carries the given aggregate code.
func IsCode(err error, code ErrorCode) bool {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return false
	}
	return aggErr.Code == code
}

// CodeOf extracts the aggregate error code when available.
func CodeOf(err error) ErrorCode {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return ""
	}
	return aggErr.Code
}

// ReasonOf extracts the reason code when available.
func ReasonOf(err error) Reason {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return ""
	}
	return aggErr.Reason
}

// HasReason reports whether err carries reason.
func HasReason(err error, reason Reason) bool {
	return reason != "" && ReasonOf(err) == reason
}
