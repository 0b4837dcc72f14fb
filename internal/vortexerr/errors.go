// Package vortexerr defines the structured error taxonomy shared by every
// service and surfaced through the HTTP error envelope.
package vortexerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code enumerates the gateway's error taxonomy.
type Code string

const (
	CodeAccessDenied       Code = "ACCESS_DENIED"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeInvalidFormat      Code = "INVALID_FORMAT"
	CodeAnomalyDetected    Code = "ANOMALY_DETECTED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeQuotaExceeded      Code = "QUOTA_EXCEEDED"
	CodeDocumentNotFound   Code = "DOCUMENT_NOT_FOUND"
	CodeUpstreamUnavail    Code = "UPSTREAM_UNAVAILABLE"
	CodeEncryptionFailure  Code = "ENCRYPTION_FAILURE"
	CodeJobDispatchFailure Code = "JOB_DISPATCH_FAILURE"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// httpStatus maps each code to its HTTP status class.
var httpStatus = map[Code]int{
	CodeAccessDenied:       http.StatusForbidden,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeInvalidRequest:     http.StatusBadRequest,
	CodeInvalidFormat:      http.StatusUnprocessableEntity,
	CodeAnomalyDetected:    http.StatusBadRequest,
	CodeRateLimited:        http.StatusTooManyRequests,
	CodeQuotaExceeded:      http.StatusTooManyRequests,
	CodeDocumentNotFound:   http.StatusNotFound,
	CodeUpstreamUnavail:    http.StatusServiceUnavailable,
	CodeEncryptionFailure:  http.StatusInternalServerError,
	CodeJobDispatchFailure: http.StatusAccepted,
	CodeInternal:           http.StatusInternalServerError,
}

// auditCritical lists codes whose rejection is always a critical audit event.
var auditCritical = map[Code]bool{
	CodeAccessDenied:    true,
	CodeAnomalyDetected: true,
	CodeQuotaExceeded:   true,
}

// Error is the structured error carried across service boundaries.
type Error struct {
	Code   Code
	Detail string
	Reason string // human-readable audit reason, may differ from Detail
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the HTTP status class for the error's code.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// AuditCritical reports whether this error must be written to the critical
// audit chain synchronously rather than the hot chain.
func (e *Error) AuditCritical() bool { return auditCritical[e.Code] }

// New builds an Error with the given code and detail message.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap builds an Error around an underlying cause.
func Wrap(code Code, detail string, err error) *Error {
	return &Error{Code: code, Detail: detail, Err: err}
}

// As extracts a *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Envelope is the JSON body returned for any failed request.
type Envelope struct {
	Status string `json:"status"`
	Code   Code   `json:"code"`
	Detail string `json:"detail"`
}

// ToEnvelope converts any error into the wire envelope, defaulting unknown
// errors to INTERNAL_ERROR with a scrubbed message.
func ToEnvelope(err error) (int, Envelope) {
	if e, ok := As(err); ok {
		return e.HTTPStatus(), Envelope{Status: "error", Code: e.Code, Detail: e.Detail}
	}
	return http.StatusInternalServerError, Envelope{
		Status: "error",
		Code:   CodeInternal,
		Detail: "internal error",
	}
}
