package tts

import (
	"fmt"
	"net/http"
)

// ErrorCode is the stable machine-readable code carried by every
// externally-surfaced error.
type ErrorCode uint8

// Wire error codes. These values are part of the external contract and must
// not be renumbered.
const (
	CodeUnknown ErrorCode = iota
	CodeUnknownVoice
	CodeAudioTooLong
	CodeInvalidSpeakingRate
	CodeUnauthorized
	CodeTranslationDisabled
)

// RequestError is an externally-surfaced failure with a stable code and a
// human-readable message. Internal causes are retained for logging but not
// exposed to callers.
type RequestError struct {
	Code    ErrorCode
	Message string

	// Status overrides the code-derived HTTP status when non-zero. Request
	// parse failures carry CodeUnknown but are still caller-input errors.
	Status int

	cause error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *RequestError) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error onto its response status class: 400 for
// caller-input errors, 403 for auth failures, 500 otherwise.
func (e *RequestError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Code {
	case CodeUnknownVoice, CodeAudioTooLong, CodeInvalidSpeakingRate, CodeTranslationDisabled:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Fixed-message request errors.
var (
	ErrAudioTooLong = &RequestError{
		Code:    CodeAudioTooLong,
		Message: "Max length exceeded!",
	}
	ErrUnauthorized = &RequestError{
		Code:    CodeUnauthorized,
		Message: "Unauthorized request",
	}
	ErrTranslationDisabled = &RequestError{
		Code:    CodeTranslationDisabled,
		Message: "Translation requested but no key has been provided",
	}
)

// ErrUnknownVoice builds the error for a voice absent from the backend's
// catalog.
func ErrUnknownVoice(voice string) *RequestError {
	return &RequestError{
		Code:    CodeUnknownVoice,
		Message: fmt.Sprintf("Unknown voice: %s", voice),
	}
}

// ErrInvalidSpeakingRate builds the error for a rate outside the backend's
// accepted range.
func ErrInvalidSpeakingRate(rate float32) *RequestError {
	return &RequestError{
		Code:    CodeInvalidSpeakingRate,
		Message: fmt.Sprintf("Invalid speaking rate: %v", rate),
	}
}

// ErrInternal wraps an unclassified failure. The cause is logged server-side
// but the caller only sees an opaque message.
func ErrInternal(cause error) *RequestError {
	return &RequestError{
		Code:    CodeUnknown,
		Message: fmt.Sprintf("Unknown error: %v", cause),
		cause:   cause,
	}
}
