// Package errors maps domain failures to coded application errors for the CLI.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/fineu/fineu-core/internal/progression"
	"github.com/fineu/fineu-core/internal/session"
	"github.com/fineu/fineu-core/internal/store"
	"github.com/fineu/fineu-core/internal/validation"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation   = "E100"
	CodeAccessDenied = "E110"
	CodeStorage      = "E200"
	CodeState        = "E400"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	// MessageKey is the i18n key of UserMessage.
	MessageKey string
	Severity   Severity
	cause      error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

func NewValidationError(cause error) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     messageOf("Validation failed", cause),
		UserMessage: fmt.Sprintf("Invalid data. %s", causeText(cause)),
		MessageKey:  "errors.validation",
		Severity:    SeverityLow,
		cause:       cause,
	}
}

func NewAccessDeniedError(cause error) *AppError {
	return &AppError{
		Code:        CodeAccessDenied,
		Message:     messageOf("Access denied", cause),
		UserMessage: "You do not have access to this data.",
		MessageKey:  "errors.access_denied",
		Severity:    SeverityMedium,
		cause:       cause,
	}
}

func NewStorageError(cause error) *AppError {
	return &AppError{
		Code:        CodeStorage,
		Message:     messageOf("Storage error", cause),
		UserMessage: "Storage is temporarily unavailable. Please try again.",
		MessageKey:  "errors.storage",
		Severity:    SeverityHigh,
		cause:       cause,
	}
}

func NewStateError(cause error) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     messageOf("Invalid state", cause),
		UserMessage: "This action is not possible right now.",
		MessageKey:  "errors.state",
		Severity:    SeverityMedium,
		cause:       cause,
	}
}

// Classify wraps err in the AppError matching its sentinel. Errors without a known
// sentinel are treated as storage failures; an existing AppError is returned as is.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, store.ErrAccessDenied):
		return NewAccessDeniedError(err)
	case stderrors.Is(err, validation.ErrMissingField),
		stderrors.Is(err, validation.ErrTypeMismatch),
		stderrors.Is(err, validation.ErrOutOfRange),
		stderrors.Is(err, validation.ErrInvalidEnum),
		stderrors.Is(err, store.ErrInvalidUserID),
		stderrors.Is(err, progression.ErrNegativeExperience),
		stderrors.Is(err, progression.ErrUnknownLevel):
		return NewValidationError(err)
	case stderrors.Is(err, session.ErrNoSession):
		return NewStateError(err)
	default:
		return NewStorageError(err)
	}
}

func messageOf(prefix string, cause error) string {
	if cause == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %s", prefix, cause.Error())
}

func causeText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}
