package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, caller-visible classification of a workflow failure.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindForbidden         ErrorKind = "FORBIDDEN"
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindAllocationFailed  ErrorKind = "ALLOCATION_FAILED"
	KindUnexpected        ErrorKind = "UNEXPECTED"
)

// WorkflowError carries a kind plus a human-readable reason.
type WorkflowError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil && e.Reason != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// Is matches another *WorkflowError by kind, so errors.Is(err, ErrNotFound) works.
func (e *WorkflowError) Is(target error) bool {
	var other *WorkflowError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Reason == "" && other.Err == nil
}

// Kind sentinels for errors.Is.
var (
	ErrNotFound          = &WorkflowError{Kind: KindNotFound}
	ErrForbidden         = &WorkflowError{Kind: KindForbidden}
	ErrValidation        = &WorkflowError{Kind: KindValidation}
	ErrInvalidTransition = &WorkflowError{Kind: KindInvalidTransition}
	ErrAllocationFailed  = &WorkflowError{Kind: KindAllocationFailed}
)

// KindOf returns the workflow kind of err, or KindUnexpected for anything unclassified.
func KindOf(err error) ErrorKind {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindUnexpected
}

func notFound(reason string) error {
	return &WorkflowError{Kind: KindNotFound, Reason: reason}
}

func forbidden(reason string) error {
	return &WorkflowError{Kind: KindForbidden, Reason: reason}
}

func validationFailed(reason string) error {
	return &WorkflowError{Kind: KindValidation, Reason: reason}
}

func invalidTransition(format string, args ...any) error {
	return &WorkflowError{Kind: KindInvalidTransition, Reason: fmt.Sprintf(format, args...)}
}

func unexpected(reason string, err error) error {
	return &WorkflowError{Kind: KindUnexpected, Reason: reason, Err: err}
}
