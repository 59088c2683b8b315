package annotation

import (
	"errors"
	"fmt"
)

// Reason classifies why an analysis failed.
type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonServer     Reason = "server"
	ReasonBlocked    Reason = "blocked"
	ReasonFinish     Reason = "finish"
	ReasonRequest    Reason = "request"
	ReasonParse      Reason = "parse"
	ReasonValidation Reason = "validation"
)

// Retryable reports whether another attempt could change the outcome.
func (r Reason) Retryable() bool {
	return r == ReasonTimeout || r == ReasonServer
}

// AnalysisError is the terminal failure of AnnotationClient.Analyze.
type AnalysisError struct {
	Reason   Reason
	Attempts int
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed (%s after %d attempt(s)): %v", e.Reason, e.Attempts, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// ParseError keeps the raw model output for inspection.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("while parsing model response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid annotation: %s is missing", e.Field)
	}
	return fmt.Sprintf("invalid annotation: %s has value %q", e.Field, e.Value)
}

// ModelError is returned by a Generator with the retry decision already made.
type ModelError struct {
	Reason Reason
	Err    error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model call failed (%s): %v", e.Reason, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason of err, or "" when unknown.
func ReasonOf(err error) Reason {
	var analysisErr *AnalysisError
	if errors.As(err, &analysisErr) {
		return analysisErr.Reason
	}
	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return modelErr.Reason
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return ReasonParse
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ReasonValidation
	}
	return ""
}
