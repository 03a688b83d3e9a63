package invoice

import (
	"errors"
	"fmt"
)

// Stage names a step of the extraction pipeline
type Stage string

const (
	StageNormalizing Stage = "normalizing"
	StageExtracting  Stage = "extracting"
	StageParsing     Stage = "parsing"
	StageStoring     Stage = "storing"
)

var (
	ErrConversion        = errors.New("document conversion failed")
	ErrExtraction        = errors.New("invoice extraction failed")
	ErrParse             = errors.New("could not parse extracted invoice")
	ErrInvalidIdentifier = errors.New("invalid invoice ID format")
	ErrNotFound          = errors.New("invoice not found")
	ErrStore             = errors.New("invoice store failure")
	ErrInvalidInput      = errors.New("invalid request")
	ErrTooLarge          = errors.New("upload is too large")
)

// StageError is a pipeline failure tagged with the stage it happened in.
// It matches both its Kind and the underlying cause with errors.Is.
type StageError struct {
	Stage   Stage
	Kind    error
	Details any
	Err     error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// InputError is a rejected client request with the reasons it was rejected
type InputError struct {
	Details any
	Err     error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidInput, e.Err)
}

func (e *InputError) Unwrap() []error {
	return []error{ErrInvalidInput, e.Err}
}

func invalidInput(details any, format string, args ...any) error {
	return &InputError{Details: details, Err: fmt.Errorf(format, args...)}
}
