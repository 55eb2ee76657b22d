package models

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFileType = errors.New("file type cannot be analyzed")
	ErrInvalidMode         = errors.New("invalid analysis mode")
	ErrInvalidAnalysis     = errors.New("invalid analysis result")
	ErrEmptyAnalysis       = errors.New("analysis result has no readable content")
)

// FieldError reports a member of an analysis result with an unusable value.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrInvalidAnalysis, e.Field, e.Err)
}

func (e *FieldError) Unwrap() []error {
	return []error{ErrInvalidAnalysis, e.Err}
}
