// Package errors enhances errors with structured metadata that can be
// rendered as fields by slog at the application boundary.
package errors

import (
	"errors"
	"log/slog"
	"maps"
	"sort"
)

// StructuredError enhances an error with structured metadata and a cause.
type StructuredError struct {
	err      error
	metadata map[string]any
	cause    error
}

// Error implements the error interface.
func (e StructuredError) Error() string {
	return e.err.Error()
}

// Unwrap allows errors.Is and errors.As to work.
func (e StructuredError) Unwrap() []error {
	var errs []error
	if e.err != nil {
		errs = append(errs, e.err)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Metadata returns a copy of the metadata map.
func (e StructuredError) Metadata() map[string]any {
	if e.metadata == nil {
		return nil
	}
	result := make(map[string]any, len(e.metadata))
	maps.Copy(result, e.metadata)
	return result
}

// New creates a new StructuredError from a message string with optional
// metadata.
func New(msg string, fields ...any) *StructuredError {
	return With(errors.New(msg), fields...)
}

// With adds metadata to an error. If the error is already a StructuredError,
// it merges the metadata; newer metadata overwrites older.
func With(err error, fields ...any) *StructuredError {
	metadata := fieldMap(fields)

	if se, ok := err.(*StructuredError); ok {
		combined := make(map[string]any, len(se.metadata)+len(metadata))
		maps.Copy(combined, se.metadata)
		maps.Copy(combined, metadata)
		return &StructuredError{err: se.err, metadata: combined, cause: se.cause}
	}

	return &StructuredError{err: err, metadata: metadata}
}

// WithCause creates a StructuredError with a cause and optional metadata.
func WithCause(err error, cause error, fields ...any) *StructuredError {
	se := With(err, fields...)
	se.cause = cause
	return se
}

func fieldMap(fields []any) map[string]any {
	if len(fields)%2 != 0 {
		panic("an even number of fields is required")
	}

	metadata := make(map[string]any, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			panic("keys must be strings")
		}
		metadata[key] = fields[i+1]
	}
	return metadata
}

// Log logs an error using the default slog logger, extracting metadata if
// it's a StructuredError.
func Log(err error) {
	var se *StructuredError
	if !errors.As(err, &se) {
		slog.Error(err.Error())
		return
	}

	args := make([]any, 0, len(se.metadata)*2+2)
	if se.cause != nil {
		args = append(args, "cause", se.cause)
	}

	keys := make([]string, 0, len(se.metadata))
	for k := range se.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, se.metadata[k])
	}

	slog.Error(se.Error(), args...)
}
