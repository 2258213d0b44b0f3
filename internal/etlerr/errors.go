// Package etlerr holds the error taxonomy shared by the transform stages.
//
// Per-record failures (MalformedRecordError) are recovered by the pipeline
// and counted; every other type aborts the run before output is written.
package etlerr

import (
	"fmt"
	"strings"
)

// MalformedRecordError reports a field that cannot be coerced to its
// declared semantic type.
type MalformedRecordError struct {
	Ordinal int
	Field   string
	Value   string
	Reason  string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("record %d: field %q value %q: %s", e.Ordinal, e.Field, e.Value, e.Reason)
}

// SchemaMismatchError reports required columns missing from the input.
type SchemaMismatchError struct {
	Path    string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s: missing required fields [%s]", e.Path, strings.Join(e.Missing, ", "))
}

// IOError wraps a read or write failure on a dataset path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid pipeline configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

