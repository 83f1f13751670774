// Package errs holds the error taxonomy shared by every pipeline stage.
//
// A StageError remembers where it was raised. When reading its message,
// replace "<-" with a newline to get the chain from outermost to root cause.
package errs

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

var (
	// ErrValidationFailed stops the pipeline after a negative validation result.
	ErrValidationFailed = errors.New("data validation failed")

	// ErrContractViolation marks a stage invoked with an unusable upstream artifact.
	ErrContractViolation = errors.New("upstream artifact contract violated")
)

// ConfigError reports a missing or malformed static document, or a field
// inside one that cannot be resolved.
type ConfigError struct {
	Document string
	Field    string
	Err      error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Document == "" && e.Field == "":
		return fmt.Sprintf("config: %v", e.Err)
	case e.Field == "":
		return fmt.Sprintf("config %s: %v", e.Document, e.Err)
	case e.Document == "":
		return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: field %s: %v", e.Document, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(document, field string, err error) error {
	return &ConfigError{Document: document, Field: field, Err: err}
}

type StageError struct {
	Stage string
	Func  string
	File  string
	Line  int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf(`stage %s @ %s "%s" l%d <- %s`, e.Stage, e.Func, filepath.Base(e.File), e.Line, e.Err.Error())
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// WrapStage tags err with the stage name and the location of the caller.
// It returns nil for a nil err and does not re-wrap an existing StageError
// for the same stage.
func WrapStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage {
		return err
	}

	pc, file, line, ok := runtime.Caller(1)
	funcname := "(unknown func)"
	if !ok {
		file = "?"
		line = -1
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcname = fn.Name()
	}
	return &StageError{
		Stage: stage,
		Func:  funcname,
		File:  file,
		Line:  line,
		Err:   err,
	}
}

// StageOf returns the stage name carried by err, if any.
func StageOf(err error) (string, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
