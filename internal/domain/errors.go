package domain

import (
	"errors"
	"fmt"
)

var (
	ErrResolutionAmbiguous   = errors.New("command not understood")
	ErrToolNotFound          = errors.New("tool not found")
	ErrParameterInvalid      = errors.New("invalid parameter")
	ErrLoadFailure           = errors.New("capability load failure")
	ErrDependencyUnsatisfied = errors.New("dependency unsatisfied")
	ErrExecution             = errors.New("execution failed")
)

// Validation rule names reported by ValidationError.
const (
	RuleRequired   = "required"
	RuleType       = "type"
	RuleRange      = "range"
	RuleChoices    = "choices"
	RulePattern    = "pattern"
	RuleExists     = "exists"
	RuleFormat     = "format"
	RuleUnexpected = "unexpected"
)

// ValidationError reports the first rule a parameter violated.
type ValidationError struct {
	Parameter string
	Rule      string
	Message   string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrParameterInvalid
}

// LoadError is one entry of a discovery error list.
type LoadError struct {
	Unit       string
	Capability string
	Err        error
}

func (e *LoadError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("load %s (%s): %v", e.Unit, e.Capability, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Unit, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrLoadFailure, e.Err}
}
