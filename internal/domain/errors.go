package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. Callers match them with errors.Is.
var (
	// ErrInsufficientHistory means too few observations for a valid estimate
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrInfeasible means the constraint set admits no solution
	ErrInfeasible = errors.New("infeasible constraints")
	// ErrDegenerateRisk means a zero-variance or singular covariance survived shrinkage
	ErrDegenerateRisk = errors.New("degenerate risk model")
	// ErrInvalidConfiguration means a parameter is out of range
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// InsufficientHistoryError reports how many observations were needed
type InsufficientHistoryError struct {
	What string
	Need int
	Have int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s: need %d observations, have %d", e.What, e.Need, e.Have)
}

// Unwrap ties the error to ErrInsufficientHistory
func (e *InsufficientHistoryError) Unwrap() error {
	return ErrInsufficientHistory
}

// InfeasibleError names the constraint that could not be satisfied
type InfeasibleError struct {
	Constraint string
	Detail     string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("infeasible constraints: %s: %s", e.Constraint, e.Detail)
}

// Unwrap ties the error to ErrInfeasible
func (e *InfeasibleError) Unwrap() error {
	return ErrInfeasible
}

// Infeasible builds an InfeasibleError
func Infeasible(constraint, format string, args ...interface{}) error {
	return &InfeasibleError{Constraint: constraint, Detail: fmt.Sprintf(format, args...)}
}

// ConfigError names the offending configuration field
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Detail)
}

// Unwrap ties the error to ErrInvalidConfiguration
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

// InvalidConfig builds a ConfigError
func InvalidConfig(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// DegenerateRisk wraps ErrDegenerateRisk with detail
func DegenerateRisk(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDegenerateRisk, fmt.Sprintf(format, args...))
}
