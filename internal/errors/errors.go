// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrStaleCandidate    = errors.New("candidate is stale")
	ErrMissingField      = errors.New("required field missing")
	ErrOutOfRange        = errors.New("value out of range")
	ErrLedgerClosed      = errors.New("ledger is closed")
	ErrPositionNotFound  = errors.New("position not found")
	ErrPositionExists    = errors.New("position already exists for symbol")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrStoreClosed       = errors.New("audit store is closed")
	ErrDecisionNotFound  = errors.New("decision record not found")
	ErrQueueFull         = errors.New("outbound queue is full")
	ErrScenarioUnknown   = errors.New("unknown scenario")
	ErrEngineUnavailable = errors.New("scenario engine unavailable")
)

// ValidationError represents a candidate validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// EngineError represents a failure inside one scenario engine. It marks an
// explicit could-not-evaluate outcome, never a defaulted score.
type EngineError struct {
	Scenario string
	Stage    string
	Err      error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error [%s] %s: %v", e.Scenario, e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(scenario, stage string, err error) *EngineError {
	return &EngineError{
		Scenario: scenario,
		Stage:    stage,
		Err:      err,
	}
}

// RiskError represents a risk gate violation.
type RiskError struct {
	Gate    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.4f, limit: %.4f)", e.Gate, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(gate string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Gate:    gate,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// LedgerError represents a failure applying a ledger mutation.
type LedgerError struct {
	CandidateID string
	Symbol      string
	Kind        string
	Err         error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger error [%s] %s %s: %v", e.CandidateID, e.Kind, e.Symbol, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a new LedgerError.
func NewLedgerError(candidateID, symbol, kind string, err error) *LedgerError {
	return &LedgerError{
		CandidateID: candidateID,
		Symbol:      symbol,
		Kind:        kind,
		Err:         err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
