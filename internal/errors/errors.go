// Package errors provides error types and handling for the triage engine.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// NotFound represents a missing project, module, or run.
	NotFound
	// Validation represents an invalid caller-supplied request.
	Validation
	// ModuleLoad represents a failure loading an external module; these are
	// recorded by the registry and never propagate past it.
	ModuleLoad
	// ModuleContract represents a module returning a result that violates the
	// execution contract; the run executor converts these into failed runs.
	ModuleContract
	// Storage represents a persistence failure.
	Storage
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case NotFound:
		return "not_found"
	case Validation:
		return "validation"
	case ModuleLoad:
		return "module_load"
	case ModuleContract:
		return "module_contract"
	case Storage:
		return "storage"
	default:
		return "unknown"
	}
}

// EngineError represents a categorized engine error.
type EngineError struct {
	Type    ErrorType
	Entity  string // what the error is about ("project", "module", "run")
	Ref     string // identifier of the entity, when known
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Entity != "" && e.Ref != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Entity, e.Ref, e.Message)
	} else if e.Entity != "" {
		msg = fmt.Sprintf("%s: %s", e.Entity, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target by type.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewNotFound creates a not-found error for an entity reference.
func NewNotFound(entity, ref string) *EngineError {
	return &EngineError{Type: NotFound, Entity: entity, Ref: ref, Message: "not found"}
}

// NewValidation creates a request validation error.
func NewValidation(message string) *EngineError {
	return &EngineError{Type: Validation, Message: message}
}

// NewModuleLoad creates a module load error.
func NewModuleLoad(ref, message string, cause error) *EngineError {
	return &EngineError{Type: ModuleLoad, Entity: "module", Ref: ref, Message: message, Cause: cause}
}

// NewModuleContract creates a module contract violation error.
func NewModuleContract(moduleID, message string) *EngineError {
	return &EngineError{Type: ModuleContract, Entity: "module", Ref: moduleID, Message: message}
}

// NewStorage creates a persistence error.
func NewStorage(message string, cause error) *EngineError {
	return &EngineError{Type: Storage, Message: message, Cause: cause}
}

// IsNotFound checks whether an error is a not-found error.
func IsNotFound(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Type == NotFound
}

// IsValidation checks whether an error is a validation error.
func IsValidation(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Type == Validation
}

// IsModuleContract checks whether an error is a module contract violation.
func IsModuleContract(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Type == ModuleContract
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Type
	}
	return Unknown
}
