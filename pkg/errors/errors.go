package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of deployment errors
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypePrecondition ErrorType = "precondition" // Build inputs missing, nothing touched
	ErrorTypePermission   ErrorType = "permission"
	ErrorTypeConflict     ErrorType = "conflict" // Another deployment holds the lock
	ErrorTypeProvisioning ErrorType = "provisioning"
	ErrorTypeQuiesce      ErrorType = "quiesce"
	ErrorTypeReplacement  ErrorType = "replacement"
	ErrorTypeActivation   ErrorType = "activation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypeProcess      ErrorType = "process"
	ErrorTypeCancelled    ErrorType = "cancelled"
	ErrorTypeInternal     ErrorType = "internal"
)

// ContextKeyStep is the context key holding the name of the deployment step that failed
const ContextKeyStep = "step"

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	msg := e.Message
	if step, ok := e.Context[ContextKeyStep].(string); ok && step != "" {
		msg = fmt.Sprintf("step %q: %s", step, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStep tags the error with the deployment step it belongs to
func (e *DomainError) WithStep(step string) *DomainError {
	return e.WithContext(ContextKeyStep, step)
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewPreconditionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePrecondition, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// Step failure errors
func NewProvisioningError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProvisioning, message, cause)
}

func NewQuiesceError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeQuiesce, message, cause)
}

func NewReplacementError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeReplacement, message, cause)
}

func NewActivationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeActivation, message, cause)
}

// System errors
func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

// TypeOf returns the type of the outermost domain error in the chain, or "" if there is none
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// StepOf returns the deployment step recorded anywhere in the error chain, or "" if none
func StepOf(err error) string {
	for err != nil {
		if domainErr, ok := err.(*DomainError); ok {
			if step, ok := domainErr.Context[ContextKeyStep].(string); ok && step != "" {
				return step
			}
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// Error checking helpers
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsPreconditionError(err error) bool {
	return isType(err, ErrorTypePrecondition)
}

func IsPermissionError(err error) bool {
	return isType(err, ErrorTypePermission)
}

func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

func IsProvisioningError(err error) bool {
	return isType(err, ErrorTypeProvisioning)
}

func IsQuiesceError(err error) bool {
	return isType(err, ErrorTypeQuiesce)
}

func IsReplacementError(err error) bool {
	return isType(err, ErrorTypeReplacement)
}

func IsActivationError(err error) bool {
	return isType(err, ErrorTypeActivation)
}

func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsProcessError(err error) bool {
	return isType(err, ErrorTypeProcess)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// Error aggregation for bulk validation
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// Unwrap exposes the collected errors to errors.Is / errors.As
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
