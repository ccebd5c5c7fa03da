package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsErrorCode reports whether err is (or wraps) a DomainError with the
// given code.
func IsErrorCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeInvalidOperation  = "INVALID_OPERATION"
	ErrCodeTransientProvider = "TRANSIENT_PROVIDER_ERROR"
	ErrCodeServiceDegraded   = "SERVICE_DEGRADED"
	ErrCodeBudgetExceeded    = "BUDGET_EXCEEDED"
	ErrCodePrivacyBlocked    = "PRIVACY_VIOLATION_BLOCKED"
	ErrCodeTimedOut          = "TIMED_OUT"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
)

// Validation errors
var (
	ErrEmptyQuery            = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrMissingChatbotID      = NewDomainError(ErrCodeValidation, "chatbot ID is required")
	ErrInvalidClassification = NewDomainError(ErrCodeValidation, "invalid source classification")
	ErrInvalidSearchMode     = NewDomainError(ErrCodeValidation, "invalid search mode")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrSourceNotFound       = NewDomainError(ErrCodeNotFound, "knowledge source not found")
	ErrChunkNotFound        = NewDomainError(ErrCodeNotFound, "knowledge chunk not found")
	ErrConversationNotFound = NewDomainError(ErrCodeNotFound, "conversation not found")
	ErrOrganizationNotFound = NewDomainError(ErrCodeNotFound, "organization not found")
	ErrAPIKeyNotFound       = NewDomainError(ErrCodeNotFound, "api key not found")
)

// Already exists errors
var (
	ErrOrganizationAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "organization already exists")
	ErrAPIKeyAlreadyExists       = NewDomainError(ErrCodeAlreadyExists, "api key already exists")
)

// Authorization errors
var (
	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Pipeline errors. ErrPrivacyBlocked carries the user-facing refusal as its
// message; the violation detail stays in the audit log.
var (
	ErrProviderUnavailable = NewDomainError(ErrCodeTransientProvider, "provider unavailable after retries")
	ErrServiceDegraded     = NewDomainError(ErrCodeServiceDegraded, "service temporarily degraded, please retry")
	ErrBudgetExceeded      = NewDomainError(ErrCodeBudgetExceeded, "daily generation budget exceeded")
	ErrPrivacyBlocked      = NewDomainError(ErrCodePrivacyBlocked, "I can't share that information")
	ErrQueryTimedOut       = NewDomainError(ErrCodeTimedOut, "query exceeded the end-to-end deadline")
	ErrCircuitOpen         = NewDomainError(ErrCodeCircuitOpen, "provider circuit breaker is open")
)
