package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodePolicy       = "POLICY_VIOLATION"
	ErrCodeQuerySyntax  = "QUERY_SYNTAX"
	ErrCodeEvaluation   = "EVALUATION_ERROR"
	ErrCodeStore        = "STORE_ERROR"
	ErrCodeSeal         = "SEAL_ERROR"
	ErrCodeConfig       = "CONFIG_ERROR"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// VaultError is the structured error type for all keyvault operations.
type VaultError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Project string         `json:"project,omitempty"`
	Key     string         `json:"key,omitempty"`
	Cause   error          `json:"-"`
}

func (e *VaultError) Error() string {
	if e.Project != "" && e.Key != "" {
		return fmt.Sprintf("[%s] %s/%s: %s", e.Code, e.Project, e.Key, e.Message)
	}
	if e.Project != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Project, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *VaultError) Unwrap() error {
	return e.Cause
}

// NewError creates a new VaultError.
func NewError(code, message string) *VaultError {
	return &VaultError{Code: code, Message: message}
}

// NewErrorf creates a new VaultError with a formatted message.
func NewErrorf(code, format string, args ...any) *VaultError {
	return &VaultError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithSecret attaches the project and secret key the error refers to.
func (e *VaultError) WithSecret(project, key string) *VaultError {
	e.Project = project
	e.Key = key
	return e
}

// WithCause attaches an underlying cause.
func (e *VaultError) WithCause(err error) *VaultError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *VaultError) WithDetails(details map[string]any) *VaultError {
	e.Details = details
	return e
}

// CodeOf returns the VaultError code of err, or ErrCodeInternal when err
// is not a VaultError.
func CodeOf(err error) string {
	if ve, ok := err.(*VaultError); ok {
		return ve.Code
	}
	return ErrCodeInternal
}
