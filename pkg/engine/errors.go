package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for reporting and metrics.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on a later run.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion on the provider API.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a stack state conflict.
	// Examples: another operation already in progress on the stack.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid template, permission denied, provisioning rollback.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ErrStackNotFound is returned by InfraClient implementations when the stack
// record does not exist (never created, or purged after a completed delete).
var ErrStackNotFound = errors.New("stack does not exist")

// ErrBucketNotFound is returned by ObjectStore implementations when the
// bucket itself is missing.
var ErrBucketNotFound = errors.New("bucket does not exist")

// EngineError represents a classified infrastructure error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the logical resource or stack that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the provider operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s): %s",
			e.Class, e.Message, e.Resource, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodePermissionDenied      = "PERMISSION_DENIED"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeInternal              = "INTERNAL_ERROR"
	ErrCodeProviderFailed        = "PROVIDER_FAILED"
	ErrCodeTemplateCollision     = "TEMPLATE_COLLISION"
	ErrCodeUndeclaredParameter   = "UNDECLARED_PARAMETER"
	ErrCodeInvalidChangesetState = "INVALID_CHANGESET_STATE"
	ErrCodeProvisioningFailed    = "PROVISIONING_FAILED"
	ErrCodeUploadFailed          = "UPLOAD_FAILED"
	ErrCodePolicyViolation       = "POLICY_VIOLATION"
	ErrCodeCancelled             = "CANCELLED"
)

// TemplateCollisionError reports two template fragments defining the same key
// in the same mapping.
type TemplateCollisionError struct {
	// Mapping is one of Parameters, Resources or Outputs.
	Mapping string
	// Key is the colliding logical name.
	Key string
	// Fragment is the zero-based index of the fragment that redefined Key.
	Fragment int
}

func (e *TemplateCollisionError) Error() string {
	return fmt.Sprintf("template collision: %s.%s is defined by more than one fragment (redefined by fragment %d)",
		e.Mapping, e.Key, e.Fragment)
}

// UndeclaredParameterError reports configured parameter values that have no
// declaration in the composed template.
type UndeclaredParameterError struct {
	Names []string
}

func (e *UndeclaredParameterError) Error() string {
	return fmt.Sprintf("parameters not declared by the template: %s", strings.Join(e.Names, ", "))
}

// InvalidChangesetStateError reports a changeset status the orchestrator has no
// transition for.
type InvalidChangesetStateError struct {
	ChangeSet string
	Status    ChangesetStatus
	Reason    string
}

func (e *InvalidChangesetStateError) Error() string {
	msg := fmt.Sprintf("changeset %s is in unexpected state %s", e.ChangeSet, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ProvisioningFailure reports a stack or changeset that reached a failed or
// rolled-back terminal state. ResourceID and Reason come verbatim from the provider.
type ProvisioningFailure struct {
	StackName  string
	ResourceID string
	Status     string
	Reason     string
}

func (e *ProvisioningFailure) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("stack %s failed: %s %s", e.StackName, e.ResourceID, e.Status)
	}
	return fmt.Sprintf("stack %s failed: %s %s: %s", e.StackName, e.ResourceID, e.Status, e.Reason)
}

// UploadFailure reports a file that could not be transferred to the object store.
type UploadFailure struct {
	Path string
	Key  string
	Err  error
}

func (e *UploadFailure) Error() string {
	return fmt.Sprintf("upload %s -> %s failed: %v", e.Path, e.Key, e.Err)
}

func (e *UploadFailure) Unwrap() error {
	return e.Err
}

// Classify maps any error to a class and code for metrics and reporting.
func Classify(err error) (ErrorClass, string) {
	var (
		engineErr    *EngineError
		collision    *TemplateCollisionError
		undeclared   *UndeclaredParameterError
		invalidState *InvalidChangesetStateError
		provisioning *ProvisioningFailure
		upload       *UploadFailure
	)
	switch {
	case errors.As(err, &collision):
		return ErrorClassPermanent, ErrCodeTemplateCollision
	case errors.As(err, &undeclared):
		return ErrorClassPermanent, ErrCodeUndeclaredParameter
	case errors.As(err, &invalidState):
		return ErrorClassPermanent, ErrCodeInvalidChangesetState
	case errors.As(err, &provisioning):
		return ErrorClassPermanent, ErrCodeProvisioningFailed
	case errors.As(err, &upload):
		return ErrorClassTransient, ErrCodeUploadFailed
	case errors.As(err, &engineErr):
		return engineErr.Class, engineErr.Code
	case errors.Is(err, context.Canceled):
		return ErrorClassPermanent, ErrCodeCancelled
	case errors.Is(err, ErrStackNotFound), errors.Is(err, ErrBucketNotFound):
		return ErrorClassPermanent, ErrCodeNotFound
	default:
		return ErrorClassPermanent, ErrCodeInternal
	}
}
