package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryExtraction    ErrorCategory = "extraction"
	CategoryRelocation    ErrorCategory = "relocation"
	CategoryCollaborator  ErrorCategory = "collaborator"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Configuration errors
	CodeUnsupportedDateRule ErrorCode = "unsupported_date_rule"
	CodeInvalidPattern      ErrorCode = "invalid_pattern"
	CodeMissingConfig       ErrorCode = "missing_config"
	CodeInvalidConfig       ErrorCode = "invalid_config"

	// Extraction errors
	CodeNoMatch      ErrorCode = "no_match"
	CodeParseFailed  ErrorCode = "parse_failed"
	CodeDateMismatch ErrorCode = "date_mismatch"

	// Relocation errors
	CodeMoveFailed       ErrorCode = "move_failed"
	CodeDestinationError ErrorCode = "destination_error"
	CodeArchiveError     ErrorCode = "archive_error"

	// Collaborator errors
	CodeFetchFailed      ErrorCode = "fetch_failed"
	CodeAttachmentFailed ErrorCode = "attachment_save_failed"
	CodeNoCollector      ErrorCode = "no_collector"

	// State errors
	CodeStateLoadFailed ErrorCode = "state_load_failed"
	CodeStateSaveFailed ErrorCode = "state_save_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// PipelineError is the base error type for all application errors
type PipelineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the error must abort the whole run. Only
// configuration defects are fatal; everything scoped to one row's data is
// row-local.
func (e *PipelineError) IsFatal() bool {
	return e.Category == CategoryConfiguration
}

// GetExitCode returns an appropriate exit code for the error
func (e *PipelineError) GetExitCode() int {
	switch e.Category {
	case CategoryConfiguration:
		return 2
	case CategoryState:
		return 3
	case CategoryRelocation:
		return 4
	case CategoryCollaborator:
		return 5
	case CategoryExtraction, CategoryInternal:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *PipelineError) WithSuggestion(suggestion string) *PipelineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new PipelineError
func New(category ErrorCategory, code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with PipelineError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}

	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ConfigError creates a configuration-related error. Configuration errors
// are fatal for the whole run.
func ConfigError(code ErrorCode, setting string, value interface{}, err error) *PipelineError {
	var message string
	var suggestion string

	switch code {
	case CodeUnsupportedDateRule:
		message = fmt.Sprintf("unsupported target date rule: %v", value)
		suggestion = "use one of the supported rules: today, prev_bizday"
	case CodeInvalidPattern:
		message = fmt.Sprintf("unusable pattern for '%s': %v", setting, value)
		if err != nil {
			message = fmt.Sprintf("%s: %v", message, err)
		}
		suggestion = "check the regular expression in the feed configuration"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting in the config file or via environment"
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ExtractionError creates a date-extraction error. Extraction failures are
// never fatal; they mean "this candidate does not carry the expected date".
func ExtractionError(code ErrorCode, text string, err error) *PipelineError {
	var message string

	switch code {
	case CodeNoMatch:
		message = "date pattern did not match the text"
	case CodeParseFailed:
		message = "matched date substring could not be parsed"
	case CodeDateMismatch:
		message = "extracted date does not equal the target date"
	default:
		message = "date extraction failed"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryExtraction, code, message)
	} else {
		result = New(CategoryExtraction, code, message)
	}

	return result.WithContext("text", text)
}

// RelocationError creates a file-relocation error; row-local.
func RelocationError(code ErrorCode, path string, err error) *PipelineError {
	var message string
	var suggestion string

	switch code {
	case CodeMoveFailed:
		message = fmt.Sprintf("failed to move file: %s", path)
		suggestion = "check destination directory permissions and free space"
	case CodeDestinationError:
		message = fmt.Sprintf("destination directory error: %s", path)
		suggestion = "ensure the drop directory exists and is writable"
	case CodeArchiveError:
		message = fmt.Sprintf("failed to extract archive members: %s", path)
		suggestion = "verify the attachment is a readable zip archive"
	default:
		message = fmt.Sprintf("relocation error: %s", path)
		suggestion = "check the file and destination and try again"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryRelocation, code, message)
	} else {
		result = New(CategoryRelocation, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("path", path)
}

// CollaboratorError creates an error for a failing external collaborator
// (mailbox/transport); always row-local.
func CollaboratorError(code ErrorCode, feed string, err error) *PipelineError {
	var message string
	var suggestion string

	switch code {
	case CodeFetchFailed:
		message = fmt.Sprintf("failed to fetch candidate items for feed %s", feed)
		suggestion = "check mailbox connectivity and folder path"
	case CodeAttachmentFailed:
		message = fmt.Sprintf("failed to save attachment for feed %s", feed)
		suggestion = "check the local cache directory permissions"
	case CodeNoCollector:
		message = fmt.Sprintf("no collector available for feed %s", feed)
		suggestion = "only email feeds ship a collector; other channels need manual handling"
	default:
		message = fmt.Sprintf("collaborator error for feed %s", feed)
		suggestion = "check the external collaborator and try again"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryCollaborator, code, message)
	} else {
		result = New(CategoryCollaborator, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("feed", feed)
}

// StateError creates a persistence-related error
func StateError(code ErrorCode, targetDate string, err error) *PipelineError {
	var message string
	var suggestion string

	switch code {
	case CodeStateLoadFailed:
		message = fmt.Sprintf("failed to load state for %s", targetDate)
		suggestion = "check the state backend and its connectivity"
	case CodeStateSaveFailed:
		message = fmt.Sprintf("failed to save state for %s", targetDate)
		suggestion = "check the state backend; the previous row set is still intact"
	default:
		message = fmt.Sprintf("state error for %s", targetDate)
		suggestion = "check the state backend configuration"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryState, code, message)
	} else {
		result = New(CategoryState, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("target_date", targetDate)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *PipelineError {
	message := fmt.Sprintf("unexpected error during %s", operation)

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryInternal, code, message)
	} else {
		result = New(CategoryInternal, code, message)
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// Utility functions

// IsPipelineError checks if an error is a PipelineError
func IsPipelineError(err error) bool {
	_, ok := err.(*PipelineError)
	return ok
}

// AsPipelineError extracts a PipelineError from an error chain
func AsPipelineError(err error) (*PipelineError, bool) {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr, true
	}
	return nil, false
}

// IsFatal reports whether err carries a fatal (configuration) defect.
func IsFatal(err error) bool {
	if pipelineErr, ok := AsPipelineError(err); ok {
		return pipelineErr.IsFatal()
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already a PipelineError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}

	if pipelineErr, ok := AsPipelineError(err); ok {
		return pipelineErr
	}

	return Wrap(err, category, code, message)
}
