package gameerr

import (
	"errors"
	"fmt"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context, e.g. scene_id
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Category returns the category of the error's code.
func (e *Error) Category() Category {
	return e.Code.Category()
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
		Cause:    cause,
	}
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrSceneNotFound      = New(CodeSceneNotFound, "scene not found")
	ErrSceneDuplicate     = New(CodeSceneDuplicate, "scene already registered")
	ErrNoCurrentScene     = New(CodeNoCurrentScene, "no current scene")
	ErrEffectUnknown      = New(CodeEffectUnknown, "unknown effect type")
	ErrEffectDuplicate    = New(CodeEffectDuplicate, "effect handler already registered")
	ErrChoiceNotFound     = New(CodeChoiceNotFound, "choice not found")
	ErrChoiceUnavailable  = New(CodeChoiceUnavailable, "choice unavailable")
	ErrInvalidState       = New(CodeInvalidState, "invalid state")
	ErrInvalidSnapshot    = New(CodeInvalidSnapshot, "invalid persisted snapshot")
	ErrMigrationMissing   = New(CodeMigrationMissing, "missing migration")
	ErrMigrationFailed    = New(CodeMigrationFailed, "migration failed")
	ErrSaveFailed         = New(CodeSaveFailed, "save failed")
	ErrLoadFailed         = New(CodeLoadFailed, "load failed")
	ErrGameNotFound       = New(CodeGameNotFound, "saved game not found")
	ErrLoadSuperseded     = New(CodeLoadSuperseded, "load superseded by a newer load")
	ErrInvalidSaveID      = New(CodeInvalidSaveID, "invalid save id")
	ErrPluginDuplicate    = New(CodePluginDuplicate, "plugin already registered")
	ErrMigrationDuplicate = New(CodeMigrationDuplicate, "migration already registered")
)

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// CategoryOf returns the category of the first *Error in err's chain.
func CategoryOf(err error) Category {
	return CodeOf(err).Category()
}

// IsCategory reports whether err carries a code in the given category.
func IsCategory(err error, cat Category) bool {
	return err != nil && CategoryOf(err) == cat
}
