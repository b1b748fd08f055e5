package apperr

import (
	"errors"
	"fmt"
)

const (
	CodeValidation         = "VALIDATION"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidRange       = "INVALID_RANGE"
	CodeDuplicateSave      = "DUPLICATE_SAVE"
	CodePersistenceFailure = "PERSISTENCE_FAILURE"
	CodeStaleAxis          = "STALE_AXIS"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// New builds a CodedError.
func New(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

func Validation(msg string) error { return New(CodeValidation, msg, nil) }

func NotFound(msg string) error { return New(CodeNotFound, msg, nil) }

// InvalidRange reports a viewport range whose min is not below its max.
func InvalidRange(min, max float64) error {
	return New(CodeInvalidRange, fmt.Sprintf("range min %v must be below max %v", min, max), nil)
}

// DuplicateSave reports a save requested while one is already outstanding.
func DuplicateSave(key string) error {
	return New(CodeDuplicateSave, "save already in flight for "+key, nil)
}

// PersistenceFailure wraps a backend or transport error on create, update or delete.
func PersistenceFailure(op string, cause error) error {
	return New(CodePersistenceFailure, op+" failed", cause)
}

// StaleAxis reports an annotation whose subplot is not in the current layout.
func StaleAxis(ref string) error {
	return New(CodeStaleAxis, "subplot not present: "+ref, nil)
}

// CodeOf returns the code of the first CodedError in err's chain, or "".
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
