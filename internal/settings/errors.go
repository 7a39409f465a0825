package settings

import (
	"errors"
	"fmt"
)

// Errors returned by settings tree operations.
var (
	// ErrSettingNotFound indicates no setting exists for the given key.
	ErrSettingNotFound = errors.New("setting not found")

	// ErrGroupNotFound indicates no child group exists for the given key.
	ErrGroupNotFound = errors.New("settings group not found")

	// ErrTypeMismatch indicates a value does not match a setting's pinned type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUndeclaredSetting indicates a strict write to a key the schema does not declare.
	ErrUndeclaredSetting = errors.New("setting not declared in schema")

	// ErrKeyConflict indicates a key is already taken by a node of the other kind.
	ErrKeyConflict = errors.New("key conflicts with existing node")

	// ErrUnsupportedValue indicates a Go value with no settings representation.
	ErrUnsupportedValue = errors.New("unsupported value type")

	// ErrInvalidSchema indicates a schema document that cannot be parsed.
	ErrInvalidSchema = errors.New("invalid settings schema")
)

// TypeError is returned when a value assignment violates a setting's pinned type.
type TypeError struct {
	// Path is the full path id of the setting.
	Path string
	// Expected is the pinned kind name.
	Expected string
	// Actual is the kind name of the rejected value.
	Actual string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("type error for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Is implements error matching for TypeError.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// UndeclaredError is returned by strict writes to keys outside the schema.
type UndeclaredError struct {
	// Path is the full path id of the rejected key.
	Path string
}

// Error implements the error interface.
func (e *UndeclaredError) Error() string {
	return fmt.Sprintf("%s is not declared in the schema", e.Path)
}

// Is implements error matching for UndeclaredError.
func (e *UndeclaredError) Is(target error) bool {
	return target == ErrUndeclaredSetting
}

// SchemaError describes a schema document that failed to parse.
type SchemaError struct {
	// Path is the schema file path, or "<data>" for in-memory documents.
	Path string
	// Message describes the failure.
	Message string
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in %s: %s", e.Path, e.Message)
}

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Is implements error matching for SchemaError.
func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}
