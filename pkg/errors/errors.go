// Unified error handling for the airlock HIL rig.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of error.
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Link (transport) errors; always recoverable, the simulation keeps
	// ticking through them.
	ErrLinkOpen  ErrorCode = "LINK_OPEN"
	ErrLinkRead  ErrorCode = "LINK_READ"
	ErrLinkWrite ErrorCode = "LINK_WRITE"
	ErrLinkDown  ErrorCode = "LINK_DOWN"

	// Protocol errors; logged, never fatal.
	ErrProtocolFrame ErrorCode = "PROTOCOL_FRAME"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// RigError is the unified error type for the rig.
type RigError struct {
	// Code is the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Section is the config section or component context.
	Section string

	// Option is the config option name, when applicable.
	Option string

	// Err wraps the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RigError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RigError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section.
func (e *RigError) SetSection(section string) *RigError {
	e.Section = section
	return e
}

// SetOption sets the config option.
func (e *RigError) SetOption(option string) *RigError {
	e.Option = option
	return e
}

// New creates a new RigError.
func New(code ErrorCode, message string) *RigError {
	return &RigError{Code: code, Message: message}
}

// Wrap wraps an existing error with a category and message.
func Wrap(err error, code ErrorCode, message string) *RigError {
	return &RigError{Code: code, Message: message, Err: err}
}

// ConfigSectionError creates an error for a missing config section.
func ConfigSectionError(section string) *RigError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for a missing config option.
func ConfigOptionError(section, option string) *RigError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for a config value that fails to parse.
func ConfigTypeError(section, option, value, targetType string, err error) *RigError {
	return Wrap(err, ErrConfigType,
		fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for a config value that parsed but
// is out of range or otherwise invalid.
func ConfigValidationError(section, option, reason string) *RigError {
	return New(ErrConfigValidation,
		fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// LinkError creates a recoverable transport error for the given operation.
func LinkError(code ErrorCode, op string, err error) *RigError {
	return Wrap(err, code, fmt.Sprintf("link %s failed", op))
}

// RuntimeError creates a general runtime error.
func RuntimeError(message string) *RigError {
	return New(ErrRuntime, message)
}

// RuntimeInitError creates an error for component initialization failure.
func RuntimeInitError(component, reason string) *RigError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason)).
		SetSection(component)
}

// Is checks whether err carries the given error code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var re *RigError
	for errors.As(err, &re) {
		if re.Code == code {
			return true
		}
		err = re.Err
		re = nil
	}
	return false
}

// IsConfig checks if err is a configuration error.
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigType) ||
		Is(err, ErrConfigValidation)
}

// IsLink checks if err is a recoverable transport error.
func IsLink(err error) bool {
	return Is(err, ErrLinkOpen) ||
		Is(err, ErrLinkRead) ||
		Is(err, ErrLinkWrite) ||
		Is(err, ErrLinkDown)
}
