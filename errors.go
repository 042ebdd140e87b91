package projection

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConfiguration covers invalid directives, detected before any
	// record is produced for the schema in question.
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeConversion covers failures scoped to a single record.
	ErrorTypeConversion ErrorType = "conversion"
	ErrorTypeIO         ErrorType = "io"
)

// Configuration property names, as they appear in ProjectionConfig.
const (
	PropertyDrop    = "drop"
	PropertyKeep    = "keep"
	PropertyRename  = "rename"
	PropertyConvert = "convert"
)

// Error codes
const (
	ErrCodeDropAndKeep           = "DROP_AND_KEEP"
	ErrCodeDropAllFields         = "DROP_ALL_FIELDS"
	ErrCodeUnknownField          = "UNKNOWN_FIELD"
	ErrCodeRenameConflict        = "RENAME_CONFLICT"
	ErrCodeRenameTargetConflict  = "RENAME_TARGET_CONFLICT"
	ErrCodeInvalidConvertType    = "INVALID_CONVERT_TYPE"
	ErrCodeDuplicateConvert      = "DUPLICATE_CONVERT"
	ErrCodeUnconvertibleField    = "UNCONVERTIBLE_FIELD"
	ErrCodeIncompatibleConvert   = "INCOMPATIBLE_CONVERSION"
	ErrCodeMalformedDirective    = "MALFORMED_DIRECTIVE"
	ErrCodeConversionFailed      = "CONVERSION_FAILED"
	ErrCodeInvalidSchema         = "INVALID_SCHEMA"
	ErrCodeInvalidRecord         = "INVALID_RECORD"
	ErrCodeSchemaNotFound        = "SCHEMA_NOT_FOUND"
	ErrCodeSourceFailed          = "SOURCE_FAILED"
	ErrCodeSinkFailed            = "SINK_FAILED"
	ErrCodeOutputValidation      = "OUTPUT_VALIDATION_FAILED"
	ErrCodeUnsupportedSourceType = "UNSUPPORTED_SOURCE_TYPE"
)

// ProjectionError is the error type returned by every layer of the engine.
type ProjectionError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Field      string    `json:"field,omitempty"`
	Property   []string  `json:"property,omitempty"`
	Elements   []string  `json:"elements,omitempty"`
	Corrective string    `json:"corrective,omitempty"`
	Cause      error     `json:"-"`
}

func (e *ProjectionError) Error() string {
	msg := e.Message
	if e.Corrective != "" {
		msg = msg + " " + e.Corrective
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, msg)
}

func (e *ProjectionError) Unwrap() error {
	return e.Cause
}

// NewProjectionError creates a new ProjectionError
func NewProjectionError(errorType ErrorType, code, message string) *ProjectionError {
	return &ProjectionError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// WithField adds field context
func (e *ProjectionError) WithField(field string) *ProjectionError {
	e.Field = field
	return e
}

// WithProperty records the configuration property the failure relates to.
func (e *ProjectionError) WithProperty(property string) *ProjectionError {
	e.Property = append(e.Property, property)
	return e
}

// WithElement records a configuration property and the list element inside
// it that caused the failure, e.g. rename / "a:x".
func (e *ProjectionError) WithElement(property, element string) *ProjectionError {
	if len(e.Property) == 0 || e.Property[len(e.Property)-1] != property {
		e.Property = append(e.Property, property)
	}
	e.Elements = append(e.Elements, element)
	return e
}

// WithCorrective adds a suggested corrective action.
func (e *ProjectionError) WithCorrective(action string) *ProjectionError {
	e.Corrective = action
	return e
}

// WithCause adds a cause
func (e *ProjectionError) WithCause(cause error) *ProjectionError {
	e.Cause = cause
	return e
}

// IsConfigurationError reports whether err, or any error it aggregates, is a
// configuration error.
func IsConfigurationError(err error) bool {
	for _, f := range Failures(err) {
		if f.Type == ErrorTypeConfiguration {
			return true
		}
	}
	return false
}

// IsConversionError reports whether err is a record-scoped conversion error.
func IsConversionError(err error) bool {
	var pe *ProjectionError
	return errors.As(err, &pe) && pe.Type == ErrorTypeConversion
}

// Failures flattens an aggregated error into its ProjectionError parts.
// Errors that are not ProjectionErrors are skipped.
func Failures(err error) []*ProjectionError {
	var out []*ProjectionError
	for _, e := range multierr.Errors(err) {
		var pe *ProjectionError
		if errors.As(e, &pe) {
			out = append(out, pe)
		}
	}
	return out
}

// FailureCollector accumulates configuration failures so that a validation
// pass can report all of them at once.
type FailureCollector struct {
	err error
}

// Add records a failure and returns it for further decoration.
func (c *FailureCollector) Add(failure *ProjectionError) *ProjectionError {
	c.err = multierr.Append(c.err, failure)
	return failure
}

// AddFailure records a configuration failure with the given code and message.
func (c *FailureCollector) AddFailure(code, message string) *ProjectionError {
	return c.Add(NewProjectionError(ErrorTypeConfiguration, code, message))
}

// Len returns the number of collected failures.
func (c *FailureCollector) Len() int {
	return len(multierr.Errors(c.err))
}

// Err returns nil when nothing was collected, otherwise every failure
// combined into one error.
func (c *FailureCollector) Err() error {
	return c.err
}

// Summary renders the collected failures one per line.
func Summary(err error) string {
	errs := multierr.Errors(err)
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n")
}
