package cascade

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode standardizes engine failure semantics across components.
type ErrorCode string

const (
	CodeDecomposition      ErrorCode = "decomposition"
	CodeUnmappableResource ErrorCode = "unmappable_resource"
	CodeConflict           ErrorCode = "conflict"
	CodeConnectivity       ErrorCode = "connectivity"
	CodeNotFound           ErrorCode = "not_found"
	CodeInvalidArgument    ErrorCode = "invalid_argument"
	CodeInternal           ErrorCode = "internal"
)

var (
	// ErrDecomposition matches any decomposition failure via errors.Is.
	ErrDecomposition = &Error{Code: CodeDecomposition}
	// ErrUnmappableResource matches any unmappable resource failure.
	ErrUnmappableResource = &Error{Code: CodeUnmappableResource}
	// ErrGraphConflict matches optimistic concurrency conflicts.
	ErrGraphConflict = &Error{Code: CodeConflict}
	// ErrGraphConnectivity matches transient store unavailability.
	ErrGraphConnectivity = &Error{Code: CodeConnectivity}
	// ErrNotFound matches lookups of unknown campaigns, players or resources.
	ErrNotFound = &Error{Code: CodeNotFound}
	// ErrInvalidArgument matches malformed input.
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
)

// Error is the canonical engine error.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Code == e.Code
}

func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap annotates err with a code unless it already carries one.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewError(code, op, err.Error(), err)
}

func DecompositionError(op, format string, args ...any) error {
	return NewError(CodeDecomposition, op, fmt.Sprintf(format, args...), nil)
}

func UnmappableResourceError(op, format string, args ...any) error {
	return NewError(CodeUnmappableResource, op, fmt.Sprintf(format, args...), nil)
}

func GraphConflictError(op, format string, args ...any) error {
	return NewError(CodeConflict, op, fmt.Sprintf(format, args...), nil)
}

func GraphConnectivityError(op string, cause error) error {
	msg := "graph store unavailable"
	if cause != nil {
		msg = cause.Error()
	}
	return NewError(CodeConnectivity, op, msg, cause)
}

func NotFoundError(op, format string, args ...any) error {
	return NewError(CodeNotFound, op, fmt.Sprintf(format, args...), nil)
}

func InvalidArgumentError(op, format string, args ...any) error {
	return NewError(CodeInvalidArgument, op, fmt.Sprintf(format, args...), nil)
}

// IsCode checks whether err (or a wrapped error) carries code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf extracts the error code when available.
func CodeOf(err error) ErrorCode {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// IsRetryable reports whether the failure is transient store unavailability.
func IsRetryable(err error) bool {
	return IsCode(err, CodeConnectivity)
}
