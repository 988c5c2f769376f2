package engine

import (
	"errors"
	"fmt"

	"pedometerd/internal/records"
	"pedometerd/internal/sensor"
	"pedometerd/internal/state"
)

// Code classifies an engine failure for callers and the IPC surface.
type Code string

const (
	CodePermission       Code = "permission"
	CodeTracking         Code = "tracking"
	CodeStorage          Code = "storage"
	CodeInvalidParameter Code = "invalid_parameter"
	CodeUnsupported      Code = "unsupported"
	CodeUnexpected       Code = "unexpected"
)

// Error is the typed failure every engine operation returns. Callers
// decide retry versus surfacing; nothing the engine does panics across
// this boundary.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the failure code from any error returned by the
// engine. Non-engine errors classify as unexpected.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnexpected
}

// wrap classifies err by its underlying component sentinel and tags it
// with the operation name. Returns nil for nil.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	code := CodeUnexpected
	switch {
	case errors.Is(err, records.ErrInvalidRange):
		code = CodeInvalidParameter
	case errors.Is(err, state.ErrStorage), errors.Is(err, records.ErrStorage):
		code = CodeStorage
	case errors.Is(err, sensor.ErrUnavailable):
		code = CodeUnsupported
	}
	return &Error{Code: code, Op: op, Err: err}
}

// wrapAs forces a specific code regardless of the underlying sentinel.
func wrapAs(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}
