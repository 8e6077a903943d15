package control

import (
	"errors"
	"net"
	"os"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// WrappedError pairs a reply Code with the underlying cause, the way the
// sftp cause stays reachable through errors.Is/errors.As while the
// reply-code bitmask rides along for the operation stack.
type WrappedError struct {
	Code  Code
	cause error
}

// Wrap builds a *WrappedError, tagging cause with code. cause may be nil.
func Wrap(code Code, cause error) *WrappedError {
	if cause == nil {
		return &WrappedError{Code: code}
	}
	return &WrappedError{Code: code, cause: pkgerrors.WithStack(cause)}
}

func (e *WrappedError) Error() string {
	if e.cause == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.cause.Error()
}

// Unwrap exposes the cause for errors.Is/errors.As.
func (e *WrappedError) Unwrap() error { return e.cause }

// CodeOf extracts the reply Code carried by err, defaulting to
// Error|InternalError for an unrecognised error and Ok for nil.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var ce *WrappedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ClassifyNetError(err)
}

// ClassifyNetError maps common local/network errors to the reply-code
// bitmask. It translates platform errno values into a small set of outcomes
// this implementation represents as bits rather than per-OS constants.
func ClassifyNetError(err error) Code {
	if err == nil {
		return Ok
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return Error | Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Error | Timeout
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, net.ErrClosed):
		return Error | Disconnected
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return Error | Disconnected
	case errors.Is(err, os.ErrNotExist):
		return Error | NotFound
	case errors.Is(err, os.ErrPermission):
		return Error | CriticalError
	}
	return Error | InternalError
}
