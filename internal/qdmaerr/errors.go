// Package qdmaerr defines the error-kind taxonomy shared by every layer of
// the DMA engine driver, from register validation up through the
// multi-stream throughput loop.
package qdmaerr

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind identifies a class of driver failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInitRegisterMismatch
	KindInitBarTooSmall
	KindInitChannelNotIdle
	KindInitResidualCredits
	KindConfigInvalid
	KindArenaOutOfSpace
	KindDeviceReportedError
	KindTransferTimeout
	KindStreamWritebackMagicMismatch
	KindFinaliseTimeout
	KindInternalAssertion
)

var kindNames = map[Kind]string{
	KindUnknown:                      "unknown",
	KindInitRegisterMismatch:         "register identity mismatch",
	KindInitBarTooSmall:              "BAR too small",
	KindInitChannelNotIdle:           "channel not idle at init",
	KindInitResidualCredits:          "residual credits at init",
	KindConfigInvalid:                "invalid configuration",
	KindArenaOutOfSpace:              "DMA mapping arena out of space",
	KindDeviceReportedError:          "device reported error",
	KindTransferTimeout:              "transfer timeout",
	KindStreamWritebackMagicMismatch: "stream writeback magic mismatch",
	KindFinaliseTimeout:              "timeout awaiting idle at finalisation",
	KindInternalAssertion:            "internal assertion failed",
}

// String returns the human-readable kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown kind (%d)", int(k))
}

// Error is the single error type produced by the driver. It always carries
// a Kind, a free-form context message, and optionally an underlying cause.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Context, e.Kind, e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Context, e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates an *Error with the given kind and context.
func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

// Newf creates an *Error with a formatted context message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with an underlying cause.
func Wrap(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// FromErrno maps a Linux errno returned by the VFIO/mmap syscalls used in
// internal/driverio to the closest driver Kind.
func FromErrno(errno unix.Errno, context string) *Error {
	var kind Kind
	switch errno {
	case unix.ENOMEM, unix.ENOBUFS:
		kind = KindArenaOutOfSpace
	case unix.ETIMEDOUT:
		kind = KindTransferTimeout
	case unix.EINVAL:
		kind = KindConfigInvalid
	case unix.ENOTTY, unix.ENODEV, unix.ENXIO:
		kind = KindInitRegisterMismatch
	default:
		kind = KindUnknown
	}
	return &Error{Kind: kind, Context: context, Cause: errno}
}
