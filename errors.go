// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"errors"
	"fmt"
	"reflect"
)

// Well-known error names carried by remote errors.
const (
	ErrorNameFailed           = "org.freedesktop.DBus.Error.Failed"
	ErrorNameUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrorNameUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	ErrorNameUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrorNameUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrorNamePropertyReadOnly = "org.freedesktop.DBus.Error.PropertyReadOnly"
	ErrorNameInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorNameNoReply          = "org.freedesktop.DBus.Error.NoReply"
	ErrorNameTimeout          = "org.freedesktop.DBus.Error.Timeout"
	ErrorNameDisconnected     = "org.freedesktop.DBus.Error.Disconnected"
)

var (
	ErrSignatureMismatch = errors.New("ipc: signature mismatch")
	ErrUnknownDictKey    = errors.New("ipc: dictionary key has no matching struct field")
	ErrClosed            = errors.New("ipc: connection closed")
	ErrTimeout           = &Error{Name: ErrorNameTimeout, Message: "method call timed out"}
	ErrNoReply           = &Error{Name: ErrorNameNoReply, Message: "no reply expected for this call"}
	ErrInvalidSignature  = errors.New("ipc: invalid signature")
	ErrNotSupported      = errors.New("ipc: not supported by this proxy")
)

// Error is an error reported by the remote endpoint. It travels as an
// error reply carrying a D-Bus style error name and a human readable message.
type Error struct {
	Name    string
	Message string
}

// NewError creates a remote error with the given name and message.
func NewError(name, message string) *Error {
	return &Error{Name: name, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Is matches errors by name so callers can compare against the sentinel
// remote errors with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Name == e.Name
}

// toRemoteError converts any error into the form sent back to a caller.
func toRemoteError(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{Name: ErrorNameFailed, Message: err.Error()}
}

// UnsupportedTypeError is returned when a Go type has no wire signature.
type UnsupportedTypeError struct {
	Type   reflect.Type
	Reason string
}

func (e *UnsupportedTypeError) Error() string {
	name := "<nil>"
	if e.Type != nil {
		name = e.Type.String()
	}
	if e.Reason == "" {
		return fmt.Sprintf("ipc: unsupported type %s", name)
	}
	return fmt.Sprintf("ipc: unsupported type %s: %s", name, e.Reason)
}

// SignatureMismatchError is returned when decoded data does not have the
// shape the caller asked for.
type SignatureMismatchError struct {
	Expected string
	Actual   string
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("ipc: signature mismatch: expected %q, got %q", e.Expected, e.Actual)
}

func (e *SignatureMismatchError) Unwrap() error {
	return ErrSignatureMismatch
}

// BuilderMisuseError is the panic value raised when a builder is configured
// out of order. It is a programming error and is never returned.
type BuilderMisuseError struct {
	Builder  string
	Call     string
	Requires string
}

func (e *BuilderMisuseError) Error() string {
	return fmt.Sprintf("ipc: %s.%s called before %s", e.Builder, e.Call, e.Requires)
}

func misuse(builder, call string) {
	panic(&BuilderMisuseError{Builder: builder, Call: call, Requires: "OnInterface"})
}

func misuseBefore(builder, call, requires string) {
	panic(&BuilderMisuseError{Builder: builder, Call: call, Requires: requires})
}
