// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"math"
	"strings"
	"time"
)

// ObjectPath is a wire object path ('o').
type ObjectPath string

// IsValid reports whether p is a syntactically valid object path.
func (p ObjectPath) IsValid() bool {
	s := string(p)
	if s == "/" {
		return true
	}
	if !strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return false
	}
	for _, elem := range strings.Split(s[1:], "/") {
		if elem == "" {
			return false
		}
		for _, c := range elem {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
				return false
			}
		}
	}
	return true
}

// Signature is a wire type-signature string ('g').
type Signature string

// UnixFD is a file descriptor handle ('h'). Only the handle value travels
// through the frame transports; passing real descriptors needs a transport
// that supports it.
type UnixFD int32

// BusName, InterfaceName and MemberName travel as plain strings.
type (
	BusName       string
	InterfaceName string
	MemberName    string
)

// Timeout is a per-call timeout in microseconds. Zero selects the backend
// default and TimeoutInfinite waits forever.
type Timeout uint64

const (
	TimeoutDefault  Timeout = 0
	TimeoutInfinite Timeout = math.MaxUint64
)

// TimeoutOf converts a duration into a Timeout. Negative durations mean
// no deadline.
func TimeoutOf(d time.Duration) Timeout {
	if d < 0 {
		return TimeoutInfinite
	}
	if d > 0 && d < time.Microsecond {
		return 1
	}
	return Timeout(d / time.Microsecond)
}

// Duration returns the timeout as a duration; ok is false when there is no
// deadline.
func (t Timeout) Duration(def time.Duration) (d time.Duration, ok bool) {
	switch t {
	case TimeoutInfinite:
		return 0, false
	case TimeoutDefault:
		return def, def > 0
	}
	if uint64(t) > uint64(math.MaxInt64/int64(time.Microsecond)) {
		return 0, false
	}
	return time.Duration(t) * time.Microsecond, true
}

// ReplyMode selects whether a method call waits for a reply.
type ReplyMode int

const (
	ExpectReply ReplyMode = iota
	NoReply
)

// SlotOwnership selects who owns a registration: the library (floating)
// or the caller through a returned *Slot.
type SlotOwnership int

const (
	FloatingSlot SlotOwnership = iota
	ReturnSlot
)

// Void is the value of a future for a call without results.
type Void struct{}

// Tuple2 holds the results of a two-value reply.
type Tuple2[A, B any] struct {
	V1 A
	V2 B
}

// Tuple3 holds the results of a three-value reply.
type Tuple3[A, B, C any] struct {
	V1 A
	V2 B
	V3 C
}
