// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// SignalEmitter builds and emits one signal. Created through a Scope, it is
// emitted when the scope closes unless it was emitted already.
type SignalEmitter struct {
	object   Object
	name     string
	signal   *Message
	err      error
	executed bool
}

// EmitSignal starts the emission of signal from o.
func EmitSignal(o Object, signal string) *SignalEmitter {
	return &SignalEmitter{object: o, name: signal}
}

// OnInterface binds the signal to an interface. It must come first.
func (e *SignalEmitter) OnInterface(iface string) *SignalEmitter {
	e.signal = e.object.CreateSignal(iface, e.name)
	return e
}

// WithArguments appends the signal arguments.
func (e *SignalEmitter) WithArguments(args ...any) *SignalEmitter {
	e.require("WithArguments")
	if e.err == nil {
		e.err = e.signal.Append(args...)
	}
	return e
}

// Emit sends the signal. Emitting twice is a no-op.
func (e *SignalEmitter) Emit() error {
	e.require("Emit")
	if e.executed {
		return nil
	}
	e.executed = true
	if e.err != nil {
		return e.err
	}
	return e.object.EmitSignal(e.signal)
}

// Finalize emits the signal if it has not been emitted yet.
func (e *SignalEmitter) Finalize() error {
	if e.executed {
		return nil
	}
	return e.Emit()
}

func (e *SignalEmitter) require(call string) {
	if e.signal == nil {
		misuse("SignalEmitter", call)
	}
}

// SignalSubscriber registers a handler for one signal.
type SignalSubscriber struct {
	proxy Proxy
	name  string
	iface string
	bound bool
}

// SubscribeSignal starts a subscription to signal on p.
func SubscribeSignal(p Proxy, signal string) *SignalSubscriber {
	return &SignalSubscriber{proxy: p, name: signal}
}

// OnInterface binds the subscription to an interface. It must come first.
func (s *SignalSubscriber) OnInterface(iface string) *SignalSubscriber {
	s.iface = iface
	s.bound = true
	return s
}

// Call subscribes fn for the lifetime of the proxy.
func (s *SignalSubscriber) Call(fn any) error {
	_, err := s.Register(fn, FloatingSlot)
	return err
}

// Register subscribes fn. fn takes the signal arguments, optionally after a
// leading error parameter. With an error parameter a signal that does not
// decode reaches fn as an error; without one that occurrence is dropped.
// With ReturnSlot the registration lives until the returned Slot is closed.
func (s *SignalSubscriber) Register(fn any, own SlotOwnership) (*Slot, error) {
	if !s.bound {
		misuse("SignalSubscriber", "Call")
	}
	shape, err := ShapeOf(fn)
	if err != nil {
		return nil, err
	}
	if shape.IsAsync || len(shape.Results) > 0 || shape.ReturnsError {
		return nil, fmt.Errorf("ipc: signal handler must not return values, got %s", shape.Type)
	}
	fv := reflect.ValueOf(fn)
	iface, name := s.iface, s.name
	slot, err := s.proxy.RegisterSignalHandler(iface, name, func(sig *Message) {
		if err := invokeHandler(fv, shape, sig, nil); err != nil {
			Logger().Debug("dropping undecodable signal",
				zap.String("interface", iface),
				zap.String("signal", name),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return nil, err
	}
	if own == FloatingSlot {
		return nil, nil
	}
	return slot, nil
}

// SignalUnsubscriber removes the handlers of one signal.
type SignalUnsubscriber struct {
	proxy Proxy
	name  string
}

// UnsubscribeSignal starts the removal of the handlers of signal on p.
func UnsubscribeSignal(p Proxy, signal string) *SignalUnsubscriber {
	return &SignalUnsubscriber{proxy: p, name: signal}
}

// OnInterface removes the handlers registered for the signal on iface.
func (u *SignalUnsubscriber) OnInterface(iface string) error {
	return u.proxy.UnregisterSignalHandler(iface, u.name)
}
