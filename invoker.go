// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// MethodInvoker builds and runs one synchronous method call:
//
//	err := ipc.CallMethod(proxy, "Add").
//		OnInterface("com.example.Calc").
//		WithArguments(int32(2), int32(3)).
//		StoreResultsTo(&sum)
//
// A MethodInvoker runs at most once. Created through a Scope, it is
// finalized when the scope closes unless it already ran.
type MethodInvoker struct {
	proxy    Proxy
	name     string
	ctx      context.Context
	call     *Message
	timeout  Timeout
	err      error
	executed bool
}

// CallMethod starts a synchronous call of method on p.
func CallMethod(p Proxy, method string) *MethodInvoker {
	return &MethodInvoker{proxy: p, name: method, ctx: context.Background()}
}

// OnInterface binds the call to an interface. It must come first.
func (m *MethodInvoker) OnInterface(iface string) *MethodInvoker {
	m.call = m.proxy.CreateMethodCall(iface, m.name)
	return m
}

// WithContext sets the context the call blocks on.
func (m *MethodInvoker) WithContext(ctx context.Context) *MethodInvoker {
	m.ctx = ctx
	return m
}

// WithTimeout sets the call timeout. A negative duration waits forever.
func (m *MethodInvoker) WithTimeout(d time.Duration) *MethodInvoker {
	m.require("WithTimeout")
	m.timeout = TimeoutOf(d)
	return m
}

// WithTimeoutMicros sets the call timeout in microseconds.
func (m *MethodInvoker) WithTimeoutMicros(usec uint64) *MethodInvoker {
	m.require("WithTimeoutMicros")
	m.timeout = Timeout(usec)
	return m
}

// WithArguments appends the call arguments. An argument without a wire
// representation leaves the message untouched and fails the call.
func (m *MethodInvoker) WithArguments(args ...any) *MethodInvoker {
	m.require("WithArguments")
	if m.err == nil {
		m.err = m.call.Append(args...)
	}
	return m
}

// WithReplyMode selects whether the call waits for a reply.
func (m *MethodInvoker) WithReplyMode(mode ReplyMode) *MethodInvoker {
	m.require("WithReplyMode")
	m.call.NoReply = mode == NoReply
	return m
}

// StoreResultsTo runs the call and decodes the reply into ptrs. The reply
// signature must match the targets exactly.
func (m *MethodInvoker) StoreResultsTo(ptrs ...any) error {
	m.require("StoreResultsTo")
	if m.executed {
		return nil
	}
	reply, err := m.execute()
	if err != nil {
		return err
	}
	if reply == nil {
		if len(ptrs) == 0 {
			return nil
		}
		return ErrNoReply
	}
	return Deserialize(reply, ptrs...)
}

// DontExpectReply sends the call without waiting for a reply.
func (m *MethodInvoker) DontExpectReply() error {
	m.require("DontExpectReply")
	if m.executed {
		return nil
	}
	m.call.NoReply = true
	_, err := m.execute()
	return err
}

// Finalize runs the call if it has not run yet and discards the reply.
func (m *MethodInvoker) Finalize() error {
	if m.executed {
		return nil
	}
	m.require("Finalize")
	_, err := m.execute()
	return err
}

func (m *MethodInvoker) execute() (*Message, error) {
	m.executed = true
	if m.err != nil {
		return nil, m.err
	}
	return m.proxy.CallMethod(m.ctx, m.call, m.timeout)
}

func (m *MethodInvoker) require(call string) {
	if m.call == nil {
		misuse("MethodInvoker", call)
	}
}

// AsyncMethodInvoker builds one asynchronous method call. The reply reaches
// either a callback or a Future.
type AsyncMethodInvoker struct {
	proxy    Proxy
	name     string
	call     *Message
	timeout  Timeout
	err      error
	executed bool
}

// CallMethodAsync starts an asynchronous call of method on p.
func CallMethodAsync(p Proxy, method string) *AsyncMethodInvoker {
	return &AsyncMethodInvoker{proxy: p, name: method}
}

// OnInterface binds the call to an interface. It must come first.
func (m *AsyncMethodInvoker) OnInterface(iface string) *AsyncMethodInvoker {
	m.call = m.proxy.CreateMethodCall(iface, m.name)
	return m
}

// WithTimeout sets the call timeout. A negative duration waits forever.
func (m *AsyncMethodInvoker) WithTimeout(d time.Duration) *AsyncMethodInvoker {
	m.require("WithTimeout")
	m.timeout = TimeoutOf(d)
	return m
}

// WithTimeoutMicros sets the call timeout in microseconds.
func (m *AsyncMethodInvoker) WithTimeoutMicros(usec uint64) *AsyncMethodInvoker {
	m.require("WithTimeoutMicros")
	m.timeout = Timeout(usec)
	return m
}

// WithArguments appends the call arguments.
func (m *AsyncMethodInvoker) WithArguments(args ...any) *AsyncMethodInvoker {
	m.require("WithArguments")
	if m.err == nil {
		m.err = m.call.Append(args...)
	}
	return m
}

// UponReplyInvoke sends the call and arranges for fn to receive the reply.
// fn has the form func(err error, results...). When the call fails or the
// reply does not decode into the results, fn gets the error and zero
// results; it is invoked exactly once either way.
func (m *AsyncMethodInvoker) UponReplyInvoke(fn any) (*PendingAsyncCall, error) {
	m.require("UponReplyInvoke")
	shape, err := ShapeOf(fn)
	if err != nil {
		return nil, err
	}
	if !shape.HasErrorParam || shape.IsAsync || len(shape.Results) > 0 || shape.ReturnsError {
		return nil, fmt.Errorf("ipc: reply callback must look like func(error, results...), got %s", shape.Type)
	}
	if m.executed {
		return nil, nil
	}
	m.executed = true
	if m.err != nil {
		return nil, m.err
	}
	fv := reflect.ValueOf(fn)
	return m.proxy.CallMethodAsync(m.call, func(reply *Message, err error) {
		_ = invokeHandler(fv, shape, reply, err)
	}, m.timeout)
}

// sendForFuture sends the call and resolves through resolve with the reply
// decoded into types.
func (m *AsyncMethodInvoker) sendForFuture(types []reflect.Type, resolve func([]reflect.Value, error)) error {
	m.require("ResultAsFuture")
	if m.executed {
		return fmt.Errorf("ipc: %s already sent", m.name)
	}
	m.executed = true
	if m.err != nil {
		return m.err
	}
	_, err := m.proxy.CallMethodAsync(m.call, func(reply *Message, err error) {
		if err != nil {
			resolve(nil, err)
			return
		}
		resolve(decodeTypes(reply, types))
	}, m.timeout)
	return err
}

func (m *AsyncMethodInvoker) require(call string) {
	if m.call == nil {
		misuse("AsyncMethodInvoker", call)
	}
}

// ResultAsFuture0 sends the call and returns a future resolved when a reply
// without results arrives.
func ResultAsFuture0(m *AsyncMethodInvoker) (*Future[Void], error) {
	f, set := NewPromise[Void]()
	err := m.sendForFuture(nil, func(_ []reflect.Value, err error) {
		set(Void{}, err)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ResultAsFuture sends the call and returns a future of its single result.
func ResultAsFuture[T any](m *AsyncMethodInvoker) (*Future[T], error) {
	f, set := NewPromise[T]()
	err := m.sendForFuture(typesOf[T](), func(vals []reflect.Value, err error) {
		var v T
		if err == nil {
			v, _ = vals[0].Interface().(T)
		}
		set(v, err)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ResultAsFuture2 sends the call and returns a future of its two results.
func ResultAsFuture2[A, B any](m *AsyncMethodInvoker) (*Future[Tuple2[A, B]], error) {
	f, set := NewPromise[Tuple2[A, B]]()
	types := append(typesOf[A](), typesOf[B]()...)
	err := m.sendForFuture(types, func(vals []reflect.Value, err error) {
		var t Tuple2[A, B]
		if err == nil {
			t.V1, _ = vals[0].Interface().(A)
			t.V2, _ = vals[1].Interface().(B)
		}
		set(t, err)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ResultAsFuture3 sends the call and returns a future of its three results.
func ResultAsFuture3[A, B, C any](m *AsyncMethodInvoker) (*Future[Tuple3[A, B, C]], error) {
	f, set := NewPromise[Tuple3[A, B, C]]()
	types := append(append(typesOf[A](), typesOf[B]()...), typesOf[C]()...)
	err := m.sendForFuture(types, func(vals []reflect.Value, err error) {
		var t Tuple3[A, B, C]
		if err == nil {
			t.V1, _ = vals[0].Interface().(A)
			t.V2, _ = vals[1].Interface().(B)
			t.V3, _ = vals[2].Interface().(C)
		}
		set(t, err)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func typesOf[T any]() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[T]()}
}

// invokeHandler calls a callback with the decoded body of m. A callback
// with a leading error parameter receives err, or the decode error, with
// zero-valued arguments; one without it is skipped and the error returned.
func invokeHandler(fn reflect.Value, shape *FunctionShape, m *Message, err error) error {
	var args []reflect.Value
	if err == nil {
		args, err = decodeTypes(m, shape.Args)
	} else {
		args = make([]reflect.Value, len(shape.Args))
		for i, t := range shape.Args {
			args[i] = reflect.New(t).Elem()
		}
	}
	if !shape.HasErrorParam {
		if err != nil {
			return err
		}
		fn.Call(args)
		return nil
	}
	ev := reflect.New(errorType).Elem()
	if err != nil {
		ev.Set(reflect.ValueOf(err))
	}
	fn.Call(append([]reflect.Value{ev}, args...))
	return nil
}
