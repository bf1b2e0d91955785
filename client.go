// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// Proxy is the caller's view of one remote object. The call builders only
// talk to this interface; Connection, JSONRPCProxy and DBusProxy implement it.
type Proxy interface {
	// CreateMethodCall returns an empty method call addressed to the object.
	CreateMethodCall(iface, method string) *Message

	// CallMethod sends call and blocks for the reply. A call marked NoReply
	// returns a nil reply as soon as it is sent.
	CallMethod(ctx context.Context, call *Message, timeout Timeout) (*Message, error)

	// CallMethodAsync sends call and delivers the reply or error to handler
	// on the dispatch goroutine.
	CallMethodAsync(call *Message, handler AsyncReplyHandler, timeout Timeout) (*PendingAsyncCall, error)

	// RegisterSignalHandler subscribes handler to a signal of the object.
	RegisterSignalHandler(iface, signal string, handler SignalHandler) (*Slot, error)

	// UnregisterSignalHandler drops every handler of the signal.
	UnregisterSignalHandler(iface, signal string) error
}

// Object is the emitting side of an object on the bus.
type Object interface {
	// CreateSignal returns an empty signal message from the object.
	CreateSignal(iface, signal string) *Message

	// EmitSignal sends a signal created by CreateSignal.
	EmitSignal(signal *Message) error
}

// AsyncReplyHandler receives the reply to an asynchronous call, or the
// error that ended it.
type AsyncReplyHandler func(reply *Message, err error)

// SignalHandler receives one signal occurrence.
type SignalHandler func(signal *Message)

// Codec encodes messages into transport frames.
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

// Transport carries whole frames between two endpoints.
type Transport interface {
	io.Closer
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// Listener accepts frame transports.
type Listener interface {
	io.Closer
	Accept(ctx context.Context) (Transport, error)
	Addr() string
}

// PendingAsyncCall refers to an asynchronous call in flight. It does not
// own the call: once the reply is delivered the handle reports not pending.
type PendingAsyncCall struct {
	call weak.Pointer[asyncCall]
}

// Cancel discards interest in the reply. A reply that has not been
// delivered yet no longer reaches the handler; work already done by the
// remote side is not undone.
func (p *PendingAsyncCall) Cancel() {
	if p == nil {
		return
	}
	if c := p.call.Value(); c != nil {
		c.cancel()
	}
}

// IsPending reports whether the reply has yet to be delivered.
func (p *PendingAsyncCall) IsPending() bool {
	if p == nil {
		return false
	}
	c := p.call.Value()
	return c != nil && !c.done.Load()
}

// asyncCall is the record of an asynchronous call. It is owned by the
// proxy's pending table until the reply is delivered or the call is
// cancelled.
type asyncCall struct {
	handler AsyncReplyHandler
	done    atomic.Bool
	timer   atomic.Pointer[time.Timer]
	release func()
}

func newAsyncCall(handler AsyncReplyHandler) (*asyncCall, *PendingAsyncCall) {
	c := &asyncCall{handler: handler}
	return c, &PendingAsyncCall{call: weak.Make(c)}
}

// deliver runs the handler at most once.
func (c *asyncCall) deliver(reply *Message, err error) {
	if !c.done.CompareAndSwap(false, true) {
		return
	}
	c.stopTimer()
	c.handler(reply, err)
}

func (c *asyncCall) cancel() {
	if !c.done.CompareAndSwap(false, true) {
		return
	}
	c.stopTimer()
	if c.release != nil {
		c.release()
	}
}

func (c *asyncCall) stopTimer() {
	if t := c.timer.Load(); t != nil {
		t.Stop()
	}
}

// startTimer arms the timeout after the call is registered, so an early
// expiry always finds its pending entry.
func (c *asyncCall) startTimer(d time.Duration, expire func()) {
	c.timer.Store(time.AfterFunc(d, expire))
	if c.done.Load() {
		c.stopTimer()
	}
}

// Slot is a registration handle. Closing it removes the registration.
type Slot struct {
	once    sync.Once
	release func()
}

func newSlot(release func()) *Slot {
	return &Slot{release: release}
}

// Close removes the registration. Closing twice is a no-op.
func (s *Slot) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

// DialOption configures client connections
type DialOption func(*dialOptions)

type dialOptions struct {
	codec          Codec
	transport      string // "zap", "memory", "grpc"
	defaultTimeout time.Duration
	name           string
}

func newDialOptions(opts []DialOption) *dialOptions {
	o := &dialOptions{
		codec:          defaultCodec,
		transport:      DefaultTransport,
		defaultTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithCodec sets a custom codec
func WithCodec(c Codec) DialOption {
	return func(o *dialOptions) { o.codec = c }
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) DialOption {
	return func(o *dialOptions) { o.transport = t }
}

// WithDefaultTimeout sets the timeout used by calls with TimeoutDefault.
// A non-positive duration waits forever.
func WithDefaultTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.defaultTimeout = d }
}

// WithName sets the connection's unique name instead of a generated one.
func WithName(name string) DialOption {
	return func(o *dialOptions) { o.name = name }
}

// ServerOption configures servers
type ServerOption func(*serverOptions)

type serverOptions struct {
	codec     Codec
	transport string
}

// WithServerCodec sets a custom codec for the server
func WithServerCodec(c Codec) ServerOption {
	return func(o *serverOptions) { o.codec = c }
}

// WithServerTransport explicitly sets the transport type for the server
func WithServerTransport(t string) ServerOption {
	return func(o *serverOptions) { o.transport = t }
}
