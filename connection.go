// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type signalKey struct {
	path   ObjectPath
	iface  string
	member string
}

type signalSub struct {
	id      uint64
	handler SignalHandler
}

// pendingReply waits for the reply to one call: a channel for a blocked
// caller or an async call record.
type pendingReply struct {
	sync  chan *Message
	async *asyncCall
}

// Connection exchanges messages with one peer over a frame Transport.
//
// Replies to synchronous calls go straight from the read loop to the
// waiting caller. Async replies, signals and incoming method calls are run
// on the connection's dispatch goroutine in arrival order.
type Connection struct {
	id             uuid.UUID
	name           string
	tr             Transport
	codec          Codec
	defaultTimeout time.Duration
	log            *zap.Logger
	objects        *objectTable
	dispatch       *dispatcher

	serial  atomic.Uint32
	pending sync.Map // serial -> *pendingReply

	sigMu   sync.RWMutex
	signals map[signalKey][]signalSub
	nextSub uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	readDone  chan struct{}
}

// NewConnection runs a connection over tr. Objects exported on it are
// served to the peer.
func NewConnection(tr Transport, opts ...DialOption) *Connection {
	return newConnection(tr, newDialOptions(opts), newObjectTable()).start()
}

// newConnection builds a connection; start begins reading from tr.
func newConnection(tr Transport, o *dialOptions, objects *objectTable) *Connection {
	id := uuid.New()
	name := o.name
	if name == "" {
		name = ":" + id.String()
	}
	codec := o.codec
	if codec == nil {
		codec = defaultCodec
	}
	c := &Connection{
		id:             id,
		name:           name,
		tr:             tr,
		codec:          codec,
		defaultTimeout: o.defaultTimeout,
		log:            Logger().With(zap.String("conn", name)),
		objects:        objects,
		dispatch:       newDispatcher(),
		signals:        make(map[signalKey][]signalSub),
		readDone:       make(chan struct{}),
	}
	return c
}

func (c *Connection) start() *Connection {
	go c.readLoop()
	return c
}

// ID returns the connection GUID.
func (c *Connection) ID() uuid.UUID { return c.id }

// UniqueName returns the name the connection stamps on outgoing messages.
func (c *Connection) UniqueName() string { return c.name }

// Done is closed when the connection has shut down.
func (c *Connection) Done() <-chan struct{} { return c.readDone }

// ExportObject serves a new object at path to the peer.
func (c *Connection) ExportObject(path ObjectPath) (*LocalObject, error) {
	return c.objects.export(path, c.emit)
}

// UnexportObject stops serving the object at path.
func (c *Connection) UnexportObject(path ObjectPath) {
	c.objects.remove(path)
}

// NewProxy returns a proxy for the peer object at path.
func (c *Connection) NewProxy(destination string, path ObjectPath) *ObjectProxy {
	return &ObjectProxy{conn: c, destination: destination, path: path}
}

// Close shuts the connection down. Pending calls fail with ErrClosed.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.tr.Close()
	})
	<-c.readDone
	return c.closeErr
}

func (c *Connection) nextSerial() uint32 {
	for {
		if s := c.serial.Add(1); s != 0 {
			return s
		}
	}
}

func (c *Connection) send(ctx context.Context, m *Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	m.Sender = c.name
	data, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	return c.tr.Send(ctx, data)
}

func (c *Connection) emit(m *Message) error {
	m.Serial = c.nextSerial()
	return c.send(context.Background(), m)
}

func (c *Connection) reply(m *Message) {
	m.Serial = c.nextSerial()
	if err := c.send(context.Background(), m); err != nil {
		c.log.Debug("failed to send reply",
			zap.Uint32("reply_serial", m.ReplySerial),
			zap.Error(err),
		)
	}
}

func (c *Connection) callSync(ctx context.Context, call *Message, timeout Timeout) (*Message, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	call.Serial = c.nextSerial()
	if call.NoReply {
		return nil, c.send(ctx, call)
	}

	ch := make(chan *Message, 1)
	c.pending.Store(call.Serial, &pendingReply{sync: ch})
	defer c.pending.Delete(call.Serial)

	if d, ok := timeout.Duration(c.defaultTimeout); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := c.send(ctx, call); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if err := reply.Err(); err != nil {
			return nil, err
		}
		return reply, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	case <-c.readDone:
		return nil, ErrClosed
	}
}

func (c *Connection) callAsync(call *Message, handler AsyncReplyHandler, timeout Timeout) (*PendingAsyncCall, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	serial := c.nextSerial()
	call.Serial = serial

	ac, pending := newAsyncCall(handler)
	ac.release = func() { c.pending.Delete(serial) }
	c.pending.Store(serial, &pendingReply{async: ac})
	if c.closed.Load() {
		if _, ok := c.pending.LoadAndDelete(serial); ok {
			return nil, ErrClosed
		}
	}
	if d, ok := timeout.Duration(c.defaultTimeout); ok {
		ac.startTimer(d, func() {
			if _, ok := c.pending.LoadAndDelete(serial); ok {
				c.dispatch.post(func() { ac.deliver(nil, ErrTimeout) })
			}
		})
	}

	if err := c.send(context.Background(), call); err != nil {
		c.pending.Delete(serial)
		ac.stopTimer()
		return nil, err
	}
	return pending, nil
}

func (c *Connection) addSignalHandler(key signalKey, h SignalHandler) *Slot {
	c.sigMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.signals[key] = append(c.signals[key], signalSub{id: id, handler: h})
	c.sigMu.Unlock()

	return newSlot(func() {
		c.sigMu.Lock()
		defer c.sigMu.Unlock()
		subs := c.signals[key]
		for i, s := range subs {
			if s.id == id {
				c.signals[key] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(c.signals[key]) == 0 {
			delete(c.signals, key)
		}
	})
}

func (c *Connection) removeSignalHandlers(key signalKey) {
	c.sigMu.Lock()
	delete(c.signals, key)
	c.sigMu.Unlock()
}

func (c *Connection) deliverSignal(m *Message) {
	key := signalKey{path: m.Path, iface: m.Interface, member: m.Member}
	c.sigMu.RLock()
	subs := c.signals[key]
	c.sigMu.RUnlock()
	for _, s := range subs {
		s.handler(m)
	}
}

func (c *Connection) readLoop() {
	defer c.shutdown()
	ctx := context.Background()
	for {
		data, err := c.tr.Recv(ctx)
		if err != nil {
			if !c.closed.Load() {
				c.log.Debug("transport closed", zap.Error(err))
			}
			return
		}
		m, err := c.codec.Decode(data)
		if err != nil {
			c.log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		c.handle(m)
	}
}

func (c *Connection) handle(m *Message) {
	switch m.Type {
	case MsgMethodReply, MsgError:
		v, ok := c.pending.LoadAndDelete(m.ReplySerial)
		if !ok {
			c.log.Debug("reply without pending call", zap.Uint32("reply_serial", m.ReplySerial))
			return
		}
		p := v.(*pendingReply)
		if p.sync != nil {
			p.sync <- m
			return
		}
		call := p.async
		c.dispatch.post(func() { call.deliver(m, m.Err()) })

	case MsgMethodCall:
		c.dispatch.post(func() { c.objects.serve(m, c.reply) })

	case MsgSignal:
		c.dispatch.post(func() { c.deliverSignal(m) })

	default:
		c.log.Debug("ignoring message", zap.Stringer("type", m.Type))
	}
}

func (c *Connection) shutdown() {
	c.closed.Store(true)
	c.pending.Range(func(k, v any) bool {
		c.pending.Delete(k)
		if call := v.(*pendingReply).async; call != nil {
			c.dispatch.post(func() { call.deliver(nil, ErrClosed) })
		}
		return true
	})
	c.dispatch.stop()
	close(c.readDone)
	c.log.Debug("connection closed")
}

// ObjectProxy is a Proxy for one object of the peer of a Connection.
type ObjectProxy struct {
	conn        *Connection
	destination string
	path        ObjectPath
}

// Path returns the object path.
func (p *ObjectProxy) Path() ObjectPath { return p.path }

// Connection returns the connection the proxy talks through.
func (p *ObjectProxy) Connection() *Connection { return p.conn }

func (p *ObjectProxy) CreateMethodCall(iface, method string) *Message {
	return NewMethodCall(p.destination, p.path, iface, method)
}

func (p *ObjectProxy) CallMethod(ctx context.Context, call *Message, timeout Timeout) (*Message, error) {
	return p.conn.callSync(ctx, call, timeout)
}

func (p *ObjectProxy) CallMethodAsync(call *Message, handler AsyncReplyHandler, timeout Timeout) (*PendingAsyncCall, error) {
	return p.conn.callAsync(call, handler, timeout)
}

func (p *ObjectProxy) RegisterSignalHandler(iface, signal string, handler SignalHandler) (*Slot, error) {
	if p.conn.closed.Load() {
		return nil, ErrClosed
	}
	return p.conn.addSignalHandler(signalKey{path: p.path, iface: iface, member: signal}, handler), nil
}

func (p *ObjectProxy) UnregisterSignalHandler(iface, signal string) error {
	p.conn.removeSignalHandlers(signalKey{path: p.path, iface: iface, member: signal})
	return nil
}
