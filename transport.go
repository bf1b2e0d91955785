// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport types
const (
	TransportZAP    = "zap"    // Length-prefixed frames over TCP, default
	TransportMemory = "memory" // In-process pipes, addressed by name
	TransportGRPC   = "grpc"   // gRPC streams, requires build tag
)

// DefaultTransport is the default transport type (ZAP)
const DefaultTransport = TransportZAP

// DefaultCallTimeout applies to calls made with TimeoutDefault.
const DefaultCallTimeout = 25 * time.Second

type dialFunc func(ctx context.Context, addr string) (Transport, error)
type listenFunc func(addr string) (Listener, error)

type transportEntry struct {
	dial   dialFunc
	listen listenFunc
}

var (
	transportsMu sync.RWMutex
	transports   = map[string]transportEntry{
		TransportZAP:    {dialZAP, listenZAP},
		TransportMemory: {dialMemory, listenMemory},
	}
)

// registerTransport registers a new transport (used by build tags)
func registerTransport(name string, dial dialFunc, listen listenFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = transportEntry{dial, listen}
}

func lookupTransport(name string) (transportEntry, error) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	t, ok := transports[name]
	if !ok {
		return transportEntry{}, fmt.Errorf("unknown transport: %s", name)
	}
	return t, nil
}

// AvailableTransports returns list of available transport types
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}

const pipeBuffer = 64

type pipeEnd struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// NewPipe returns the two ends of an in-process frame transport. Closing
// either end closes both.
func NewPipe() (Transport, Transport) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := new(sync.Once)
	return &pipeEnd{in: ba, out: ab, done: done, once: once},
		&pipeEnd{in: ab, out: ba, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case p.out <- frame:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

var memListeners sync.Map // name -> *memoryListener

type memoryListener struct {
	name   string
	accept chan Transport
	done   chan struct{}
	once   sync.Once
}

func listenMemory(addr string) (Listener, error) {
	if addr == "" {
		addr = "mem-" + uuid.NewString()
	}
	l := &memoryListener{
		name:   addr,
		accept: make(chan Transport),
		done:   make(chan struct{}),
	}
	if _, loaded := memListeners.LoadOrStore(addr, l); loaded {
		return nil, fmt.Errorf("memory listen: address %q in use", addr)
	}
	return l, nil
}

func dialMemory(ctx context.Context, addr string) (Transport, error) {
	v, ok := memListeners.Load(addr)
	if !ok {
		return nil, fmt.Errorf("memory dial: no listener at %q", addr)
	}
	l := v.(*memoryListener)
	client, server := NewPipe()
	select {
	case l.accept <- server:
		return client, nil
	case <-l.done:
		return nil, fmt.Errorf("memory dial %q: %w", addr, ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memoryListener) Accept(ctx context.Context) (Transport, error) {
	select {
	case t := <-l.accept:
		return t, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memoryListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		memListeners.CompareAndDelete(l.name, l)
	})
	return nil
}

func (l *memoryListener) Addr() string { return l.name }
