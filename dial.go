// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Dial connects to a bus endpoint using the default transport (ZAP).
// Use WithTransport for transport selection.
func Dial(ctx context.Context, addr string, opts ...DialOption) (*Connection, error) {
	o := newDialOptions(opts)
	t, err := lookupTransport(o.transport)
	if err != nil {
		return nil, err
	}
	tr, err := t.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return newConnection(tr, o, newObjectTable()).start(), nil
}

// Listen creates a server using the default transport (ZAP).
func Listen(addr string, opts ...ServerOption) (*Server, error) {
	o := &serverOptions{
		codec:     defaultCodec,
		transport: DefaultTransport,
	}
	for _, opt := range opts {
		opt(o)
	}
	t, err := lookupTransport(o.transport)
	if err != nil {
		return nil, err
	}
	l, err := t.listen(addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: l,
		objects:  newObjectTable(),
		opts:     o,
	}, nil
}

// Server serves its exported objects to every accepted connection. Signals
// emitted by those objects are broadcast to all connected peers.
type Server struct {
	listener Listener
	objects  *objectTable
	opts     *serverOptions
	conns    sync.Map // *Connection -> struct{}

	// mu orders connection tracking against Close so that wg.Add never
	// races wg.Wait.
	mu     sync.Mutex
	closed atomic.Bool
	wg     sync.WaitGroup
}

// ExportObject serves a new object at path.
func (s *Server) ExportObject(path ObjectPath) (*LocalObject, error) {
	return s.objects.export(path, s.broadcast)
}

// UnexportObject stops serving the object at path.
func (s *Server) UnexportObject(path ObjectPath) {
	s.objects.remove(path)
}

// Serve accepts connections until ctx ends or the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		tr, err := s.listener.Accept(ctx)
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		o := newDialOptions([]DialOption{WithCodec(s.opts.codec)})
		conn := newConnection(tr, o, s.objects)
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			_ = conn.start().Close()
			return nil
		}
		s.conns.Store(conn, struct{}{})
		s.wg.Add(1)
		s.mu.Unlock()
		conn.start()
		Logger().Debug("accepted connection",
			zap.String("addr", s.listener.Addr()),
			zap.String("conn", conn.UniqueName()),
		)

		go func() {
			defer s.wg.Done()
			<-conn.Done()
			s.conns.Delete(conn)
		}()
	}
}

func (s *Server) broadcast(m *Message) error {
	var errs []error
	s.conns.Range(func(k, _ any) bool {
		conn := k.(*Connection)
		sig := *m
		if err := conn.emit(&sig); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// Close stops accepting and closes every connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	err := s.listener.Close()
	s.conns.Range(func(k, _ any) bool {
		_ = k.(*Connection).Close()
		return true
	})
	s.wg.Wait()
	return err
}

// Addr returns the listener address
func (s *Server) Addr() string {
	return s.listener.Addr()
}
