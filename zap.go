// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrZAPClosed        = errors.New("zap: connection closed")
	ErrZAPFrameTooLarge = errors.New("zap: frame too large")
)

// zapFrameKind identifies ZAP frame types
type zapFrameKind uint8

const (
	zapFrameMessage zapFrameKind = 0x01
	zapFramePing    zapFrameKind = 0x02
)

const (
	zapMaxFrame     = 64 * 1024 * 1024 // 64MB max
	zapWriteTimeout = 30 * time.Second
	zapRecvBuffer   = 16
)

// ZAPConn is a frame transport over TCP. Every frame is
// [4 len][1 kind][payload], big endian.
type ZAPConn struct {
	conn     net.Conn
	writeMu  sync.Mutex
	frames   chan []byte
	closed   atomic.Bool
	closing  chan struct{}
	readDone chan struct{}
	readErr  error

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
}

// ZAPDial connects to a ZAP listener
func ZAPDial(ctx context.Context, addr string) (*ZAPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("zap dial: %w", err)
	}
	return newZAPConn(conn), nil
}

func newZAPConn(conn net.Conn) *ZAPConn {
	zc := &ZAPConn{
		conn:     conn,
		frames:   make(chan []byte, zapRecvBuffer),
		closing:  make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go zc.readLoop()
	return zc
}

// Send writes one frame.
func (z *ZAPConn) Send(ctx context.Context, data []byte) error {
	return z.writeFrame(ctx, zapFrameMessage, data)
}

// Ping writes an empty keepalive frame.
func (z *ZAPConn) Ping(ctx context.Context) error {
	return z.writeFrame(ctx, zapFramePing, nil)
}

func (z *ZAPConn) writeFrame(ctx context.Context, kind zapFrameKind, payload []byte) error {
	if z.closed.Load() {
		return ErrZAPClosed
	}
	if len(payload)+1 > zapMaxFrame {
		return ErrZAPFrameTooLarge
	}

	msgLen := 1 + len(payload)
	buf := make([]byte, 4+msgLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msgLen))
	buf[4] = byte(kind)
	copy(buf[5:], payload)

	deadline := time.Now().Add(zapWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	z.writeMu.Lock()
	defer z.writeMu.Unlock()
	if err := z.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("zap write: %w", err)
	}
	if _, err := z.conn.Write(buf); err != nil {
		return fmt.Errorf("zap write: %w", err)
	}
	z.framesOut.Add(1)
	return nil
}

// Recv returns the next frame.
func (z *ZAPConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-z.frames:
		return frame, nil
	case <-z.readDone:
		select {
		case frame := <-z.frames:
			return frame, nil
		default:
		}
		if z.readErr != nil && !errors.Is(z.readErr, io.EOF) && !z.closed.Load() {
			return nil, fmt.Errorf("%w: %v", ErrZAPClosed, z.readErr)
		}
		return nil, ErrZAPClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (z *ZAPConn) readLoop() {
	defer close(z.readDone)

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(z.conn, header); err != nil {
			z.readErr = err
			return
		}

		msgLen := binary.BigEndian.Uint32(header)
		if msgLen == 0 || msgLen > zapMaxFrame {
			z.readErr = ErrZAPFrameTooLarge
			return
		}

		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(z.conn, msg); err != nil {
			z.readErr = err
			return
		}

		switch zapFrameKind(msg[0]) {
		case zapFrameMessage:
			z.framesIn.Add(1)
			select {
			case z.frames <- msg[1:]:
			case <-z.closing:
				return
			}
		case zapFramePing:
		default:
			Logger().Debug("zap: ignoring unknown frame kind", zap.Uint8("kind", msg[0]))
		}
	}
}

// Stats returns the number of message frames received and sent.
func (z *ZAPConn) Stats() (in, out uint64) {
	return z.framesIn.Load(), z.framesOut.Load()
}

// RemoteAddr returns the peer address
func (z *ZAPConn) RemoteAddr() string {
	return z.conn.RemoteAddr().String()
}

// Close closes the connection
func (z *ZAPConn) Close() error {
	if z.closed.Swap(true) {
		return nil
	}
	close(z.closing)
	return z.conn.Close()
}

// ZAPListener accepts ZAP connections
type ZAPListener struct {
	listener net.Listener
	closed   atomic.Bool
}

// ZAPListen listens for ZAP connections on a TCP address
func ZAPListen(addr string) (*ZAPListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("zap listen: %w", err)
	}
	return &ZAPListener{listener: listener}, nil
}

// Accept waits for the next connection.
func (l *ZAPListener) Accept(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := l.listener.Accept()
	if err != nil {
		if l.closed.Load() {
			return nil, ErrZAPClosed
		}
		return nil, fmt.Errorf("zap accept: %w", err)
	}
	return newZAPConn(conn), nil
}

// Close closes the listener
func (l *ZAPListener) Close() error {
	l.closed.Store(true)
	return l.listener.Close()
}

// Addr returns the listener address
func (l *ZAPListener) Addr() string {
	return l.listener.Addr().String()
}

func dialZAP(ctx context.Context, addr string) (Transport, error) {
	conn, err := ZAPDial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func listenZAP(addr string) (Listener, error) {
	l, err := ZAPListen(addr)
	if err != nil {
		return nil, err
	}
	return l, nil
}
