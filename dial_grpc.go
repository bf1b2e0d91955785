//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func init() {
	// Register gRPC transport when build tag is enabled
	registerTransport(TransportGRPC, dialGRPC, listenGRPC)
}

const grpcFramesMethod = "/ipc.Bus/Frames"

var grpcFramesDesc = &grpc.StreamDesc{
	StreamName:    "Frames",
	ServerStreams: true,
	ClientStreams: true,
}

// grpcFrame is one transport frame carried as a raw gRPC message.
type grpcFrame struct {
	data []byte
}

// frameCodec passes frames through gRPC untouched.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*grpcFrame)
	if !ok {
		return nil, fmt.Errorf("grpc frame codec: unexpected %T", v)
	}
	return f.data, nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*grpcFrame)
	if !ok {
		return fmt.Errorf("grpc frame codec: unexpected %T", v)
	}
	f.data = append([]byte(nil), data...)
	return nil
}

func (frameCodec) Name() string { return "ipc-frame" }

type frameStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// grpcTransport carries frames over one bidirectional stream.
type grpcTransport struct {
	stream  frameStream
	sendMu  sync.Mutex
	frames  chan []byte
	done    chan struct{}
	once    sync.Once
	readErr error
	onClose func() error
}

func newGRPCTransport(stream frameStream, onClose func() error) *grpcTransport {
	t := &grpcTransport{
		stream:  stream,
		frames:  make(chan []byte, zapRecvBuffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go t.readLoop()
	return t
}

func (t *grpcTransport) readLoop() {
	for {
		var f grpcFrame
		if err := t.stream.RecvMsg(&f); err != nil {
			t.readErr = err
			close(t.frames)
			return
		}
		select {
		case t.frames <- f.data:
		case <-t.done:
			return
		}
	}
}

func (t *grpcTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := t.stream.SendMsg(&grpcFrame{data: data}); err != nil {
		return fmt.Errorf("grpc send: %w", err)
	}
	return nil
}

func (t *grpcTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.frames:
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrClosed, t.readErr)
		}
		return frame, nil
	case <-t.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *grpcTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		if t.onClose != nil {
			err = t.onClose()
		}
	})
	return err
}

func dialGRPC(ctx context.Context, addr string) (Transport, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	stream, err := conn.NewStream(streamCtx, grpcFramesDesc, grpcFramesMethod)
	if !stop() {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return newGRPCTransport(stream, func() error {
		_ = stream.CloseSend()
		cancel()
		return conn.Close()
	}), nil
}

// grpcListener accepts one transport per incoming Frames stream.
type grpcListener struct {
	lis    net.Listener
	server *grpc.Server
	accept chan Transport
	done   chan struct{}
	once   sync.Once
}

func listenGRPC(addr string) (Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	l := &grpcListener{
		lis:    lis,
		accept: make(chan Transport),
		done:   make(chan struct{}),
	}
	l.server = grpc.NewServer(
		grpc.ForceServerCodec(frameCodec{}),
		grpc.UnknownServiceHandler(l.handleStream),
	)
	go func() {
		if err := l.server.Serve(lis); err != nil {
			Logger().Debug("grpc server stopped", zap.Error(err))
		}
	}()
	return l, nil
}

func (l *grpcListener) handleStream(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	if method != grpcFramesMethod {
		return fmt.Errorf("grpc: unknown method %q", method)
	}
	closed := make(chan struct{})
	var once sync.Once
	t := newGRPCTransport(stream, func() error {
		once.Do(func() { close(closed) })
		return nil
	})
	select {
	case l.accept <- t:
	case <-l.done:
		return ErrClosed
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	select {
	case <-closed:
	case <-stream.Context().Done():
		_ = t.Close()
	}
	return nil
}

func (l *grpcListener) Accept(ctx context.Context) (Transport, error) {
	select {
	case t := <-l.accept:
		return t, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *grpcListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.server.Stop()
	})
	return nil
}

func (l *grpcListener) Addr() string {
	return l.lis.Addr().String()
}
