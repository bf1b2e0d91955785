// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a, b := NewPipe()
	buf := []byte("frame")
	require.NoError(t, a.Send(ctx, buf))
	buf[0] = 'X'

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), got)

	require.NoError(t, b.Close())
	require.ErrorIs(t, a.Send(ctx, buf), ErrClosed)
	_, err = a.Recv(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, a.Close())
}

func TestPipeRecvContext(t *testing.T) {
	a, _ := NewPipe()
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, err := Listen("", WithServerTransport(TransportMemory))
	require.NoError(t, err)
	defer server.Close()
	require.NotEmpty(t, server.Addr())

	obj, err := server.ExportObject(speakerPath)
	require.NoError(t, err)
	require.NoError(t, obj.RegisterMethod("Add").OnInterface(speakerIface).
		ImplementedAs(func(a, b int32) int32 { return a + b }))
	go server.Serve(ctx)

	client, err := Dial(ctx, server.Addr(), WithTransport(TransportMemory))
	require.NoError(t, err)
	defer client.Close()

	var sum int32
	require.NoError(t, CallMethod(client.NewProxy("", speakerPath), "Add").OnInterface(speakerIface).
		WithArguments(int32(20), int32(22)).
		StoreResultsTo(&sum))
	assert.Equal(t, int32(42), sum)
}

func TestServerCloseWhileAccepting(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		server, err := Listen("", WithServerTransport(TransportMemory))
		require.NoError(t, err)
		served := make(chan error, 1)
		go func() { served <- server.Serve(ctx) }()

		var (
			mu      sync.Mutex
			clients []*Connection
			wg      sync.WaitGroup
		)
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				conn, err := Dial(ctx, server.Addr(), WithTransport(TransportMemory))
				if err != nil {
					return
				}
				mu.Lock()
				clients = append(clients, conn)
				mu.Unlock()
			}()
		}

		require.NoError(t, server.Close())
		wg.Wait()
		require.NoError(t, <-served)
		for _, c := range clients {
			select {
			case <-c.Done():
			case <-ctx.Done():
				t.Fatal("client still connected after server close")
			}
			_ = c.Close()
		}
		cancel()
	}
}

func TestMemoryListenAddressInUse(t *testing.T) {
	l, err := listenMemory("speaker-bus")
	require.NoError(t, err)

	_, err = listenMemory("speaker-bus")
	require.Error(t, err)

	require.NoError(t, l.Close())
	l2, err := listenMemory("speaker-bus")
	require.NoError(t, err)
	require.NoError(t, l2.Close())
}

func TestMemoryDialErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := dialMemory(ctx, "nobody-listens")
	require.Error(t, err)

	l, err := listenMemory("")
	require.NoError(t, err)
	addr := l.Addr()
	require.NoError(t, l.Close())

	_, err = dialMemory(ctx, addr)
	require.Error(t, err)

	_, err = l.Accept(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestUnknownTransport(t *testing.T) {
	_, err := Dial(context.Background(), "addr", WithTransport("carrier-pigeon"))
	require.ErrorContains(t, err, "unknown transport")

	_, err = Listen("addr", WithServerTransport("carrier-pigeon"))
	require.ErrorContains(t, err, "unknown transport")
}

func TestAvailableTransports(t *testing.T) {
	names := AvailableTransports()
	assert.Contains(t, names, TransportZAP)
	assert.Contains(t, names, TransportMemory)
	assert.IsIncreasing(t, names)

	assert.True(t, HasTransport(TransportZAP))
	assert.False(t, HasTransport("carrier-pigeon"))
}
