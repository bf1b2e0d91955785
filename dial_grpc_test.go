//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGRPCTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.True(t, HasTransport(TransportGRPC))

	server, err := Listen("127.0.0.1:0", WithServerTransport(TransportGRPC))
	require.NoError(t, err)
	defer server.Close()

	obj, err := server.ExportObject(speakerPath)
	require.NoError(t, err)
	require.NoError(t, obj.RegisterMethod("Add").OnInterface(speakerIface).
		ImplementedAs(func(a, b int32) int32 { return a + b }))
	go server.Serve(ctx)

	client, err := Dial(ctx, server.Addr(), WithTransport(TransportGRPC))
	require.NoError(t, err)
	defer client.Close()

	var sum int32
	require.NoError(t, CallMethod(client.NewProxy("", speakerPath), "Add").OnInterface(speakerIface).
		WithArguments(int32(40), int32(2)).
		StoreResultsTo(&sum))
	assert.Equal(t, int32(42), sum)
}

func TestFrameCodecRejectsForeignMessages(t *testing.T) {
	var c frameCodec
	_, err := c.Marshal("text")
	require.Error(t, err)
	require.Error(t, c.Unmarshal([]byte{1}, new(string)))

	var f grpcFrame
	require.NoError(t, c.Unmarshal([]byte{1, 2}, &f))
	assert.Equal(t, []byte{1, 2}, f.data)
}
