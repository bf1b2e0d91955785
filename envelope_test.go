// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	m := NewMethodCall("com.example", speakerPath, speakerIface, "Configure")
	m.Serial = 7
	m.Sender = ":client"
	m.NoReply = true
	require.NoError(t, m.Append(
		uint64(math.MaxUint64),
		int64(math.MinInt64),
		uint8(255),
		int16(-3),
		uint16(9),
		3.5,
		true,
		ObjectPath("/a/b"),
		Signature("a{sv}"),
		UnixFD(4),
		[]point{{1, 2}, {3, 4}},
		map[string]Variant{"k": MustVariant([]string{"x"})},
		map[uint32]string{2: "b", 1: "a"},
		EmbedVariant(MustVariant(int32(1))),
	))

	var codec JSONCodec
	data, err := codec.Encode(m)
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Serial, got.Serial)
	assert.Equal(t, m.Sender, got.Sender)
	assert.Equal(t, m.Path, got.Path)
	assert.Equal(t, m.Interface, got.Interface)
	assert.Equal(t, m.Member, got.Member)
	assert.True(t, got.NoReply)
	assert.Equal(t, m.Signature(), got.Signature())
	assert.Equal(t, m.body, got.body)
}

func TestJSONCodecErrorReply(t *testing.T) {
	call := NewMethodCall("com.example", speakerPath, speakerIface, "Fail")
	call.Serial = 3
	call.Sender = ":client"
	reply := call.NewErrorReply(NewError("com.example.Error.Bad", "bad thing"))

	var codec JSONCodec
	data, err := codec.Encode(reply)
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, MsgError, got.Type)
	assert.Equal(t, uint32(3), got.ReplySerial)
	assert.Equal(t, ":client", got.Destination)
	assert.Equal(t, &Error{Name: "com.example.Error.Bad", Message: "bad thing"}, got.Err())
}

func TestEnvelopeLayout(t *testing.T) {
	m := NewSignal(speakerPath, speakerIface, "Changed")
	require.NoError(t, m.Append(
		map[string]Variant{"Volume": MustVariant(int32(5))},
		point{X: 1, Y: 2},
	))
	env, err := newEnvelope(m)
	require.NoError(t, err)
	assert.Equal(t, "a{sv}(ii)", env.Signature)
	require.Len(t, env.Body, 2)
	assert.JSONEq(t, `[["Volume",{"sig":"i","value":5}]]`, string(env.Body[0]))
	assert.JSONEq(t, `[1,2]`, string(env.Body[1]))
}

func TestJSONCodecRejects(t *testing.T) {
	var codec JSONCodec
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing type", `{"signature":""}`},
		{"bad signature", `{"type":4,"signature":"a{"}`},
		{"body count", `{"type":4,"signature":"ii","body":[1]}`},
		{"overflow", `{"type":4,"signature":"y","body":[256]}`},
		{"fraction", `{"type":4,"signature":"i","body":[1.5]}`},
		{"bad path", `{"type":4,"signature":"o","body":["nope"]}`},
		{"bad variant", `{"type":4,"signature":"v","body":[{"sig":"ii","value":1}]}`},
		{"short struct", `{"type":4,"signature":"(ii)","body":[[1]]}`},
		{"bad dict entry", `{"type":4,"signature":"a{si}","body":[[["a"]]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestJSONCodecSortsDecodedDicts(t *testing.T) {
	var codec JSONCodec
	m, err := codec.Decode([]byte(`{"type":4,"signature":"a{is}","body":[[[3,"c"],[1,"a"]]]}`))
	require.NoError(t, err)
	entries := m.body[0].value.([]dictEntry)
	assert.Equal(t, int32(1), entries[0].Key)
	assert.Equal(t, int32(3), entries[1].Key)

	raw, err := json.Marshal(toJSON(m.body[0].value, "a{is}"))
	require.NoError(t, err)
	assert.JSONEq(t, `[[1,"a"],[3,"c"]]`, string(raw))
}
