// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"encoding/json"
	"fmt"
)

// JSONCodec encodes messages as JSON envelopes.
type JSONCodec struct{}

func (JSONCodec) Encode(m *Message) ([]byte, error) {
	env, err := newEnvelope(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (JSONCodec) Decode(data []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == 0 {
		return nil, fmt.Errorf("decode envelope: missing message type")
	}
	return env.Message()
}

// defaultCodec is used when no codec is specified
var defaultCodec Codec = JSONCodec{}
