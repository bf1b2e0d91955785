// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Envelope is the JSON frame of a Message. Body values are laid out by
// signature: arrays and structs as JSON arrays, dictionaries as arrays of
// [key, value] pairs, variants as {"sig": ..., "value": ...}. Integers are
// read back exactly, whatever their width.
type Envelope struct {
	Type        MessageType       `json:"type"`
	Serial      uint32            `json:"serial,omitempty"`
	ReplySerial uint32            `json:"reply_serial,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Sender      string            `json:"sender,omitempty"`
	Path        ObjectPath        `json:"path,omitempty"`
	Interface   string            `json:"interface,omitempty"`
	Member      string            `json:"member,omitempty"`
	ErrorName   string            `json:"error_name,omitempty"`
	NoReply     bool              `json:"no_reply,omitempty"`
	Signature   string            `json:"signature"`
	Body        []json.RawMessage `json:"body,omitempty"`
}

type jsonVariant struct {
	Sig   string          `json:"sig"`
	Value json.RawMessage `json:"value"`
}

func newEnvelope(m *Message) (*Envelope, error) {
	body, err := encodeBody(m)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:        m.Type,
		Serial:      m.Serial,
		ReplySerial: m.ReplySerial,
		Destination: m.Destination,
		Sender:      m.Sender,
		Path:        m.Path,
		Interface:   m.Interface,
		Member:      m.Member,
		ErrorName:   m.ErrorName,
		NoReply:     m.NoReply,
		Signature:   m.Signature(),
		Body:        body,
	}, nil
}

func (e *Envelope) Message() (*Message, error) {
	body, err := decodeBody(e.Signature, e.Body)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:        e.Type,
		Serial:      e.Serial,
		ReplySerial: e.ReplySerial,
		Destination: e.Destination,
		Sender:      e.Sender,
		Path:        e.Path,
		Interface:   e.Interface,
		Member:      e.Member,
		ErrorName:   e.ErrorName,
		NoReply:     e.NoReply,
		body:        body,
	}, nil
}

func encodeBody(m *Message) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(m.body))
	for i, it := range m.body {
		raw, err := json.Marshal(toJSON(it.value, it.sig))
		if err != nil {
			return nil, fmt.Errorf("encode body value %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

func decodeBody(sig string, raws []json.RawMessage) ([]bodyItem, error) {
	parts, err := ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	if len(parts) != len(raws) {
		return nil, fmt.Errorf("%w: signature %q has %d values, body has %d", ErrSignatureMismatch, sig, len(parts), len(raws))
	}
	items := make([]bodyItem, len(parts))
	for i, part := range parts {
		w, err := fromJSON(raws[i], part)
		if err != nil {
			return nil, fmt.Errorf("decode body value %d: %w", i, err)
		}
		items[i] = bodyItem{sig: part, value: w}
	}
	return items, nil
}

func toJSON(w any, sig string) any {
	switch sig[0] {
	case TokenVariant:
		vr := w.(Variant)
		raw, _ := json.Marshal(toJSON(vr.value, vr.sig))
		return jsonVariant{Sig: vr.sig, Value: raw}
	case TokenArray:
		if sig[1] == TokenDictOpen {
			keySig, valSig := sig[2:3], sig[3:len(sig)-1]
			entries := w.([]dictEntry)
			out := make([][2]any, len(entries))
			for i, e := range entries {
				out[i] = [2]any{toJSON(e.Key, keySig), toJSON(e.Value, valSig)}
			}
			return out
		}
		items := w.([]any)
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = toJSON(it, sig[1:])
		}
		return out
	case TokenStructOpen:
		parts, _ := ParseSignature(sig[1 : len(sig)-1])
		fields := w.([]any)
		out := make([]any, len(fields))
		for i, f := range fields {
			out[i] = toJSON(f, parts[i])
		}
		return out
	}
	return w
}

func fromJSON(raw json.RawMessage, sig string) (any, error) {
	switch sig[0] {
	case TokenVariant:
		var jv jsonVariant
		if err := json.Unmarshal(raw, &jv); err != nil {
			return nil, err
		}
		if !IsSingleCompleteType(jv.Sig) {
			return nil, fmt.Errorf("%w: variant signature %q", ErrInvalidSignature, jv.Sig)
		}
		w, err := fromJSON(jv.Value, jv.Sig)
		if err != nil {
			return nil, err
		}
		return Variant{sig: jv.Sig, value: w}, nil

	case TokenArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		if sig[1] == TokenDictOpen {
			keySig, valSig := sig[2:3], sig[3:len(sig)-1]
			entries := make([]dictEntry, len(items))
			for i, it := range items {
				var pair []json.RawMessage
				if err := json.Unmarshal(it, &pair); err != nil {
					return nil, err
				}
				if len(pair) != 2 {
					return nil, fmt.Errorf("dictionary entry has %d elements", len(pair))
				}
				k, err := fromJSON(pair[0], keySig)
				if err != nil {
					return nil, err
				}
				v, err := fromJSON(pair[1], valSig)
				if err != nil {
					return nil, err
				}
				entries[i] = dictEntry{Key: k, Value: v}
			}
			sort.Slice(entries, func(i, j int) bool { return lessKey(entries[i].Key, entries[j].Key) })
			return entries, nil
		}
		out := make([]any, len(items))
		for i, it := range items {
			v, err := fromJSON(it, sig[1:])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case TokenStructOpen:
		parts, err := ParseSignature(sig[1 : len(sig)-1])
		if err != nil {
			return nil, err
		}
		var fields []json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		if len(fields) != len(parts) {
			return nil, fmt.Errorf("%w: struct %s has %d fields", ErrSignatureMismatch, sig, len(fields))
		}
		out := make([]any, len(parts))
		for i, part := range parts {
			v, err := fromJSON(fields[i], part)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return basicFromJSON(raw, sig[0])
}

func basicFromJSON(raw json.RawMessage, tok byte) (any, error) {
	switch tok {
	case TokenBool:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case TokenDouble:
		var f float64
		err := json.Unmarshal(raw, &f)
		return f, err
	case TokenString, TokenObjectPath, TokenSignature:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		switch tok {
		case TokenObjectPath:
			if !ObjectPath(s).IsValid() {
				return nil, fmt.Errorf("invalid object path %q", s)
			}
			return ObjectPath(s), nil
		case TokenSignature:
			if _, err := ParseSignature(s); err != nil {
				return nil, err
			}
			return Signature(s), nil
		}
		return s, nil
	}

	num := string(bytes.TrimSpace(raw))
	switch tok {
	case TokenByte:
		n, err := strconv.ParseUint(num, 10, 8)
		return uint8(n), err
	case TokenUint16:
		n, err := strconv.ParseUint(num, 10, 16)
		return uint16(n), err
	case TokenUint32:
		n, err := strconv.ParseUint(num, 10, 32)
		return uint32(n), err
	case TokenUint64:
		return strconv.ParseUint(num, 10, 64)
	case TokenInt16:
		n, err := strconv.ParseInt(num, 10, 16)
		return int16(n), err
	case TokenInt32:
		n, err := strconv.ParseInt(num, 10, 32)
		return int32(n), err
	case TokenInt64:
		return strconv.ParseInt(num, 10, 64)
	case TokenUnixFD:
		n, err := strconv.ParseInt(num, 10, 32)
		return UnixFD(n), err
	}
	return nil, fmt.Errorf("%w: unexpected token %q", ErrInvalidSignature, tok)
}
