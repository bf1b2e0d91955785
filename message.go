// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"fmt"
	"reflect"
	"strings"
)

// MessageType identifies the kind of a Message.
type MessageType uint8

const (
	MsgMethodCall  MessageType = 0x01
	MsgMethodReply MessageType = 0x02
	MsgError       MessageType = 0x03
	MsgSignal      MessageType = 0x04
)

func (t MessageType) String() string {
	switch t {
	case MsgMethodCall:
		return "method_call"
	case MsgMethodReply:
		return "method_return"
	case MsgError:
		return "error"
	case MsgSignal:
		return "signal"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// Message is a protocol message: a header plus a body of typed values.
// The body keeps each value with its signature; byte-level encoding is left
// to the transport.
type Message struct {
	Type        MessageType
	Serial      uint32
	ReplySerial uint32
	Destination string
	Sender      string
	Path        ObjectPath
	Interface   string
	Member      string
	ErrorName   string
	NoReply     bool

	body   []bodyItem
	cursor int
}

type bodyItem struct {
	sig   string
	value any
}

// NewMethodCall creates an empty method call message.
func NewMethodCall(destination string, path ObjectPath, iface, member string) *Message {
	return &Message{
		Type:        MsgMethodCall,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      member,
	}
}

// NewSignal creates an empty signal message.
func NewSignal(path ObjectPath, iface, member string) *Message {
	return &Message{Type: MsgSignal, Path: path, Interface: iface, Member: member}
}

// NewMethodReply creates an empty reply to the method call m.
func (m *Message) NewMethodReply() *Message {
	return &Message{
		Type:        MsgMethodReply,
		ReplySerial: m.Serial,
		Destination: m.Sender,
		Path:        m.Path,
		Interface:   m.Interface,
		Member:      m.Member,
	}
}

// NewErrorReply creates an error reply to the method call m.
func (m *Message) NewErrorReply(err error) *Message {
	re := toRemoteError(err)
	reply := &Message{
		Type:        MsgError,
		ReplySerial: m.Serial,
		Destination: m.Sender,
		ErrorName:   re.Name,
	}
	if re.Message != "" {
		reply.body = []bodyItem{{sig: "s", value: re.Message}}
	}
	return reply
}

// IsValid reports whether m was created by one of the constructors.
func (m *Message) IsValid() bool {
	return m != nil && m.Type != 0
}

// Err returns the remote error carried by an error message, or nil.
func (m *Message) Err() error {
	if m.Type != MsgError {
		return nil
	}
	e := &Error{Name: m.ErrorName}
	if len(m.body) > 0 && m.body[0].sig == "s" {
		e.Message = m.body[0].value.(string)
	}
	return e
}

// Signature returns the signature of the whole body.
func (m *Message) Signature() string {
	var b strings.Builder
	for _, it := range m.body {
		b.WriteString(it.sig)
	}
	return b.String()
}

// Len returns the number of top-level body values.
func (m *Message) Len() int { return len(m.body) }

// Append adds values to the body. Either all values are appended or, when
// one of them is not representable, none is.
func (m *Message) Append(vals ...any) error {
	return Serialize(m, vals...)
}

// Read decodes the next len(ptrs) body values into ptrs and advances the
// read position.
func (m *Message) Read(ptrs ...any) error {
	if m.cursor+len(ptrs) > len(m.body) {
		want, _ := targetSignature(ptrs)
		return &SignatureMismatchError{Expected: want, Actual: m.remainingSignature()}
	}
	for i, p := range ptrs {
		it := m.body[m.cursor+i]
		if err := decodeTarget(it, p); err != nil {
			return err
		}
	}
	m.cursor += len(ptrs)
	return nil
}

// Rewind resets the read position to the first body value.
func (m *Message) Rewind() { m.cursor = 0 }

// Values returns the body in generic form, as Variant.Value would.
func (m *Message) Values() []any {
	out := make([]any, len(m.body))
	for i, it := range m.body {
		out[i] = natural(it.value, it.sig)
	}
	return out
}

func (m *Message) remainingSignature() string {
	var b strings.Builder
	for _, it := range m.body[m.cursor:] {
		b.WriteString(it.sig)
	}
	return b.String()
}

func (m *Message) String() string {
	return fmt.Sprintf("%s serial=%d reply_serial=%d path=%s iface=%s member=%s sig=%q",
		m.Type, m.Serial, m.ReplySerial, m.Path, m.Interface, m.Member, m.Signature())
}

// Serialize appends vals to m, each with the signature of its Go type. All
// signatures are resolved before anything is appended, so an unsupported
// type never leaves a half-written body.
func Serialize(m *Message, vals ...any) error {
	items := make([]bodyItem, 0, len(vals))
	for _, v := range vals {
		ts, err := SignatureOfValue(v)
		if err != nil {
			return err
		}
		w, err := encode(reflect.ValueOf(v), ts)
		if err != nil {
			return err
		}
		items = append(items, bodyItem{sig: ts.sig, value: w})
	}
	m.body = append(m.body, items...)
	return nil
}

// Deserialize decodes the whole body of m into ptrs. The body signature must
// equal the concatenated signatures of the targets; otherwise a
// *SignatureMismatchError is returned and no target is written.
func Deserialize(m *Message, ptrs ...any) error {
	want, err := targetSignature(ptrs)
	if err != nil {
		return err
	}
	if got := m.Signature(); got != want {
		return &SignatureMismatchError{Expected: want, Actual: got}
	}
	for i, p := range ptrs {
		if err := decodeTarget(m.body[i], p); err != nil {
			return err
		}
	}
	return nil
}

func targetSignature(ptrs []any) (string, error) {
	var b strings.Builder
	for _, p := range ptrs {
		if _, ok := p.(DictStruct); ok {
			b.WriteString("a{sv}")
			continue
		}
		t := reflect.TypeOf(p)
		if t == nil || t.Kind() != reflect.Pointer {
			return "", fmt.Errorf("ipc: decode target must be a pointer, got %T", p)
		}
		ts, err := SignatureOf(t.Elem())
		if err != nil {
			return "", err
		}
		b.WriteString(ts.sig)
	}
	return b.String(), nil
}

func decodeTarget(it bodyItem, p any) error {
	if ds, ok := p.(DictStruct); ok {
		if it.sig != "a{sv}" {
			return &SignatureMismatchError{Expected: "a{sv}", Actual: it.sig}
		}
		return decodeDictStruct(it.value, reflect.ValueOf(ds.v))
	}
	dst := reflect.ValueOf(p)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return fmt.Errorf("ipc: decode target must be a non-nil pointer, got %T", p)
	}
	ts, err := SignatureOf(dst.Type().Elem())
	if err != nil {
		return err
	}
	return decode(it.value, it.sig, dst.Elem(), ts)
}

// decodeTypes decodes the whole body into fresh values of the given types.
// On failure it returns zero values alongside the error so callers can still
// invoke a handler with default-valued arguments.
func decodeTypes(m *Message, types []reflect.Type) ([]reflect.Value, error) {
	out := make([]reflect.Value, len(types))
	for i, t := range types {
		out[i] = reflect.New(t).Elem()
	}
	want, err := SignatureOfTypes(types...)
	if err != nil {
		return out, err
	}
	if got := m.Signature(); got != want {
		return out, &SignatureMismatchError{Expected: want, Actual: got}
	}
	for i, t := range types {
		ts, _ := SignatureOf(t)
		if err := decode(m.body[i].value, m.body[i].sig, out[i], ts); err != nil {
			for j, t := range types {
				out[j] = reflect.New(t).Elem()
			}
			return out, err
		}
	}
	return out, nil
}

// appendTyped appends vals encoded with the signatures of the declared
// types rather than their dynamic types, so an `any` result travels as a
// variant.
func appendTyped(m *Message, types []reflect.Type, vals []reflect.Value) error {
	items := make([]bodyItem, 0, len(vals))
	for i, v := range vals {
		ts, err := SignatureOf(types[i])
		if err != nil {
			return err
		}
		w, err := encode(v, ts)
		if err != nil {
			return err
		}
		items = append(items, bodyItem{sig: ts.sig, value: w})
	}
	m.body = append(m.body, items...)
	return nil
}
