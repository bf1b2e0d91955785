// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"fmt"
	"reflect"
)

// Variant holds exactly one value of any representable type together with
// its signature. The zero Variant is empty and cannot be sent.
type Variant struct {
	sig   string
	value any // wire form, see marshal.go
}

// dictEntry is the wire form of one dictionary entry.
type dictEntry struct {
	Key   any
	Value any
}

// NewVariant wraps v. Wrapping a Variant returns a copy of it rather than
// nesting; use EmbedVariant to nest deliberately.
func NewVariant(v any) (Variant, error) {
	switch x := v.(type) {
	case nil:
		return Variant{}, &UnsupportedTypeError{Reason: "nil value in variant"}
	case Variant:
		if x.IsEmpty() {
			return Variant{}, &UnsupportedTypeError{Type: variantType, Reason: "empty variant"}
		}
		return x, nil
	case *Variant:
		return NewVariant(*x)
	}
	ts, err := SignatureOfValue(v)
	if err != nil {
		return Variant{}, err
	}
	w, err := encode(reflect.ValueOf(v), ts)
	if err != nil {
		return Variant{}, err
	}
	return Variant{sig: ts.sig, value: w}, nil
}

// MustVariant is like NewVariant but panics on unsupported values.
func MustVariant(v any) Variant {
	vr, err := NewVariant(v)
	if err != nil {
		panic(err)
	}
	return vr
}

// EmbedVariant returns a variant whose content is the variant v itself.
func EmbedVariant(v Variant) Variant {
	return Variant{sig: "v", value: v}
}

// VariantAs decodes the content of v as a T.
func VariantAs[T any](v Variant) (T, error) {
	var out T
	err := v.Get(&out)
	return out, err
}

// IsEmpty reports whether the variant holds no value.
func (v Variant) IsEmpty() bool { return v.sig == "" }

// Signature returns the signature of the contained value.
func (v Variant) Signature() Signature { return Signature(v.sig) }

// ContainsValueOf reports whether the variant holds a value with the same
// signature as sample.
func (v Variant) ContainsValueOf(sample any) bool {
	ts, err := SignatureOfValue(sample)
	if err != nil {
		return false
	}
	return ts.sig == v.sig
}

// Value returns the content in generic form: basic values as their Go
// type, arrays and structs as []any, dictionaries as map[any]any and
// nested variants as Variant.
func (v Variant) Value() any {
	if v.IsEmpty() {
		return nil
	}
	return natural(v.value, v.sig)
}

// Get decodes the content into the value pointed to by out.
func (v Variant) Get(out any) error {
	if v.IsEmpty() {
		return fmt.Errorf("ipc: empty variant")
	}
	if ds, ok := out.(DictStruct); ok {
		if v.sig != "a{sv}" {
			return &SignatureMismatchError{Expected: "a{sv}", Actual: v.sig}
		}
		return decodeDictStruct(v.value, reflect.ValueOf(ds.v))
	}
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return fmt.Errorf("ipc: Variant.Get needs a non-nil pointer, got %T", out)
	}
	ts, err := SignatureOf(dst.Type().Elem())
	if err != nil {
		return err
	}
	if ts.kind == kindVariant {
		return decode(v, "v", dst.Elem(), ts)
	}
	if ts.sig != v.sig {
		return &SignatureMismatchError{Expected: ts.sig, Actual: v.sig}
	}
	return decode(v.value, v.sig, dst.Elem(), ts)
}

func (v Variant) String() string {
	if v.IsEmpty() {
		return "Variant{}"
	}
	return fmt.Sprintf("Variant{%s: %v}", v.sig, v.Value())
}

func natural(w any, sig string) any {
	switch sig[0] {
	case TokenArray:
		if sig[1] == TokenDictOpen {
			keySig, valSig := sig[2:3], sig[3:len(sig)-1]
			entries := w.([]dictEntry)
			m := make(map[any]any, len(entries))
			for _, e := range entries {
				m[natural(e.Key, keySig)] = natural(e.Value, valSig)
			}
			return m
		}
		items := w.([]any)
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = natural(it, sig[1:])
		}
		return out
	case TokenStructOpen:
		parts, _ := ParseSignature(sig[1 : len(sig)-1])
		fields := w.([]any)
		out := make([]any, len(fields))
		for i, f := range fields {
			out[i] = natural(f, parts[i])
		}
		return out
	}
	return w
}
