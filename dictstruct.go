// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"fmt"
	"reflect"
)

// DictPolicy controls how a struct type is converted to and from a
// dictionary of variants (a{sv}).
type DictPolicy struct {
	// Relaxed ignores dictionary keys that have no matching field. By
	// default such keys fail the decode with ErrUnknownDictKey.
	Relaxed bool

	// Nested encodes struct-typed fields as dictionaries as well, applying
	// the field type's own policy. By default only the outer struct is a
	// dictionary and its struct fields stay structs.
	Nested bool
}

// SetDictPolicy sets the dictionary policy for struct type t.
func SetDictPolicy(t reflect.Type, p DictPolicy) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	registry.policies.Store(t, p)
}

// SetStructDictPolicy sets the dictionary policy for struct type T.
func SetStructDictPolicy[T any](p DictPolicy) {
	SetDictPolicy(reflect.TypeFor[T](), p)
}

// DictPolicyOf returns the dictionary policy of t.
func DictPolicyOf(t reflect.Type) DictPolicy {
	if p, ok := registry.policies.Load(t); ok {
		return p.(DictPolicy)
	}
	return DictPolicy{}
}

// DictStruct marks a struct to be carried as a{sv} keyed by field name
// instead of as a wire struct. Build it with AsDictionary for sending and
// FromDictionary for receiving.
type DictStruct struct {
	v any
}

// AsDictionary wraps a struct (or pointer to struct) for dictionary encoding.
func AsDictionary(v any) DictStruct {
	return DictStruct{v: v}
}

// FromDictionary wraps a pointer to a struct as a dictionary decode target.
func FromDictionary(ptr any) DictStruct {
	return DictStruct{v: ptr}
}

func structOf(v reflect.Value) (reflect.Value, *TypeSignature, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, nil, fmt.Errorf("ipc: nil value in dictionary struct")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, nil, &UnsupportedTypeError{Type: v.Type(), Reason: "AsDictionary needs a struct"}
	}
	ts, err := SignatureOf(v.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return v, ts, nil
}

func encodeDictStruct(v reflect.Value) ([]dictEntry, error) {
	v, ts, err := structOf(v)
	if err != nil {
		return nil, err
	}
	policy := DictPolicyOf(ts.typ)
	entries := make([]dictEntry, 0, len(ts.fields))
	for _, f := range ts.fields {
		fv := v.Field(f.index)
		var vr Variant
		if policy.Nested && f.sig.kind == kindStruct {
			if fv.Kind() == reflect.Pointer && fv.IsNil() {
				fv = reflect.Zero(fv.Type().Elem())
			}
			inner, err := encodeDictStruct(fv)
			if err != nil {
				return nil, err
			}
			vr = Variant{sig: "a{sv}", value: inner}
		} else {
			w, err := encode(fv, f.sig)
			if err != nil {
				return nil, err
			}
			if f.sig.kind == kindVariant {
				vr = w.(Variant)
			} else {
				vr = Variant{sig: f.sig.sig, value: w}
			}
		}
		entries = append(entries, dictEntry{Key: f.name, Value: vr})
	}
	return entries, nil
}

func decodeDictStruct(w any, dst reflect.Value) error {
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return fmt.Errorf("ipc: FromDictionary needs a non-nil pointer to a struct")
	}
	v, ts, err := structOf(dst)
	if err != nil {
		return err
	}
	policy := DictPolicyOf(ts.typ)
	byName := make(map[string]structField, len(ts.fields))
	for _, f := range ts.fields {
		byName[f.name] = f
	}
	for _, e := range w.([]dictEntry) {
		key := wireString(e.Key)
		f, ok := byName[key]
		if !ok {
			if policy.Relaxed {
				continue
			}
			return fmt.Errorf("%w: %q in %s", ErrUnknownDictKey, key, ts.typ)
		}
		vr := e.Value.(Variant)
		fv := v.Field(f.index)
		switch {
		case f.sig.kind == kindVariant:
			err = decode(vr, "v", fv, f.sig)
		case f.sig.kind == kindStruct && vr.sig == "a{sv}":
			if fv.Kind() != reflect.Pointer {
				fv = fv.Addr()
			} else if fv.IsNil() {
				fv.Set(reflect.New(fv.Type().Elem()))
			}
			err = decodeDictStruct(vr.value, fv)
		case vr.sig != f.sig.sig:
			err = &SignatureMismatchError{Expected: f.sig.sig, Actual: vr.sig}
		default:
			err = decode(vr.value, vr.sig, fv, f.sig)
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}
	return nil
}
