// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Values are kept in a wire form independent of the Go type they came
// from, so any type with the same signature decodes the same data:
//
//	basic      bool, uint8, int16, uint16, int32, uint32, int64, uint64,
//	           float64, string, ObjectPath, Signature, UnixFD
//	array      []any
//	dict       []dictEntry, ordered by key
//	struct     []any, one per field
//	variant    Variant

func encode(v reflect.Value, ts *TypeSignature) (any, error) {
	for v.Kind() == reflect.Pointer && v.Type() != ts.typ {
		if v.IsNil() {
			v = reflect.Zero(v.Type().Elem())
			continue
		}
		v = v.Elem()
	}

	switch ts.kind {
	case kindVariant:
		return encodeVariant(v)

	case kindDictStruct:
		ds := v.Interface().(DictStruct)
		return encodeDictStruct(reflect.ValueOf(ds.v))

	case kindBasic:
		return encodeBasic(v, ts)

	case kindArray:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return []any{}, nil
		}
		items := make([]any, v.Len())
		for i := range items {
			w, err := encode(v.Index(i), ts.elem)
			if err != nil {
				return nil, err
			}
			items[i] = w
		}
		return items, nil

	case kindDict:
		entries := make([]dictEntry, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, err := encode(iter.Key(), ts.key)
			if err != nil {
				return nil, err
			}
			val, err := encode(iter.Value(), ts.elem)
			if err != nil {
				return nil, err
			}
			entries = append(entries, dictEntry{Key: k, Value: val})
		}
		sort.Slice(entries, func(i, j int) bool { return lessKey(entries[i].Key, entries[j].Key) })
		return entries, nil

	case kindStruct:
		fields := make([]any, len(ts.fields))
		for i, f := range ts.fields {
			w, err := encode(v.Field(f.index), f.sig)
			if err != nil {
				return nil, err
			}
			fields[i] = w
		}
		return fields, nil
	}
	return nil, &UnsupportedTypeError{Type: v.Type()}
}

func encodeVariant(v reflect.Value) (any, error) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, &UnsupportedTypeError{Type: v.Type(), Reason: "nil value in variant"}
		}
		v = v.Elem()
	}
	return NewVariant(v.Interface())
}

func encodeBasic(v reflect.Value, ts *TypeSignature) (any, error) {
	switch ts.sig[0] {
	case TokenBool:
		return v.Bool(), nil
	case TokenByte:
		return uint8(v.Uint()), nil
	case TokenInt16:
		return int16(v.Int()), nil
	case TokenUint16:
		return uint16(v.Uint()), nil
	case TokenInt32:
		n := v.Int()
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("ipc: %s value %d overflows int32", v.Type(), n)
		}
		return int32(n), nil
	case TokenUint32:
		n := v.Uint()
		if n > math.MaxUint32 {
			return nil, fmt.Errorf("ipc: %s value %d overflows uint32", v.Type(), n)
		}
		return uint32(n), nil
	case TokenInt64:
		return v.Int(), nil
	case TokenUint64:
		return v.Uint(), nil
	case TokenDouble:
		return v.Float(), nil
	case TokenString:
		return v.String(), nil
	case TokenObjectPath:
		p := ObjectPath(v.String())
		if !p.IsValid() {
			return nil, fmt.Errorf("ipc: invalid object path %q", p)
		}
		return p, nil
	case TokenSignature:
		s := v.String()
		if _, err := ParseSignature(s); err != nil {
			return nil, err
		}
		return Signature(s), nil
	case TokenUnixFD:
		return UnixFD(v.Int()), nil
	}
	return nil, &UnsupportedTypeError{Type: v.Type()}
}

func decode(w any, wsig string, dst reflect.Value, ts *TypeSignature) error {
	for dst.Kind() == reflect.Pointer && dst.Type() != ts.typ {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	if ts.kind == kindVariant {
		if wsig != "v" {
			return &SignatureMismatchError{Expected: "v", Actual: wsig}
		}
		vr := w.(Variant)
		if dst.Type() == variantType {
			dst.Set(reflect.ValueOf(vr))
			return nil
		}
		if vr.IsEmpty() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		dst.Set(reflect.ValueOf(vr.Value()))
		return nil
	}
	if wsig != ts.sig {
		return &SignatureMismatchError{Expected: ts.sig, Actual: wsig}
	}

	switch ts.kind {
	case kindDictStruct:
		ds := dst.Interface().(DictStruct)
		return decodeDictStruct(w, reflect.ValueOf(ds.v))

	case kindBasic:
		return decodeBasic(w, dst)

	case kindArray:
		items := w.([]any)
		switch dst.Kind() {
		case reflect.Slice:
			s := reflect.MakeSlice(dst.Type(), len(items), len(items))
			for i, it := range items {
				if err := decode(it, ts.elem.sig, s.Index(i), ts.elem); err != nil {
					return err
				}
			}
			dst.Set(s)
		case reflect.Array:
			if dst.Len() != len(items) {
				return fmt.Errorf("%w: array of %d elements decoded into %s", ErrSignatureMismatch, len(items), dst.Type())
			}
			for i, it := range items {
				if err := decode(it, ts.elem.sig, dst.Index(i), ts.elem); err != nil {
					return err
				}
			}
		}
		return nil

	case kindDict:
		entries := w.([]dictEntry)
		m := reflect.MakeMapWithSize(dst.Type(), len(entries))
		kt, vt := dst.Type().Key(), dst.Type().Elem()
		for _, e := range entries {
			k := reflect.New(kt).Elem()
			if err := decode(e.Key, ts.key.sig, k, ts.key); err != nil {
				return err
			}
			val := reflect.New(vt).Elem()
			if err := decode(e.Value, ts.elem.sig, val, ts.elem); err != nil {
				return err
			}
			m.SetMapIndex(k, val)
		}
		dst.Set(m)
		return nil

	case kindStruct:
		fields := w.([]any)
		if len(fields) != len(ts.fields) {
			return &SignatureMismatchError{Expected: ts.sig, Actual: wsig}
		}
		for i, f := range ts.fields {
			if err := decode(fields[i], f.sig.sig, dst.Field(f.index), f.sig); err != nil {
				return err
			}
		}
		return nil
	}
	return &UnsupportedTypeError{Type: dst.Type()}
}

func decodeBasic(w any, dst reflect.Value) error {
	switch dst.Kind() {
	case reflect.Bool:
		b, ok := w.(bool)
		if !ok {
			return fmt.Errorf("%w: %T is not a boolean", ErrSignatureMismatch, w)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int16, reflect.Int32, reflect.Int64:
		dst.SetInt(wireInt(w))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		dst.SetUint(wireUint(w))
	case reflect.Float64:
		f, ok := w.(float64)
		if !ok {
			return fmt.Errorf("%w: %T is not a double", ErrSignatureMismatch, w)
		}
		dst.SetFloat(f)
	case reflect.String:
		dst.SetString(wireString(w))
	default:
		return &UnsupportedTypeError{Type: dst.Type()}
	}
	return nil
}

func wireInt(w any) int64 {
	switch x := w.(type) {
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case UnixFD:
		return int64(x)
	}
	return int64(wireUint(w))
}

func wireUint(w any) uint64 {
	switch x := w.(type) {
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	}
	return 0
}

func wireString(w any) string {
	switch x := w.(type) {
	case string:
		return x
	case ObjectPath:
		return string(x)
	case Signature:
		return string(x)
	}
	return ""
}

// lessKey orders dictionary keys so encoding a map is deterministic.
func lessKey(a, b any) bool {
	switch x := a.(type) {
	case bool:
		return !x && b.(bool)
	case float64:
		return x < b.(float64)
	case string, ObjectPath, Signature:
		return wireString(a) < wireString(b)
	case int16, int32, int64, UnixFD:
		return wireInt(a) < wireInt(b)
	}
	return wireUint(a) < wireUint(b)
}
