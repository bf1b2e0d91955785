// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Signature tokens.
const (
	TokenBool       = 'b'
	TokenByte       = 'y'
	TokenInt16      = 'n'
	TokenUint16     = 'q'
	TokenInt32      = 'i'
	TokenUint32     = 'u'
	TokenInt64      = 'x'
	TokenUint64     = 't'
	TokenDouble     = 'd'
	TokenString     = 's'
	TokenVariant    = 'v'
	TokenObjectPath = 'o'
	TokenSignature  = 'g'
	TokenUnixFD     = 'h'
	TokenArray      = 'a'
	TokenStructOpen = '('
	TokenStructEnd  = ')'
	TokenDictOpen   = '{'
	TokenDictEnd    = '}'
)

const (
	maxSignatureLen   = 255
	maxContainerDepth = 64
)

type sigKind uint8

const (
	kindBasic sigKind = iota
	kindVariant
	kindArray
	kindDict
	kindStruct
	kindDictStruct
)

// TypeSignature is the wire signature of a Go type. Values are derived once
// per type, never modified afterwards and safe to share.
type TypeSignature struct {
	typ     reflect.Type
	sig     string
	valid   bool
	trivial bool

	kind   sigKind
	elem   *TypeSignature // array element or dict value
	key    *TypeSignature // dict key
	fields []structField
}

type structField struct {
	index int
	name  string
	sig   *TypeSignature
}

// String returns the signature tokens.
func (s *TypeSignature) String() string { return s.sig }

// IsValid reports whether the type is a single complete wire type.
func (s *TypeSignature) IsValid() bool { return s.valid }

// IsTrivial reports whether the type is a fixed-size scalar.
func (s *TypeSignature) IsTrivial() bool { return s.trivial }

// Type returns the Go type the signature was derived from, with pointer
// qualifiers removed.
func (s *TypeSignature) Type() reflect.Type { return s.typ }

var (
	variantType    = reflect.TypeOf(Variant{})
	dictStructType = reflect.TypeOf(DictStruct{})
	objectPathType = reflect.TypeOf(ObjectPath(""))
	signatureType  = reflect.TypeOf(Signature(""))
	unixFDType     = reflect.TypeOf(UnixFD(0))
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
)

type cacheEntry struct {
	ts  *TypeSignature
	err error
}

// typeRegistry maps Go types to signatures. Exact types are looked up
// first, then the structural rules apply in a fixed order: pointer,
// interface, slice/array, map, struct, then basic kinds (which also covers
// named integer "enum" types).
type typeRegistry struct {
	mu       sync.RWMutex
	exact    map[reflect.Type]byte
	cache    sync.Map // reflect.Type -> cacheEntry
	policies sync.Map // reflect.Type -> DictPolicy
}

var registry = newTypeRegistry()

func newTypeRegistry() *typeRegistry {
	return &typeRegistry{
		exact: map[reflect.Type]byte{
			variantType:    TokenVariant,
			objectPathType: TokenObjectPath,
			signatureType:  TokenSignature,
			unixFDType:     TokenUnixFD,
		},
	}
}

// SignatureOf returns the signature of t.
func SignatureOf(t reflect.Type) (*TypeSignature, error) {
	return registry.signatureOf(t)
}

// SignatureFor returns the signature of T.
func SignatureFor[T any]() (*TypeSignature, error) {
	return registry.signatureOf(reflect.TypeFor[T]())
}

// MustSignatureFor is like SignatureFor but panics when T is not
// representable. Call it from package initialization to reject unsupported
// types at program start.
func MustSignatureFor[T any]() *TypeSignature {
	ts, err := SignatureFor[T]()
	if err != nil {
		panic(err)
	}
	return ts
}

// SignatureOfValue returns the signature of the dynamic type of v.
func SignatureOfValue(v any) (*TypeSignature, error) {
	if v == nil {
		return nil, &UnsupportedTypeError{Reason: "nil value"}
	}
	return registry.signatureOf(reflect.TypeOf(v))
}

// SignatureOfValues returns the concatenated signature of vals, as used for
// a message body.
func SignatureOfValues(vals ...any) (string, error) {
	var b strings.Builder
	for _, v := range vals {
		ts, err := SignatureOfValue(v)
		if err != nil {
			return "", err
		}
		b.WriteString(ts.sig)
	}
	return b.String(), nil
}

// SignatureOfTypes returns the concatenated signature of a sequence of types.
func SignatureOfTypes(types ...reflect.Type) (string, error) {
	var b strings.Builder
	for _, t := range types {
		ts, err := registry.signatureOf(t)
		if err != nil {
			return "", err
		}
		b.WriteString(ts.sig)
	}
	return b.String(), nil
}

// RegisterSignature maps a named string type onto one of the text tokens
// 's', 'o' or 'g', so that e.g. a custom path type travels as an object path.
func RegisterSignature(t reflect.Type, sig string) error {
	if t == nil || t.Kind() != reflect.String {
		return &UnsupportedTypeError{Type: t, Reason: "only string kinds can be registered"}
	}
	if sig != "s" && sig != "o" && sig != "g" {
		return fmt.Errorf("%w: %q is not a text token", ErrInvalidSignature, sig)
	}
	registry.mu.Lock()
	registry.exact[t] = sig[0]
	registry.mu.Unlock()
	registry.cache.Clear()
	return nil
}

func (r *typeRegistry) signatureOf(t reflect.Type) (*TypeSignature, error) {
	if t == nil {
		return nil, &UnsupportedTypeError{Reason: "nil type"}
	}
	if e, ok := r.cache.Load(t); ok {
		entry := e.(cacheEntry)
		return entry.ts, entry.err
	}
	return r.derive(t, make(map[reflect.Type]bool))
}

func (r *typeRegistry) store(t reflect.Type, ts *TypeSignature, err error) (*TypeSignature, error) {
	actual, _ := r.cache.LoadOrStore(t, cacheEntry{ts: ts, err: err})
	entry := actual.(cacheEntry)
	return entry.ts, entry.err
}

func (r *typeRegistry) derive(t reflect.Type, visiting map[reflect.Type]bool) (*TypeSignature, error) {
	if e, ok := r.cache.Load(t); ok {
		entry := e.(cacheEntry)
		return entry.ts, entry.err
	}
	if visiting[t] {
		return nil, &UnsupportedTypeError{Type: t, Reason: "recursive type"}
	}
	visiting[t] = true
	defer delete(visiting, t)

	ts, err := r.deriveUncached(t, visiting)
	return r.store(t, ts, err)
}

func (r *typeRegistry) deriveUncached(t reflect.Type, visiting map[reflect.Type]bool) (*TypeSignature, error) {
	if t == dictStructType {
		return &TypeSignature{typ: t, sig: "a{sv}", valid: true, kind: kindDictStruct}, nil
	}

	r.mu.RLock()
	tok, exact := r.exact[t]
	r.mu.RUnlock()
	if exact {
		if tok == TokenVariant {
			return &TypeSignature{typ: t, sig: "v", valid: true, kind: kindVariant}, nil
		}
		return &TypeSignature{typ: t, sig: string(tok), valid: true, kind: kindBasic}, nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		return r.derive(t.Elem(), visiting)

	case reflect.Interface:
		if t.NumMethod() != 0 {
			return nil, &UnsupportedTypeError{Type: t, Reason: "only the empty interface travels as a variant"}
		}
		return &TypeSignature{typ: t, sig: "v", valid: true, kind: kindVariant}, nil

	case reflect.Slice, reflect.Array:
		elem, err := r.derive(t.Elem(), visiting)
		if err != nil {
			return nil, err
		}
		return r.checkLen(&TypeSignature{typ: t, sig: "a" + elem.sig, valid: true, kind: kindArray, elem: elem})

	case reflect.Map:
		key, err := r.derive(t.Key(), visiting)
		if err != nil {
			return nil, err
		}
		if key.kind != kindBasic {
			return nil, &UnsupportedTypeError{Type: t, Reason: "dictionary keys must be basic types"}
		}
		val, err := r.derive(t.Elem(), visiting)
		if err != nil {
			return nil, err
		}
		sig := "a{" + key.sig + val.sig + "}"
		return r.checkLen(&TypeSignature{typ: t, sig: sig, valid: true, kind: kindDict, key: key, elem: val})

	case reflect.Struct:
		return r.deriveStruct(t, visiting)
	}

	if tok, ok := basicToken(t.Kind()); ok {
		return &TypeSignature{typ: t, sig: string(tok), valid: true, trivial: tok != TokenString, kind: kindBasic}, nil
	}
	return nil, &UnsupportedTypeError{Type: t, Reason: "no wire representation for kind " + t.Kind().String()}
}

func (r *typeRegistry) deriveStruct(t reflect.Type, visiting map[reflect.Type]bool) (*TypeSignature, error) {
	var b strings.Builder
	b.WriteByte(TokenStructOpen)
	var fields []structField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		fs, err := r.derive(f.Type, visiting)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", t, f.Name, err)
		}
		fields = append(fields, structField{index: i, name: name, sig: fs})
		b.WriteString(fs.sig)
	}
	if len(fields) == 0 {
		return nil, &UnsupportedTypeError{Type: t, Reason: "struct has no exported fields"}
	}
	b.WriteByte(TokenStructEnd)
	return r.checkLen(&TypeSignature{typ: t, sig: b.String(), valid: true, kind: kindStruct, fields: fields})
}

func (r *typeRegistry) checkLen(ts *TypeSignature) (*TypeSignature, error) {
	if len(ts.sig) > maxSignatureLen {
		return nil, &UnsupportedTypeError{Type: ts.typ, Reason: "signature exceeds 255 tokens"}
	}
	return ts, nil
}

// fieldName returns the wire name of a struct field, taken from the `ipc`
// tag when present.
func fieldName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("ipc")
	if tag == "-" {
		return "", true
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, false
	}
	return f.Name, false
}

func basicToken(k reflect.Kind) (byte, bool) {
	switch k {
	case reflect.Bool:
		return TokenBool, true
	case reflect.Uint8:
		return TokenByte, true
	case reflect.Int16:
		return TokenInt16, true
	case reflect.Uint16:
		return TokenUint16, true
	case reflect.Int, reflect.Int32:
		return TokenInt32, true
	case reflect.Uint, reflect.Uint32:
		return TokenUint32, true
	case reflect.Int64:
		return TokenInt64, true
	case reflect.Uint64:
		return TokenUint64, true
	case reflect.Float64:
		return TokenDouble, true
	case reflect.String:
		return TokenString, true
	}
	return 0, false
}

func isBasicToken(c byte) bool {
	switch c {
	case TokenBool, TokenByte, TokenInt16, TokenUint16, TokenInt32, TokenUint32,
		TokenInt64, TokenUint64, TokenDouble, TokenString, TokenObjectPath,
		TokenSignature, TokenUnixFD:
		return true
	}
	return false
}

// ParseSignature splits a signature into its complete types.
func ParseSignature(s string) ([]string, error) {
	if len(s) > maxSignatureLen {
		return nil, fmt.Errorf("%w: %q is longer than %d", ErrInvalidSignature, s, maxSignatureLen)
	}
	var out []string
	for i := 0; i < len(s); {
		n, err := completeTypeLen(s[i:], 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSignature, s, err)
		}
		out = append(out, s[i:i+n])
		i += n
	}
	return out, nil
}

// IsSingleCompleteType reports whether s is exactly one complete type.
func IsSingleCompleteType(s string) bool {
	parts, err := ParseSignature(s)
	return err == nil && len(parts) == 1
}

func completeTypeLen(s string, depth int) (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("unexpected end")
	}
	if depth > maxContainerDepth {
		return 0, fmt.Errorf("containers nested too deep")
	}
	c := s[0]
	switch {
	case isBasicToken(c) || c == TokenVariant:
		return 1, nil
	case c == TokenArray:
		if len(s) > 1 && s[1] == TokenDictOpen {
			if len(s) < 3 || !isBasicToken(s[2]) {
				return 0, fmt.Errorf("dictionary key must be a basic type")
			}
			n, err := completeTypeLen(s[3:], depth+1)
			if err != nil {
				return 0, err
			}
			if len(s) <= 3+n || s[3+n] != TokenDictEnd {
				return 0, fmt.Errorf("unterminated dictionary entry")
			}
			return 4 + n, nil
		}
		n, err := completeTypeLen(s[1:], depth+1)
		if err != nil {
			return 0, err
		}
		return 1 + n, nil
	case c == TokenStructOpen:
		i := 1
		for i < len(s) && s[i] != TokenStructEnd {
			n, err := completeTypeLen(s[i:], depth+1)
			if err != nil {
				return 0, err
			}
			i += n
		}
		if i >= len(s) {
			return 0, fmt.Errorf("unterminated struct")
		}
		if i == 1 {
			return 0, fmt.Errorf("empty struct")
		}
		return i + 1, nil
	}
	return 0, fmt.Errorf("unexpected token %q", c)
}
