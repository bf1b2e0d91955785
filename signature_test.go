// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int32
	Y int32
}

type labelled struct {
	Name   string
	Point  point
	Tags   []string
	hidden int
	Skip   string `ipc:"-"`
}

type level uint32

type mode int

const (
	modeMono mode = iota
	modeStereo
	modeSurround
)

type customPath string

func TestSignatureOfBasicTypes(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want string
	}{
		{"bool", reflect.TypeFor[bool](), "b"},
		{"byte", reflect.TypeFor[uint8](), "y"},
		{"int16", reflect.TypeFor[int16](), "n"},
		{"uint16", reflect.TypeFor[uint16](), "q"},
		{"int32", reflect.TypeFor[int32](), "i"},
		{"uint32", reflect.TypeFor[uint32](), "u"},
		{"int64", reflect.TypeFor[int64](), "x"},
		{"uint64", reflect.TypeFor[uint64](), "t"},
		{"double", reflect.TypeFor[float64](), "d"},
		{"string", reflect.TypeFor[string](), "s"},
		{"object path", reflect.TypeFor[ObjectPath](), "o"},
		{"signature", reflect.TypeFor[Signature](), "g"},
		{"unix fd", reflect.TypeFor[UnixFD](), "h"},
		{"variant", reflect.TypeFor[Variant](), "v"},
		{"empty interface", reflect.TypeFor[any](), "v"},
		{"int", reflect.TypeFor[int](), "i"},
		{"uint", reflect.TypeFor[uint](), "u"},
		{"named integer", reflect.TypeFor[level](), "u"},
		{"int enum", reflect.TypeFor[mode](), "i"},
		{"pointer", reflect.TypeFor[*int32](), "i"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := SignatureOf(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ts.String())
			assert.True(t, ts.IsValid())
		})
	}
}

func TestSignatureOfContainers(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want string
	}{
		{"byte slice", reflect.TypeFor[[]byte](), "ay"},
		{"string array", reflect.TypeFor[[3]string](), "as"},
		{"vardict", reflect.TypeFor[map[string]Variant](), "a{sv}"},
		{"dict of arrays", reflect.TypeFor[map[uint32][]string](), "a{uas}"},
		{"struct", reflect.TypeFor[point](), "(ii)"},
		{"nested struct", reflect.TypeFor[labelled](), "(s(ii)as)"},
		{"array of structs", reflect.TypeFor[[]point](), "a(ii)"},
		{"dict struct", reflect.TypeFor[DictStruct](), "a{sv}"},
		{"tuple", reflect.TypeFor[Tuple2[string, int32]](), "(si)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := SignatureOf(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ts.String())
		})
	}
}

func TestSignatureOfUnsupported(t *testing.T) {
	for _, typ := range []reflect.Type{
		reflect.TypeFor[int8](),
		reflect.TypeFor[uintptr](),
		reflect.TypeFor[float32](),
		reflect.TypeFor[chan int32](),
		reflect.TypeFor[func()](),
		reflect.TypeFor[error](),
		reflect.TypeFor[map[point]string](),
		reflect.TypeFor[struct{ x int32 }](),
	} {
		t.Run(typ.String(), func(t *testing.T) {
			_, err := SignatureOf(typ)
			var ute *UnsupportedTypeError
			require.ErrorAs(t, err, &ute)
		})
	}
}

type recursive struct {
	Name     string
	Children []recursive
}

func TestSignatureOfRecursiveType(t *testing.T) {
	_, err := SignatureFor[recursive]()
	var ute *UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
}

func TestSignatureIsStable(t *testing.T) {
	a, err := SignatureFor[labelled]()
	require.NoError(t, err)
	b, err := SignatureFor[labelled]()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, reflect.TypeFor[labelled](), a.Type())
}

func TestSignatureTrivial(t *testing.T) {
	assert.True(t, MustSignatureFor[int32]().IsTrivial())
	assert.False(t, MustSignatureFor[string]().IsTrivial())
	assert.False(t, MustSignatureFor[[]int32]().IsTrivial())
}

func TestMustSignatureForPanics(t *testing.T) {
	assert.Panics(t, func() { MustSignatureFor[float32]() })
}

func TestSignatureOfValues(t *testing.T) {
	sig, err := SignatureOfValues("a", int32(1), []string{"x"}, map[string]Variant{})
	require.NoError(t, err)
	assert.Equal(t, "siasa{sv}", sig)

	_, err = SignatureOfValues("a", nil)
	require.Error(t, err)
}

func TestRegisterSignature(t *testing.T) {
	require.NoError(t, RegisterSignature(reflect.TypeFor[customPath](), "o"))
	ts, err := SignatureFor[customPath]()
	require.NoError(t, err)
	assert.Equal(t, "o", ts.String())

	require.Error(t, RegisterSignature(reflect.TypeFor[int32](), "o"))
	require.ErrorIs(t, RegisterSignature(reflect.TypeFor[customPath](), "i"), ErrInvalidSignature)
}

func TestParseSignature(t *testing.T) {
	parts, err := ParseSignature("ia{sv}(sai)as")
	require.NoError(t, err)
	assert.Equal(t, []string{"i", "a{sv}", "(sai)", "as"}, parts)

	parts, err = ParseSignature("")
	require.NoError(t, err)
	assert.Empty(t, parts)

	for _, bad := range []string{"a", "(", "()", "a{vs}", "a{s}", "z", "(ii", "a{sv"} {
		_, err := ParseSignature(bad)
		assert.Truef(t, errors.Is(err, ErrInvalidSignature), "signature %q", bad)
	}
}

func TestIsSingleCompleteType(t *testing.T) {
	assert.True(t, IsSingleCompleteType("a{sv}"))
	assert.True(t, IsSingleCompleteType("(ii)"))
	assert.False(t, IsSingleCompleteType("ii"))
	assert.False(t, IsSingleCompleteType(""))
}
