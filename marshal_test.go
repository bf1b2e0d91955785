// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"math"
	"reflect"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type speakerState struct {
	Volume int32
	Muted  bool
	Name   string `ipc:"name"`
}

type relaxedState struct {
	Volume int32
}

type room struct {
	Label   string
	Speaker speakerState
}

func init() {
	SetStructDictPolicy[relaxedState](DictPolicy{Relaxed: true})
	SetStructDictPolicy[room](DictPolicy{Nested: true})
}

func TestVariantRoundTrip(t *testing.T) {
	v, err := NewVariant(int32(42))
	require.NoError(t, err)
	assert.Equal(t, Signature("i"), v.Signature())
	assert.True(t, v.ContainsValueOf(int32(0)))
	assert.False(t, v.ContainsValueOf(""))

	n, err := VariantAs[int32](v)
	require.NoError(t, err)
	assert.Equal(t, int32(42), n)

	_, err = VariantAs[string](v)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVariantOfVariantDoesNotNest(t *testing.T) {
	inner := MustVariant("x")
	outer, err := NewVariant(inner)
	require.NoError(t, err)
	assert.Equal(t, Signature("s"), outer.Signature())

	nested := EmbedVariant(inner)
	assert.Equal(t, Signature("v"), nested.Signature())
	assert.Equal(t, inner, nested.Value())

	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append(nested))
	assert.Equal(t, "v", m.Signature())
}

func TestVariantEmpty(t *testing.T) {
	var v Variant
	assert.True(t, v.IsEmpty())
	assert.Nil(t, v.Value())
	_, err := VariantAs[int32](v)
	require.Error(t, err)

	_, err = NewVariant(nil)
	require.Error(t, err)
	_, err = NewVariant(v)
	require.Error(t, err)
}

func TestVariantGenericValue(t *testing.T) {
	v := MustVariant(map[string][]uint32{"b": {2}, "a": {1, 3}})
	assert.Equal(t, Signature("a{sau}"), v.Signature())
	assert.Equal(t, map[any]any{
		"a": []any{uint32(1), uint32(3)},
		"b": []any{uint32(2)},
	}, v.Value())

	s := MustVariant(point{X: 1, Y: 2})
	assert.Equal(t, []any{int32(1), int32(2)}, s.Value())
}

func TestMessageValuesExposeDictsAsMaps(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append(map[level]string{2: "b", 1: "a"}))
	assert.Equal(t, []any{map[any]any{uint32(1): "a", uint32(2): "b"}}, m.Values())
}

func TestVariantDecodesAcrossTypesWithSameSignature(t *testing.T) {
	v := MustVariant(Tuple2[int32, int32]{V1: 3, V2: 4})
	p, err := VariantAs[point](v)
	require.NoError(t, err)
	assert.Equal(t, point{X: 3, Y: 4}, p)
}

func TestVariantInvalidObjectPath(t *testing.T) {
	_, err := NewVariant(ObjectPath("not/a/path"))
	require.Error(t, err)
	_, err = NewVariant(ObjectPath("/com/example/Speaker"))
	require.NoError(t, err)
}

func TestMapEncodingIsOrdered(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append(map[int32]string{3: "c", 1: "a", 2: "b"}))
	entries := m.body[0].value.([]dictEntry)
	require.Len(t, entries, 3)
	assert.Equal(t, int32(1), entries[0].Key)
	assert.Equal(t, int32(2), entries[1].Key)
	assert.Equal(t, int32(3), entries[2].Key)
}

func TestMessageAppendRead(t *testing.T) {
	m := NewMethodCall("dest", "/com/example/Speaker", "com.example.Speaker", "Describe")
	require.NoError(t, m.Append("vol", int32(3), []string{"a", "b"}))
	assert.Equal(t, "sias", m.Signature())
	assert.Equal(t, 3, m.Len())

	var (
		s    string
		n    int32
		tags []string
	)
	require.NoError(t, m.Read(&s, &n))
	assert.Equal(t, "vol", s)
	assert.Equal(t, int32(3), n)
	require.NoError(t, m.Read(&tags))
	assert.Equal(t, []string{"a", "b"}, tags)

	err := m.Read(&s)
	require.ErrorIs(t, err, ErrSignatureMismatch)

	m.Rewind()
	require.NoError(t, m.Read(&s))
	assert.Equal(t, "vol", s)
}

func TestMessageAppendIsAllOrNothing(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append(int32(1)))

	err := m.Append("ok", float32(7))
	var ute *UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "i", m.Signature())
}

func TestDeserialize(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append(int32(5), "five"))

	var (
		n int32
		s string
	)
	require.NoError(t, Deserialize(m, &n, &s))
	assert.Equal(t, int32(5), n)
	assert.Equal(t, "five", s)
}

func TestDeserializeMismatchWritesNothing(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append(int32(5), "five"))

	n := int32(-1)
	err := Deserialize(m, &n)
	var sme *SignatureMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, "i", sme.Expected)
	assert.Equal(t, "is", sme.Actual)
	assert.Equal(t, int32(-1), n)

	var u uint32
	var s string
	require.ErrorIs(t, Deserialize(m, &u, &s), ErrSignatureMismatch)

	require.Error(t, Deserialize(m, n, &s))
}

func TestTypedRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
		sig   string
	}{
		{"named integer", level(7), "u"},
		{"int enum", modeSurround, "i"},
		{"plain int", -12, "i"},
		{"plain uint", uint(12), "u"},
		{"enum slice", []level{3, 1, 2}, "au"},
		{"int enum slice", []mode{modeMono, modeStereo}, "ai"},
		{"enum keyed dict", map[level]point{1: {1, 2}, 3: {3, 4}}, "a{u(ii)}"},
		{"int enum keyed dict", map[mode]string{modeMono: "mono", modeSurround: "surround"}, "a{is}"},
		{"fixed array", [2]point{{1, 2}, {3, 4}}, "a(ii)"},
	}
	var codec JSONCodec
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewSignal("/", "com.example", "Sig")
			require.NoError(t, Serialize(m, tt.value))
			assert.Equal(t, tt.sig, m.Signature())

			got := reflect.New(reflect.TypeOf(tt.value))
			require.NoError(t, Deserialize(m, got.Interface()))
			assert.Equal(t, tt.value, got.Elem().Interface())

			data, err := codec.Encode(m)
			require.NoError(t, err)
			decoded, err := codec.Decode(data)
			require.NoError(t, err)
			got = reflect.New(reflect.TypeOf(tt.value))
			require.NoError(t, Deserialize(decoded, got.Interface()))
			assert.Equal(t, tt.value, got.Elem().Interface())
		})
	}
}

func TestFixedArrayLengthMismatch(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append([3]point{{1, 2}, {3, 4}, {5, 6}}))

	var short [2]point
	require.ErrorIs(t, Deserialize(m, &short), ErrSignatureMismatch)

	var exact [3]point
	require.NoError(t, Deserialize(m, &exact))
	assert.Equal(t, point{5, 6}, exact[2])
}

func TestIntOverflowIsRejected(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("int is 32 bits wide")
	}
	big := int64(math.MaxInt32) + 1
	m := NewSignal("/", "com.example", "Sig")
	require.ErrorContains(t, m.Append(int(big)), "overflows int32")
	require.ErrorContains(t, m.Append(mode(-big-1)), "overflows int32")
	ubig := uint64(math.MaxUint32) + 1
	require.ErrorContains(t, m.Append(uint(ubig)), "overflows uint32")
	assert.Equal(t, 0, m.Len())

	require.NoError(t, m.Append(int(math.MaxInt32), uint(math.MaxUint32)))
	assert.Equal(t, "iu", m.Signature())
}

func TestStructAndVarDictMessage(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	props := map[string]Variant{"Volume": MustVariant(uint32(7))}
	require.NoError(t, m.Append(Tuple2[int32, string]{V1: 1, V2: "one"}, props))
	assert.Equal(t, "(is)a{sv}", m.Signature())

	var (
		tup Tuple2[int32, string]
		got map[string]Variant
	)
	require.NoError(t, Deserialize(m, &tup, &got))
	assert.Equal(t, int32(1), tup.V1)
	assert.Equal(t, "one", tup.V2)
	vol, err := VariantAs[uint32](got["Volume"])
	require.NoError(t, err)
	assert.Equal(t, uint32(7), vol)
}

func TestAnyTargetsReceiveGenericValues(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append(map[string]any{"k": "v"}))
	assert.Equal(t, "a{sv}", m.Signature())

	var out map[string]any
	require.NoError(t, Deserialize(m, &out))
	assert.Equal(t, map[string]any{"k": "v"}, out)
}

func TestDictStructRoundTrip(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	in := speakerState{Volume: 50, Muted: true, Name: "kitchen"}
	require.NoError(t, m.Append(AsDictionary(in)))
	assert.Equal(t, "a{sv}", m.Signature())

	var raw map[string]Variant
	require.NoError(t, Deserialize(m, &raw))
	assert.Contains(t, raw, "name")
	assert.Contains(t, raw, "Volume")

	var out speakerState
	require.NoError(t, Deserialize(m, FromDictionary(&out)))
	assert.Equal(t, in, out)
}

func TestDictStructStrictRejectsUnknownKeys(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append(map[string]Variant{
		"Volume": MustVariant(int32(1)),
		"Extra":  MustVariant("x"),
	}))

	var strict speakerState
	require.ErrorIs(t, Deserialize(m, FromDictionary(&strict)), ErrUnknownDictKey)

	var relaxed relaxedState
	require.NoError(t, Deserialize(m, FromDictionary(&relaxed)))
	assert.Equal(t, int32(1), relaxed.Volume)
}

func TestDictStructFieldTypeMismatch(t *testing.T) {
	m := NewSignal("/", "com.example", "Sig")
	require.NoError(t, m.Append(map[string]Variant{"Volume": MustVariant("loud")}))

	var out relaxedState
	require.ErrorIs(t, Deserialize(m, FromDictionary(&out)), ErrSignatureMismatch)
}

func TestDictStructNested(t *testing.T) {
	in := room{Label: "kitchen", Speaker: speakerState{Volume: 3}}
	v := MustVariant(AsDictionary(in))
	assert.Equal(t, Signature("a{sv}"), v.Signature())

	raw, err := VariantAs[map[string]Variant](v)
	require.NoError(t, err)
	assert.Equal(t, Signature("a{sv}"), raw["Speaker"].Signature())

	var out room
	require.NoError(t, v.Get(FromDictionary(&out)))
	assert.Equal(t, in, out)
}

func TestDictStructFlatByDefault(t *testing.T) {
	type flat struct {
		Label string
		Pos   point
	}
	v := MustVariant(AsDictionary(flat{Label: "a", Pos: point{1, 2}}))
	raw, err := VariantAs[map[string]Variant](v)
	require.NoError(t, err)
	assert.Equal(t, Signature("(ii)"), raw["Pos"].Signature())
}
