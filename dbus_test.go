// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBusArgs(t *testing.T) {
	m := NewMethodCall("com.example", speakerPath, speakerIface, "Configure")
	require.NoError(t, m.Append(
		int32(3),
		"kitchen",
		map[string]Variant{"Volume": MustVariant(uint32(7))},
		[]string{"a", "b"},
		ObjectPath("/com/example/Room"),
		Tuple2[int32, string]{V1: 1, V2: "one"},
		Signature("a{sv}"),
	))

	args, err := dbusArgs(m)
	require.NoError(t, err)
	require.Len(t, args, 7)

	assert.Equal(t, int32(3), args[0])
	assert.Equal(t, "kitchen", args[1])

	props, ok := args[2].(map[string]dbus.Variant)
	require.True(t, ok, "got %T", args[2])
	assert.Equal(t, uint32(7), props["Volume"].Value())
	assert.Equal(t, "u", props["Volume"].Signature().String())

	assert.Equal(t, []string{"a", "b"}, args[3])
	assert.Equal(t, dbus.ObjectPath("/com/example/Room"), args[4])

	st := reflect.ValueOf(args[5])
	require.Equal(t, reflect.Struct, st.Kind())
	assert.Equal(t, int32(1), st.Field(0).Interface())
	assert.Equal(t, "one", st.Field(1).Interface())

	sig, ok := args[6].(dbus.Signature)
	require.True(t, ok, "got %T", args[6])
	assert.Equal(t, "a{sv}", sig.String())
}

func TestDBusArgsNestedVariant(t *testing.T) {
	m := NewMethodCall("com.example", speakerPath, speakerIface, "Wrap")
	require.NoError(t, m.Append(EmbedVariant(MustVariant("x"))))

	args, err := dbusArgs(m)
	require.NoError(t, err)
	outer, ok := args[0].(dbus.Variant)
	require.True(t, ok)
	assert.Equal(t, "v", outer.Signature().String())
	inner, ok := outer.Value().(dbus.Variant)
	require.True(t, ok)
	assert.Equal(t, "x", inner.Value())
}

func TestDBusSignatureOf(t *testing.T) {
	tests := []struct {
		v    any
		want string
	}{
		{int32(1), "i"},
		{"s", "s"},
		{dbus.ObjectPath("/"), "o"},
		{dbus.MakeVariant(true), "v"},
		{[]string{}, "as"},
		{[]uint8{1, 2}, "ay"},
		{[]any{int32(1), "x"}, "(is)"},
		{[][]any{{uint32(1), false}}, "a(ub)"},
		{map[string]dbus.Variant{}, "a{sv}"},
		{map[uint32][]string{1: {"x"}}, "a{uas}"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.v), func(t *testing.T) {
			sig, err := dbusSignatureOf(reflect.ValueOf(tt.v))
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig)
		})
	}

	_, err := dbusSignatureOf(reflect.ValueOf(nil))
	require.Error(t, err)
	_, err = dbusSignatureOf(reflect.ValueOf(int(1)))
	require.Error(t, err)
}

func TestSignalFromDBus(t *testing.T) {
	sig := &dbus.Signal{
		Sender: ":1.42",
		Path:   dbus.ObjectPath(speakerPath),
		Name:   speakerIface + ".Changed",
		Body: []any{
			"Volume",
			map[string]dbus.Variant{"Volume": dbus.MakeVariant(int32(50))},
			[]any{int32(1), "one"},
		},
	}
	m, err := signalFromDBus(sig)
	require.NoError(t, err)
	assert.Equal(t, MsgSignal, m.Type)
	assert.Equal(t, speakerIface, m.Interface)
	assert.Equal(t, "Changed", m.Member)
	assert.Equal(t, ":1.42", m.Sender)
	assert.Equal(t, "sa{sv}(is)", m.Signature())

	var (
		name  string
		props map[string]Variant
		tup   Tuple2[int32, string]
	)
	require.NoError(t, Deserialize(m, &name, &props, &tup))
	assert.Equal(t, "Volume", name)
	vol, err := VariantAs[int32](props["Volume"])
	require.NoError(t, err)
	assert.Equal(t, int32(50), vol)
	assert.Equal(t, Tuple2[int32, string]{V1: 1, V2: "one"}, tup)

	_, err = signalFromDBus(&dbus.Signal{Name: "nodots"})
	require.Error(t, err)
}

func TestFromDBusMismatch(t *testing.T) {
	_, err := fromDBus("text", "i")
	require.ErrorIs(t, err, ErrSignatureMismatch)
	_, err = fromDBus([]any{int32(1)}, "(is)")
	require.ErrorIs(t, err, ErrSignatureMismatch)
	_, err = fromDBus(int32(1), "as")
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestSplitMember(t *testing.T) {
	iface, member, ok := splitMember("org.freedesktop.DBus.Properties.PropertiesChanged")
	require.True(t, ok)
	assert.Equal(t, PropertiesInterface, iface)
	assert.Equal(t, "PropertiesChanged", member)

	for _, bad := range []string{"", "NoDot", "trailing.", ".leading"} {
		_, _, ok := splitMember(bad)
		assert.Falsef(t, ok, "name %q", bad)
	}
}

func TestFromDBusError(t *testing.T) {
	err := fromDBusError(dbus.Error{Name: ErrorNameUnknownMethod, Body: []any{"no such method"}})
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrorNameUnknownMethod, re.Name)
	assert.Equal(t, "no such method", re.Message)

	err = fromDBusError(&dbus.Error{Name: ErrorNameInvalidArgs})
	require.ErrorIs(t, err, &Error{Name: ErrorNameInvalidArgs})

	require.ErrorIs(t, fromDBusError(fmt.Errorf("call: %w", context.DeadlineExceeded)), ErrTimeout)

	plain := fmt.Errorf("bus gone")
	assert.Equal(t, plain, fromDBusError(plain))
}
