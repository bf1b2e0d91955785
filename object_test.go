// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type speaker struct {
	mu     sync.Mutex
	volume int32
	name   string
}

func (s *speaker) Volume() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *speaker) SetVolume(v int32) error {
	if v < 0 || v > 100 {
		return NewError(ErrorNameInvalidArgs, "volume out of range")
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
	return nil
}

func exportSpeaker(t *testing.T, obj *LocalObject) *speaker {
	t.Helper()
	s := &speaker{volume: 10, name: "kitchen"}
	require.NoError(t, obj.RegisterProperty("Volume").OnInterface(speakerIface).
		WithGetter(s.Volume).
		WithSetter(s.SetVolume).
		Register())
	require.NoError(t, obj.RegisterProperty("Name").OnInterface(speakerIface).
		WithGetter(func() string { return s.name }).
		Register())
	require.NoError(t, obj.RegisterProperty("Secret").OnInterface(speakerIface).
		WithSetter(func(string) {}).
		Register())
	require.NoError(t, obj.RegisterProperty("Faulty").OnInterface(speakerIface).
		WithGetter(func() (uint32, error) { return 0, errors.New("sensor offline") }).
		Register())
	return s
}

func TestPropertiesOverConnection(t *testing.T) {
	p := newConnPair(t)
	s := exportSpeaker(t, p.obj)

	vol, err := GetPropertyAs[int32](p.proxy, speakerIface, "Volume")
	require.NoError(t, err)
	assert.Equal(t, int32(10), vol)

	require.NoError(t, SetProperty(p.proxy, "Volume").OnInterface(speakerIface).ToValue(int32(50)))
	assert.Equal(t, int32(50), s.Volume())

	name, err := GetPropertyAs[string](p.proxy, speakerIface, "Name")
	require.NoError(t, err)
	assert.Equal(t, "kitchen", name)
}

func TestSetPropertyFromUntypedConstant(t *testing.T) {
	p := newConnPair(t)
	s := exportSpeaker(t, p.obj)

	require.NoError(t, SetProperty(p.proxy, "Volume").OnInterface(speakerIface).ToValue(50))
	assert.Equal(t, int32(50), s.Volume())

	vol, err := GetPropertyAs[int](p.proxy, speakerIface, "Volume")
	require.NoError(t, err)
	assert.Equal(t, 50, vol)
}

func TestPropertyErrorsOverConnection(t *testing.T) {
	p := newConnPair(t)
	exportSpeaker(t, p.obj)

	err := SetProperty(p.proxy, "Name").OnInterface(speakerIface).ToValue("hall")
	require.ErrorIs(t, err, &Error{Name: ErrorNamePropertyReadOnly})

	err = SetProperty(p.proxy, "Volume").OnInterface(speakerIface).ToValue("loud")
	require.ErrorIs(t, err, &Error{Name: ErrorNameInvalidArgs})

	err = SetProperty(p.proxy, "Volume").OnInterface(speakerIface).ToValue(int32(500))
	require.ErrorIs(t, err, &Error{Name: ErrorNameInvalidArgs})

	_, err = GetProperty(p.proxy, "Missing").OnInterface(speakerIface)
	require.ErrorIs(t, err, &Error{Name: ErrorNameUnknownProperty})

	_, err = GetProperty(p.proxy, "Secret").OnInterface(speakerIface)
	require.ErrorIs(t, err, &Error{Name: ErrorNameFailed})

	_, err = GetProperty(p.proxy, "Faulty").OnInterface(speakerIface)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "sensor offline", re.Message)

	err = CallMethod(p.proxy, "Get").OnInterface(PropertiesInterface).WithArguments(speakerIface).StoreResultsTo(new(Variant))
	require.ErrorIs(t, err, &Error{Name: ErrorNameInvalidArgs})

	err = CallMethod(p.proxy, "Introspect").OnInterface(PropertiesInterface).StoreResultsTo()
	require.ErrorIs(t, err, &Error{Name: ErrorNameUnknownMethod})
}

func TestGetAllPropertiesOverConnection(t *testing.T) {
	p := newConnPair(t)
	require.NoError(t, p.obj.RegisterProperty("Volume").OnInterface(speakerIface).
		WithGetter(func() int32 { return 3 }).Register())
	require.NoError(t, p.obj.RegisterProperty("Name").OnInterface(speakerIface).
		WithGetter(func() string { return "kitchen" }).Register())
	require.NoError(t, p.obj.RegisterProperty("Secret").OnInterface(speakerIface).
		WithSetter(func(string) {}).Register())
	require.NoError(t, p.obj.RegisterProperty("Other").OnInterface("com.example.Other").
		WithGetter(func() bool { return true }).Register())

	props, err := GetAllProperties(p.proxy).OnInterface(speakerIface)
	require.NoError(t, err)
	assert.Len(t, props, 2)
	assert.Equal(t, int32(3), props["Volume"].Value())
	assert.Equal(t, "kitchen", props["Name"].Value())
}

func TestVariantTypedProperty(t *testing.T) {
	p := newConnPair(t)
	current := MustVariant("idle")
	require.NoError(t, p.obj.RegisterProperty("State").OnInterface(speakerIface).
		WithGetter(func() Variant { return current }).
		WithSetter(func(v Variant) { current = v }).
		Register())

	v, err := GetProperty(p.proxy, "State").OnInterface(speakerIface)
	require.NoError(t, err)
	assert.Equal(t, "idle", v.Value())

	require.NoError(t, SetProperty(p.proxy, "State").OnInterface(speakerIface).ToValue(uint32(2)))
	v, err = GetProperty(p.proxy, "State").OnInterface(speakerIface)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v.Value())
}

func TestRegisterPropertyRejects(t *testing.T) {
	p := newConnPair(t)
	obj := p.obj

	require.Error(t, obj.RegisterProperty("None").OnInterface(speakerIface).Register())
	require.Error(t, obj.RegisterProperty("Args").OnInterface(speakerIface).
		WithGetter(func(x int32) int32 { return x }).Register())
	require.Error(t, obj.RegisterProperty("Two").OnInterface(speakerIface).
		WithSetter(func(a, b int32) {}).Register())
	require.Error(t, obj.RegisterProperty("Mixed").OnInterface(speakerIface).
		WithGetter(func() int32 { return 0 }).
		WithSetter(func(string) {}).Register())

	require.NoError(t, obj.RegisterProperty("Once").OnInterface(speakerIface).
		WithGetter(func() int32 { return 0 }).Register())
	require.Error(t, obj.RegisterProperty("Once").OnInterface(speakerIface).
		WithGetter(func() int32 { return 0 }).Register())

	requireMisuse(t, func() { obj.RegisterProperty("X").WithGetter(func() int32 { return 0 }) })
	requireMisuse(t, func() { _ = obj.RegisterProperty("X").Register() })
}

func TestEmitPropertiesChanged(t *testing.T) {
	p := newConnPair(t)
	s := exportSpeaker(t, p.obj)

	type change struct {
		iface   string
		changed map[string]Variant
		invalid []string
	}
	got := make(chan change, 1)
	require.NoError(t, SubscribeSignal(p.proxy, "PropertiesChanged").OnInterface(PropertiesInterface).
		Call(func(iface string, changed map[string]Variant, invalid []string) {
			got <- change{iface, changed, invalid}
		}))

	require.NoError(t, s.SetVolume(42))
	require.NoError(t, p.obj.EmitPropertiesChanged(speakerIface, "Volume"))

	select {
	case c := <-got:
		assert.Equal(t, speakerIface, c.iface)
		assert.Equal(t, int32(42), c.changed["Volume"].Value())
		assert.Empty(t, c.invalid)
	case <-time.After(2 * time.Second):
		t.Fatal("PropertiesChanged not delivered")
	}

	require.Error(t, p.obj.EmitPropertiesChanged(speakerIface, "Missing"))
}
