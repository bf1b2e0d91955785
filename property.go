// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

// PropertiesInterface is the interface carrying the property operations.
const PropertiesInterface = "org.freedesktop.DBus.Properties"

// Property operations of PropertiesInterface.
const (
	propertiesGet    = "Get"
	propertiesSet    = "Set"
	propertiesGetAll = "GetAll"
)

// PropertyGetter reads one property.
type PropertyGetter struct {
	proxy Proxy
	name  string
}

// GetProperty starts reading property name on p.
func GetProperty(p Proxy, name string) *PropertyGetter {
	return &PropertyGetter{proxy: p, name: name}
}

// OnInterface reads the property from iface.
func (g *PropertyGetter) OnInterface(iface string) (Variant, error) {
	var v Variant
	err := CallMethod(g.proxy, propertiesGet).
		OnInterface(PropertiesInterface).
		WithArguments(iface, g.name).
		StoreResultsTo(&v)
	return v, err
}

// GetPropertyAs reads a property and unwraps it as a T.
func GetPropertyAs[T any](p Proxy, iface, name string) (T, error) {
	v, err := GetProperty(p, name).OnInterface(iface)
	if err != nil {
		var zero T
		return zero, err
	}
	return VariantAs[T](v)
}

// AsyncPropertyGetter reads one property asynchronously.
type AsyncPropertyGetter struct {
	proxy Proxy
	name  string
	iface string
	bound bool
}

// GetPropertyAsync starts reading property name on p.
func GetPropertyAsync(p Proxy, name string) *AsyncPropertyGetter {
	return &AsyncPropertyGetter{proxy: p, name: name}
}

// OnInterface binds the read to iface. It must come first.
func (g *AsyncPropertyGetter) OnInterface(iface string) *AsyncPropertyGetter {
	g.iface, g.bound = iface, true
	return g
}

// UponReplyInvoke reads the property and hands it to fn.
func (g *AsyncPropertyGetter) UponReplyInvoke(fn func(err error, value Variant)) (*PendingAsyncCall, error) {
	return g.invoker("UponReplyInvoke").UponReplyInvoke(fn)
}

// GetResultAsFuture reads the property into a future.
func (g *AsyncPropertyGetter) GetResultAsFuture() (*Future[Variant], error) {
	return ResultAsFuture[Variant](g.invoker("GetResultAsFuture"))
}

func (g *AsyncPropertyGetter) invoker(call string) *AsyncMethodInvoker {
	if !g.bound {
		misuse("AsyncPropertyGetter", call)
	}
	return CallMethodAsync(g.proxy, propertiesGet).
		OnInterface(PropertiesInterface).
		WithArguments(g.iface, g.name)
}

// PropertySetter writes one property.
type PropertySetter struct {
	proxy Proxy
	name  string
	iface string
	bound bool
}

// SetProperty starts writing property name on p.
func SetProperty(p Proxy, name string) *PropertySetter {
	return &PropertySetter{proxy: p, name: name}
}

// OnInterface binds the write to iface. It must come first.
func (s *PropertySetter) OnInterface(iface string) *PropertySetter {
	s.iface, s.bound = iface, true
	return s
}

// ToValue writes value, wrapped in a variant, and waits for the
// acknowledgement.
func (s *PropertySetter) ToValue(value any) error {
	m, err := s.invoker("ToValue", value)
	if err != nil {
		return err
	}
	return m.StoreResultsTo()
}

// ToValueDontExpectReply writes value without waiting for the
// acknowledgement.
func (s *PropertySetter) ToValueDontExpectReply(value any) error {
	m, err := s.invoker("ToValueDontExpectReply", value)
	if err != nil {
		return err
	}
	return m.DontExpectReply()
}

func (s *PropertySetter) invoker(call string, value any) (*MethodInvoker, error) {
	if !s.bound {
		misuse("PropertySetter", call)
	}
	v, err := NewVariant(value)
	if err != nil {
		return nil, err
	}
	return CallMethod(s.proxy, propertiesSet).
		OnInterface(PropertiesInterface).
		WithArguments(s.iface, s.name, v), nil
}

// AsyncPropertySetter writes one property asynchronously.
type AsyncPropertySetter struct {
	proxy Proxy
	name  string
	iface string
	bound bool
	value Variant
	err   error
	set   bool
}

// SetPropertyAsync starts writing property name on p.
func SetPropertyAsync(p Proxy, name string) *AsyncPropertySetter {
	return &AsyncPropertySetter{proxy: p, name: name}
}

// OnInterface binds the write to iface. It must come first.
func (s *AsyncPropertySetter) OnInterface(iface string) *AsyncPropertySetter {
	s.iface, s.bound = iface, true
	return s
}

// ToValue sets the value to write.
func (s *AsyncPropertySetter) ToValue(value any) *AsyncPropertySetter {
	if !s.bound {
		misuse("AsyncPropertySetter", "ToValue")
	}
	s.value, s.err = NewVariant(value)
	s.set = true
	return s
}

// UponReplyInvoke writes the value and reports the outcome to fn.
func (s *AsyncPropertySetter) UponReplyInvoke(fn func(err error)) (*PendingAsyncCall, error) {
	m, err := s.invoker("UponReplyInvoke")
	if err != nil {
		return nil, err
	}
	return m.UponReplyInvoke(fn)
}

// GetResultAsFuture writes the value and returns a future of the outcome.
func (s *AsyncPropertySetter) GetResultAsFuture() (*Future[Void], error) {
	m, err := s.invoker("GetResultAsFuture")
	if err != nil {
		return nil, err
	}
	return ResultAsFuture0(m)
}

func (s *AsyncPropertySetter) invoker(call string) (*AsyncMethodInvoker, error) {
	if !s.bound {
		misuse("AsyncPropertySetter", call)
	}
	if !s.set {
		misuseBefore("AsyncPropertySetter", call, "ToValue")
	}
	if s.err != nil {
		return nil, s.err
	}
	return CallMethodAsync(s.proxy, propertiesSet).
		OnInterface(PropertiesInterface).
		WithArguments(s.iface, s.name, s.value), nil
}

// AllPropertiesGetter reads every property of an interface.
type AllPropertiesGetter struct {
	proxy Proxy
}

// GetAllProperties starts reading all properties on p.
func GetAllProperties(p Proxy) *AllPropertiesGetter {
	return &AllPropertiesGetter{proxy: p}
}

// OnInterface reads all properties of iface.
func (g *AllPropertiesGetter) OnInterface(iface string) (map[string]Variant, error) {
	var props map[string]Variant
	err := CallMethod(g.proxy, propertiesGetAll).
		OnInterface(PropertiesInterface).
		WithArguments(iface).
		StoreResultsTo(&props)
	return props, err
}

// AsyncAllPropertiesGetter reads every property of an interface
// asynchronously.
type AsyncAllPropertiesGetter struct {
	proxy Proxy
	iface string
	bound bool
}

// GetAllPropertiesAsync starts reading all properties on p.
func GetAllPropertiesAsync(p Proxy) *AsyncAllPropertiesGetter {
	return &AsyncAllPropertiesGetter{proxy: p}
}

// OnInterface binds the read to iface. It must come first.
func (g *AsyncAllPropertiesGetter) OnInterface(iface string) *AsyncAllPropertiesGetter {
	g.iface, g.bound = iface, true
	return g
}

// UponReplyInvoke reads the properties and hands them to fn.
func (g *AsyncAllPropertiesGetter) UponReplyInvoke(fn func(err error, props map[string]Variant)) (*PendingAsyncCall, error) {
	return g.invoker("UponReplyInvoke").UponReplyInvoke(fn)
}

// GetResultAsFuture reads the properties into a future.
func (g *AsyncAllPropertiesGetter) GetResultAsFuture() (*Future[map[string]Variant], error) {
	return ResultAsFuture[map[string]Variant](g.invoker("GetResultAsFuture"))
}

func (g *AsyncAllPropertiesGetter) invoker(call string) *AsyncMethodInvoker {
	if !g.bound {
		misuse("AsyncAllPropertiesGetter", call)
	}
	return CallMethodAsync(g.proxy, propertiesGetAll).
		OnInterface(PropertiesInterface).
		WithArguments(g.iface)
}
