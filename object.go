// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

type memberKey struct {
	iface string
	name  string
}

type methodEntry struct {
	fn    reflect.Value
	shape *FunctionShape
}

type propertyEntry struct {
	typ    reflect.Type
	getter reflect.Value
	setter reflect.Value
	getErr bool
	setErr bool
}

// LocalObject is an object served on a connection or server. Methods and
// properties are registered with the fluent registrators; the standard
// property interface is served for every registered property.
type LocalObject struct {
	path ObjectPath
	emit func(*Message) error

	mu      sync.RWMutex
	methods map[memberKey]*methodEntry
	props   map[memberKey]*propertyEntry
}

func newLocalObject(path ObjectPath, emit func(*Message) error) *LocalObject {
	return &LocalObject{
		path:    path,
		emit:    emit,
		methods: make(map[memberKey]*methodEntry),
		props:   make(map[memberKey]*propertyEntry),
	}
}

// Path returns the object path.
func (o *LocalObject) Path() ObjectPath { return o.path }

// CreateSignal returns an empty signal from the object.
func (o *LocalObject) CreateSignal(iface, signal string) *Message {
	return NewSignal(o.path, iface, signal)
}

// EmitSignal sends signal to every peer of the object.
func (o *LocalObject) EmitSignal(signal *Message) error {
	return o.emit(signal)
}

// EmitPropertiesChanged announces the current values of the named
// properties of iface.
func (o *LocalObject) EmitPropertiesChanged(iface string, names ...string) error {
	changed := make(map[string]Variant, len(names))
	for _, name := range names {
		v, err := o.getProperty(iface, name)
		if err != nil {
			return err
		}
		changed[name] = v
	}
	return EmitSignal(o, "PropertiesChanged").
		OnInterface(PropertiesInterface).
		WithArguments(iface, changed, []string{}).
		Emit()
}

// MethodRegistrator registers one method handler.
type MethodRegistrator struct {
	obj   *LocalObject
	name  string
	iface string
	bound bool
}

// RegisterMethod starts the registration of method name.
func (o *LocalObject) RegisterMethod(name string) *MethodRegistrator {
	return &MethodRegistrator{obj: o, name: name}
}

// OnInterface binds the method to an interface. It must come first.
func (r *MethodRegistrator) OnInterface(iface string) *MethodRegistrator {
	r.iface, r.bound = iface, true
	return r
}

// ImplementedAs sets the handler. A plain handler takes the call arguments
// and returns the results, optionally followed by an error. A handler whose
// first parameter is a *Result0, *Result, *Result2 or *Result3 replies
// through it, possibly from another goroutine.
func (r *MethodRegistrator) ImplementedAs(fn any) error {
	if !r.bound {
		misuse("MethodRegistrator", "ImplementedAs")
	}
	shape, err := ShapeOf(fn)
	if err != nil {
		return err
	}
	if shape.HasErrorParam {
		return fmt.Errorf("ipc: method handler %s cannot take a leading error", shape.Type)
	}
	o := r.obj
	o.mu.Lock()
	defer o.mu.Unlock()
	key := memberKey{r.iface, r.name}
	if _, ok := o.methods[key]; ok {
		return fmt.Errorf("ipc: method %s.%s already registered on %s", r.iface, r.name, o.path)
	}
	o.methods[key] = &methodEntry{fn: reflect.ValueOf(fn), shape: shape}
	return nil
}

// PropertyRegistrator registers one property.
type PropertyRegistrator struct {
	obj    *LocalObject
	name   string
	iface  string
	bound  bool
	getter any
	setter any
}

// RegisterProperty starts the registration of property name.
func (o *LocalObject) RegisterProperty(name string) *PropertyRegistrator {
	return &PropertyRegistrator{obj: o, name: name}
}

// OnInterface binds the property to an interface. It must come first.
func (r *PropertyRegistrator) OnInterface(iface string) *PropertyRegistrator {
	r.iface, r.bound = iface, true
	return r
}

// WithGetter sets the getter, func() T or func() (T, error).
func (r *PropertyRegistrator) WithGetter(fn any) *PropertyRegistrator {
	if !r.bound {
		misuse("PropertyRegistrator", "WithGetter")
	}
	r.getter = fn
	return r
}

// WithSetter sets the setter, func(T) or func(T) error. A property without
// a setter is read-only.
func (r *PropertyRegistrator) WithSetter(fn any) *PropertyRegistrator {
	if !r.bound {
		misuse("PropertyRegistrator", "WithSetter")
	}
	r.setter = fn
	return r
}

// Register validates the accessors and adds the property.
func (r *PropertyRegistrator) Register() error {
	if !r.bound {
		misuse("PropertyRegistrator", "Register")
	}
	if r.getter == nil && r.setter == nil {
		return fmt.Errorf("ipc: property %s.%s has neither getter nor setter", r.iface, r.name)
	}
	p := &propertyEntry{}
	if r.getter != nil {
		s, err := ShapeOf(r.getter)
		if err != nil {
			return err
		}
		if s.Arity != 0 || s.IsAsync || s.HasErrorParam || len(s.Results) != 1 {
			return fmt.Errorf("ipc: property getter must be func() T, got %s", s.Type)
		}
		p.typ, p.getter, p.getErr = s.Results[0], reflect.ValueOf(r.getter), s.ReturnsError
	}
	if r.setter != nil {
		s, err := ShapeOf(r.setter)
		if err != nil {
			return err
		}
		if s.Arity != 1 || s.IsAsync || s.HasErrorParam || len(s.Results) != 0 {
			return fmt.Errorf("ipc: property setter must be func(T), got %s", s.Type)
		}
		if p.typ != nil && p.typ != s.Args[0] {
			return fmt.Errorf("ipc: property %s.%s getter returns %s but setter takes %s", r.iface, r.name, p.typ, s.Args[0])
		}
		p.typ, p.setter, p.setErr = s.Args[0], reflect.ValueOf(r.setter), s.ReturnsError
	}

	o := r.obj
	o.mu.Lock()
	defer o.mu.Unlock()
	key := memberKey{r.iface, r.name}
	if _, ok := o.props[key]; ok {
		return fmt.Errorf("ipc: property %s.%s already registered on %s", r.iface, r.name, o.path)
	}
	o.props[key] = p
	return nil
}

// handleCall runs the handler for call and passes the reply to send. send
// is not called for calls that expect no reply.
func (o *LocalObject) handleCall(call *Message, send func(*Message)) {
	reply := func(m *Message) {
		if !call.NoReply {
			send(m)
		}
	}
	if call.Interface == PropertiesInterface {
		reply(o.handleProperties(call))
		return
	}

	entry, ok := o.lookupMethod(call.Interface, call.Member)
	if !ok {
		reply(call.NewErrorReply(NewError(ErrorNameUnknownMethod,
			fmt.Sprintf("no method %s.%s on %s", call.Interface, call.Member, o.path))))
		return
	}
	args, err := decodeTypes(call, entry.shape.Args)
	if err != nil {
		reply(call.NewErrorReply(NewError(ErrorNameInvalidArgs, err.Error())))
		return
	}

	if entry.shape.IsAsync {
		res := reflect.New(entry.fn.Type().In(0).Elem())
		res.Interface().(asyncResult).bind(func(vals []any, err error) {
			reply(buildReply(call, entry.shape.Results, vals, err))
		})
		entry.fn.Call(append([]reflect.Value{res}, args...))
		return
	}

	out := entry.fn.Call(args)
	if entry.shape.ReturnsError {
		if errV := out[len(out)-1]; !errV.IsNil() {
			reply(call.NewErrorReply(errV.Interface().(error)))
			return
		}
		out = out[:len(out)-1]
	}
	r := call.NewMethodReply()
	if err := appendTyped(r, entry.shape.Results, out); err != nil {
		reply(call.NewErrorReply(err))
		return
	}
	reply(r)
}

func buildReply(call *Message, types []reflect.Type, vals []any, err error) *Message {
	if err != nil {
		return call.NewErrorReply(err)
	}
	rvs := make([]reflect.Value, len(vals))
	for i, v := range vals {
		rvs[i] = reflect.New(types[i]).Elem()
		if v != nil {
			rvs[i].Set(reflect.ValueOf(v))
		}
	}
	r := call.NewMethodReply()
	if err := appendTyped(r, types, rvs); err != nil {
		return call.NewErrorReply(err)
	}
	return r
}

func (o *LocalObject) lookupMethod(iface, member string) (*methodEntry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if iface != "" {
		e, ok := o.methods[memberKey{iface, member}]
		return e, ok
	}
	for k, e := range o.methods {
		if k.name == member {
			return e, true
		}
	}
	return nil, false
}

func (o *LocalObject) lookupProperty(iface, name string) (*propertyEntry, error) {
	o.mu.RLock()
	p, ok := o.props[memberKey{iface, name}]
	o.mu.RUnlock()
	if !ok {
		return nil, NewError(ErrorNameUnknownProperty, fmt.Sprintf("no property %s.%s on %s", iface, name, o.path))
	}
	return p, nil
}

func (o *LocalObject) handleProperties(call *Message) *Message {
	var (
		iface, name string
		v           Variant
		err         error
	)
	reply := call.NewMethodReply()
	switch call.Member {
	case propertiesGet:
		if err = Deserialize(call, &iface, &name); err != nil {
			break
		}
		if v, err = o.getProperty(iface, name); err == nil {
			err = reply.Append(v)
		}
	case propertiesSet:
		if err = Deserialize(call, &iface, &name, &v); err != nil {
			break
		}
		err = o.setProperty(iface, name, v)
	case propertiesGetAll:
		if err = Deserialize(call, &iface); err != nil {
			break
		}
		var all map[string]Variant
		if all, err = o.getAllProperties(iface); err == nil {
			err = reply.Append(all)
		}
	default:
		err = NewError(ErrorNameUnknownMethod, fmt.Sprintf("no method %s.%s", PropertiesInterface, call.Member))
	}
	if err != nil {
		if errors.As(err, new(*SignatureMismatchError)) {
			err = NewError(ErrorNameInvalidArgs, err.Error())
		}
		return call.NewErrorReply(err)
	}
	return reply
}

func (o *LocalObject) getProperty(iface, name string) (Variant, error) {
	p, err := o.lookupProperty(iface, name)
	if err != nil {
		return Variant{}, err
	}
	if !p.getter.IsValid() {
		return Variant{}, NewError(ErrorNameFailed, fmt.Sprintf("property %s.%s is write-only", iface, name))
	}
	out := p.getter.Call(nil)
	if p.getErr && !out[1].IsNil() {
		return Variant{}, out[1].Interface().(error)
	}
	ts, err := SignatureOf(p.typ)
	if err != nil {
		return Variant{}, err
	}
	w, err := encode(out[0], ts)
	if err != nil {
		return Variant{}, err
	}
	if ts.kind == kindVariant {
		return w.(Variant), nil
	}
	return Variant{sig: ts.sig, value: w}, nil
}

func (o *LocalObject) setProperty(iface, name string, v Variant) error {
	p, err := o.lookupProperty(iface, name)
	if err != nil {
		return err
	}
	if !p.setter.IsValid() {
		return NewError(ErrorNamePropertyReadOnly, fmt.Sprintf("property %s.%s is read-only", iface, name))
	}
	dst := reflect.New(p.typ)
	if err := v.Get(dst.Interface()); err != nil {
		return NewError(ErrorNameInvalidArgs, err.Error())
	}
	out := p.setter.Call([]reflect.Value{dst.Elem()})
	if p.setErr && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

func (o *LocalObject) getAllProperties(iface string) (map[string]Variant, error) {
	o.mu.RLock()
	var names []string
	for k, p := range o.props {
		if k.iface == iface && p.getter.IsValid() {
			names = append(names, k.name)
		}
	}
	o.mu.RUnlock()
	sort.Strings(names)

	all := make(map[string]Variant, len(names))
	for _, name := range names {
		v, err := o.getProperty(iface, name)
		if err != nil {
			return nil, err
		}
		all[name] = v
	}
	return all, nil
}

// objectTable holds the objects served by a connection or a server.
type objectTable struct {
	mu      sync.RWMutex
	objects map[ObjectPath]*LocalObject
}

func newObjectTable() *objectTable {
	return &objectTable{objects: make(map[ObjectPath]*LocalObject)}
}

func (t *objectTable) export(path ObjectPath, emit func(*Message) error) (*LocalObject, error) {
	if !path.IsValid() {
		return nil, fmt.Errorf("ipc: invalid object path %q", path)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.objects[path]; ok {
		return nil, fmt.Errorf("ipc: object %s already exported", path)
	}
	o := newLocalObject(path, emit)
	t.objects[path] = o
	return o, nil
}

func (t *objectTable) lookup(path ObjectPath) (*LocalObject, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.objects[path]
	return o, ok
}

func (t *objectTable) remove(path ObjectPath) {
	t.mu.Lock()
	delete(t.objects, path)
	t.mu.Unlock()
}

// serve answers call from the table, or with UnknownObject.
func (t *objectTable) serve(call *Message, send func(*Message)) {
	o, ok := t.lookup(call.Path)
	if !ok {
		if !call.NoReply {
			send(call.NewErrorReply(NewError(ErrorNameUnknownObject, fmt.Sprintf("no object at %s", call.Path))))
		}
		return
	}
	o.handleCall(call, send)
}
