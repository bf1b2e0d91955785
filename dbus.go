// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// DBusProxy is a Proxy for an object on a real D-Bus bus.
type DBusProxy struct {
	conn           *dbus.Conn
	obj            dbus.BusObject
	destination    string
	path           ObjectPath
	defaultTimeout Timeout
	log            *zap.Logger
	dispatch       *dispatcher

	sigMu    sync.Mutex
	signals  map[signalKey][]signalSub
	nextSub  uint64
	sigCh    chan *dbus.Signal
	sigStart sync.Once
	done     chan struct{}
	once     sync.Once
}

// ConnectSessionBus returns a proxy for an object on the session bus.
func ConnectSessionBus(destination string, path ObjectPath) (*DBusProxy, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return NewDBusProxy(conn, destination, path), nil
}

// NewDBusProxy returns a proxy for the object at path owned by destination.
func NewDBusProxy(conn *dbus.Conn, destination string, path ObjectPath) *DBusProxy {
	return &DBusProxy{
		conn:           conn,
		obj:            conn.Object(destination, dbus.ObjectPath(path)),
		destination:    destination,
		path:           path,
		defaultTimeout: TimeoutOf(DefaultCallTimeout),
		log:            Logger().With(zap.String("destination", destination), zap.String("path", string(path))),
		dispatch:       newDispatcher(),
		signals:        make(map[signalKey][]signalSub),
		done:           make(chan struct{}),
	}
}

// Close stops signal delivery. The bus connection stays open.
func (p *DBusProxy) Close() error {
	p.once.Do(func() {
		close(p.done)
		if p.sigCh != nil {
			p.conn.RemoveSignal(p.sigCh)
		}
		p.dispatch.stop()
	})
	return nil
}

func (p *DBusProxy) CreateMethodCall(iface, method string) *Message {
	return NewMethodCall(p.destination, p.path, iface, method)
}

func (p *DBusProxy) CallMethod(ctx context.Context, call *Message, timeout Timeout) (*Message, error) {
	args, err := dbusArgs(call)
	if err != nil {
		return nil, err
	}
	method := call.Interface + "." + call.Member
	if call.NoReply {
		return nil, p.obj.CallWithContext(ctx, method, dbus.FlagNoReplyExpected, args...).Err
	}

	if timeout == TimeoutDefault {
		timeout = p.defaultTimeout
	}
	if d, ok := timeout.Duration(DefaultCallTimeout); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	res := p.obj.CallWithContext(ctx, method, 0, args...)
	if res.Err != nil {
		return nil, fromDBusError(res.Err)
	}
	reply := call.NewMethodReply()
	reply.Sender = p.destination
	for i, v := range res.Body {
		sig, err := dbusSignatureOf(reflect.ValueOf(v))
		if err != nil {
			return nil, fmt.Errorf("reply value %d: %w", i, err)
		}
		w, err := fromDBus(v, sig)
		if err != nil {
			return nil, fmt.Errorf("reply value %d: %w", i, err)
		}
		reply.body = append(reply.body, bodyItem{sig: sig, value: w})
	}
	return reply, nil
}

func (p *DBusProxy) CallMethodAsync(call *Message, handler AsyncReplyHandler, timeout Timeout) (*PendingAsyncCall, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ac, pending := newAsyncCall(handler)
	ac.release = cancel
	go func() {
		defer cancel()
		reply, err := p.CallMethod(ctx, call, timeout)
		p.dispatch.post(func() { ac.deliver(reply, err) })
	}()
	return pending, nil
}

func (p *DBusProxy) RegisterSignalHandler(iface, signal string, handler SignalHandler) (*Slot, error) {
	err := p.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbus.ObjectPath(p.path)),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(signal),
	)
	if err != nil {
		return nil, fmt.Errorf("add match: %w", err)
	}
	p.sigStart.Do(func() {
		p.sigCh = make(chan *dbus.Signal, 16)
		p.conn.Signal(p.sigCh)
		go p.signalLoop()
	})

	key := signalKey{path: p.path, iface: iface, member: signal}
	p.sigMu.Lock()
	p.nextSub++
	id := p.nextSub
	p.signals[key] = append(p.signals[key], signalSub{id: id, handler: handler})
	p.sigMu.Unlock()

	return newSlot(func() {
		p.sigMu.Lock()
		subs := p.signals[key]
		for i, s := range subs {
			if s.id == id {
				p.signals[key] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		p.sigMu.Unlock()
	}), nil
}

func (p *DBusProxy) UnregisterSignalHandler(iface, signal string) error {
	p.sigMu.Lock()
	delete(p.signals, signalKey{path: p.path, iface: iface, member: signal})
	p.sigMu.Unlock()
	return p.conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(dbus.ObjectPath(p.path)),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(signal),
	)
}

func (p *DBusProxy) signalLoop() {
	for {
		select {
		case sig, ok := <-p.sigCh:
			if !ok {
				return
			}
			m, err := signalFromDBus(sig)
			if err != nil {
				p.log.Debug("dropping signal", zap.String("name", sig.Name), zap.Error(err))
				continue
			}
			key := signalKey{path: m.Path, iface: m.Interface, member: m.Member}
			p.sigMu.Lock()
			subs := p.signals[key]
			p.sigMu.Unlock()
			for _, s := range subs {
				h := s.handler
				p.dispatch.post(func() { h(m) })
			}
		case <-p.done:
			return
		}
	}
}

func signalFromDBus(sig *dbus.Signal) (*Message, error) {
	iface, member, ok := splitMember(sig.Name)
	if !ok {
		return nil, fmt.Errorf("malformed signal name %q", sig.Name)
	}
	m := NewSignal(ObjectPath(sig.Path), iface, member)
	m.Sender = sig.Sender
	for i, v := range sig.Body {
		s, err := dbusSignatureOf(reflect.ValueOf(v))
		if err != nil {
			return nil, fmt.Errorf("signal value %d: %w", i, err)
		}
		w, err := fromDBus(v, s)
		if err != nil {
			return nil, fmt.Errorf("signal value %d: %w", i, err)
		}
		m.body = append(m.body, bodyItem{sig: s, value: w})
	}
	return m, nil
}

func splitMember(name string) (iface, member string, ok bool) {
	for i := len(name) - 1; i > 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:], i+1 < len(name)
		}
	}
	return "", "", false
}

func fromDBusError(err error) error {
	var de dbus.Error
	if errors.As(err, &de) {
		return remoteFromDBus(de)
	}
	var dep *dbus.Error
	if errors.As(err, &dep) {
		return remoteFromDBus(*dep)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func remoteFromDBus(de dbus.Error) *Error {
	e := &Error{Name: de.Name}
	if len(de.Body) > 0 {
		if s, ok := de.Body[0].(string); ok {
			e.Message = s
		}
	}
	return e
}

func dbusArgs(m *Message) ([]any, error) {
	args := make([]any, len(m.body))
	for i, it := range m.body {
		v, err := toDBus(it.value, it.sig)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v.Interface()
	}
	return args, nil
}

var (
	dbusVariantType = reflect.TypeFor[dbus.Variant]()
	dbusBasicTypes  = map[byte]reflect.Type{
		TokenByte:       reflect.TypeFor[uint8](),
		TokenBool:       reflect.TypeFor[bool](),
		TokenInt16:      reflect.TypeFor[int16](),
		TokenUint16:     reflect.TypeFor[uint16](),
		TokenInt32:      reflect.TypeFor[int32](),
		TokenUint32:     reflect.TypeFor[uint32](),
		TokenInt64:      reflect.TypeFor[int64](),
		TokenUint64:     reflect.TypeFor[uint64](),
		TokenDouble:     reflect.TypeFor[float64](),
		TokenString:     reflect.TypeFor[string](),
		TokenObjectPath: reflect.TypeFor[dbus.ObjectPath](),
		TokenSignature:  reflect.TypeFor[dbus.Signature](),
		TokenUnixFD:     reflect.TypeFor[dbus.UnixFD](),
		TokenVariant:    dbusVariantType,
	}
)

// dbusType returns the Go type godbus marshals with signature sig. Structs
// become anonymous structs with exported fields F0, F1, ...
func dbusType(sig string) (reflect.Type, error) {
	if t, ok := dbusBasicTypes[sig[0]]; ok {
		return t, nil
	}
	switch sig[0] {
	case TokenArray:
		if sig[1] == TokenDictOpen {
			kt, err := dbusType(sig[2:3])
			if err != nil {
				return nil, err
			}
			vt, err := dbusType(sig[3 : len(sig)-1])
			if err != nil {
				return nil, err
			}
			return reflect.MapOf(kt, vt), nil
		}
		et, err := dbusType(sig[1:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(et), nil
	case TokenStructOpen:
		parts, err := ParseSignature(sig[1 : len(sig)-1])
		if err != nil {
			return nil, err
		}
		fields := make([]reflect.StructField, len(parts))
		for i, part := range parts {
			ft, err := dbusType(part)
			if err != nil {
				return nil, err
			}
			fields[i] = reflect.StructField{Name: "F" + strconv.Itoa(i), Type: ft}
		}
		return reflect.StructOf(fields), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, sig)
}

// toDBus converts a wire value into the godbus value of the same signature.
func toDBus(w any, sig string) (reflect.Value, error) {
	t, err := dbusType(sig)
	if err != nil {
		return reflect.Value{}, err
	}
	switch sig[0] {
	case TokenObjectPath:
		return reflect.ValueOf(dbus.ObjectPath(w.(ObjectPath))), nil
	case TokenSignature:
		s, err := dbus.ParseSignature(string(w.(Signature)))
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s), nil
	case TokenUnixFD:
		return reflect.ValueOf(dbus.UnixFD(w.(UnixFD))), nil
	case TokenVariant:
		vr := w.(Variant)
		if vr.IsEmpty() {
			return reflect.Value{}, fmt.Errorf("empty variant")
		}
		inner, err := toDBus(vr.value, vr.sig)
		if err != nil {
			return reflect.Value{}, err
		}
		s, err := dbus.ParseSignature(vr.sig)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(dbus.MakeVariantWithSignature(inner.Interface(), s)), nil
	case TokenArray:
		if sig[1] == TokenDictOpen {
			keySig, valSig := sig[2:3], sig[3:len(sig)-1]
			entries := w.([]dictEntry)
			out := reflect.MakeMapWithSize(t, len(entries))
			for _, e := range entries {
				k, err := toDBus(e.Key, keySig)
				if err != nil {
					return reflect.Value{}, err
				}
				v, err := toDBus(e.Value, valSig)
				if err != nil {
					return reflect.Value{}, err
				}
				out.SetMapIndex(k, v)
			}
			return out, nil
		}
		items := w.([]any)
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, it := range items {
			v, err := toDBus(it, sig[1:])
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(v)
		}
		return out, nil
	case TokenStructOpen:
		parts, _ := ParseSignature(sig[1 : len(sig)-1])
		fields := w.([]any)
		out := reflect.New(t).Elem()
		for i, f := range fields {
			v, err := toDBus(f, parts[i])
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(i).Set(v)
		}
		return out, nil
	}
	return reflect.ValueOf(w).Convert(t), nil
}

// dbusSignatureOf infers the signature of a value decoded by godbus, which
// hands out structs as []any.
func dbusSignatureOf(v reflect.Value) (string, error) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if !v.IsValid() {
		return "", &UnsupportedTypeError{Reason: "nil value"}
	}
	switch x := v.Interface().(type) {
	case dbus.Variant:
		return string(TokenVariant), nil
	case dbus.ObjectPath:
		return string(TokenObjectPath), nil
	case dbus.Signature:
		return string(TokenSignature), nil
	case dbus.UnixFD, dbus.UnixFDIndex:
		return string(TokenUnixFD), nil
	case []any:
		sig := string(TokenStructOpen)
		for _, f := range x {
			fs, err := dbusSignatureOf(reflect.ValueOf(f))
			if err != nil {
				return "", err
			}
			sig += fs
		}
		return sig + string(TokenStructEnd), nil
	}
	switch v.Kind() {
	case reflect.Slice:
		if v.Len() > 0 {
			es, err := dbusSignatureOf(v.Index(0))
			if err != nil {
				return "", err
			}
			return string(TokenArray) + es, nil
		}
		es, err := dbusTypeSignature(v.Type().Elem())
		if err != nil {
			return "", err
		}
		return string(TokenArray) + es, nil
	case reflect.Map:
		ks, err := dbusTypeSignature(v.Type().Key())
		if err != nil {
			return "", err
		}
		var vs string
		if it := v.MapRange(); it.Next() {
			vs, err = dbusSignatureOf(it.Value())
		} else {
			vs, err = dbusTypeSignature(v.Type().Elem())
		}
		if err != nil {
			return "", err
		}
		return string(TokenArray) + string(TokenDictOpen) + ks + vs + string(TokenDictEnd), nil
	}
	return dbusTypeSignature(v.Type())
}

func dbusTypeSignature(t reflect.Type) (string, error) {
	for tok, bt := range dbusBasicTypes {
		if bt == t {
			return string(tok), nil
		}
	}
	switch t.Kind() {
	case reflect.Slice:
		if t.Elem().Kind() != reflect.Interface {
			es, err := dbusTypeSignature(t.Elem())
			if err != nil {
				return "", err
			}
			return string(TokenArray) + es, nil
		}
	case reflect.Map:
		ks, err := dbusTypeSignature(t.Key())
		if err != nil {
			return "", err
		}
		vs, err := dbusTypeSignature(t.Elem())
		if err != nil {
			return "", err
		}
		return string(TokenArray) + string(TokenDictOpen) + ks + vs + string(TokenDictEnd), nil
	}
	return "", &UnsupportedTypeError{Type: t, Reason: "signature cannot be inferred"}
}

// fromDBus converts a godbus value into the wire value of signature sig.
func fromDBus(v any, sig string) (any, error) {
	switch x := v.(type) {
	case dbus.Variant:
		inner := x.Signature().String()
		w, err := fromDBus(x.Value(), inner)
		if err != nil {
			return nil, err
		}
		return Variant{sig: inner, value: w}, nil
	case dbus.ObjectPath:
		return ObjectPath(x), nil
	case dbus.Signature:
		return Signature(x.String()), nil
	case dbus.UnixFD:
		return UnixFD(x), nil
	case dbus.UnixFDIndex:
		return UnixFD(x), nil
	}

	rv := reflect.ValueOf(v)
	switch sig[0] {
	case TokenArray:
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Map {
			return nil, &SignatureMismatchError{Expected: sig, Actual: rv.Type().String()}
		}
		if sig[1] == TokenDictOpen {
			keySig, valSig := sig[2:3], sig[3:len(sig)-1]
			entries := make([]dictEntry, 0, rv.Len())
			for it := rv.MapRange(); it.Next(); {
				k, err := fromDBus(it.Key().Interface(), keySig)
				if err != nil {
					return nil, err
				}
				val, err := fromDBus(it.Value().Interface(), valSig)
				if err != nil {
					return nil, err
				}
				entries = append(entries, dictEntry{Key: k, Value: val})
			}
			sort.Slice(entries, func(i, j int) bool { return lessKey(entries[i].Key, entries[j].Key) })
			return entries, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			e, err := fromDBus(rv.Index(i).Interface(), sig[1:])
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case TokenStructOpen:
		fields, ok := v.([]any)
		if !ok {
			return nil, &SignatureMismatchError{Expected: sig, Actual: rv.Type().String()}
		}
		parts, err := ParseSignature(sig[1 : len(sig)-1])
		if err != nil {
			return nil, err
		}
		if len(parts) != len(fields) {
			return nil, &SignatureMismatchError{Expected: sig, Actual: fmt.Sprintf("struct of %d fields", len(fields))}
		}
		out := make([]any, len(fields))
		for i, f := range fields {
			e, err := fromDBus(f, parts[i])
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	}

	t, ok := dbusBasicTypes[sig[0]]
	if !ok || rv.Type() != t {
		return nil, &SignatureMismatchError{Expected: sig, Actual: rv.Type().String()}
	}
	return v, nil
}
