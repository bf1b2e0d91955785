// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"fmt"
	"reflect"
	"sync"
)

// FunctionShape describes a handler function: the payload it takes and the
// results it produces.
type FunctionShape struct {
	// Type is the handler's function type.
	Type reflect.Type

	// Arity is the number of payload parameters.
	Arity int

	// Args are the payload parameter types, excluding a leading error or
	// Result continuation.
	Args []reflect.Type

	// Results are the values the handler produces, excluding a trailing
	// error return.
	Results []reflect.Type

	// HasErrorParam is set when the first parameter is an error.
	HasErrorParam bool

	// IsAsync is set when the first parameter is a Result continuation.
	IsAsync bool

	// ReturnsError is set when the last return value is an error.
	ReturnsError bool
}

var shapeCache sync.Map // reflect.Type -> shapeEntry

type shapeEntry struct {
	shape *FunctionShape
	err   error
}

// ShapeOf returns the shape of handler fn.
func ShapeOf(fn any) (*FunctionShape, error) {
	if fn == nil {
		return nil, fmt.Errorf("ipc: handler cannot be nil")
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("ipc: handler must be a function, got %T", fn)
	}
	if v.IsNil() {
		return nil, fmt.Errorf("ipc: handler function cannot be nil")
	}
	return ShapeOfType(v.Type())
}

// ShapeOfType returns the shape of the function type t. Shapes are computed
// once per type.
func ShapeOfType(t reflect.Type) (*FunctionShape, error) {
	if e, ok := shapeCache.Load(t); ok {
		entry := e.(shapeEntry)
		return entry.shape, entry.err
	}
	shape, err := deriveShape(t)
	actual, _ := shapeCache.LoadOrStore(t, shapeEntry{shape: shape, err: err})
	entry := actual.(shapeEntry)
	return entry.shape, entry.err
}

func deriveShape(t reflect.Type) (*FunctionShape, error) {
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("ipc: %s is not a function type", t)
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("ipc: variadic handler %s is not supported", t)
	}

	s := &FunctionShape{Type: t}
	start := 0
	if t.NumIn() > 0 {
		first := t.In(0)
		switch {
		case first == errorType:
			s.HasErrorParam = true
			start = 1
		case first.Kind() == reflect.Pointer && first.Implements(asyncResultType):
			s.IsAsync = true
			start = 1
			s.Results = reflect.New(first.Elem()).Interface().(asyncResult).resultTypes()
		}
	}
	for i := start; i < t.NumIn(); i++ {
		s.Args = append(s.Args, t.In(i))
	}
	s.Arity = len(s.Args)

	if s.IsAsync {
		if t.NumOut() != 0 {
			return nil, fmt.Errorf("ipc: handler %s takes a Result and must not return values", t)
		}
	} else {
		n := t.NumOut()
		if n > 0 && t.Out(n-1) == errorType {
			s.ReturnsError = true
			n--
		}
		for i := 0; i < n; i++ {
			s.Results = append(s.Results, t.Out(i))
		}
	}

	if _, err := SignatureOfTypes(s.Args...); err != nil {
		return nil, fmt.Errorf("handler %s parameters: %w", t, err)
	}
	if _, err := SignatureOfTypes(s.Results...); err != nil {
		return nil, fmt.Errorf("handler %s results: %w", t, err)
	}
	return s, nil
}

// InputSignature returns the concatenated signature of the payload.
func (s *FunctionShape) InputSignature() string {
	sig, _ := SignatureOfTypes(s.Args...)
	return sig
}

// OutputSignature returns the concatenated signature of the results.
func (s *FunctionShape) OutputSignature() string {
	sig, _ := SignatureOfTypes(s.Results...)
	return sig
}
