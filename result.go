// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"reflect"
	"sync"
)

// asyncResult is implemented by the Result continuations. A method handler
// whose first parameter is one of them produces its reply through it instead
// of returning values.
type asyncResult interface {
	resultTypes() []reflect.Type
	bind(send func(vals []any, err error))
}

var asyncResultType = reflect.TypeOf((*asyncResult)(nil)).Elem()

type resultCore struct {
	once sync.Once
	send func(vals []any, err error)
}

func (c *resultCore) bind(send func(vals []any, err error)) { c.send = send }

func (c *resultCore) finish(vals []any, err error) {
	c.once.Do(func() {
		if c.send != nil {
			c.send(vals, err)
		}
	})
}

// ReturnError completes the call with an error. Only the first Return or
// ReturnError has an effect.
func (c *resultCore) ReturnError(err error) { c.finish(nil, err) }

// Result0 completes a method call that has no results.
type Result0 struct{ resultCore }

func (*Result0) resultTypes() []reflect.Type { return nil }

// Return completes the call.
func (r *Result0) Return() { r.finish(nil, nil) }

// Result completes a method call with one result.
type Result[T any] struct{ resultCore }

func (*Result[T]) resultTypes() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[T]()}
}

// Return completes the call with v.
func (r *Result[T]) Return(v T) { r.finish([]any{v}, nil) }

// Result2 completes a method call with two results.
type Result2[A, B any] struct{ resultCore }

func (*Result2[A, B]) resultTypes() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B]()}
}

// Return completes the call with a and b.
func (r *Result2[A, B]) Return(a A, b B) { r.finish([]any{a, b}, nil) }

// Result3 completes a method call with three results.
type Result3[A, B, C any] struct{ resultCore }

func (*Result3[A, B, C]) resultTypes() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B](), reflect.TypeFor[C]()}
}

// Return completes the call with a, b and c.
func (r *Result3[A, B, C]) Return(a A, b B, c C) { r.finish([]any{a, b, c}, nil) }
