// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"fmt"
	"sync"
)

// Future is the single-resolution result of an asynchronous call. It is
// resolved exactly once, either with a value or with an error.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// NewPromise returns an unresolved future and the function that resolves
// it. Only the first call to resolve has an effect.
func NewPromise[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.resolve
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
	})
}

// Done is closed when the future is resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Get waits for the future to resolve or ctx to end.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("future await cancelled: %w", ctx.Err())
	}
}

// IsPending reports whether the future is still unresolved.
func (f *Future[T]) IsPending() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}
