// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// finalizer is a builder that can be finalized implicitly. Finalize must be
// a no-op once the builder has executed.
type finalizer interface {
	Finalize() error
}

type deferredFinalize struct {
	f        finalizer
	failures int
}

// Scope finalizes builders that were not executed explicitly when it is
// closed. A builder created before the scope started failing is skipped, so
// a side-effecting call never runs while an unrelated error unwinds.
type Scope struct {
	mu       sync.Mutex
	failures int
	pending  []deferredFinalize
	closed   bool
}

// NewScope returns an open scope.
func NewScope() *Scope {
	return &Scope{}
}

// RunScope runs fn with a fresh scope and closes it afterwards. When fn
// returns an error or panics, builders created before that point are not
// finalized.
func RunScope(fn func(s *Scope) error) (err error) {
	s := NewScope()
	defer func() {
		if r := recover(); r != nil {
			s.Fail(nil)
			_ = s.Close()
			panic(r)
		}
	}()
	if err := fn(s); err != nil {
		s.Fail(err)
		return errors.Join(err, s.Close())
	}
	return s.Close()
}

// Fail records that the scope is unwinding because of err and returns err.
func (s *Scope) Fail(err error) error {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
	return err
}

func (s *Scope) track(f finalizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, deferredFinalize{f: f, failures: s.failures})
}

// Close finalizes every tracked builder that is still unexecuted and was
// created at the current failure level. Closing twice is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending, failures := s.pending, s.failures
	s.pending = nil
	s.mu.Unlock()

	var errs []error
	for _, d := range pending {
		if d.failures != failures {
			Logger().Debug("skipping implicit finalize during failure",
				zap.Int("created_at", d.failures),
				zap.Int("failures", failures),
			)
			continue
		}
		if err := d.f.Finalize(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CallMethod starts a method call that is finalized when s closes.
func (s *Scope) CallMethod(p Proxy, method string) *MethodInvoker {
	m := CallMethod(p, method)
	s.track(m)
	return m
}

// EmitSignal starts a signal emission that is finalized when s closes.
func (s *Scope) EmitSignal(o Object, signal string) *SignalEmitter {
	e := EmitSignal(o, signal)
	s.track(e)
	return e
}
