// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	rpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond

	// jsonRPCMethod is the single JSON-RPC method every call travels through.
	jsonRPCMethod  = "Bus.Call"
	jsonRPCService = "Bus"
)

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
// This avoids EOF errors that can occur with connection pooling in complex
// process hierarchies.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}

// Option configures a JSONRPCProxy.
type Option func(*Options)

// Options holds the HTTP request settings of a JSONRPCProxy.
type Options struct {
	headers        http.Header
	queryParams    url.Values
	maxRetries     uint64
	defaultTimeout time.Duration
	destination    string
}

// NewOptions applies options over the defaults.
func NewOptions(ops []Option) *Options {
	o := &Options{
		headers:        http.Header{},
		queryParams:    url.Values{},
		maxRetries:     maxRetries,
		defaultTimeout: DefaultCallTimeout,
	}
	for _, op := range ops {
		op(o)
	}
	return o
}

// WithHeader adds an HTTP header to every request.
func WithHeader(key, val string) Option {
	return func(o *Options) { o.headers.Add(key, val) }
}

// WithQueryParam adds a URL query parameter to every request.
func WithQueryParam(key, val string) Option {
	return func(o *Options) { o.queryParams.Add(key, val) }
}

// WithMaxRetries sets how many times a request failing with a transient
// network error is retried.
func WithMaxRetries(n uint64) Option {
	return func(o *Options) { o.maxRetries = n }
}

// WithCallTimeout sets the timeout used by calls made with TimeoutDefault.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Options) { o.defaultTimeout = d }
}

// WithDestination sets the destination stamped on outgoing calls.
func WithDestination(dest string) Option {
	return func(o *Options) { o.destination = dest }
}

// JSONRPCProxy is a Proxy that sends each method call as one JSON-RPC 2.0
// request over HTTP. Signals are not carried.
type JSONRPCProxy struct {
	uri      *url.URL
	path     ObjectPath
	ops      *Options
	log      *zap.Logger
	dispatch *dispatcher
	serial   atomic.Uint32
}

// NewJSONRPCProxy returns a proxy for the object at path served by the
// JSON-RPC endpoint.
func NewJSONRPCProxy(endpoint string, path ObjectPath, options ...Option) (*JSONRPCProxy, error) {
	uri, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if !path.IsValid() {
		return nil, fmt.Errorf("invalid object path %q", path)
	}
	ops := NewOptions(options)
	uri.RawQuery = ops.queryParams.Encode()
	return &JSONRPCProxy{
		uri:      uri,
		path:     path,
		ops:      ops,
		log:      Logger().With(zap.String("endpoint", uri.Redacted())),
		dispatch: newDispatcher(),
	}, nil
}

// Close stops delivering async replies.
func (p *JSONRPCProxy) Close() error {
	p.dispatch.stop()
	return nil
}

func (p *JSONRPCProxy) CreateMethodCall(iface, method string) *Message {
	return NewMethodCall(p.ops.destination, p.path, iface, method)
}

func (p *JSONRPCProxy) CallMethod(ctx context.Context, call *Message, timeout Timeout) (*Message, error) {
	call.Serial = p.serial.Add(1)
	env, err := newEnvelope(call)
	if err != nil {
		return nil, err
	}
	if d, ok := timeout.Duration(p.ops.defaultTimeout); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	out, err := p.send(ctx, env)
	if err != nil {
		var jerr *json2.Error
		switch {
		case errors.As(err, &jerr):
			return nil, remoteFromJSONRPC(jerr)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, ErrTimeout
		}
		return nil, err
	}
	if call.NoReply {
		return nil, nil
	}
	reply, err := out.Message()
	if err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	return reply, nil
}

func (p *JSONRPCProxy) CallMethodAsync(call *Message, handler AsyncReplyHandler, timeout Timeout) (*PendingAsyncCall, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ac, pending := newAsyncCall(handler)
	ac.release = cancel
	go func() {
		defer cancel()
		reply, err := p.CallMethod(ctx, call, timeout)
		if !p.dispatch.post(func() { ac.deliver(reply, err) }) {
			p.log.Debug("dropping reply after close", zap.String("member", call.Member))
		}
	}()
	return pending, nil
}

func (p *JSONRPCProxy) RegisterSignalHandler(string, string, SignalHandler) (*Slot, error) {
	return nil, ErrNotSupported
}

func (p *JSONRPCProxy) UnregisterSignalHandler(string, string) error {
	return ErrNotSupported
}

// send posts one request, retrying transient network failures with
// exponential backoff.
func (p *JSONRPCProxy) send(ctx context.Context, env *Envelope) (*Envelope, error) {
	requestBodyBytes, err := json2.EncodeClientRequest(jsonRPCMethod, env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client params: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryBaseWait
	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.ops.maxRetries), ctx)

	attempt := 0
	op := func() (*Envelope, error) {
		attempt++
		request, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			p.uri.String(),
			bytes.NewReader(requestBodyBytes),
		)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		request.Header = p.ops.headers.Clone()
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			if isRetryableError(err) && ctx.Err() == nil {
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to issue request: %w", err))
		}
		defer CleanlyCloseBody(resp.Body)
		if attempt > 1 {
			p.log.Debug("request succeeded after retry", zap.Int("attempt", attempt))
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, backoff.Permanent(fmt.Errorf("received status code: %d", resp.StatusCode))
		}
		out := new(Envelope)
		if err := json2.DecodeClientResponse(resp.Body, out); err != nil {
			var jerr *json2.Error
			if errors.As(err, &jerr) {
				return nil, backoff.Permanent(jerr)
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to decode client response: %w", err))
		}
		return out, nil
	}
	notify := func(err error, wait time.Duration) {
		p.log.Debug("request attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	out, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil && isRetryableError(err) {
		return nil, fmt.Errorf("failed to issue request after %d attempts: %w", attempt, err)
	}
	return out, err
}

func remoteFromJSONRPC(jerr *json2.Error) *Error {
	name, _ := jerr.Data.(string)
	if name == "" {
		name = ErrorNameFailed
	}
	return &Error{Name: name, Message: jerr.Message}
}

// JSONRPCServer serves exported objects to JSON-RPC 2.0 clients over HTTP.
// Unlike a Connection, handlers of concurrent requests run concurrently.
type JSONRPCServer struct {
	rpc     *rpc.Server
	objects *objectTable
}

// NewJSONRPCServer returns an http.Handler serving the Bus.Call method.
func NewJSONRPCServer() (*JSONRPCServer, error) {
	s := &JSONRPCServer{
		rpc:     rpc.NewServer(),
		objects: newObjectTable(),
	}
	s.rpc.RegisterCodec(json2.NewCodec(), "application/json")
	if err := s.rpc.RegisterService(&busService{objects: s.objects}, jsonRPCService); err != nil {
		return nil, fmt.Errorf("register bus service: %w", err)
	}
	return s, nil
}

// ExportObject serves a new object at path. Signals it emits are dropped.
func (s *JSONRPCServer) ExportObject(path ObjectPath) (*LocalObject, error) {
	return s.objects.export(path, func(*Message) error { return ErrNotSupported })
}

// UnexportObject stops serving the object at path.
func (s *JSONRPCServer) UnexportObject(path ObjectPath) {
	s.objects.remove(path)
}

func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.rpc.ServeHTTP(w, r)
}

type busService struct {
	objects *objectTable
}

// Call runs one method call against the exported objects.
func (b *busService) Call(r *http.Request, args *Envelope, reply *Envelope) error {
	call, err := args.Message()
	if err != nil {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: err.Error(), Data: ErrorNameInvalidArgs}
	}
	if call.Type != MsgMethodCall {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "not a method call", Data: ErrorNameInvalidArgs}
	}

	replies := make(chan *Message, 1)
	b.objects.serve(call, func(m *Message) {
		select {
		case replies <- m:
		default:
		}
	})
	if call.NoReply {
		*reply = Envelope{}
		return nil
	}

	var m *Message
	select {
	case m = <-replies:
	case <-r.Context().Done():
		return r.Context().Err()
	}

	if err := m.Err(); err != nil {
		re := toRemoteError(err)
		return &json2.Error{Code: json2.E_SERVER, Message: re.Message, Data: re.Name}
	}
	env, err := newEnvelope(m)
	if err != nil {
		return &json2.Error{Code: json2.E_INTERNAL, Message: err.Error(), Data: ErrorNameFailed}
	}
	*reply = *env
	return nil
}
