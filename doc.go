// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ipc is a typed binding for D-Bus style message buses.
//
// Values travel with their type signature. Go types map onto signatures
// through a registry (SignatureOf), messages carry signature-tagged bodies
// (Message, Serialize, Deserialize) and fluent builders turn method calls,
// signals and property access into one-line expressions.
//
// # Transport Selection
//
// ZAP is the default transport: length-prefixed frames over TCP. The memory
// transport connects endpoints of one process. Use build tags to enable
// alternative transports:
//
//	go build              # ZAP and memory
//	go build -tags grpc   # Enable gRPC stream transport
//
// JSONRPCProxy talks to a JSONRPCServer over HTTP, and DBusProxy talks to a
// real D-Bus daemon. All of them implement Proxy.
//
// # Usage
//
// Server usage:
//
//	server, err := ipc.Listen(":9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	obj, _ := server.ExportObject("/com/example/Speaker")
//	obj.RegisterMethod("Describe").OnInterface("com.example.Speaker").
//	    ImplementedAs(func(name string, n int32) (string, error) {
//	        return fmt.Sprintf("%s:%d", name, n), nil
//	    })
//	go server.Serve(ctx)
//
// Client usage:
//
//	conn, err := ipc.Dial(ctx, "localhost:9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//	speaker := conn.NewProxy("com.example", "/com/example/Speaker")
//
//	var s string
//	err = ipc.CallMethod(speaker, "Describe").OnInterface("com.example.Speaker").
//	    WithArguments("vol", int32(3)).StoreResultsTo(&s)
//
//	err = ipc.SetProperty(speaker, "Volume").OnInterface("com.example.Speaker").
//	    ToValue(int32(50))
//
// Async calls deliver the reply to a callback on the connection's dispatch
// goroutine, or through a Future:
//
//	fut, _ := ipc.ResultAsFuture[string](
//	    ipc.CallMethodAsync(speaker, "Describe").OnInterface("com.example.Speaker").
//	        WithArguments("vol", int32(3)))
//	s, err := fut.Get(ctx)
//
// # Architecture
//
// The package separates concerns:
//
//   - signature.go, variant.go, marshal.go, dictstruct.go: type signatures and value encoding
//   - message.go: Message bodies, Serialize and Deserialize
//   - introspect.go, result.go: handler shapes and async results
//   - invoker.go, signal.go, property.go, scope.go: call builders
//   - client.go: Proxy, Object, Transport and Codec interfaces
//   - connection.go, object.go, dispatch.go: peer connections and exported objects
//   - codec.go, envelope.go: JSON frame codec
//   - transport.go, zap.go, dial.go: transport registry, ZAP, Dial and Listen
//   - dial_grpc.go: gRPC transport (requires -tags grpc)
//   - json.go: JSON-RPC proxy and server
//   - dbus.go: proxy for the system D-Bus via godbus
//   - config.go, log.go: viper configuration and zap logging
//
// Application code should only depend on the Proxy and Object interfaces,
// making transport selection a deployment decision rather than a code change.
package ipc
