// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command ipcctl calls methods, reads and writes properties and watches
// signals of objects exported over the ipc bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cast"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/luxfi/ipc"
)

var cfg ipc.Config

func main() {
	app := cli.NewApp()
	app.Name = "ipcctl"
	app.Usage = "talk to objects on an ipc bus"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "config file path",
		},
		cli.StringFlag{
			Name:  "log, l",
			Usage: "log level: debug,info,warn,error",
		},
		cli.StringFlag{
			Name:  "transport, t",
			Usage: "bus transport",
		},
		cli.StringFlag{
			Name:  "address, a",
			Usage: "bus address",
		},
		cli.StringFlag{
			Name:  "jsonrpc",
			Usage: "JSON-RPC endpoint URL, used instead of the bus",
		},
		cli.BoolFlag{
			Name:  "dbus",
			Usage: "use the D-Bus session bus",
		},
		cli.StringFlag{
			Name:  "dest, d",
			Usage: "destination bus name",
		},
		cli.StringFlag{
			Name:  "path, p",
			Usage: "object path",
			Value: "/",
		},
		cli.StringFlag{
			Name:  "interface, i",
			Usage: "interface name",
		},
	}
	app.Before = setup
	app.Commands = []cli.Command{
		{
			Name:      "call",
			Usage:     "call a method",
			ArgsUsage: "METHOD [SIGNATURE ARG...]",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "no-reply", Usage: "do not wait for a reply"},
			},
			Action: callAction,
		},
		{
			Name:      "get",
			Usage:     "read a property",
			ArgsUsage: "NAME",
			Action:    getAction,
		},
		{
			Name:      "set",
			Usage:     "write a property",
			ArgsUsage: "NAME SIGNATURE VALUE",
			Action:    setAction,
		},
		{
			Name:   "getall",
			Usage:  "read every property of the interface",
			Action: getAllAction,
		},
		{
			Name:      "monitor",
			Usage:     "print occurrences of a signal until interrupted",
			ArgsUsage: "SIGNAL",
			Action:    monitorAction,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ipcctl:", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	var err error
	cfg, err = ipc.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if c.GlobalIsSet("transport") {
		cfg.Transport = c.GlobalString("transport")
	}
	if c.GlobalIsSet("address") {
		cfg.Address = c.GlobalString("address")
	}
	if c.GlobalIsSet("log") {
		cfg.LogLevel = c.GlobalString("log")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	ipc.SetLogger(logger)
	return nil
}

type closer func()

func openProxy(ctx context.Context, c *cli.Context) (ipc.Proxy, closer, error) {
	path := ipc.ObjectPath(c.GlobalString("path"))
	dest := c.GlobalString("dest")
	switch {
	case c.GlobalString("jsonrpc") != "":
		p, err := ipc.NewJSONRPCProxy(c.GlobalString("jsonrpc"), path,
			append(cfg.JSONRPCOptions(), ipc.WithDestination(dest))...)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	case c.GlobalBool("dbus"):
		p, err := ipc.ConnectSessionBus(dest, path)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	}
	conn, err := ipc.Dial(ctx, cfg.Address, cfg.DialOptions()...)
	if err != nil {
		return nil, nil, err
	}
	return conn.NewProxy(dest, path), func() { _ = conn.Close() }, nil
}

func callAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("missing METHOD", 2)
	}
	method := c.Args().First()
	var args []any
	if c.NArg() > 1 {
		var err error
		args, err = coerceArgs(c.Args().Get(1), c.Args()[2:])
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	p, done, err := openProxy(ctx, c)
	if err != nil {
		return err
	}
	defer done()

	iface := c.GlobalString("interface")
	if c.Bool("no-reply") {
		return ipc.CallMethod(p, method).OnInterface(iface).WithArguments(args...).DontExpectReply()
	}

	call := p.CreateMethodCall(iface, method)
	if err := call.Append(args...); err != nil {
		return err
	}
	reply, err := p.CallMethod(ctx, call, ipc.TimeoutOf(cfg.DefaultTimeout))
	if err != nil {
		return err
	}
	for _, v := range reply.Values() {
		fmt.Println(v)
	}
	return nil
}

func getAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: get NAME", 2)
	}
	p, done, err := openProxy(context.Background(), c)
	if err != nil {
		return err
	}
	defer done()

	v, err := ipc.GetProperty(p, c.Args().First()).OnInterface(c.GlobalString("interface"))
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func setAction(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: set NAME SIGNATURE VALUE", 2)
	}
	vals, err := coerceArgs(c.Args().Get(1), c.Args()[2:])
	if err != nil {
		return err
	}
	p, done, err := openProxy(context.Background(), c)
	if err != nil {
		return err
	}
	defer done()

	return ipc.SetProperty(p, c.Args().First()).OnInterface(c.GlobalString("interface")).ToValue(vals[0])
}

func getAllAction(c *cli.Context) error {
	p, done, err := openProxy(context.Background(), c)
	if err != nil {
		return err
	}
	defer done()

	props, err := ipc.GetAllProperties(p).OnInterface(c.GlobalString("interface"))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s = %v\n", name, props[name])
	}
	return nil
}

func monitorAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: monitor SIGNAL", 2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, done, err := openProxy(ctx, c)
	if err != nil {
		return err
	}
	defer done()

	iface := c.GlobalString("interface")
	slot, err := p.RegisterSignalHandler(iface, c.Args().First(), func(m *ipc.Message) {
		fmt.Println(m.Member, m.Values())
	})
	if err != nil {
		return err
	}
	defer slot.Close()

	<-ctx.Done()
	ipc.Logger().Info("monitor stopped", zap.String("signal", c.Args().First()))
	return nil
}

// coerceArgs converts command line strings into values of the basic types
// named by sig, one complete type per string.
func coerceArgs(sig string, raw []string) ([]any, error) {
	parts, err := ipc.ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	if len(parts) != len(raw) {
		return nil, fmt.Errorf("signature %q needs %d values, got %d", sig, len(parts), len(raw))
	}
	out := make([]any, len(parts))
	for i, part := range parts {
		if len(part) != 1 {
			return nil, fmt.Errorf("only basic types are accepted on the command line, got %q", part)
		}
		if out[i], err = coerce(part[0], raw[i]); err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
	}
	return out, nil
}

func coerce(tok byte, s string) (any, error) {
	switch tok {
	case ipc.TokenByte:
		return cast.ToUint8E(s)
	case ipc.TokenBool:
		return cast.ToBoolE(s)
	case ipc.TokenInt16:
		return cast.ToInt16E(s)
	case ipc.TokenUint16:
		return cast.ToUint16E(s)
	case ipc.TokenInt32:
		return cast.ToInt32E(s)
	case ipc.TokenUint32:
		return cast.ToUint32E(s)
	case ipc.TokenInt64:
		return cast.ToInt64E(s)
	case ipc.TokenUint64:
		return cast.ToUint64E(s)
	case ipc.TokenDouble:
		return cast.ToFloat64E(s)
	case ipc.TokenString:
		return s, nil
	case ipc.TokenObjectPath:
		if p := ipc.ObjectPath(s); p.IsValid() {
			return p, nil
		}
		return nil, fmt.Errorf("invalid object path %q", s)
	case ipc.TokenSignature:
		if _, err := ipc.ParseSignature(s); err != nil {
			return nil, err
		}
		return ipc.Signature(s), nil
	}
	return nil, fmt.Errorf("type %q cannot be given on the command line", tok)
}
