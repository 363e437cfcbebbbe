// Command protorpc calls the demo services on a protorpcd server and prints the response as JSON.
//
//	protorpc [-config protorpc.toml] [-addr host:port] [-mode blocking|async] Math.Add 2 2
//	protorpc Math.Multiply 3 4
//	protorpc Test.Echo hello
//	protorpc Test.Ping
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"protorpc/client"
	"protorpc/codec"
	"protorpc/config"
	"protorpc/internal/demo"
	"protorpc/logging"
	"protorpc/message"
	"protorpc/service"
	"protorpc/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	addr := flag.String("addr", "", "server address (overrides the config)")
	mode := flag.String("mode", "", "blocking or async (overrides the config)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: protorpc [flags] Service.Method [args...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "protorpc: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "protorpc: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "protorpc: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(context.Background(), cfg, flag.Args(), os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "protorpc: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// Remote errors exit with 10 plus the error code; codes this build does not know share one status.
const exitUnknownRemote = 19

func exitCode(err error) int {
	re, ok := message.IsRemote(err)
	if !ok {
		return 1
	}
	if !re.Code.Known() {
		return exitUnknownRemote
	}
	return 10 + int(re.Code)
}

// run performs one call described by args and writes the response to out.
func run(ctx context.Context, cfg config.ClientConfig, args []string, out io.Writer, logger *zap.Logger) error {
	if len(args) == 0 {
		return errors.New("missing Service.Method")
	}
	svcName, methodName, ok := message.SplitMethod(args[0])
	if !ok {
		return fmt.Errorf("bad method %q, want Service.Method", args[0])
	}
	desc, err := descFor(svcName)
	if err != nil {
		return err
	}
	method, ok := desc.Method(methodName)
	if !ok {
		return fmt.Errorf("unknown method %s", args[0])
	}
	req := method.NewRequest()
	if err := fillRequest(req, args[1:]); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	caller, closer, err := dial(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closer()

	if cfg.CallTimeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CallTimeout.Duration)
		defer cancel()
	}
	resp, err := client.NewStub(caller, desc).Invoke(ctx, methodName, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	return enc.Encode(resp)
}

func descFor(name string) (*service.Desc, error) {
	switch name {
	case "Math":
		return demo.MathService(), nil
	case "Test":
		return demo.TestService(), nil
	default:
		return nil, fmt.Errorf("unknown service %s", name)
	}
}

func fillRequest(req any, args []string) error {
	switch r := req.(type) {
	case *demo.MathRequest:
		if len(args) != 2 {
			return errors.New("want two integers")
		}
		var err error
		if r.First, err = strconv.ParseInt(args[0], 10, 64); err != nil {
			return err
		}
		if r.Second, err = strconv.ParseInt(args[1], 10, 64); err != nil {
			return err
		}
	case *demo.EchoRequest:
		r.Text = strings.Join(args, " ")
	case *demo.PingRequest:
		if len(args) != 0 {
			return errors.New("takes no arguments")
		}
	}
	return nil
}

func dial(ctx context.Context, cfg config.ClientConfig, logger *zap.Logger) (client.Caller, func(), error) {
	payloadCodec := codec.GetCodec(cfg.CodecType())
	switch cfg.Mode {
	case config.ModeAsync:
		conn, err := transport.Dial(ctx, "tcp", cfg.Addr, transport.WithCodec(payloadCodec), transport.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return conn, func() { conn.Close() }, nil
	default:
		pool := client.NewPool(cfg.Addr, cfg.PoolSize, nil, client.WithCodec(payloadCodec), client.WithLogger(logger))
		return pool, func() { pool.Close() }, nil
	}
}
