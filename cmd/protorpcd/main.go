// Command protorpcd serves the demo Test and Math services.
//
//	protorpcd [-config protorpcd.toml] [-addr host:port] [-mode blocking|async]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/config"
	"protorpc/internal/demo"
	"protorpc/logging"
	"protorpc/metrics"
	"protorpc/middleware"
	"protorpc/server"
	"protorpc/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	addr := flag.String("addr", "", "listen address (overrides the config)")
	mode := flag.String("mode", "", "blocking or async (overrides the config)")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "protorpcd: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "protorpcd: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "protorpcd: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen failed", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	if err := run(ctx, cfg, ln, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// run serves on ln until ctx ends, then shuts down.
func run(ctx context.Context, cfg config.ServerConfig, ln net.Listener, logger *zap.Logger) error {
	var m *metrics.Metrics
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			return err
		}
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	opts := serverOptions(cfg, logger, m)
	errc := make(chan error, 1)
	var shutdown func() error

	switch cfg.Mode {
	case config.ModeAsync:
		f := transport.NewFactory(server.NewDispatcher(demo.Registry(), opts...),
			transport.WithHeartbeat(cfg.HeartbeatInterval.Duration),
			transport.WithLogger(logger),
			transport.WithMetrics(m),
			transport.WithMaxFrameSize(cfg.MaxFrameSize),
		)
		f.OnConnect(func(c *transport.Conn) {
			logger.Info("peer connected", zap.Stringer("peer", c.RemoteAddr()))
		})
		f.OnDisconnect(func(peer net.Addr, _ *transport.Conn, err error) {
			logger.Info("peer disconnected", zap.Stringer("peer", peer), zap.Error(err))
		})
		go func() { errc <- f.Serve(ln) }()
		shutdown = f.Close
	default:
		svr := server.NewServer(demo.Registry(), opts...)
		go func() { errc <- svr.Serve(ln) }()
		shutdown = func() error { return svr.Shutdown(cfg.ShutdownTimeout.Duration) }
	}

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		err = shutdown()
		err = multierr.Append(err, <-errc)
	case err = <-errc:
		err = multierr.Append(err, shutdown())
	}
	if metricsSrv != nil {
		err = multierr.Append(err, metricsSrv.Close())
	}
	return err
}

func serverOptions(cfg config.ServerConfig, logger *zap.Logger, m *metrics.Metrics) []server.Option {
	mws := []middleware.Middleware{
		middleware.RecoverMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.HandlerTimeout.Duration > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.HandlerTimeout.Duration))
	}
	return []server.Option{
		server.WithCodec(codec.GetCodec(cfg.CodecType())),
		server.WithMiddleware(mws...),
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithMaxFrameSize(cfg.MaxFrameSize),
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
