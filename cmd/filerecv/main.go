// Command filerecv receives files sent by filesend. Every frame on a
// connection is written to <dir>/<conn>_<seq>.file and acknowledged.
//
// Usage:
//
//	filerecv [flags]
//
// Flags:
//
//	-config string        Config file (.toml, .yaml or .yml)
//	-addr string          Listen address (default ":9000")
//	-dir string           Output directory (default ".")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-log-dir string       Also write daily log files to this directory
//	-idle-timeout value   Stop after this long without connections; 0 disables (default 1m0s)
//	-receipts string      Receipt store: none, memory or redis (default "memory")
//	-metrics-addr string  Serve Prometheus metrics on this address at /metrics
//
// The environment variables FILEXFER_LOG_LEVEL and FILEXFER_REDIS_ADDR
// override the config file; flags override both.
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

	"github.com/cyberinferno/filexfer/logger"
	"github.com/cyberinferno/filexfer/receiptstore"
	"github.com/cyberinferno/filexfer/receiver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:], os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "filerecv: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string) error {
	defaults := defaultReceiverConfig()

	fs := flag.NewFlagSet("filerecv", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file (.toml, .yaml or .yml)")
	addr := fs.String("addr", defaults.Server.Addr, "Listen address")
	dir := fs.String("dir", defaults.Server.Dir, "Output directory")
	logLevel := fs.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	logDir := fs.String("log-dir", "", "Also write daily log files to this directory")
	idleTimeout := fs.Duration("idle-timeout", defaults.Server.IdleTimeout, "Stop after this long without connections; 0 disables")
	receipts := fs.String("receipts", defaults.Receipts, "Receipt store: none, memory or redis")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address at /metrics")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadReceiverConfig(*configPath, getenv)
	if err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "dir":
			cfg.Server.Dir = *dir
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-dir":
			cfg.LogDir = *logDir
		case "idle-timeout":
			cfg.Server.IdleTimeout = *idleTimeout
		case "receipts":
			cfg.Receipts = *receipts
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})

	if err := cfg.validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newReceiptStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var metricsLn net.Listener
	var metricsHandler http.Handler
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if cfg.Server.Metrics, err = receiver.NewMetrics(reg); err != nil {
			return err
		}
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

		if metricsLn, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
	}

	srv := receiver.NewServer(cfg.Server, log, store)
	if err := srv.Start(); err != nil {
		if metricsLn != nil {
			_ = metricsLn.Close()
		}
		return err
	}

	return serve(ctx, srv, store, log, cfg.StatusInterval, metricsLn, metricsHandler)
}

// serve blocks until the server stops on its own or ctx is cancelled. With a
// metrics listener it also serves /metrics until then.
func serve(ctx context.Context, srv *receiver.Server, store receiptstore.Store, log logger.Logger, statusInterval time.Duration, metricsLn net.Listener, metrics http.Handler) error {
	g, ctx := errgroup.WithContext(ctx)

	if metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics)
		httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("serving metrics", logger.Field{Key: "addr", Value: metricsLn.Addr().String()})
			if err := httpSrv.Serve(metricsLn); !errors.Is(err, http.ErrServerClosed) {
				srv.Stop()
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-srv.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
			log.Info("shutdown requested")
			srv.Stop()
		case <-srv.Done():
		}
		return nil
	})

	if statusInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statusInterval)
			defer ticker.Stop()

			for {
				select {
				case <-srv.Done():
					return nil
				case <-ticker.C:
					logStatus(ctx, srv, store, log)
				}
			}
		})
	}

	return g.Wait()
}

func logStatus(ctx context.Context, srv *receiver.Server, store receiptstore.Store, log logger.Logger) {
	fields := []logger.Field{{Key: "connections", Value: srv.ActiveConnections()}}

	if store != nil {
		n, err := store.Count(ctx)
		if err != nil {
			log.Warn("receipt count failed", logger.Field{Key: "error", Value: err})
		} else {
			fields = append(fields, logger.Field{Key: "receipts", Value: n})
		}
	}

	log.Info("status", fields...)
}

func newLogger(cfg receiverConfig) (logger.Logger, error) {
	level, ok := logger.ParseLevel(cfg.LogLevel)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	if cfg.LogDir != "" {
		return logger.NewZerologFileLogger(cfg.Server.Name, cfg.LogDir, level)
	}

	return logger.NewConsoleLogger(os.Stderr, cfg.Server.Name, level), nil
}

// newReceiptStore builds the configured backend. The returned func releases
// it and is never nil.
func newReceiptStore(ctx context.Context, cfg receiverConfig) (receiptstore.Store, func(), error) {
	switch cfg.Receipts {
	case receiptsMemory:
		cleanup := cfg.ReceiptTTL / 2
		if cleanup <= 0 {
			cleanup = time.Minute
		}
		return receiptstore.NewMemoryStore(cfg.ReceiptTTL, cleanup), func() {}, nil

	case receiptsRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}

		store := receiptstore.NewRedisStore(client, cfg.ReceiptTTL, cfg.RedisNamespace)
		return store, func() { _ = client.Close() }, nil

	default:
		return nil, func() {}, nil
	}
}
