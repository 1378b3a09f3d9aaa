// Command filesend sends files to a filerecv peer, each as an 8-byte
// big-endian length followed by the file contents.
//
// Usage:
//
//	filesend [flags] [file ...]
//
// With files and an address, filesend connects, sends each file in order and
// exits. Without files it starts an interactive prompt.
//
// Flags:
//
//	-config string     Config file (.toml, .yaml or .yml)
//	-addr string       Receiver address, host:port
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Send two files and exit
//	filesend -addr 192.168.1.20:9000 photo.jpg notes.txt
//
//	# Interactive session
//	filesend -config ~/.config/filesend.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/filexfer/logger"
	"github.com/cyberinferno/filexfer/transfer"
)

func main() {
	if err := run(os.Args[1:], os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "filesend: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string) error {
	fs := flag.NewFlagSet("filesend", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file (.toml, .yaml or .yml)")
	addr := fs.String("addr", "", "Receiver address, host:port")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadSenderConfig(*configPath, getenv)
	if err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	level, ok := logger.ParseLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if files := fs.Args(); len(files) > 0 {
		if cfg.Addr == "" {
			return errors.New("sending files requires -addr or addr in the config file")
		}
		log := logger.NewConsoleLogger(os.Stderr, "filesend", level)
		return sendFiles(ctx, cfg, log, os.Stdout, files)
	}

	sh, err := newShell(cfg, level)
	if err != nil {
		return err
	}
	sh.Run(ctx)

	return nil
}

// sendFiles sends files over one connection and stops at the first failure.
func sendFiles(ctx context.Context, cfg senderConfig, log logger.Logger, out io.Writer, files []string) error {
	target, err := transfer.ParseTarget(cfg.Addr)
	if err != nil {
		return err
	}

	sess := transfer.NewSession(cfg.Session, log)
	if err := sess.Connect(ctx, target); err != nil {
		return err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			log.Warn("disconnect failed", logger.Field{Key: "error", Value: err})
		}
	}()
	fmt.Fprintln(out, transfer.MsgConnected)

	for _, path := range files {
		n, err := sess.Send(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%s, %d bytes)\n", transfer.MsgSent, path, n)
	}

	return nil
}
