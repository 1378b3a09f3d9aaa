package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/filexfer/internal/cliconfig"
	"github.com/cyberinferno/filexfer/transfer"
)

type fileConfig struct {
	Addr            string `toml:"addr" yaml:"addr"`
	LogLevel        string `toml:"log_level" yaml:"log_level"`
	ConnectTimeout  string `toml:"connect_timeout" yaml:"connect_timeout"`
	WriteTimeout    string `toml:"write_timeout" yaml:"write_timeout"`
	StreamThreshold int64  `toml:"stream_threshold" yaml:"stream_threshold"`
	ChunkSize       int    `toml:"chunk_size" yaml:"chunk_size"`
}

type senderConfig struct {
	Addr     string
	LogLevel string
	Session  transfer.Config
}

// The library enforces no timeouts; the command bounds both so an unreachable
// receiver cannot hang a one-shot run.
func defaultSenderConfig() senderConfig {
	session := transfer.DefaultConfig()
	session.ConnectTimeout = 10 * time.Second
	session.WriteTimeout = 30 * time.Second

	return senderConfig{
		LogLevel: "info",
		Session:  session,
	}
}

func loadSenderConfig(path string, getenv func(string) string) (senderConfig, error) {
	cfg := defaultSenderConfig()

	if path != "" {
		var raw fileConfig
		meta, err := cliconfig.DecodeFile(path, &raw)
		if err != nil {
			return senderConfig{}, err
		}

		if meta.IsDefined("addr") {
			cfg.Addr = strings.TrimSpace(raw.Addr)
		}

		if meta.IsDefined("log_level") {
			cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
		}

		if meta.IsDefined("connect_timeout") {
			d, err := cliconfig.ParseDuration("connect_timeout", raw.ConnectTimeout)
			if err != nil {
				return senderConfig{}, err
			}
			cfg.Session.ConnectTimeout = d
		}

		if meta.IsDefined("write_timeout") {
			d, err := cliconfig.ParseDuration("write_timeout", raw.WriteTimeout)
			if err != nil {
				return senderConfig{}, err
			}
			cfg.Session.WriteTimeout = d
		}

		if meta.IsDefined("stream_threshold") {
			if raw.StreamThreshold <= 0 {
				return senderConfig{}, fmt.Errorf("stream_threshold must be positive, got %d", raw.StreamThreshold)
			}
			cfg.Session.StreamThreshold = raw.StreamThreshold
		}

		if meta.IsDefined("chunk_size") {
			if raw.ChunkSize <= 0 {
				return senderConfig{}, fmt.Errorf("chunk_size must be positive, got %d", raw.ChunkSize)
			}
			cfg.Session.ChunkSize = raw.ChunkSize
		}
	}

	if v, ok := cliconfig.Getenv(getenv, cliconfig.EnvLogLevel); ok {
		cfg.LogLevel = v
	}

	return cfg, nil
}
