package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/filexfer/internal/cliconfig"
	"github.com/cyberinferno/filexfer/receiver"
)

// Receipt backends.
const (
	receiptsNone   = "none"
	receiptsMemory = "memory"
	receiptsRedis  = "redis"
)

type fileConfig struct {
	Name           string `toml:"name" yaml:"name"`
	Addr           string `toml:"addr" yaml:"addr"`
	Dir            string `toml:"dir" yaml:"dir"`
	LogLevel       string `toml:"log_level" yaml:"log_level"`
	LogDir         string `toml:"log_dir" yaml:"log_dir"`
	MaxFileSize    uint64 `toml:"max_file_size" yaml:"max_file_size"`
	IdleTimeout    string `toml:"idle_timeout" yaml:"idle_timeout"`
	ReadTimeout    string `toml:"read_timeout" yaml:"read_timeout"`
	SendAcks       bool   `toml:"send_acks" yaml:"send_acks"`
	StatusInterval string `toml:"status_interval" yaml:"status_interval"`
	Receipts       string `toml:"receipts" yaml:"receipts"`
	ReceiptTTL     string `toml:"receipt_ttl" yaml:"receipt_ttl"`
	RedisAddr      string `toml:"redis_addr" yaml:"redis_addr"`
	RedisNamespace string `toml:"redis_namespace" yaml:"redis_namespace"`
	MetricsAddr    string `toml:"metrics_addr" yaml:"metrics_addr"`
}

type receiverConfig struct {
	Server         receiver.Config
	LogLevel       string
	LogDir         string
	StatusInterval time.Duration
	Receipts       string
	ReceiptTTL     time.Duration
	RedisAddr      string
	RedisNamespace string
	MetricsAddr    string
}

func defaultReceiverConfig() receiverConfig {
	return receiverConfig{
		Server:         receiver.DefaultConfig(),
		LogLevel:       "info",
		StatusInterval: time.Minute,
		Receipts:       receiptsMemory,
		ReceiptTTL:     24 * time.Hour,
		RedisAddr:      "localhost:6379",
	}
}

func loadReceiverConfig(path string, getenv func(string) string) (receiverConfig, error) {
	cfg := defaultReceiverConfig()

	if path != "" {
		var raw fileConfig
		meta, err := cliconfig.DecodeFile(path, &raw)
		if err != nil {
			return receiverConfig{}, err
		}

		if meta.IsDefined("name") {
			if name := strings.TrimSpace(raw.Name); name != "" {
				cfg.Server.Name = name
			}
		}

		if meta.IsDefined("addr") {
			cfg.Server.Addr = strings.TrimSpace(raw.Addr)
		}

		if meta.IsDefined("dir") {
			cfg.Server.Dir = strings.TrimSpace(raw.Dir)
		}

		if meta.IsDefined("log_level") {
			cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
		}

		if meta.IsDefined("log_dir") {
			cfg.LogDir = strings.TrimSpace(raw.LogDir)
		}

		if meta.IsDefined("max_file_size") {
			cfg.Server.Limits.MaxFileSize = raw.MaxFileSize
		}

		if meta.IsDefined("idle_timeout") {
			d, err := cliconfig.ParseDuration("idle_timeout", raw.IdleTimeout)
			if err != nil {
				return receiverConfig{}, err
			}
			cfg.Server.IdleTimeout = d
		}

		if meta.IsDefined("read_timeout") {
			d, err := cliconfig.ParseDuration("read_timeout", raw.ReadTimeout)
			if err != nil {
				return receiverConfig{}, err
			}
			cfg.Server.ReadTimeout = d
		}

		if meta.IsDefined("send_acks") {
			cfg.Server.SendAcks = raw.SendAcks
		}

		if meta.IsDefined("status_interval") {
			d, err := cliconfig.ParseDuration("status_interval", raw.StatusInterval)
			if err != nil {
				return receiverConfig{}, err
			}
			cfg.StatusInterval = d
		}

		if meta.IsDefined("receipts") {
			cfg.Receipts = strings.ToLower(strings.TrimSpace(raw.Receipts))
		}

		if meta.IsDefined("receipt_ttl") {
			d, err := cliconfig.ParseDuration("receipt_ttl", raw.ReceiptTTL)
			if err != nil {
				return receiverConfig{}, err
			}
			cfg.ReceiptTTL = d
		}

		if meta.IsDefined("redis_addr") {
			cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
		}

		if meta.IsDefined("redis_namespace") {
			cfg.RedisNamespace = strings.TrimSpace(raw.RedisNamespace)
		}

		if meta.IsDefined("metrics_addr") {
			cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
		}
	}

	if v, ok := cliconfig.Getenv(getenv, cliconfig.EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := cliconfig.Getenv(getenv, cliconfig.EnvRedisAddr); ok {
		cfg.RedisAddr = v
	}

	return cfg, nil
}

func (c receiverConfig) validate() error {
	switch c.Receipts {
	case receiptsNone, receiptsMemory, receiptsRedis:
	default:
		return fmt.Errorf("receipts must be %q, %q or %q, got %q", receiptsNone, receiptsMemory, receiptsRedis, c.Receipts)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.Server.Dir == "" {
		return fmt.Errorf("dir must not be empty")
	}

	return nil
}
