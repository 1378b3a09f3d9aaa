package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyberinferno/filexfer/logger"
	"github.com/cyberinferno/filexfer/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadSenderConfig_defaults(t *testing.T) {
	cfg, err := loadSenderConfig("", noEnv)
	require.NoError(t, err)

	assert.Empty(t, cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.WriteTimeout)
	assert.Equal(t, transfer.DefaultConfig().StreamThreshold, cfg.Session.StreamThreshold)
}

func TestLoadSenderConfig_file(t *testing.T) {
	t.Run("toml", func(t *testing.T) {
		path := writeTemp(t, "send.toml", `
addr = "10.1.1.5:9000"
connect_timeout = "2s"
chunk_size = 1024
`)
		cfg, err := loadSenderConfig(path, noEnv)
		require.NoError(t, err)

		assert.Equal(t, "10.1.1.5:9000", cfg.Addr)
		assert.Equal(t, 2*time.Second, cfg.Session.ConnectTimeout)
		assert.Equal(t, 1024, cfg.Session.ChunkSize)
		assert.Equal(t, 30*time.Second, cfg.Session.WriteTimeout, "unset keys keep defaults")
	})

	t.Run("yaml", func(t *testing.T) {
		path := writeTemp(t, "send.yaml", "write_timeout: 0s\nstream_threshold: 4096\nlog_level: warn\n")
		cfg, err := loadSenderConfig(path, noEnv)
		require.NoError(t, err)

		assert.Zero(t, cfg.Session.WriteTimeout)
		assert.Equal(t, int64(4096), cfg.Session.StreamThreshold)
		assert.Equal(t, "warn", cfg.LogLevel)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := writeTemp(t, "send.toml", `log_level = "warn"`)
		cfg, err := loadSenderConfig(path, func(k string) string {
			if k == "FILEXFER_LOG_LEVEL" {
				return "debug"
			}
			return ""
		})
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("invalid values", func(t *testing.T) {
		for _, content := range []string{`connect_timeout = "later"`, `chunk_size = 0`, `stream_threshold = -5`} {
			_, err := loadSenderConfig(writeTemp(t, "bad.toml", content), noEnv)
			assert.Error(t, err, content)
		}
	})
}

func TestRun_rejectsBadInput(t *testing.T) {
	assert.Error(t, run([]string{"-log-level", "loud"}, noEnv))
	assert.Error(t, run([]string{"file.bin"}, noEnv), "files without an address")
	assert.Error(t, run([]string{"-config", "missing.toml"}, noEnv))
}

func TestSendFiles(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	cfg := defaultSenderConfig()
	cfg.Addr = ln.Addr().String()
	files := []string{writeTemp(t, "a.txt", "alpha"), writeTemp(t, "b.txt", "")}

	var out bytes.Buffer
	require.NoError(t, sendFiles(context.Background(), cfg, logger.NewNopLogger(), &out, files))
	assert.Contains(t, out.String(), "Connected to server.")
	assert.Contains(t, out.String(), "Data sent successfully.")

	var data []byte
	select {
	case data = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver saw nothing")
	}

	require.Len(t, data, 8+5+8)
	assert.Equal(t, uint64(5), binary.BigEndian.Uint64(data[:8]))
	assert.Equal(t, "alpha", string(data[8:13]))
	assert.Equal(t, uint64(0), binary.BigEndian.Uint64(data[13:]))
}

func TestSendFiles_stopsAtFirstFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_, _ = io.Copy(io.Discard, conn)
			conn.Close()
		}
	}()

	cfg := defaultSenderConfig()
	cfg.Addr = ln.Addr().String()

	var out bytes.Buffer
	err = sendFiles(context.Background(), cfg, logger.NewNopLogger(), &out, []string{filepath.Join(t.TempDir(), "nope")})

	var se *transfer.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "open file", se.Reason)
}
