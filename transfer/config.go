package transfer

import (
	"context"
	"net"
	"time"
)

// Dialer opens the stream connection for a Session. *net.Dialer satisfies it;
// tests substitute a recording implementation.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds Session settings.
type Config struct {
	// ConnectTimeout bounds the connect handshake; 0 leaves it to the OS.
	ConnectTimeout time.Duration
	// WriteTimeout bounds each socket write; 0 means no deadline.
	WriteTimeout time.Duration
	// StreamThreshold is the file size above which Send streams from disk in
	// ChunkSize pieces instead of reading the whole file first; 0 never streams.
	StreamThreshold int64
	// ChunkSize is the streaming unit, also the gap between cancellation checks.
	ChunkSize int
	// WriteBufferSize sizes the buffered writer on the connection.
	WriteBufferSize int
	// ReadBufferSize sizes the buffer used to drain inbound peer bytes.
	ReadBufferSize int
	// LingerTimeout bounds how long Disconnect waits for the peer to close
	// after the write side was shut down; 0 closes at once.
	LingerTimeout time.Duration
	// Dialer overrides the default *net.Dialer.
	Dialer Dialer
}

// DefaultConfig returns a Config with no connect or write timeouts, a 5 second
// linger, a 32 MiB streaming threshold, 64 KiB chunks and 4 KiB buffers.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  0,
		WriteTimeout:    0,
		StreamThreshold: 32 * 1024 * 1024,
		ChunkSize:       64 * 1024,
		WriteBufferSize: 4096,
		ReadBufferSize:  4096,
		LingerTimeout:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}

	return c
}
