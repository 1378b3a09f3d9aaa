package transfer

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// rawReceiver accepts connections on loopback and delivers everything each
// connection sent once the sender closes it.
type rawReceiver struct {
	ln       net.Listener
	received chan []byte
	reply    []byte
}

func startRawReceiver(t *testing.T, reply []byte) *rawReceiver {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := &rawReceiver{ln: ln, received: make(chan []byte, 8), reply: reply}
	go r.acceptLoop()
	t.Cleanup(func() { _ = ln.Close() })

	return r
}

func (r *rawReceiver) acceptLoop() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}

		go func() {
			defer conn.Close()
			if len(r.reply) > 0 {
				_, _ = conn.Write(r.reply)
			}
			data, _ := io.ReadAll(conn)
			r.received <- data
		}()
	}
}

func (r *rawReceiver) target() Target {
	return Target{Host: "127.0.0.1", Port: r.ln.Addr().(*net.TCPAddr).Port}
}

func (r *rawReceiver) next(t *testing.T) []byte {
	t.Helper()

	select {
	case data := <-r.received:
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("receiver saw no connection close")
		return nil
	}
}

// recordingConn is an in-memory net.Conn that records writes. Reads block
// until Close.
type recordingConn struct {
	mu       sync.Mutex
	written  bytes.Buffer
	writes   int
	writeErr error
	onWrite  func(n int)

	closeOnce sync.Once
	closed    chan struct{}
	closes    int
}

func newRecordingConn() *recordingConn {
	return &recordingConn{closed: make(chan struct{})}
}

func (c *recordingConn) Read([]byte) (int, error) {
	<-c.closed
	return 0, net.ErrClosed
}

func (c *recordingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	hook := c.onWrite
	c.writes++
	n := c.writes
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return 0, err
	}
	c.written.Write(p)
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	return len(p), nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *recordingConn) bytesWritten() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written.Bytes()...)
}

func (c *recordingConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *recordingConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (c *recordingConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func (c *recordingConn) SetDeadline(time.Time) error      { return nil }
func (c *recordingConn) SetReadDeadline(time.Time) error  { return nil }
func (c *recordingConn) SetWriteDeadline(time.Time) error { return nil }

type mockDialer struct {
	mock.Mock
}

func (m *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	args := m.Called(ctx, network, address)
	conn, _ := args.Get(0).(net.Conn)
	return conn, args.Error(1)
}

func sessionWithConn(t *testing.T, conn net.Conn, cfg Config) *Session {
	t.Helper()

	d := &mockDialer{}
	d.On("DialContext", mock.Anything, "tcp", "127.0.0.1:9000").Return(conn, nil)
	cfg.Dialer = d

	s := NewSession(cfg, nil)
	require.NoError(t, s.Connect(context.Background(), Target{Host: "127.0.0.1", Port: 9000}))
	t.Cleanup(func() { _ = s.Disconnect() })

	return s
}

func writeFile(t *testing.T, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func frameOf(content []byte) []byte {
	h := make([]byte, 8)
	n := uint64(len(content))
	for i := 7; i >= 0; i-- {
		h[i] = byte(n)
		n >>= 8
	}
	return append(h, content...)
}
