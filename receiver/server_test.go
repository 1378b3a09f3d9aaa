package receiver

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyberinferno/filexfer/receiptstore"
	"github.com/cyberinferno/filexfer/transfer"
	"github.com/cyberinferno/filexfer/wire"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, receipts receiptstore.Store, mutate func(*Config)) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Dir = t.TempDir()
	cfg.IdleTimeout = 0
	if mutate != nil {
		mutate(&cfg)
	}

	srv := NewServer(cfg, nil, receipts)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv
}

func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	return conn
}

func expectLine(t *testing.T, conn net.Conn, want string) {
	t.Helper()

	buf := make([]byte, len(want))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

func writeFrame(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()

	hdr := wire.EncodeHeader(uint64(len(body)))
	_, err := conn.Write(append(hdr[:], body...))
	require.NoError(t, err)
}

func TestServer_receivesFrames(t *testing.T) {
	store := receiptstore.NewMemoryStore(cache.NoExpiration, time.Minute)
	srv := startServer(t, store, nil)
	conn := dialServer(t, srv)

	expectLine(t, conn, AckConnected)

	bodies := [][]byte{[]byte("first file"), {}, []byte("third")}
	for _, body := range bodies {
		writeFrame(t, conn, body)
		expectLine(t, conn, AckFileReceived)
	}

	for i, body := range bodies {
		seq := uint32(i + 1)
		got, err := os.ReadFile(filepath.Join(srv.config.Dir, FileName(1, seq)))
		require.NoError(t, err)
		assert.Equal(t, len(body), len(got))
		assert.Equal(t, string(body), string(got))

		r, err := srv.Receipt(context.Background(), 1, seq)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(body)), r.Size)
		assert.Equal(t, conn.LocalAddr().String(), r.Remote)
	}

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestServer_connectionIDs(t *testing.T) {
	srv := startServer(t, nil, nil)

	for _, id := range []uint32{1, 2} {
		conn := dialServer(t, srv)
		expectLine(t, conn, AckConnected)
		writeFrame(t, conn, []byte("x"))
		expectLine(t, conn, AckFileReceived)
		require.NoError(t, conn.Close())

		_, err := os.Stat(filepath.Join(srv.config.Dir, FileName(id, 1)))
		assert.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_rejectsOversizedFrame(t *testing.T) {
	srv := startServer(t, nil, func(c *Config) { c.Limits = wire.Limits{MaxFileSize: 4} })
	conn := dialServer(t, srv)
	expectLine(t, conn, AckConnected)

	hdr := wire.EncodeHeader(5)
	_, err := conn.Write(hdr[:])
	require.NoError(t, err)
	expectLine(t, conn, NackTooLarge)

	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	_, err = os.Stat(filepath.Join(srv.config.Dir, FileName(1, 1)))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestServer_truncatedFrameRemovesFile(t *testing.T) {
	srv := startServer(t, nil, nil)
	conn := dialServer(t, srv)
	expectLine(t, conn, AckConnected)

	hdr := wire.EncodeHeader(10)
	_, err := conn.Write(append(hdr[:], "abc"...))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = os.Stat(filepath.Join(srv.config.Dir, FileName(1, 1)))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestServer_withoutAcks(t *testing.T) {
	srv := startServer(t, nil, func(c *Config) { c.SendAcks = false })
	conn := dialServer(t, srv)

	writeFrame(t, conn, []byte("quiet"))
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	_, err := io.ReadAll(conn)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(srv.config.Dir, FileName(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, "quiet", string(got))
}

func TestServer_idleTimeoutStops(t *testing.T) {
	srv := startServer(t, nil, func(c *Config) { c.IdleTimeout = 100 * time.Millisecond })

	select {
	case <-srv.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after the idle timeout")
	}

	_, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	assert.Error(t, err)
}

func TestServer_Receipt(t *testing.T) {
	t.Run("rebuilt from disk without a store", func(t *testing.T) {
		srv := startServer(t, nil, nil)
		conn := dialServer(t, srv)
		expectLine(t, conn, AckConnected)
		writeFrame(t, conn, []byte("on disk"))
		expectLine(t, conn, AckFileReceived)

		r, err := srv.Receipt(context.Background(), 1, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), r.Size)
		assert.Equal(t, filepath.Join(srv.config.Dir, "1_1.file"), r.Path)
	})

	t.Run("unknown frame", func(t *testing.T) {
		srv := startServer(t, receiptstore.NewMemoryStore(time.Minute, time.Minute), nil)

		_, err := srv.Receipt(context.Background(), 9, 9)
		assert.ErrorIs(t, err, receiptstore.ErrNotFound)
	})
}

func TestServer_ForgetConnection(t *testing.T) {
	store := receiptstore.NewMemoryStore(cache.NoExpiration, time.Minute)
	srv := startServer(t, store, nil)
	conn := dialServer(t, srv)
	expectLine(t, conn, AckConnected)

	for i := 0; i < 2; i++ {
		writeFrame(t, conn, []byte("data"))
		expectLine(t, conn, AckFileReceived)
	}

	n, err := srv.ForgetConnection(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = os.Stat(filepath.Join(srv.config.Dir, FileName(1, 2)))
	assert.NoError(t, err, "files stay on disk")
}

func TestServer_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Dir = filepath.Join(t.TempDir(), "nested", "out")
	srv := NewServer(cfg, nil, nil)

	assert.Nil(t, srv.Addr())
	require.NoError(t, srv.Start())
	assert.DirExists(t, cfg.Dir)
	assert.Error(t, srv.Start(), "second start")

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.Stop()
	srv.Stop()
	assert.Zero(t, srv.ActiveConnections())

	select {
	case <-srv.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	assert.Error(t, srv.Start(), "start after stop")
}

func TestServer_withTransferSession(t *testing.T) {
	store := receiptstore.NewMemoryStore(cache.NoExpiration, time.Minute)
	srv := startServer(t, store, nil)

	path := filepath.Join(t.TempDir(), "photo.jpg")
	content := make([]byte, 200*1024)
	for i := range content {
		content[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(path, content, 0644))

	target, err := transfer.ParseTarget(srv.Addr().String())
	require.NoError(t, err)

	sess := transfer.NewSession(transfer.DefaultConfig(), nil)
	require.NoError(t, sess.Connect(context.Background(), target))

	sent, err := sess.Send(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), sent)
	require.NoError(t, sess.Disconnect())

	require.Eventually(t, func() bool {
		n, err := store.Count(context.Background())
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond)

	r, err := srv.Receipt(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), r.Size)

	got, err := os.ReadFile(r.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestServer_metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err, "collectors registered twice")

	srv := startServer(t, nil, func(c *Config) {
		c.Metrics = metrics
		c.Limits = wire.Limits{MaxFileSize: 16}
	})

	conn := dialServer(t, srv)
	expectLine(t, conn, AckConnected)
	writeFrame(t, conn, []byte("abc"))
	expectLine(t, conn, AckFileReceived)
	writeFrame(t, conn, []byte("defg"))
	expectLine(t, conn, AckFileReceived)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.active))
	require.NoError(t, conn.Close())

	conn = dialServer(t, srv)
	expectLine(t, conn, AckConnected)
	hdr := wire.EncodeHeader(17)
	_, err = conn.Write(hdr[:])
	require.NoError(t, err)
	expectLine(t, conn, NackTooLarge)

	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.connections))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.files))
	assert.Equal(t, float64(7), testutil.ToFloat64(metrics.bytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.frameErrors.WithLabelValues(frameErrTooLarge)))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.active))
}

func TestServer_transferSessionDisconnectKeepsLastFile(t *testing.T) {
	for _, acks := range []bool{true, false} {
		srv := startServer(t, nil, func(c *Config) { c.SendAcks = acks })

		path := filepath.Join(t.TempDir(), "last.bin")
		content := bytes.Repeat([]byte{0xab}, 200*1024)
		require.NoError(t, os.WriteFile(path, content, 0644))

		target, err := transfer.ParseTarget(srv.Addr().String())
		require.NoError(t, err)

		sess := transfer.NewSession(transfer.DefaultConfig(), nil)
		require.NoError(t, sess.Connect(context.Background(), target))
		_, err = sess.Send(context.Background(), path)
		require.NoError(t, err)

		// Disconnect right after the send, before the receiver has acknowledged.
		require.NoError(t, sess.Disconnect())

		require.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, 3*time.Second, 10*time.Millisecond)

		got, err := os.ReadFile(filepath.Join(srv.config.Dir, FileName(1, 1)))
		require.NoError(t, err, "acks=%v", acks)
		assert.Equal(t, len(content), len(got), "acks=%v", acks)
	}
}
