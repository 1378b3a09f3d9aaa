package receiver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyberinferno/filexfer/logger"
	"github.com/cyberinferno/filexfer/perfmonitor"
	"github.com/cyberinferno/filexfer/receiptstore"
	"github.com/cyberinferno/filexfer/wire"
)

// connSession serves one sender connection: it reads frames until the sender
// closes the stream and stores each frame as a file.
type connSession struct {
	id     uint32
	conn   net.Conn
	server *Server
	log    logger.Logger

	closeOnce sync.Once
	closeErr  error
}

func newConnSession(server *Server, id uint32, conn net.Conn) *connSession {
	return &connSession{
		id:     id,
		conn:   conn,
		server: server,
		log: server.logger.With(
			logger.Field{Key: "conn", Value: id},
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
		),
	}
}

// ID returns the connection id assigned by the server.
func (c *connSession) ID() uint32 {
	return c.id
}

// Handle runs until the sender closes the connection, a frame is rejected or
// an I/O error occurs. Files completed before the failure are kept.
func (c *connSession) Handle() {
	defer c.Close()

	metrics := c.server.config.Metrics
	metrics.connOpened()
	defer metrics.connClosed()

	c.log.Info("connection accepted")
	if c.server.config.SendAcks {
		c.reply(AckConnected)
	}

	r := bufio.NewReader(&stallReader{conn: c.conn, timeout: c.server.config.ReadTimeout})
	for seq := uint32(1); ; seq++ {
		receipt, err := c.receiveFile(r, seq)
		if err == io.EOF {
			c.log.Info("connection closed by sender", logger.Field{Key: "files", Value: seq - 1})
			return
		}
		if err != nil {
			switch {
			case errors.Is(err, wire.ErrFileTooLarge):
				metrics.frameFailed(frameErrTooLarge)
				if c.server.config.SendAcks {
					c.reply(NackTooLarge)
				}
			case errors.Is(err, wire.ErrFrameTruncated), errors.Is(err, wire.ErrShortHeader):
				metrics.frameFailed(frameErrTruncated)
			default:
				metrics.frameFailed(frameErrIO)
			}
			c.log.Warn("receive failed", logger.Field{Key: "seq", Value: seq}, logger.Field{Key: "error", Value: err})
			return
		}

		c.server.record(receipt)
		if c.server.config.SendAcks {
			c.reply(AckFileReceived)
		}
	}
}

// Close closes the connection. Safe to call multiple times.
func (c *connSession) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}

// receiveFile reads one frame into its own file. The file is created only after
// the length header passed the size limit and is removed if the body is
// incomplete.
func (c *connSession) receiveFile(r io.Reader, seq uint32) (receiptstore.Receipt, error) {
	n, err := wire.ReadHeader(r)
	if err != nil {
		return receiptstore.Receipt{}, err
	}

	if err := c.server.config.Limits.CheckSize(n); err != nil {
		return receiptstore.Receipt{}, err
	}

	path := filepath.Join(c.server.config.Dir, FileName(c.id, seq))
	f, err := os.Create(path)
	if err != nil {
		return receiptstore.Receipt{}, fmt.Errorf("create %s: %w", path, err)
	}

	pm := perfmonitor.NewPerformanceMonitor()
	pm.Start()

	err = wire.ReadBody(r, n, f)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return receiptstore.Receipt{}, fmt.Errorf("receive into %s: %w", path, err)
	}

	pm.Stop()
	elapsed := pm.ElapsedMilliseconds()
	c.server.config.Metrics.fileReceived(n, time.Duration(elapsed*float64(time.Millisecond)))
	c.log.Info("file received",
		logger.Field{Key: "seq", Value: seq},
		logger.Field{Key: "path", Value: path},
		logger.Field{Key: "bytes", Value: n},
		logger.Field{Key: "elapsed_ms", Value: elapsed})

	return receiptstore.Receipt{
		ConnID:     c.id,
		Seq:        seq,
		Path:       path,
		Size:       n,
		Remote:     c.conn.RemoteAddr().String(),
		ReceivedAt: time.Now(),
	}, nil
}

func (c *connSession) reply(msg string) {
	if _, err := c.conn.Write([]byte(msg)); err != nil {
		c.log.Debug("acknowledgement not delivered", logger.Field{Key: "error", Value: err})
	}
}

// stallReader refreshes the read deadline before every read so a sender that
// stops mid-frame for longer than timeout is disconnected.
type stallReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (s *stallReader) Read(p []byte) (int, error) {
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return 0, err
		}
	}

	return s.conn.Read(p)
}
