// Package receiver implements the receiving peer of a length-prefixed file
// transfer. It accepts TCP connections, reads frames (an 8-byte big-endian
// length followed by that many bytes) and writes each one to its own file.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/filexfer/logger"
	"github.com/cyberinferno/filexfer/receiptstore"
)

// FileName returns the name under which frame seq of connection connID is
// stored, e.g. "3_1.file".
func FileName(connID, seq uint32) string {
	return fmt.Sprintf("%d_%d.file", connID, seq)
}

// Server accepts sender connections and stores what they send. Each connection
// runs in its own goroutine and gets an id from a counter starting at 1.
type Server struct {
	config   Config
	logger   logger.Logger
	receipts receiptstore.Store

	listener net.Listener
	sessions *registry
	running  atomic.Bool
	nextID   atomic.Uint32

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewServer creates a Server. It does not listen until Start.
//
// Parameters:
//   - config: Server settings (e.g. from DefaultConfig)
//   - log: Logger; nil discards entries
//   - receipts: Where receipts are recorded; nil disables recording
//
// Returns:
//   - A new *Server
func NewServer(config Config, log logger.Logger, receipts receiptstore.Store) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Server{
		config:   config,
		logger:   log,
		receipts: receipts,
		sessions: newRegistry(),
		done:     make(chan struct{}),
	}
}

// Start creates the output directory, binds to the configured address and runs
// the accept loop in a goroutine.
//
// Returns:
//   - An error if the server already ran, or if the directory or listener
//     cannot be created
func (s *Server) Start() error {
	if s.running.Load() || s.listener != nil {
		return fmt.Errorf("server %s already started", s.config.Name)
	}

	select {
	case <-s.done:
		return fmt.Errorf("server %s already stopped", s.config.Name)
	default:
	}

	if err := os.MkdirAll(s.config.Dir, 0755); err != nil {
		return fmt.Errorf("server %s: create %s: %w", s.config.Name, s.config.Dir, err)
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.config.Name, err)
	}

	s.listener = ln
	s.running.Store(true)

	s.logger.Info(fmt.Sprintf("%s server started", s.config.Name),
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "dir", Value: s.config.Dir})

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every open connection, waits for connection
// goroutines to finish and closes Done. Safe to call more than once and from
// any goroutine other than a connection handler.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.listener != nil {
			_ = s.listener.Close()
		}

		for _, sess := range s.sessions.snapshot() {
			_ = sess.Close()
		}

		s.wg.Wait()
		close(s.done)
		s.logger.Info(fmt.Sprintf("%s server stopped", s.config.Name))
	})
}

// Done is closed once the server has stopped, either through Stop or after
// the idle timeout.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	return s.sessions.len()
}

// Receipt returns the receipt for frame seq of connection connID. On a store
// miss, or when no store is configured, it is rebuilt from the file on disk.
//
// Returns:
//   - The receipt, or an error wrapping receiptstore.ErrNotFound
func (s *Server) Receipt(ctx context.Context, connID, seq uint32) (receiptstore.Receipt, error) {
	fetch := func(ctx context.Context) (receiptstore.Receipt, error) {
		return s.receiptFromDisk(connID, seq)
	}

	if s.receipts == nil {
		return fetch(ctx)
	}

	return s.receipts.GetOrFetch(ctx, receiptstore.Key(connID, seq), fetch)
}

// ForgetConnection drops every stored receipt of connID and returns how many
// were removed. Files on disk are left alone.
func (s *Server) ForgetConnection(ctx context.Context, connID uint32) (int, error) {
	if s.receipts == nil {
		return 0, nil
	}

	return s.receipts.DeleteByPrefix(ctx, receiptstore.ConnPrefix(connID))
}

func (s *Server) receiptFromDisk(connID, seq uint32) (receiptstore.Receipt, error) {
	path := filepath.Join(s.config.Dir, FileName(connID, seq))

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return receiptstore.Receipt{}, fmt.Errorf("%w: %s", receiptstore.ErrNotFound, path)
	}
	if err != nil {
		return receiptstore.Receipt{}, err
	}

	return receiptstore.Receipt{
		ConnID:     connID,
		Seq:        seq,
		Path:       path,
		Size:       uint64(info.Size()),
		ReceivedAt: info.ModTime(),
	}, nil
}

func (s *Server) record(r receiptstore.Receipt) {
	if s.receipts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.receipts.Put(ctx, r); err != nil {
		s.logger.Warn("failed to record receipt", logger.Field{Key: "key", Value: r.Key()}, logger.Field{Key: "error", Value: err})
	}
}

// acceptLoop accepts connections until the server stops. With an idle timeout
// configured, each Accept carries a deadline; expiring while no connection is
// active stops the server.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		if s.config.IdleTimeout > 0 {
			if dl, ok := s.listener.(interface{ SetDeadline(time.Time) error }); ok {
				_ = dl.SetDeadline(time.Now().Add(s.config.IdleTimeout))
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if s.sessions.len() == 0 {
					s.logger.Info(fmt.Sprintf("%s server idle, shutting down", s.config.Name),
						logger.Field{Key: "idle_timeout", Value: s.config.IdleTimeout.String()})
					go s.Stop()
					return
				}
				continue
			}

			s.logger.Error(fmt.Sprintf("%s server accept error", s.config.Name), logger.Field{Key: "error", Value: err})
			continue
		}

		id := s.nextID.Add(1)
		sess := newConnSession(s, id, conn)
		s.sessions.store(id, sess)
		if !s.running.Load() {
			// Stop ran between Accept and store and did not see this session.
			_ = sess.Close()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sessions.delete(id)
			sess.Handle()
		}()
	}
}
