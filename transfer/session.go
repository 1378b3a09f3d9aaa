// Package transfer implements the sending side of a point-to-point file
// transfer. A Session owns one outbound stream connection and sends whole files
// over it, each preceded by its 8-byte big-endian length (see package wire).
//
// Connect and Send block on network and disk I/O. Embedding code that runs an
// event loop must call them from a worker goroutine and marshal the results
// back itself; package hostcontrol does this for interactive callers.
package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cyberinferno/filexfer/logger"
	"github.com/cyberinferno/filexfer/perfmonitor"
	"github.com/cyberinferno/filexfer/wire"
	"github.com/google/uuid"
)

// Session is a single outbound connection plus the framing used to send files
// over it. It starts Idle, becomes Connected after a successful Connect and
// Closed after Disconnect or any I/O failure on the connection. A Closed session
// may Connect again. Only one Send may run at a time.
type Session struct {
	config Config
	logger logger.Logger

	mu         sync.RWMutex
	conn       net.Conn
	writer     *bufio.Writer
	drained    chan struct{}
	state      State
	id         string
	target     Target
	connecting bool
	// generation counts Disconnect calls; a dial that finishes after one
	// is discarded.
	generation uint64

	onStatus   StatusHandler
	onPeerData PeerDataHandler

	sendMu sync.Mutex
	wg     sync.WaitGroup
}

// NewSession creates an Idle Session.
//
// Parameters:
//   - config: Session settings (e.g. from DefaultConfig); zero sizes get defaults
//   - log: Logger for lifecycle and transfer entries; nil discards them
//
// Returns:
//   - A new *Session; call Disconnect when done to release the connection
func NewSession(config Config, log logger.Logger) *Session {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Session{
		config: config.withDefaults(),
		logger: log,
		state:  Idle,
	}
}

// OnStatus registers the handler for status events. Repeated calls replace the
// previous handler; nil clears it.
func (s *Session) OnStatus(handler StatusHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = handler
}

// OnPeerData registers the handler for bytes received from the peer. Repeated
// calls replace the previous handler; nil clears it.
func (s *Session) OnPeerData(handler PeerDataHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPeerData = handler
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ID returns the identifier of the current or most recent connection, or ""
// if the session never connected.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Target returns the endpoint of the current or most recent connection.
func (s *Session) Target() Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// Connect opens a stream connection to target. It blocks for the duration of
// the handshake, bounded by ctx and Config.ConnectTimeout.
//
// Parameters:
//   - ctx: Cancels the dial
//   - target: Remote endpoint; validated before dialing
//
// Returns:
//   - nil once Connected
//   - A *ConnectError otherwise; the state is left as it was, or Closed when a
//     Disconnect ran during the dial (ErrConnectAborted)
func (s *Session) Connect(ctx context.Context, target Target) error {
	if err := target.Validate(); err != nil {
		return &ConnectError{Target: target, Reason: "invalid target", Err: err}
	}

	s.mu.Lock()
	if s.state == Connected {
		s.mu.Unlock()
		return &ConnectError{Target: target, Reason: "session busy", Err: ErrAlreadyConnected}
	}
	if s.connecting {
		s.mu.Unlock()
		return &ConnectError{Target: target, Reason: "session busy", Err: ErrConnectInProgress}
	}
	s.connecting = true
	generation := s.generation
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	if s.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ConnectTimeout)
		defer cancel()
	}

	conn, err := s.config.Dialer.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		cerr := &ConnectError{Target: target, Reason: dialFailureReason(err), Err: err}
		s.logger.Error("connect failed", logger.Field{Key: "addr", Value: target.Address()}, logger.Field{Key: "error", Value: err})
		s.emitStatus(StatusEvent{State: s.State(), Message: MsgConnectFailed, Address: target.Address(), Err: cerr})
		return cerr
	}

	id := uuid.New().String()
	drained := make(chan struct{})

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		_ = conn.Close()

		cerr := &ConnectError{Target: target, Reason: "disconnected", Err: ErrConnectAborted}
		s.logger.Info("connect abandoned", logger.Field{Key: "addr", Value: target.Address()})
		s.emitStatus(StatusEvent{State: s.State(), Message: MsgConnectFailed, Address: target.Address(), Err: cerr})
		return cerr
	}
	s.conn = conn
	s.writer = bufio.NewWriterSize(conn, s.config.WriteBufferSize)
	s.drained = drained
	s.state = Connected
	s.id = id
	s.target = target
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(conn, drained)

	s.logger.Info(MsgConnected, logger.Field{Key: "session", Value: id}, logger.Field{Key: "addr", Value: target.Address()})
	s.emitStatus(StatusEvent{State: Connected, Message: MsgConnected, Address: target.Address()})

	return nil
}

// Send transfers the file at path as one frame: its length as 8 bytes in
// network byte order, then its contents. Success means the bytes were handed
// to the local transport; no acknowledgement is awaited.
//
// Files up to Config.StreamThreshold are read fully before anything is
// written. Larger files are streamed in Config.ChunkSize pieces after the total
// length, and ctx is checked between pieces.
//
// A failure opening or reading the file before the first socket write leaves
// the session Connected. Any failure after that closes the connection so a
// partial frame can never be followed by another send.
//
// Parameters:
//   - ctx: Cancels the send before it starts or between streamed chunks
//   - path: Path to a readable regular file
//
// Returns:
//   - The number of content bytes sent (excluding the length header)
//   - A *SendError on failure, wrapping ErrNotConnected when not Connected
func (s *Session) Send(ctx context.Context, path string) (uint64, error) {
	if !s.sendMu.TryLock() {
		return 0, &SendError{Path: path, Reason: "session busy", Err: ErrSendInProgress}
	}
	defer s.sendMu.Unlock()

	s.mu.RLock()
	conn, w, state, id := s.conn, s.writer, s.state, s.id
	s.mu.RUnlock()

	if state != Connected || conn == nil {
		return 0, &SendError{Path: path, Reason: "not connected", Err: ErrNotConnected}
	}

	if err := ctx.Err(); err != nil {
		return 0, &SendError{Path: path, Reason: "cancelled", Err: err}
	}

	log := s.logger.With(logger.Field{Key: "session", Value: id}, logger.Field{Key: "path", Value: path})

	f, err := os.Open(path)
	if err != nil {
		return 0, s.fileFailure(log, path, "open file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, s.fileFailure(log, path, "stat file", err)
	}
	if !info.Mode().IsRegular() {
		return 0, s.fileFailure(log, path, "open file", fmt.Errorf("%w: %s", ErrNotRegularFile, info.Mode()))
	}

	pm := perfmonitor.NewPerformanceMonitor()
	pm.Start()

	var sent uint64
	var reason string
	if s.config.StreamThreshold > 0 && info.Size() > s.config.StreamThreshold {
		sent, reason, err = s.sendStreamed(ctx, conn, w, f, uint64(info.Size()))
	} else {
		var body []byte
		body, err = io.ReadAll(f)
		if err != nil {
			return 0, s.fileFailure(log, path, "read file", err)
		}
		sent, reason, err = s.sendBuffered(conn, w, body)
	}

	if err != nil {
		serr := &SendError{Path: path, Reason: reason, Err: err}
		log.Error("send failed", logger.Field{Key: "reason", Value: reason}, logger.Field{Key: "error", Value: err})
		s.abort(conn, serr)
		s.emitStatus(StatusEvent{State: s.State(), Message: MsgSendFailed, Address: conn.RemoteAddr().String(), Err: serr})
		return 0, serr
	}

	pm.Stop()
	log.Info(MsgSent, logger.Field{Key: "bytes", Value: sent}, logger.Field{Key: "elapsed_ms", Value: pm.ElapsedMilliseconds()})
	s.emitStatus(StatusEvent{State: Connected, Message: MsgSent, Address: conn.RemoteAddr().String(), Bytes: sent})

	return sent, nil
}

// Disconnect closes the connection if one is open and moves to Closed. Calling
// it on an Idle or Closed session succeeds without doing anything else. A
// Connect still dialing when Disconnect runs fails with ErrConnectAborted.
//
// The write side is shut down first and the peer gets up to
// Config.LingerTimeout to read what was sent and close its end, so data
// already handed to the transport is not discarded by a reset.
//
// Returns:
//   - nil, or a *DisconnectError if closing the open connection failed
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn, drained := s.conn, s.drained
	addr := s.target.Address()
	s.conn = nil
	s.writer = nil
	s.drained = nil
	s.state = Closed
	s.generation++
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.linger(conn, drained)
	err := conn.Close()
	s.wg.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		derr := &DisconnectError{Err: err}
		s.logger.Warn("disconnect failed", logger.Field{Key: "addr", Value: addr}, logger.Field{Key: "error", Value: err})
		s.emitStatus(StatusEvent{State: Closed, Message: MsgDisconnected, Address: addr, Err: derr})
		return derr
	}

	s.logger.Info(MsgDisconnected, logger.Field{Key: "addr", Value: addr})
	s.emitStatus(StatusEvent{State: Closed, Message: MsgDisconnected, Address: addr})

	return nil
}

// linger half-closes conn and waits until the peer closes its end or
// LingerTimeout passes. Connections without CloseWrite are left to Close.
func (s *Session) linger(conn net.Conn, drained <-chan struct{}) {
	hc, ok := conn.(interface{ CloseWrite() error })
	if !ok || s.config.LingerTimeout <= 0 {
		return
	}

	if err := hc.CloseWrite(); err != nil {
		s.logger.Debug("half-close failed", logger.Field{Key: "error", Value: err})
		return
	}

	timer := time.NewTimer(s.config.LingerTimeout)
	defer timer.Stop()

	select {
	case <-drained:
	case <-timer.C:
		s.logger.Debug("peer did not close within linger timeout", logger.Field{Key: "timeout", Value: s.config.LingerTimeout})
	}
}

func (s *Session) sendBuffered(conn net.Conn, w *bufio.Writer, body []byte) (uint64, string, error) {
	n := uint64(len(body))

	if err := s.writeAndFlush(conn, w, func() error { return wire.WriteHeader(w, n) }); err != nil {
		return 0, "write header", err
	}

	if err := s.writeAndFlush(conn, w, func() error {
		_, err := w.Write(body)
		return err
	}); err != nil {
		return 0, "write body", err
	}

	return n, "", nil
}

func (s *Session) sendStreamed(ctx context.Context, conn net.Conn, w *bufio.Writer, f io.Reader, size uint64) (uint64, string, error) {
	if err := s.writeAndFlush(conn, w, func() error { return wire.WriteHeader(w, size) }); err != nil {
		return 0, "write header", err
	}

	var sent uint64
	chunk := uint64(s.config.ChunkSize)
	for sent < size {
		if err := ctx.Err(); err != nil {
			return sent, "cancelled", err
		}

		want := min(chunk, size-sent)
		var n int64
		err := s.writeAndFlush(conn, w, func() error {
			var cerr error
			n, cerr = io.CopyN(w, f, int64(want))
			return cerr
		})
		sent += uint64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sent, "read file", fmt.Errorf("file shrank to %d of %d bytes: %w", sent, size, io.ErrUnexpectedEOF)
			}
			return sent, "write body", err
		}
	}

	return sent, "", nil
}

// writeAndFlush runs write and flushes the buffer under one write deadline.
func (s *Session) writeAndFlush(conn net.Conn, w *bufio.Writer, write func() error) error {
	if s.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	if err := write(); err != nil {
		return err
	}

	return w.Flush()
}

func (s *Session) fileFailure(log logger.Logger, path, reason string, err error) error {
	serr := &SendError{Path: path, Reason: reason, Err: err}
	log.Warn("send rejected", logger.Field{Key: "reason", Value: reason}, logger.Field{Key: "error", Value: err})
	s.emitStatus(StatusEvent{State: s.State(), Message: MsgSendFailed, Address: s.Target().Address(), Err: serr})
	return serr
}

// abort closes conn and moves to Closed if conn is still the current
// connection. It reports whether it did so.
func (s *Session) abort(conn net.Conn, cause error) bool {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return false
	}
	s.conn = nil
	s.writer = nil
	s.drained = nil
	s.state = Closed
	s.mu.Unlock()

	_ = conn.Close()
	s.logger.Warn("connection closed after failure", logger.Field{Key: "error", Value: cause})
	return true
}

// drain reads whatever the peer writes back so the receive buffer never fills
// and reports it through OnPeerData. It exits when the peer closes its end or
// the connection is closed, and then closes drained.
func (s *Session) drain(conn net.Conn, drained chan<- struct{}) {
	defer s.wg.Done()
	defer close(drained)

	buf := make([]byte, s.config.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.emitPeerData(data)
		}

		if err != nil {
			addr := conn.RemoteAddr().String()
			if s.abort(conn, err) {
				s.emitStatus(StatusEvent{State: Closed, Message: MsgConnLost, Address: addr, Err: err})
			}
			return
		}
	}
}

func (s *Session) emitStatus(event StatusEvent) {
	s.mu.RLock()
	handler := s.onStatus
	s.mu.RUnlock()

	if handler != nil {
		event.Timestamp = time.Now()
		go handler(event)
	}
}

func (s *Session) emitPeerData(data []byte) {
	s.mu.RLock()
	handler := s.onPeerData
	s.mu.RUnlock()

	if handler != nil {
		go handler(PeerDataEvent{Data: data, Timestamp: time.Now()})
	}
}
