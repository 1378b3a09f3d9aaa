// Package hostcontrol drives a transfer.Session on behalf of an interactive
// caller. Connect and Send run on a worker goroutine so the caller's loop never
// blocks on the network, only one of them runs at a time, and every outcome is
// reported as a Status carrying the line a user should see.
package hostcontrol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyberinferno/filexfer/logger"
	"github.com/cyberinferno/filexfer/transfer"
)

// Op names the operation a Status reports on.
type Op int

const (
	OpConnect Op = iota
	OpSend
	OpDisconnect
)

// String returns a lower-case name for the operation.
func (o Op) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpSend:
		return "send"
	case OpDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// TextBusy is reported when an operation is requested while another is running.
const TextBusy = "Another operation is still in progress."

var (
	// ErrBusy is the Err of a Status rejected because the worker was busy.
	ErrBusy = errors.New("hostcontrol: operation in progress")
	// ErrClosed is the Err of a Status requested after Close.
	ErrClosed = errors.New("hostcontrol: controller closed")
)

// Status is the outcome of one requested operation.
type Status struct {
	Op        Op
	Text      string    // Line to show the user
	Bytes     uint64    // Bytes sent, for a successful OpSend
	Err       error     // Nil on success
	Timestamp time.Time // When the operation finished
}

// StatusHandler receives every Status. It is called from the worker goroutine
// for Connect and Send and must be safe for concurrent use.
type StatusHandler func(status Status)

// Controller serializes Connect and Send on a single Session. Disconnect is
// never rejected so a stuck send can always be abandoned.
type Controller struct {
	session *transfer.Session
	logger  logger.Logger

	mu       sync.Mutex
	busy     bool
	cancelOp context.CancelFunc
	onStatus StatusHandler
	closed   bool

	wg sync.WaitGroup
}

// New creates a Controller for session.
//
// Parameters:
//   - session: The session to drive; the Controller does not create its own
//   - log: Logger; nil discards entries
//
// Returns:
//   - A new *Controller; call Close when done
func New(session *transfer.Session, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Controller{
		session: session,
		logger:  log,
	}
}

// OnStatus registers the status handler. Repeated calls replace it.
func (c *Controller) OnStatus(handler StatusHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = handler
}

// Busy reports whether a Connect or Send is running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// State returns the state of the underlying session.
func (c *Controller) State() transfer.State {
	return c.session.State()
}

// Connect dials host:port in the background. The port is caller text and is
// validated before dialing.
//
// Returns:
//   - false if the request was rejected because another operation is running
func (c *Controller) Connect(host, port string) bool {
	return c.dispatch(OpConnect, func(ctx context.Context) Status {
		target, err := transfer.NewTarget(host, port)
		if err == nil {
			err = c.session.Connect(ctx, target)
		}
		if err != nil {
			return Status{Op: OpConnect, Text: "Error while connecting to server: " + reason(err), Err: err}
		}

		return Status{Op: OpConnect, Text: transfer.MsgConnected}
	})
}

// Send transfers the file at path in the background.
//
// Returns:
//   - false if the request was rejected because another operation is running
func (c *Controller) Send(path string) bool {
	return c.dispatch(OpSend, func(ctx context.Context) Status {
		n, err := c.session.Send(ctx, path)
		if err != nil {
			return Status{Op: OpSend, Text: "Error while sending data: " + reason(err), Err: err}
		}

		return Status{Op: OpSend, Text: transfer.MsgSent, Bytes: n}
	})
}

// Cancel asks the running Connect or Send to stop. A streamed send stops at the
// next chunk boundary.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelOp != nil {
		c.cancelOp()
	}
}

// Disconnect cancels a running Connect or Send, closes the session on the
// calling goroutine and always reports "Disconnected from server."; a close
// failure is carried in Err only. A Connect that was dialing reports its own
// failure afterwards and leaves the session Closed.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.cancelOp != nil {
		c.cancelOp()
	}
	c.mu.Unlock()

	err := c.session.Disconnect()
	if err != nil {
		c.logger.Warn("disconnect reported an error", logger.Field{Key: "error", Value: err})
	}

	c.report(Status{Op: OpDisconnect, Text: transfer.MsgDisconnected, Err: err, Timestamp: time.Now()})
}

// Close cancels any running operation, disconnects and waits for the worker to
// finish. Later requests are rejected.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.cancelOp != nil {
		c.cancelOp()
	}
	c.mu.Unlock()

	if err := c.session.Disconnect(); err != nil {
		c.logger.Warn("disconnect on close failed", logger.Field{Key: "error", Value: err})
	}
	c.wg.Wait()
}

func (c *Controller) dispatch(op Op, run func(ctx context.Context) Status) bool {
	c.mu.Lock()
	if c.busy || c.closed {
		rejected := Status{Op: op, Text: TextBusy, Err: ErrBusy, Timestamp: time.Now()}
		if c.closed {
			rejected.Text, rejected.Err = "Controller is closed.", ErrClosed
		}
		c.mu.Unlock()

		c.logger.Debug("request rejected", logger.Field{Key: "op", Value: op.String()}, logger.Field{Key: "error", Value: rejected.Err})
		c.report(rejected)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.busy = true
	c.cancelOp = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()

		status := run(ctx)
		status.Timestamp = time.Now()

		c.mu.Lock()
		c.busy = false
		c.cancelOp = nil
		c.mu.Unlock()

		c.report(status)
	}()

	return true
}

func (c *Controller) report(status Status) {
	c.mu.Lock()
	handler := c.onStatus
	c.mu.Unlock()

	if handler != nil {
		handler(status)
	}
}

// reason returns the short cause of a transfer error for display.
func reason(err error) string {
	var ce *transfer.ConnectError
	if errors.As(err, &ce) {
		return ce.Reason
	}

	var se *transfer.SendError
	if errors.As(err, &se) {
		return fmt.Sprintf("%s (%v)", se.Reason, se.Err)
	}

	return err.Error()
}
