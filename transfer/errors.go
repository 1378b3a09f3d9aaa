package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	ErrNotConnected      = errors.New("transfer: not connected")
	ErrAlreadyConnected  = errors.New("transfer: already connected")
	ErrConnectInProgress = errors.New("transfer: connect already in progress")
	ErrConnectAborted    = errors.New("transfer: disconnected while connecting")
	ErrSendInProgress    = errors.New("transfer: send already in progress")
	ErrEmptyHost         = errors.New("transfer: empty host")
	ErrInvalidPort       = errors.New("transfer: port must be in 1-65535")
	ErrNotRegularFile    = errors.New("transfer: not a regular file")
)

// ConnectError reports a failed Connect. The session is left unconnected.
type ConnectError struct {
	Target Target
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Target.Host == "" && e.Target.Port == 0 {
		return fmt.Sprintf("connect: %s: %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("connect %s: %s: %v", e.Target, e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a failed Send. Callers should Disconnect before reusing
// the session unless State still reports Connected.
type SendError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %s: %v", e.Path, e.Reason, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// DisconnectError reports an unexpected failure while closing an open
// connection. The session is Closed regardless.
type DisconnectError struct {
	Err error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("disconnect: %v", e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// dialFailureReason names the cause of a failed dial for ConnectError.Reason.
func dialFailureReason(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &dnsErr):
		return "dns resolution failed"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timed out"
	default:
		return "host unreachable"
	}
}
