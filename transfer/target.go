package transfer

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Target is the remote endpoint a Session connects to.
type Target struct {
	Host string
	Port int
}

// NewTarget builds a Target from caller-supplied text, such as the contents of
// an address field and a port field.
//
// Parameters:
//   - host: Host name or IP address
//   - port: Decimal port number
//
// Returns:
//   - The validated Target
//   - A *ConnectError wrapping ErrEmptyHost or ErrInvalidPort on bad input
func NewTarget(host, port string) (Target, error) {
	t := Target{Host: strings.TrimSpace(host)}

	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return t, &ConnectError{Target: t, Reason: "malformed port", Err: fmt.Errorf("%w: %q", ErrInvalidPort, port)}
	}
	t.Port = p

	if err := t.Validate(); err != nil {
		return t, &ConnectError{Target: t, Reason: "invalid target", Err: err}
	}

	return t, nil
}

// ParseTarget builds a Target from a "host:port" string.
func ParseTarget(address string) (Target, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(address))
	if err != nil {
		return Target{}, &ConnectError{Reason: "malformed address", Err: err}
	}

	return NewTarget(host, port)
}

// Validate checks that the host is non-empty and the port is in 1-65535.
func (t Target) Validate() error {
	if t.Host == "" {
		return ErrEmptyHost
	}

	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, t.Port)
	}

	return nil
}

// Address returns the dialable "host:port" form, bracketing IPv6 hosts.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.Address()
}
