package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTarget(t *testing.T) {
	t.Run("valid host and port", func(t *testing.T) {
		target, err := NewTarget(" 192.168.1.20 ", "9000")
		require.NoError(t, err)
		assert.Equal(t, Target{Host: "192.168.1.20", Port: 9000}, target)
		assert.Equal(t, "192.168.1.20:9000", target.Address())
	})

	t.Run("malformed port is a connect error", func(t *testing.T) {
		_, err := NewTarget("localhost", "90a0")

		var cerr *ConnectError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "malformed port", cerr.Reason)
		assert.ErrorIs(t, err, ErrInvalidPort)
	})

	t.Run("port out of range", func(t *testing.T) {
		for _, port := range []string{"0", "65536", "-1"} {
			_, err := NewTarget("localhost", port)
			assert.ErrorIs(t, err, ErrInvalidPort, port)
		}
	})

	t.Run("empty host", func(t *testing.T) {
		_, err := NewTarget("  ", "9000")
		assert.ErrorIs(t, err, ErrEmptyHost)
	})
}

func TestParseTarget(t *testing.T) {
	t.Run("ipv4", func(t *testing.T) {
		target, err := ParseTarget("127.0.0.1:9000")
		require.NoError(t, err)
		assert.Equal(t, Target{Host: "127.0.0.1", Port: 9000}, target)
	})

	t.Run("ipv6 keeps brackets in address", func(t *testing.T) {
		target, err := ParseTarget("[::1]:65535")
		require.NoError(t, err)
		assert.Equal(t, "::1", target.Host)
		assert.Equal(t, "[::1]:65535", target.Address())
	})

	t.Run("missing port", func(t *testing.T) {
		_, err := ParseTarget("localhost")

		var cerr *ConnectError
		assert.ErrorAs(t, err, &cerr)
	})
}

func TestTarget_Validate(t *testing.T) {
	assert.NoError(t, Target{Host: "h", Port: 1}.Validate())
	assert.NoError(t, Target{Host: "h", Port: 65535}.Validate())
	assert.ErrorIs(t, Target{Host: "h"}.Validate(), ErrInvalidPort)
	assert.ErrorIs(t, Target{Port: 1}.Validate(), ErrEmptyHost)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Idle", Idle.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", State(42).String())
}

func TestErrors_messages(t *testing.T) {
	cerr := &ConnectError{Target: Target{Host: "h", Port: 1}, Reason: "connection refused", Err: ErrNotConnected}
	assert.Equal(t, "connect h:1: connection refused: transfer: not connected", cerr.Error())

	serr := &SendError{Path: "/tmp/f", Reason: "open file", Err: ErrNotRegularFile}
	assert.Equal(t, "send /tmp/f: open file: transfer: not a regular file", serr.Error())

	derr := &DisconnectError{Err: ErrNotConnected}
	assert.ErrorIs(t, derr, ErrNotConnected)
}
