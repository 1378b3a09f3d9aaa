package receiver

import (
	"time"

	"github.com/cyberinferno/filexfer/wire"
)

// Acknowledgement lines written back to the sender. Senders are not required
// to read them.
const (
	AckConnected    = "ACK Connection established"
	AckFileReceived = "ACK File received successfully"
	NackTooLarge    = "NACK File too large"
)

// Config holds Server settings.
type Config struct {
	// Name is used in log messages.
	Name string
	// Addr is the listen address, e.g. ":9000" or "127.0.0.1:0".
	Addr string
	// Dir receives one file per frame, named by FileName.
	Dir string
	// Limits caps the accepted file size.
	Limits wire.Limits
	// IdleTimeout stops the server when no connection arrives for this long
	// while none is active; 0 disables it.
	IdleTimeout time.Duration
	// ReadTimeout closes a connection whose sender stalls for this long; 0
	// disables it.
	ReadTimeout time.Duration
	// SendAcks writes the Ack* lines back to the sender.
	SendAcks bool
	// Metrics receives connection and frame counters; nil disables them.
	Metrics *Metrics
}

// DefaultConfig returns a Config listening on :9000, writing to the current
// directory, accepting files up to 100 MiB, stopping after 60 s of inactivity
// and sending acknowledgements.
func DefaultConfig() Config {
	return Config{
		Name:        "filerecv",
		Addr:        ":9000",
		Dir:         ".",
		Limits:      wire.DefaultLimits(),
		IdleTimeout: 60 * time.Second,
		ReadTimeout: 0,
		SendAcks:    true,
	}
}
