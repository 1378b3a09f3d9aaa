package transfer

import "time"

// State is the lifecycle state of a Session.
type State int

const (
	Idle      State = iota // Never connected
	Connected              // Holding an open connection
	Closed                 // Disconnected explicitly or after an I/O failure
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Status messages carried by StatusEvent.Message.
const (
	MsgConnected     = "Connected to server."
	MsgConnectFailed = "Could not connect to server."
	MsgSent          = "Data sent successfully."
	MsgSendFailed    = "Could not send data."
	MsgDisconnected  = "Disconnected from server."
	MsgConnLost      = "Connection to server lost."
)

// StatusEvent is emitted after every Connect, Send and Disconnect outcome and
// when the connection is lost.
type StatusEvent struct {
	State     State     // Session state after the outcome
	Message   string    // One of the Msg* constants
	Address   string    // Remote "host:port", empty if never connected
	Bytes     uint64    // Payload bytes for a send outcome
	Timestamp time.Time // When the outcome occurred
	Err       error     // Non-nil on failure
}

// PeerDataEvent carries bytes the peer wrote back on the connection, such as
// receiver acknowledgements. The session never waits for them.
type PeerDataEvent struct {
	Data      []byte
	Timestamp time.Time
}

// StatusHandler is called for every StatusEvent. Handlers are invoked from
// goroutines; implementations must be safe for concurrent use.
type StatusHandler func(event StatusEvent)

// PeerDataHandler is called with inbound peer bytes. Handlers are invoked from
// goroutines; implementations must be safe for concurrent use.
type PeerDataHandler func(event PeerDataEvent)
