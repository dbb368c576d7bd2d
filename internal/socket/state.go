package socket

// State identifies the connection lifecycle phase of a Machine. Exactly
// one state is active per machine at any time.
type State string

const (
	// StateUninitialized is the state of a machine that has never been
	// asked to connect.
	StateUninitialized State = "uninitialized"
	// StateDisconnected means no channel exists.
	StateDisconnected State = "disconnected"
	// StateConnecting means a dial and handshake are in flight.
	StateConnecting State = "connecting"
	// StateConnected means the handshake was accepted and the channel is
	// live.
	StateConnected State = "connected"
	// StateDisconnecting means a graceful close is awaiting confirmation.
	StateDisconnecting State = "disconnecting"
)

func (s State) String() string { return string(s) }
