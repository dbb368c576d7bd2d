package socket

// input is an external stimulus applied to the machine: a caller
// operation, a handshake outcome, a timer expiry, or a transport-level
// closure.
type input int

const (
	inputConnect input = iota
	inputDisconnect
	inputAccepted
	inputRejected
	inputDialFailed
	inputConnectTimeout
	inputCloseConfirmed
	inputDisconnectTimeout
	inputForcedClose
)

// effect is a side effect the machine must execute after a transition.
// The transition table itself stays pure so the full state contract can
// be verified without timers or sockets.
type effect int

const (
	// effectResolveBusy rejects an overlapping connect/disconnect call
	// while an operation is in flight.
	effectResolveBusy effect = iota
	// effectResolveAlreadyConnected resolves an idempotent connect.
	effectResolveAlreadyConnected
	// effectResolveAlreadyDisconnected resolves an idempotent disconnect.
	effectResolveAlreadyDisconnected
	// effectOpenChannel creates a fresh channel, attaches the handshake
	// listeners, arms the connect timer, and triggers the dial.
	effectOpenChannel
	// effectRequestClose detaches the forced-disconnect listener, arms
	// the disconnect timer, and requests a graceful close.
	effectRequestClose
	// effectCancelTimer stops the pending connect/disconnect timer.
	effectCancelTimer
	// effectDetachHandshake removes the accept/reject/dial-error
	// listeners so a late handshake event cannot double-resolve.
	effectDetachHandshake
	// effectAttachForced arms the listener for unsolicited closure.
	effectAttachForced
	// effectDestroyChannel tears the channel down and drops ownership.
	effectDestroyChannel
	// effectPublishState publishes the new state name on the bus.
	effectPublishState
	// effectNotifyConnectSuccess .. effectNotifyDisconnectForce publish
	// the corresponding outcome topic on the bus.
	effectNotifyConnectSuccess
	effectNotifyConnectFailed
	effectNotifyDisconnectSuccess
	effectNotifyDisconnectFailed
	effectNotifyDisconnectForce
	// effectResolvePending resolves the in-flight operation with the
	// result carried by the input.
	effectResolvePending
)

// transition is the total transition function over the five states.
// Inputs that are meaningless in the current state (for example a late
// timer expiry after the handshake settled) produce no state change and
// no effects.
func transition(s State, in input) (State, []effect) {
	switch in {
	case inputConnect:
		switch s {
		case StateUninitialized, StateDisconnected:
			return StateConnecting, []effect{effectPublishState, effectOpenChannel}
		case StateConnected:
			return s, []effect{effectResolveAlreadyConnected}
		case StateConnecting, StateDisconnecting:
			return s, []effect{effectResolveBusy}
		}

	case inputDisconnect:
		switch s {
		case StateUninitialized, StateDisconnected:
			return s, []effect{effectResolveAlreadyDisconnected}
		case StateConnected:
			return StateDisconnecting, []effect{effectPublishState, effectRequestClose}
		case StateConnecting, StateDisconnecting:
			return s, []effect{effectResolveBusy}
		}

	case inputAccepted:
		if s == StateConnecting {
			return StateConnected, []effect{
				effectCancelTimer, effectDetachHandshake, effectAttachForced,
				effectPublishState, effectNotifyConnectSuccess, effectResolvePending,
			}
		}

	case inputRejected, inputDialFailed:
		if s == StateConnecting {
			return StateDisconnected, []effect{
				effectCancelTimer, effectDetachHandshake, effectDestroyChannel,
				effectPublishState, effectNotifyConnectFailed, effectResolvePending,
			}
		}

	case inputConnectTimeout:
		if s == StateConnecting {
			return StateDisconnected, []effect{
				effectDetachHandshake, effectDestroyChannel,
				effectPublishState, effectNotifyConnectFailed, effectResolvePending,
			}
		}

	case inputCloseConfirmed:
		if s == StateDisconnecting {
			return StateDisconnected, []effect{
				effectCancelTimer, effectDestroyChannel,
				effectPublishState, effectNotifyDisconnectSuccess, effectResolvePending,
			}
		}

	case inputDisconnectTimeout:
		// A stalled close must not orphan a channel the caller believes
		// is closing: report failure and keep the connection.
		if s == StateDisconnecting {
			return StateConnected, []effect{
				effectAttachForced,
				effectPublishState, effectNotifyDisconnectFailed, effectResolvePending,
			}
		}

	case inputForcedClose:
		if s == StateConnected {
			return StateDisconnected, []effect{
				effectDestroyChannel,
				effectPublishState, effectNotifyDisconnectForce,
			}
		}
	}

	return s, nil
}
