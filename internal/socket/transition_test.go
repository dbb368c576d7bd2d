package socket

import "testing"

var allStates = []State{
	StateUninitialized, StateDisconnected, StateConnecting,
	StateConnected, StateDisconnecting,
}

// Every state must define a response to both caller inputs.
func TestTransitionTotalOverCallerInputs(t *testing.T) {
	t.Parallel()

	for _, s := range allStates {
		for _, in := range []input{inputConnect, inputDisconnect} {
			if _, effs := transition(s, in); len(effs) == 0 {
				t.Errorf("transition(%s, %d) produced no effects", s, in)
			}
		}
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state State
		in    input
		want  State
	}{
		{"connect from disconnected", StateDisconnected, inputConnect, StateConnecting},
		{"connect from uninitialized", StateUninitialized, inputConnect, StateConnecting},
		{"connect while connected stays", StateConnected, inputConnect, StateConnected},
		{"connect while connecting stays", StateConnecting, inputConnect, StateConnecting},
		{"disconnect from connected", StateConnected, inputDisconnect, StateDisconnecting},
		{"disconnect while disconnected stays", StateDisconnected, inputDisconnect, StateDisconnected},
		{"accept settles connecting", StateConnecting, inputAccepted, StateConnected},
		{"reject settles connecting", StateConnecting, inputRejected, StateDisconnected},
		{"dial failure settles connecting", StateConnecting, inputDialFailed, StateDisconnected},
		{"connect timeout drops to disconnected", StateConnecting, inputConnectTimeout, StateDisconnected},
		{"close confirm settles disconnecting", StateDisconnecting, inputCloseConfirmed, StateDisconnected},
		{"disconnect timeout reverts to connected", StateDisconnecting, inputDisconnectTimeout, StateConnected},
		{"forced close drops connected", StateConnected, inputForcedClose, StateDisconnected},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got, _ := transition(tt.state, tt.in); got != tt.want {
				t.Errorf("transition(%s) = %s, want %s", tt.state, got, tt.want)
			}
		})
	}
}

// Late asynchronous inputs from an abandoned attempt must be inert in
// every state that is not expecting them.
func TestTransitionIgnoresLateInputs(t *testing.T) {
	t.Parallel()

	late := []input{
		inputAccepted, inputRejected, inputDialFailed, inputConnectTimeout,
		inputCloseConfirmed, inputDisconnectTimeout,
	}
	for _, s := range []State{StateUninitialized, StateDisconnected, StateConnected} {
		for _, in := range late {
			next, effs := transition(s, in)
			if next != s || len(effs) != 0 {
				t.Errorf("transition(%s, %d) = (%s, %d effects), want inert", s, in, next, len(effs))
			}
		}
	}

	if next, effs := transition(StateDisconnecting, inputForcedClose); next != StateDisconnecting || len(effs) != 0 {
		t.Errorf("forced close while disconnecting should be inert, got %s", next)
	}
}

func TestRejectDestroysChannelAndTimeoutRevertRearmsListener(t *testing.T) {
	t.Parallel()

	_, effs := transition(StateConnecting, inputRejected)
	if !hasEffect(effs, effectDestroyChannel) {
		t.Error("reject must destroy the channel")
	}
	if !hasEffect(effs, effectDetachHandshake) {
		t.Error("reject must detach handshake listeners")
	}

	_, effs = transition(StateDisconnecting, inputDisconnectTimeout)
	if !hasEffect(effs, effectAttachForced) {
		t.Error("disconnect timeout must re-arm the forced-disconnect listener")
	}
	if hasEffect(effs, effectDestroyChannel) {
		t.Error("disconnect timeout must keep the channel")
	}
}

func hasEffect(effs []effect, want effect) bool {
	for _, e := range effs {
		if e == want {
			return true
		}
	}
	return false
}
