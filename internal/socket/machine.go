// Package socket implements the realtime connection state machine that
// owns one transport channel per namespace and coordinates it with the
// session lifecycle. The state contract is a pure transition table
// (transition.go); Machine executes the resulting effects: timers,
// listener wiring, channel teardown, and bus notifications.
package socket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/musicatri/console/internal/eventbus"
	"github.com/musicatri/console/internal/result"
	"github.com/musicatri/console/internal/transport"
)

// HeaderFunc supplies the headers for a dial attempt. It is evaluated
// at connect time so authorization and localization data are always
// current without the machine ever touching the session itself.
type HeaderFunc func() http.Header

// Options configures a Machine.
type Options struct {
	// Endpoint is the full namespace URL, e.g. wss://host/socket/user.
	Endpoint string
	// ConnectTimeout bounds the dial-plus-handshake race.
	ConnectTimeout time.Duration
	// DisconnectTimeout bounds the graceful close confirmation. Defaults
	// to ConnectTimeout.
	DisconnectTimeout time.Duration
	// Header supplies per-dial request headers. Optional.
	Header HeaderFunc
	// Bus receives state-change and outcome notifications. A private bus
	// is created when nil.
	Bus *eventbus.Bus
}

// Machine maintains exactly one logical connection to a namespace
// endpoint. Connect and Disconnect block until the operation settles
// and always return a Result; overlapping calls are rejected, not
// queued. Bus handlers run synchronously inside transitions and must
// not call back into the machine.
type Machine struct {
	endpoint          string
	connectTimeout    time.Duration
	disconnectTimeout time.Duration
	headerFn          HeaderFunc
	bus               *eventbus.Bus

	mu      sync.Mutex
	state   State
	channel *transport.Channel
	timer   *time.Timer
	pending chan result.Result
	// epoch invalidates timer callbacks that belong to an abandoned
	// connect or disconnect attempt.
	epoch uint64
}

// NewMachine builds a machine in the uninitialized state.
func NewMachine(opts Options) *Machine {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = opts.ConnectTimeout
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	return &Machine{
		endpoint:          opts.Endpoint,
		connectTimeout:    opts.ConnectTimeout,
		disconnectTimeout: opts.DisconnectTimeout,
		headerFn:          opts.Header,
		bus:               bus,
		state:             StateUninitialized,
	}
}

// Bus returns the bus this machine publishes on.
func (m *Machine) Bus() *eventbus.Bus { return m.bus }

// State returns the current connection state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect drives the machine toward Connected and blocks until the
// handshake is accepted, rejected, or times out. It is idempotent on an
// already connected machine and rejects calls while another operation
// is in flight.
func (m *Machine) Connect() result.Result {
	m.mu.Lock()
	next, effs := transition(m.state, inputConnect)
	if res, done := immediateResult(effs); done {
		m.mu.Unlock()
		return res
	}

	m.setStateLocked(next)
	m.epoch++
	epoch := m.epoch
	pending := make(chan result.Result, 1)
	m.pending = pending

	ch := transport.NewChannel(m.endpoint, m.header())
	m.channel = ch

	ch.Once(EventConnectAccept, func(data json.RawMessage) {
		m.handleHandshake(epoch, inputAccepted, data)
	})
	ch.Once(EventConnectReject, func(data json.RawMessage) {
		m.handleHandshake(epoch, inputRejected, data)
	})
	ch.Once(transport.EventConnectError, func(data json.RawMessage) {
		var msg string
		_ = json.Unmarshal(data, &msg)
		m.apply(epoch, inputDialFailed, result.ConnectionError(msg))
	})
	m.timer = time.AfterFunc(m.connectTimeout, func() {
		m.apply(epoch, inputConnectTimeout, result.Timeout("connect timeout"))
	})

	ch.Connect()
	m.mu.Unlock()

	return <-pending
}

// Disconnect drives the machine toward Disconnected and blocks until
// the close is confirmed or times out. On timeout the machine reverts
// to Connected: the close stalled, the connection is presumed live.
func (m *Machine) Disconnect() result.Result {
	m.mu.Lock()
	next, effs := transition(m.state, inputDisconnect)
	if res, done := immediateResult(effs); done {
		m.mu.Unlock()
		return res
	}

	m.setStateLocked(next)
	m.epoch++
	epoch := m.epoch
	pending := make(chan result.Result, 1)
	m.pending = pending

	ch := m.channel
	// Replace the forced-disconnect listener with the close
	// confirmation listener so this closure is not reported as forced.
	ch.Off(transport.EventDisconnect)
	ch.Once(transport.EventDisconnect, func(json.RawMessage) {
		m.apply(epoch, inputCloseConfirmed, result.Ok("disconnect success"))
	})
	m.timer = time.AfterFunc(m.disconnectTimeout, func() {
		m.apply(epoch, inputDisconnectTimeout, result.Timeout("disconnect timeout"))
	})

	ch.Disconnect()
	m.mu.Unlock()

	return <-pending
}

// Request emits an event and waits for the server to answer with an
// event of the same name, or for the timeout to elapse. The machine
// must be connected.
func (m *Machine) Request(event string, data any, timeout time.Duration) result.Result {
	m.mu.Lock()
	ch := m.channel
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || ch == nil {
		return result.New(result.CodeBadRequest, "not connected")
	}

	reply := make(chan result.Result, 1)
	ch.Once(event, func(raw json.RawMessage) {
		reply <- result.FromJSON(raw)
	})
	if err := ch.Emit(event, data); err != nil {
		ch.Off(event)
		return result.ConnectionError(err.Error())
	}

	select {
	case res := <-reply:
		return res
	case <-time.After(timeout):
		ch.Off(event)
		return result.Timeout("request timeout")
	}
}

func (m *Machine) header() http.Header {
	if m.headerFn == nil {
		return nil
	}
	return m.headerFn()
}

// handleHandshake validates the payload before feeding the input into
// the machine. A payload without a code is a protocol violation and is
// treated as a local connection failure rather than coerced to success.
func (m *Machine) handleHandshake(epoch uint64, in input, data json.RawMessage) {
	res, err := result.FromJSONStrict(data)
	if err != nil {
		log.Errorf("socket: %s: %v", m.endpoint, err)
		m.apply(epoch, inputRejected, result.ConnectionError("malformed handshake payload"))
		return
	}
	m.apply(epoch, in, res)
}

// apply feeds an asynchronous input into the machine, dropping inputs
// from an abandoned attempt.
func (m *Machine) apply(epoch uint64, in input, res result.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.applyLocked(in, res)
}

func (m *Machine) applyLocked(in input, res result.Result) {
	next, effs := transition(m.state, in)
	if len(effs) == 0 {
		return
	}
	m.state = next

	for _, e := range effs {
		switch e {
		case effectCancelTimer:
			if m.timer != nil {
				m.timer.Stop()
				m.timer = nil
			}
		case effectDetachHandshake:
			if m.channel != nil {
				m.channel.Off(EventConnectAccept)
				m.channel.Off(EventConnectReject)
				m.channel.Off(transport.EventConnectError)
			}
		case effectAttachForced:
			m.attachForcedLocked()
		case effectDestroyChannel:
			if m.channel != nil {
				m.channel.Destroy()
				m.channel = nil
			}
		case effectPublishState:
			log.Debugf("socket: %s -> %s", m.endpoint, next)
			m.bus.Publish(TopicStateChange, next.String())
		case effectNotifyConnectSuccess:
			m.bus.Publish(TopicConnectSuccess, res)
		case effectNotifyConnectFailed:
			m.bus.Publish(TopicConnectFailed, res)
		case effectNotifyDisconnectSuccess:
			m.bus.Publish(TopicDisconnectSuccess, res)
		case effectNotifyDisconnectFailed:
			m.bus.Publish(TopicDisconnectFailed, res)
		case effectNotifyDisconnectForce:
			m.bus.Publish(TopicDisconnectForce, res)
		case effectResolvePending:
			if m.pending != nil {
				m.pending <- res
				m.pending = nil
			}
		}
	}
}

// attachForcedLocked arms the unsolicited-closure listener. It replaces
// any listener already attached for the disconnect event.
func (m *Machine) attachForcedLocked() {
	if m.channel == nil {
		return
	}
	epoch := m.epoch
	m.channel.Off(transport.EventDisconnect)
	m.channel.Once(transport.EventDisconnect, func(json.RawMessage) {
		m.apply(epoch, inputForcedClose, result.ConnectionError("connection closed by peer"))
	})
}

// setStateLocked switches the state and publishes the change.
func (m *Machine) setStateLocked(next State) {
	m.state = next
	log.Debugf("socket: %s -> %s", m.endpoint, next)
	m.bus.Publish(TopicStateChange, next.String())
}

func immediateResult(effs []effect) (result.Result, bool) {
	for _, e := range effs {
		switch e {
		case effectResolveBusy:
			return result.New(result.CodeBadRequest, "operation in progress"), true
		case effectResolveAlreadyConnected:
			return result.Ok("already connected"), true
		case effectResolveAlreadyDisconnected:
			return result.Ok("already disconnected"), true
		}
	}
	return result.Result{}, false
}
