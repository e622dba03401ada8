package client

import (
	"strings"
	"time"

	"github.com/omochice/toy-socket-echo/pkg/protocol"
)

// NotConnectedMessage is shown locally when Send finds no live connection.
const NotConnectedMessage = "Failed to send - not connected"

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ReconnectScheduled
	OfflineSuspended
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case ReconnectScheduled:
		return "ReconnectScheduled"
	case OfflineSuspended:
		return "OfflineSuspended"
	default:
		return "Unknown"
	}
}

// ErrorKind distinguishes a connection that never came up from one that was
// lost after it had been established.
type ErrorKind int

const (
	ErrorGeneric ErrorKind = iota
	ErrorServerUnresponsive
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorGeneric:
		return "generic"
	case ErrorServerUnresponsive:
		return "server-unresponsive"
	default:
		return "unknown"
	}
}

// Detail is the user-facing explanation of the error.
func (k ErrorKind) Detail() string {
	if k == ErrorServerUnresponsive {
		return "The server is not responding. Please try again later."
	}
	return "Failed to connect to the server. Please check your internet connection and try again."
}

// Event is an input of the Machine.
type Event interface {
	event()
}

type (
	// Start begins the session. Online is the host reachability at that moment.
	Start struct{ Online bool }
	// Stop tears the session down for good.
	Stop struct{}
	// TransportOpened reports that the dial of generation Gen succeeded.
	TransportOpened struct{ Gen uint64 }
	// TransportFailed reports that the dial of generation Gen failed.
	TransportFailed struct {
		Gen uint64
		Err error
	}
	// TransportClosed reports that the connection of generation Gen ended.
	TransportClosed struct {
		Gen uint64
		Err error
	}
	// MessageReceived carries one inbound frame of generation Gen.
	MessageReceived struct {
		Gen  uint64
		Text string
	}
	// SendRequested asks to transmit Text.
	SendRequested struct{ Text string }
	// ReachabilityChanged is the host online/offline signal.
	ReachabilityChanged struct{ Online bool }
	// ReconnectDue fires when the backoff timer of generation Gen expires.
	ReconnectDue struct{ Gen uint64 }
)

func (Start) event()               {}
func (Stop) event()                {}
func (TransportOpened) event()     {}
func (TransportFailed) event()     {}
func (TransportClosed) event()     {}
func (MessageReceived) event()     {}
func (SendRequested) event()       {}
func (ReachabilityChanged) event() {}
func (ReconnectDue) event()        {}

// Effect is an action the Machine asks its runtime to carry out.
type Effect interface {
	effect()
}

type (
	// Dial opens a connection for generation Gen.
	Dial struct{ Gen uint64 }
	// Attach adopts the connection dialed for generation Gen.
	Attach struct{ Gen uint64 }
	// CloseTransport closes the current connection, if any.
	CloseTransport struct{}
	// Transmit writes Text on the connection of generation Gen.
	Transmit struct {
		Gen  uint64
		Text string
	}
	// ScheduleReconnect arms the backoff timer.
	ScheduleReconnect struct {
		Gen     uint64
		Attempt int
		Delay   time.Duration
	}
	// CancelReconnect disarms the backoff timer.
	CancelReconnect struct{}

	// StatusChanged is forwarded to Sink.StatusChanged.
	StatusChanged struct{ Online bool }
	// MessageShown is forwarded to Sink.MessageReceived.
	MessageShown struct {
		Text   string
		Origin protocol.Origin
	}
	// ErrorShown is forwarded to Sink.ErrorShown.
	ErrorShown struct{ Kind ErrorKind }
	// ErrorCleared is forwarded to Sink.ErrorCleared.
	ErrorCleared struct{}
)

func (Dial) effect()              {}
func (Attach) effect()            {}
func (CloseTransport) effect()    {}
func (Transmit) effect()          {}
func (ScheduleReconnect) effect() {}
func (CancelReconnect) effect()   {}
func (StatusChanged) effect()     {}
func (MessageShown) effect()      {}
func (ErrorShown) effect()        {}
func (ErrorCleared) effect()      {}

// Snapshot is a read-only copy of the Machine state.
type Snapshot struct {
	State      State
	Generation uint64
	Attempts   int
	Delay      time.Duration
	Online     bool
}

// Machine is the reconnection state machine. It does no I/O: Handle maps an
// event to the effects the runtime must perform. Not safe for concurrent use.
//
// Every connection attempt gets a new generation. Events tagged with an older
// generation (late dial results, late close callbacks, stale timers) are
// dropped, so a superseded attempt can never act on the current one.
type Machine struct {
	backoff BackoffConfig

	state        State
	gen          uint64
	attempts     int
	delay        time.Duration
	online       bool
	started      bool
	attached     bool
	timerPending bool
}

// NewMachine returns a Disconnected machine.
func NewMachine(backoff BackoffConfig) *Machine {
	return &Machine{
		backoff: backoff,
		delay:   backoff.InitialDelay,
		online:  true,
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:      m.state,
		Generation: m.gen,
		Attempts:   m.attempts,
		Delay:      m.delay,
		Online:     m.online,
	}
}

// Handle applies ev and returns the resulting effects in execution order.
func (m *Machine) Handle(ev Event) []Effect {
	switch e := ev.(type) {
	case Start:
		return m.start(e)
	case Stop:
		return m.stop()
	case TransportOpened:
		return m.opened(e)
	case TransportFailed:
		return m.failed(e)
	case TransportClosed:
		return m.closed(e)
	case MessageReceived:
		return m.message(e)
	case SendRequested:
		return m.send(e)
	case ReachabilityChanged:
		return m.reachability(e)
	case ReconnectDue:
		return m.reconnectDue(e)
	default:
		return nil
	}
}

func (m *Machine) start(e Start) []Effect {
	if m.started {
		return nil
	}
	m.started = true
	m.online = e.Online
	if !m.online {
		m.state = OfflineSuspended
		return []Effect{StatusChanged{Online: false}, ErrorShown{Kind: ErrorGeneric}}
	}
	return m.connect()
}

func (m *Machine) stop() []Effect {
	var out []Effect
	out = append(out, m.teardown()...)
	if m.state == Connected {
		out = append(out, StatusChanged{Online: false})
	}
	m.gen++
	m.state = Disconnected
	m.started = false
	m.attempts = 0
	m.delay = m.backoff.InitialDelay
	return out
}

// connect starts a new attempt, superseding any pending timer and connection.
func (m *Machine) connect() []Effect {
	out := m.teardown()
	m.gen++
	m.state = Connecting
	return append(out, Dial{Gen: m.gen})
}

func (m *Machine) teardown() []Effect {
	var out []Effect
	if m.timerPending {
		m.timerPending = false
		out = append(out, CancelReconnect{})
	}
	if m.attached {
		m.attached = false
		out = append(out, CloseTransport{})
	}
	return out
}

func (m *Machine) opened(e TransportOpened) []Effect {
	if e.Gen != m.gen || m.state != Connecting {
		return nil
	}
	m.state = Connected
	m.attached = true
	m.attempts = 0
	m.delay = m.backoff.InitialDelay
	return []Effect{Attach{Gen: e.Gen}, StatusChanged{Online: true}, ErrorCleared{}}
}

func (m *Machine) failed(e TransportFailed) []Effect {
	if e.Gen != m.gen || m.state != Connecting {
		return nil
	}
	return m.lost(ErrorGeneric)
}

func (m *Machine) closed(e TransportClosed) []Effect {
	if e.Gen != m.gen || (m.state != Connecting && m.state != Connected) {
		return nil
	}
	kind := ErrorGeneric
	if m.state == Connected {
		kind = ErrorServerUnresponsive
	}
	out := m.teardown()
	return append(out, m.lost(kind)...)
}

func (m *Machine) lost(kind ErrorKind) []Effect {
	out := []Effect{StatusChanged{Online: false}, ErrorShown{Kind: kind}}
	return append(out, m.scheduleReconnect()...)
}

func (m *Machine) scheduleReconnect() []Effect {
	if m.attempts >= m.backoff.MaxAttempts || !m.online {
		m.state = OfflineSuspended
		return nil
	}
	m.attempts++
	m.delay = NextDelay(m.backoff, m.attempts)
	m.state = ReconnectScheduled
	m.timerPending = true
	return []Effect{ScheduleReconnect{Gen: m.gen, Attempt: m.attempts, Delay: m.delay}}
}

func (m *Machine) reconnectDue(e ReconnectDue) []Effect {
	if e.Gen != m.gen || m.state != ReconnectScheduled || !m.timerPending {
		return nil
	}
	m.timerPending = false
	return m.connect()
}

func (m *Machine) reachability(e ReachabilityChanged) []Effect {
	m.online = e.Online
	if !m.started {
		return nil
	}

	if e.Online {
		if m.state == OfflineSuspended {
			return m.connect()
		}
		return nil
	}

	if m.state == OfflineSuspended {
		return nil
	}
	out := m.teardown()
	if m.state == Connecting || m.state == Connected {
		m.gen++
	}
	m.state = OfflineSuspended
	return append(out, StatusChanged{Online: false}, ErrorShown{Kind: ErrorGeneric})
}

func (m *Machine) send(e SendRequested) []Effect {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return nil
	}
	if m.state != Connected || !m.attached {
		return []Effect{MessageShown{Text: NotConnectedMessage, Origin: protocol.OriginError}}
	}
	return []Effect{
		Transmit{Gen: m.gen, Text: text},
		MessageShown{Text: text, Origin: protocol.OriginClient},
	}
}

func (m *Machine) message(e MessageReceived) []Effect {
	if e.Gen != m.gen || m.state != Connected {
		return nil
	}
	if protocol.IsHeartbeat(e.Text) {
		return nil
	}
	return []Effect{MessageShown{Text: e.Text, Origin: protocol.OriginServer}}
}
