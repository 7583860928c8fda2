package ble

import "github.com/chaz8081/peerlink/internal/ble/radio"

// EventKind names an outgoing event; it doubles as the dispatcher topic.
type EventKind string

const (
	EventAdapterStateChanged EventKind = "adapter-state-changed"
	EventPeerDiscovered      EventKind = "peer-discovered"
	EventConnectionOutcome   EventKind = "connection-outcome"
	EventServiceReady        EventKind = "service-ready"
	EventCharacteristicReady EventKind = "characteristic-ready"
	EventMessageReceived     EventKind = "message-received"
	EventSendResult          EventKind = "send-result"
	EventStateChanged        EventKind = "state-changed"
	EventDisconnected        EventKind = "disconnected"
)

// AllEventKinds lists every kind in a stable order.
var AllEventKinds = []EventKind{
	EventAdapterStateChanged,
	EventPeerDiscovered,
	EventConnectionOutcome,
	EventServiceReady,
	EventCharacteristicReady,
	EventMessageReceived,
	EventSendResult,
	EventStateChanged,
	EventDisconnected,
}

// Event is delivered to external collaborators through the Dispatcher.
type Event interface {
	Kind() EventKind
}

// AdapterStateEvent reports a change of the local adapter state.
type AdapterStateEvent struct {
	State radio.AdapterState
}

// PeerDiscoveredEvent reports an advertisement from a matching peer.
type PeerDiscoveredEvent struct {
	Peer Peer
}

// ConnectionOutcomeEvent reports the link coming up, or the session failing
// at any stage. Err carries the *Error when Success is false.
type ConnectionOutcomeEvent struct {
	Success bool
	PeerID  string
	Err     error
}

// ServiceReadyEvent reports that the target service was found.
type ServiceReadyEvent struct {
	PeerID string
}

// CharacteristicReadyEvent reports that the target characteristic was found.
type CharacteristicReadyEvent struct {
	PeerID         string
	SupportsNotify bool
}

// MessageReceivedEvent carries one notification payload, verbatim.
type MessageReceivedEvent struct {
	PeerID string
	Data   []byte
}

// SendResultEvent reports the completion of an accepted Send.
type SendResultEvent struct {
	PeerID  string
	Success bool
	Payload []byte
	Err     error
}

// StateChangedEvent reports every session transition.
type StateChangedEvent struct {
	PeerID string
	From   ConnectionState
	To     ConnectionState
	Err    error
}

// DisconnectedEvent reports a session ending in Disconnected. Err is nil for
// a requested disconnect.
type DisconnectedEvent struct {
	PeerID string
	Err    error
}

func (AdapterStateEvent) Kind() EventKind        { return EventAdapterStateChanged }
func (PeerDiscoveredEvent) Kind() EventKind      { return EventPeerDiscovered }
func (ConnectionOutcomeEvent) Kind() EventKind   { return EventConnectionOutcome }
func (ServiceReadyEvent) Kind() EventKind        { return EventServiceReady }
func (CharacteristicReadyEvent) Kind() EventKind { return EventCharacteristicReady }
func (MessageReceivedEvent) Kind() EventKind     { return EventMessageReceived }
func (SendResultEvent) Kind() EventKind          { return EventSendResult }
func (StateChangedEvent) Kind() EventKind        { return EventStateChanged }
func (DisconnectedEvent) Kind() EventKind        { return EventDisconnected }
