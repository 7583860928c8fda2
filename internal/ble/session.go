package ble

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/peerlink/internal/ble/radio"
)

// Target names the service and characteristic a session negotiates.
type Target struct {
	Service        uuid.UUID
	Characteristic uuid.UUID
}

// DefaultTarget is the chat service and its write/notify characteristic.
func DefaultTarget() Target {
	return Target{Service: radio.ServiceUUID, Characteristic: radio.CharacteristicUUID}
}

var errLinkLost = errors.New("link lost during negotiation")

// Session is the lifecycle of one link:
//
//	Idle -> Connecting -> ServicesDiscovering -> CharacteristicsDiscovering
//	     -> [SubscribingNotify] -> Ready -> Disconnected
//
// Any negotiation stage may end in Failed. Failed and Disconnected are
// terminal; a session is never retried, the caller starts a new one.
//
// Every transition out of a negotiation stage is a reaction to exactly one
// hardware event (or the stage timeout). Handle returns the events to
// dispatch; a Session is not safe for concurrent use.
type Session struct {
	radio  radio.Radio
	target Target
	peer   Peer

	state   ConnectionState
	service radio.ServiceHandle
	char    radio.CharacteristicHandle
	notify  bool
	err     error
	readyAt time.Time
}

// NewSession creates an Idle session for peer.
func NewSession(r radio.Radio, target Target, peer Peer) *Session {
	return &Session{radio: r, target: target, peer: peer}
}

func (s *Session) Peer() Peer                                 { return s.peer }
func (s *Session) State() ConnectionState                     { return s.state }
func (s *Session) Service() radio.ServiceHandle               { return s.service }
func (s *Session) Characteristic() radio.CharacteristicHandle { return s.char }
func (s *Session) SupportsNotify() bool                       { return s.notify }

// Err returns the *Error that failed the session, or the cause of an
// unrequested disconnect.
func (s *Session) Err() error { return s.err }

// ReadyAt returns when the session reached Ready; zero if it never did.
func (s *Session) ReadyAt() time.Time { return s.readyAt }

// Start issues the hardware connect request.
func (s *Session) Start() []Event {
	if s.state != StateIdle {
		return nil
	}
	slog.Info("[BLE] connecting", "peer", s.peer.ID, "name", s.peer.Name)
	evs := s.transition(StateConnecting)
	if err := s.radio.Connect(s.peer.ID); err != nil {
		return append(evs, s.fail(KindConnectFailed, err)...)
	}
	return evs
}

// Handle applies one hardware event. Events for other peers, and events
// that do not answer the current stage, are ignored.
func (s *Session) Handle(ev radio.Event) []Event {
	if s.state.Terminal() || s.state == StateIdle {
		return nil
	}
	switch e := ev.(type) {
	case radio.Connected:
		if e.PeerID != s.peer.ID || s.state != StateConnecting {
			return nil
		}
		return s.onConnected()

	case radio.ConnectFailed:
		if e.PeerID != s.peer.ID || s.state != StateConnecting {
			return nil
		}
		return s.fail(KindConnectFailed, e.Err)

	case radio.ServicesDiscovered:
		if e.PeerID != s.peer.ID || s.state != StateServicesDiscovering {
			return nil
		}
		return s.onServices(e)

	case radio.CharacteristicsDiscovered:
		if e.PeerID != s.peer.ID || s.state != StateCharacteristicsDiscovering {
			return nil
		}
		return s.onCharacteristics(e)

	case radio.NotifyStateChanged:
		if e.PeerID != s.peer.ID || s.state != StateSubscribingNotify {
			return nil
		}
		if e.Err != nil || !e.Enabled {
			return s.fail(KindSubscribeFailed, e.Err)
		}
		return s.becomeReady()

	case radio.Disconnected:
		// A link that is still connecting cannot drop; a Disconnected seen
		// here belongs to a previous session's link.
		if e.PeerID != s.peer.ID || s.state == StateConnecting {
			return nil
		}
		return s.onLinkLost(e.Err)
	}
	return nil
}

func (s *Session) onConnected() []Event {
	slog.Info("[BLE] connected", "peer", s.peer.ID)
	evs := s.transition(StateServicesDiscovering)
	evs = append(evs, ConnectionOutcomeEvent{Success: true, PeerID: s.peer.ID})
	if err := s.radio.DiscoverServices(s.peer.ID, s.target.Service); err != nil {
		return append(evs, s.fail(KindServiceNotFound, err)...)
	}
	return evs
}

func (s *Session) onServices(e radio.ServicesDiscovered) []Event {
	if e.Err != nil {
		return s.fail(KindServiceNotFound, e.Err)
	}
	var found *radio.Service
	for i := range e.Services {
		if e.Services[i].UUID == s.target.Service {
			found = &e.Services[i]
			break
		}
	}
	if found == nil {
		slog.Warn("[BLE] target service absent", "peer", s.peer.ID, "services", len(e.Services))
		return s.fail(KindServiceNotFound, nil)
	}

	s.service = found.Handle
	evs := s.transition(StateCharacteristicsDiscovering)
	evs = append(evs, ServiceReadyEvent{PeerID: s.peer.ID})
	if err := s.radio.DiscoverCharacteristics(s.peer.ID, s.service, s.target.Characteristic); err != nil {
		return append(evs, s.fail(KindCharacteristicNotFound, err)...)
	}
	return evs
}

func (s *Session) onCharacteristics(e radio.CharacteristicsDiscovered) []Event {
	if e.Err != nil {
		return s.fail(KindCharacteristicNotFound, e.Err)
	}
	var found *radio.Characteristic
	for i := range e.Characteristics {
		if e.Characteristics[i].UUID == s.target.Characteristic {
			found = &e.Characteristics[i]
			break
		}
	}
	if found == nil {
		slog.Warn("[BLE] target characteristic absent", "peer", s.peer.ID, "characteristics", len(e.Characteristics))
		return s.fail(KindCharacteristicNotFound, nil)
	}

	s.char = found.Handle
	s.notify = found.Notify
	ready := CharacteristicReadyEvent{PeerID: s.peer.ID, SupportsNotify: s.notify}
	if !s.notify {
		slog.Info("[BLE] characteristic has no notify property", "peer", s.peer.ID)
		return append([]Event{ready}, s.becomeReady()...)
	}

	evs := append(s.transition(StateSubscribingNotify), ready)
	if err := s.radio.Subscribe(s.peer.ID, s.char); err != nil {
		return append(evs, s.fail(KindSubscribeFailed, err)...)
	}
	return evs
}

func (s *Session) becomeReady() []Event {
	s.readyAt = time.Now()
	slog.Info("[BLE] ready", "peer", s.peer.ID, "notify", s.notify)
	return s.transition(StateReady)
}

func (s *Session) onLinkLost(cause error) []Event {
	if s.state != StateReady {
		if cause == nil {
			cause = errLinkLost
		}
		return s.fail(KindConnectFailed, cause)
	}
	slog.Warn("[BLE] disconnected", "peer", s.peer.ID, "error", cause)
	s.err = cause
	s.clearHandles()
	evs := s.transition(StateDisconnected)
	return append(evs, DisconnectedEvent{PeerID: s.peer.ID, Err: cause})
}

// Disconnect abandons the session from any live state and lands on
// Disconnected. It is a no-op for a terminal session.
func (s *Session) Disconnect() []Event {
	if !s.state.Live() {
		return nil
	}
	slog.Info("[BLE] disconnecting", "peer", s.peer.ID, "state", s.state)
	if err := s.radio.Disconnect(s.peer.ID); err != nil {
		slog.Warn("[BLE] disconnect request failed", "peer", s.peer.ID, "error", err)
	}
	s.clearHandles()
	evs := s.transition(StateDisconnected)
	return append(evs, DisconnectedEvent{PeerID: s.peer.ID})
}

// Timeout fails the session if it is still waiting in stage.
func (s *Session) Timeout(stage ConnectionState) []Event {
	if s.state != stage || !stage.awaitsHardware() {
		return nil
	}
	slog.Warn("[BLE] stage timed out", "peer", s.peer.ID, "stage", stage)
	return s.fail(stage.failureKind(), ErrTimeout)
}

// AdapterLost ends a live session after the adapter left PoweredOn.
func (s *Session) AdapterLost() []Event {
	if !s.state.Live() {
		return nil
	}
	return s.onLinkLost(errors.New("adapter powered off"))
}

// fail moves to Failed. A link that was already up, or a connect request
// that may still complete, is torn down so it does not outlive the session.
func (s *Session) fail(kind ErrorKind, cause error) []Event {
	err := newError(kind, cause)
	slog.Warn("[BLE] session failed", "peer", s.peer.ID, "stage", s.state, "error", err)
	if s.state > StateConnecting || errors.Is(cause, ErrTimeout) {
		if derr := s.radio.Disconnect(s.peer.ID); derr != nil {
			slog.Debug("[BLE] teardown after failure", "peer", s.peer.ID, "error", derr)
		}
	}
	s.err = err
	s.clearHandles()
	evs := s.transition(StateFailed)
	return append(evs, ConnectionOutcomeEvent{Success: false, PeerID: s.peer.ID, Err: err})
}

func (s *Session) clearHandles() {
	s.char = nil
	s.service = nil
}

func (s *Session) transition(to ConnectionState) []Event {
	from := s.state
	s.state = to
	ev := StateChangedEvent{PeerID: s.peer.ID, From: from, To: to}
	if to.Terminal() {
		ev.Err = s.err
	}
	return []Event{ev}
}
