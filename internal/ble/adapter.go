// Package ble is a BLE central for peer-to-peer chat. It scans for peers
// advertising the chat service, negotiates a single link through an explicit
// state machine, and exchanges text over one write/notify characteristic.
//
// All state is owned by the Central's event loop; the hardware is reached
// only through the radio.Radio capability, so the whole package runs against
// the simulated radio in tests.
package ble

import (
	"log/slog"

	"github.com/chaz8081/peerlink/internal/ble/radio"
)

// Adapter tracks the local radio's power/availability state. The state is
// only ever observed from hardware events, never set by the central.
type Adapter struct {
	state radio.AdapterState
}

// Observe records a reported state and returns the change event, if any.
func (a *Adapter) Observe(state radio.AdapterState) []Event {
	if state == a.state {
		return nil
	}
	slog.Info("[BLE] adapter state", "from", a.state, "to", state)
	a.state = state
	return []Event{AdapterStateEvent{State: state}}
}

// State returns the last observed state.
func (a *Adapter) State() radio.AdapterState { return a.state }

// Ready reports whether scanning and connecting are permitted.
func (a *Adapter) Ready() bool { return a.state == radio.StatePoweredOn }

// FatalAdapterState reports states that will not recover for the lifetime
// of the process: the platform has no radio, or the user denied access.
func FatalAdapterState(state radio.AdapterState) bool {
	return state == radio.StateUnsupported || state == radio.StateUnauthorized
}
