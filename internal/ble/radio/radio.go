// Package radio defines the hardware boundary of the central: a narrow
// capability interface that every radio backend implements, and the closed
// set of events a backend reports back. Two backends live here: Sim, an
// in-memory simulated radio, and TinyGo, which drives a real adapter through
// tinygo.org/x/bluetooth.
package radio

import (
	"github.com/google/uuid"
)

// Default GATT identifiers of the chat service.
var (
	ServiceUUID        = uuid.MustParse("e20a39f4-73f5-4bc4-a12f-17d1ad07a961")
	CharacteristicUUID = uuid.MustParse("08590f7e-db05-467e-8757-e2273e5f7a91")
)

// AdapterState is the power/availability state of the local radio.
type AdapterState int

const (
	StateUnknown AdapterState = iota
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "powered-off"
	case StatePoweredOn:
		return "powered-on"
	default:
		return "unknown"
	}
}

// ServiceHandle is an opaque reference to a discovered service. Only the
// backend that produced it can interpret it.
type ServiceHandle interface{}

// CharacteristicHandle is an opaque reference to a discovered characteristic.
type CharacteristicHandle interface{}

// Service describes one service returned by discovery.
type Service struct {
	UUID   uuid.UUID
	Handle ServiceHandle
}

// Characteristic describes one characteristic returned by discovery.
type Characteristic struct {
	UUID   uuid.UUID
	Notify bool
	Handle CharacteristicHandle
}

// Radio abstracts the BLE hardware in the central role.
//
// Every method returns as soon as the request has been handed to the
// hardware. A non-nil error means the request was never issued; otherwise
// exactly one matching event is eventually delivered on Events.
type Radio interface {
	// Events returns the stream of hardware events. Nothing is delivered
	// after Close; a backend may also close the channel.
	Events() <-chan Event
	// Enable powers on the adapter and starts reporting AdapterStateChanged.
	Enable() error
	// StartScan listens for advertisements carrying service.
	StartScan(service uuid.UUID) error
	// StopScan halts a running scan.
	StopScan() error
	// Connect requests a link to the peer; answered by Connected or ConnectFailed.
	Connect(peerID string) error
	// DiscoverServices is answered by ServicesDiscovered.
	DiscoverServices(peerID string, service uuid.UUID) error
	// DiscoverCharacteristics is answered by CharacteristicsDiscovered.
	DiscoverCharacteristics(peerID string, svc ServiceHandle, char uuid.UUID) error
	// Subscribe enables notifications; answered by NotifyStateChanged.
	Subscribe(peerID string, char CharacteristicHandle) error
	// Write writes data to the characteristic; answered by a WriteCompleted
	// carrying the same seq.
	Write(peerID string, char CharacteristicHandle, data []byte, seq uint64) error
	// Disconnect tears down the link; answered by Disconnected.
	Disconnect(peerID string) error
	// Close releases the adapter and closes the event stream.
	Close() error
}
