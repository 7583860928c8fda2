package radio

import "github.com/google/uuid"

// Event is a hardware event reported by a Radio. The set of variants is
// closed: only the types in this file implement it.
type Event interface {
	radioEvent()
}

// AdapterStateChanged reports a new adapter power/availability state.
type AdapterStateChanged struct {
	State AdapterState
}

// Advertisement is one advertising packet seen during a scan.
type Advertisement struct {
	PeerID   string
	Name     string // empty when the packet carries no local name
	RSSI     int
	Services []uuid.UUID
}

// Connected reports that a Connect request succeeded.
type Connected struct {
	PeerID string
}

// ConnectFailed reports that a Connect request was rejected or timed out.
type ConnectFailed struct {
	PeerID string
	Err    error
}

// Disconnected reports that a link went away, requested or not.
type Disconnected struct {
	PeerID string
	Err    error
}

// ServicesDiscovered answers DiscoverServices.
type ServicesDiscovered struct {
	PeerID   string
	Services []Service
	Err      error
}

// CharacteristicsDiscovered answers DiscoverCharacteristics.
type CharacteristicsDiscovered struct {
	PeerID          string
	Service         ServiceHandle
	Characteristics []Characteristic
	Err             error
}

// NotifyStateChanged answers Subscribe.
type NotifyStateChanged struct {
	PeerID         string
	Characteristic CharacteristicHandle
	Enabled        bool
	Err            error
}

// WriteCompleted answers Write. Seq echoes the value passed to Write.
type WriteCompleted struct {
	PeerID         string
	Characteristic CharacteristicHandle
	Seq            uint64
	Err            error
}

// Notification carries a value pushed by the peer on a subscribed characteristic.
type Notification struct {
	PeerID         string
	Characteristic CharacteristicHandle
	Data           []byte
}

func (AdapterStateChanged) radioEvent()       {}
func (Advertisement) radioEvent()             {}
func (Connected) radioEvent()                 {}
func (ConnectFailed) radioEvent()             {}
func (Disconnected) radioEvent()              {}
func (ServicesDiscovered) radioEvent()        {}
func (CharacteristicsDiscovered) radioEvent() {}
func (NotifyStateChanged) radioEvent()        {}
func (WriteCompleted) radioEvent()            {}
func (Notification) radioEvent()              {}
