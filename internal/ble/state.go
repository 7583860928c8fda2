package ble

// ConnectionState is the lifecycle stage of a Session.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateServicesDiscovering
	StateCharacteristicsDiscovering
	StateSubscribingNotify
	StateReady
	StateFailed
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateServicesDiscovering:
		return "services-discovering"
	case StateCharacteristicsDiscovering:
		return "characteristics-discovering"
	case StateSubscribingNotify:
		return "subscribing-notify"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "invalid"
	}
}

// Terminal reports whether no further transition can leave s.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateDisconnected
}

// Live reports whether a session in s holds or is acquiring a link.
func (s ConnectionState) Live() bool {
	return s >= StateConnecting && s <= StateReady
}

// awaitsHardware reports whether s waits on exactly one hardware response
// and therefore runs under a stage timeout.
func (s ConnectionState) awaitsHardware() bool {
	return s >= StateConnecting && s <= StateSubscribingNotify
}

// failureKind is the error kind reported when s fails.
func (s ConnectionState) failureKind() ErrorKind {
	switch s {
	case StateServicesDiscovering:
		return KindServiceNotFound
	case StateCharacteristicsDiscovering:
		return KindCharacteristicNotFound
	case StateSubscribingNotify:
		return KindSubscribeFailed
	default:
		return KindConnectFailed
	}
}
