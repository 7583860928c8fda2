package ble

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/chaz8081/peerlink/internal/ble/radio"
)

// Scanner discovers peers advertising the target service and feeds the
// registry.
type Scanner struct {
	radio    radio.Radio
	registry *PeerRegistry
	service  uuid.UUID
	scanning bool
}

// NewScanner creates a scanner for service.
func NewScanner(r radio.Radio, registry *PeerRegistry, service uuid.UUID) *Scanner {
	return &Scanner{radio: r, registry: registry, service: service}
}

// Start clears the registry and begins listening. It fails with
// ErrAdapterNotReady unless the adapter is powered on.
func (s *Scanner) Start(adapter *Adapter) error {
	if !adapter.Ready() {
		return newError(KindAdapterNotReady, fmt.Errorf("adapter is %s", adapter.State()))
	}
	s.registry.Reset()
	if err := s.radio.StartScan(s.service); err != nil {
		return newError(KindAdapterNotReady, fmt.Errorf("start scan: %w", err))
	}
	s.scanning = true
	slog.Info("[BLE] scanning", "service", s.service)
	return nil
}

// Stop halts listening. It is a no-op when not scanning.
func (s *Scanner) Stop() error {
	if !s.scanning {
		return nil
	}
	s.scanning = false
	if err := s.radio.StopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	slog.Info("[BLE] scan stopped", "peers", s.registry.Len())
	return nil
}

// Halt marks the scan as stopped by the hardware, e.g. on power loss.
func (s *Scanner) Halt() { s.scanning = false }

// Scanning reports whether a scan is running.
func (s *Scanner) Scanning() bool { return s.scanning }

// Handle consumes one advertisement.
func (s *Scanner) Handle(adv radio.Advertisement) []Event {
	if !s.scanning || !slices.Contains(adv.Services, s.service) {
		return nil
	}
	peer, isNew := s.registry.Upsert(Peer{ID: adv.PeerID, Name: adv.Name, RSSI: adv.RSSI})
	if isNew {
		slog.Info("[BLE] discovered", "peer", peer.ID, "name", peer.Name, "rssi", peer.RSSI)
	} else {
		slog.Debug("[BLE] sighting", "peer", peer.ID, "rssi", peer.RSSI)
	}
	return []Event{PeerDiscoveredEvent{Peer: peer}}
}
