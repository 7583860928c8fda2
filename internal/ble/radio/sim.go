package radio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrSimClosed is returned by Sim requests issued after Close.
var ErrSimClosed = errors.New("radio: sim closed")

// SimPeer declares one simulated peripheral and the faults it exhibits.
type SimPeer struct {
	ID   string
	Name string
	RSSI int

	FailConnect           bool // Connect is answered with ConnectFailed
	MissingService        bool // the target service is not hosted
	MissingCharacteristic bool // the target characteristic is not hosted
	NoNotify              bool // the characteristic lacks the notify property
	FailSubscribe         bool
	FailWrite             bool
	Echo                  bool // written payloads come back as notifications
}

// SimOptions configures a Sim radio.
type SimOptions struct {
	Peers              []SimPeer
	Latency            time.Duration // delay before each response
	InitialState       AdapterState  // state reported by Enable; PoweredOn when zero
	ServiceUUID        uuid.UUID
	CharacteristicUUID uuid.UUID
}

type simService struct {
	peerID string
	uuid   uuid.UUID
}

type simCharacteristic struct {
	peerID string
	uuid   uuid.UUID
	notify bool
}

type simLink struct {
	mu   sync.Mutex
	char CharacteristicHandle // set once notifications are enabled
}

// Sim is an in-memory radio. Requests are answered in issue order by a
// single worker goroutine, so the event stream is deterministic.
type Sim struct {
	opts  SimOptions
	peers *xsync.MapOf[string, SimPeer]
	links *xsync.MapOf[string, *simLink]

	mu       sync.Mutex
	scanning bool
	order    []string

	qmu    sync.Mutex
	closed bool
	jobs   chan func() Event
	events chan Event
	once   sync.Once
}

// NewSim creates a simulated radio. Its worker starts immediately.
func NewSim(opts SimOptions) *Sim {
	if opts.ServiceUUID == uuid.Nil {
		opts.ServiceUUID = ServiceUUID
	}
	if opts.CharacteristicUUID == uuid.Nil {
		opts.CharacteristicUUID = CharacteristicUUID
	}
	if opts.InitialState == StateUnknown {
		opts.InitialState = StatePoweredOn
	}
	s := &Sim{
		opts:   opts,
		peers:  xsync.NewMapOf[string, SimPeer](),
		links:  xsync.NewMapOf[string, *simLink](),
		jobs:   make(chan func() Event, 256),
		events: make(chan Event, 256),
	}
	for _, p := range opts.Peers {
		s.AddPeer(p)
	}
	go s.run()
	return s
}

func (s *Sim) run() {
	defer close(s.events)
	for job := range s.jobs {
		if s.opts.Latency > 0 {
			time.Sleep(s.opts.Latency)
		}
		if ev := job(); ev != nil {
			s.events <- ev
		}
	}
}

// enqueue schedules a response. It fails once the sim is closed.
func (s *Sim) enqueue(job func() Event) error {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.closed {
		return ErrSimClosed
	}
	s.jobs <- job
	return nil
}

func (s *Sim) Events() <-chan Event { return s.events }

func (s *Sim) Enable() error {
	state := s.opts.InitialState
	return s.enqueue(func() Event { return AdapterStateChanged{State: state} })
}

// SetState simulates the platform changing the adapter state.
func (s *Sim) SetState(state AdapterState) error {
	if state != StatePoweredOn {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}
	return s.enqueue(func() Event { return AdapterStateChanged{State: state} })
}

func (s *Sim) StartScan(service uuid.UUID) error {
	s.mu.Lock()
	s.scanning = true
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, id := range ids {
		p, _ := s.peers.Load(id)
		if err := s.Advertise(p.ID, p.RSSI); err != nil {
			return err
		}
	}
	slog.Debug("[SIM] scan started", "service", service, "peers", len(ids))
	return nil
}

func (s *Sim) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanning = false
	return nil
}

// AddPeer makes a new peripheral visible to later scans.
func (s *Sim) AddPeer(p SimPeer) {
	if _, loaded := s.peers.LoadOrStore(p.ID, p); loaded {
		s.peers.Store(p.ID, p)
		return
	}
	s.mu.Lock()
	s.order = append(s.order, p.ID)
	s.mu.Unlock()
}

// Advertise emits one advertisement for a declared peer at the given signal
// strength. Nothing is emitted while no scan is running.
func (s *Sim) Advertise(peerID string, rssi int) error {
	p, ok := s.peers.Load(peerID)
	if !ok {
		return fmt.Errorf("radio: sim: unknown peer %q", peerID)
	}
	svc := s.opts.ServiceUUID
	return s.enqueue(func() Event {
		s.mu.Lock()
		scanning := s.scanning
		s.mu.Unlock()
		if !scanning {
			return nil
		}
		return Advertisement{PeerID: p.ID, Name: p.Name, RSSI: rssi, Services: []uuid.UUID{svc}}
	})
}

func (s *Sim) Connect(peerID string) error {
	return s.enqueue(func() Event {
		p, ok := s.peers.Load(peerID)
		if !ok {
			return ConnectFailed{PeerID: peerID, Err: fmt.Errorf("radio: sim: unknown peer %q", peerID)}
		}
		if p.FailConnect {
			return ConnectFailed{PeerID: peerID, Err: errors.New("radio: sim: connection refused")}
		}
		s.links.Store(peerID, &simLink{})
		return Connected{PeerID: peerID}
	})
}

func (s *Sim) DiscoverServices(peerID string, service uuid.UUID) error {
	return s.enqueue(func() Event {
		p, ok := s.peers.Load(peerID)
		if _, linked := s.links.Load(peerID); !ok || !linked {
			return ServicesDiscovered{PeerID: peerID, Err: errors.New("radio: sim: not connected")}
		}
		// A generic access service is always present so selection is exercised.
		svcs := []Service{{UUID: uuid.MustParse("00001800-0000-1000-8000-00805f9b34fb"), Handle: simService{peerID: peerID}}}
		if !p.MissingService {
			svcs = append(svcs, Service{UUID: service, Handle: simService{peerID: peerID, uuid: service}})
		}
		return ServicesDiscovered{PeerID: peerID, Services: svcs}
	})
}

func (s *Sim) DiscoverCharacteristics(peerID string, svc ServiceHandle, char uuid.UUID) error {
	return s.enqueue(func() Event {
		p, ok := s.peers.Load(peerID)
		if _, linked := s.links.Load(peerID); !ok || !linked {
			return CharacteristicsDiscovered{PeerID: peerID, Service: svc, Err: errors.New("radio: sim: not connected")}
		}
		var chars []Characteristic
		if !p.MissingCharacteristic {
			c := &simCharacteristic{peerID: peerID, uuid: char, notify: !p.NoNotify}
			chars = append(chars, Characteristic{UUID: char, Notify: c.notify, Handle: c})
		}
		return CharacteristicsDiscovered{PeerID: peerID, Service: svc, Characteristics: chars}
	})
}

func (s *Sim) Subscribe(peerID string, char CharacteristicHandle) error {
	return s.enqueue(func() Event {
		p, _ := s.peers.Load(peerID)
		link, ok := s.links.Load(peerID)
		switch {
		case !ok:
			return NotifyStateChanged{PeerID: peerID, Characteristic: char, Err: errors.New("radio: sim: not connected")}
		case p.FailSubscribe:
			return NotifyStateChanged{PeerID: peerID, Characteristic: char, Err: errors.New("radio: sim: cccd write rejected")}
		}
		link.mu.Lock()
		link.char = char
		link.mu.Unlock()
		return NotifyStateChanged{PeerID: peerID, Characteristic: char, Enabled: true}
	})
}

func (s *Sim) Write(peerID string, char CharacteristicHandle, data []byte, seq uint64) error {
	payload := make([]byte, len(data))
	copy(payload, data)
	err := s.enqueue(func() Event {
		p, _ := s.peers.Load(peerID)
		if _, ok := s.links.Load(peerID); !ok {
			return WriteCompleted{PeerID: peerID, Characteristic: char, Seq: seq, Err: errors.New("radio: sim: not connected")}
		}
		if p.FailWrite {
			return WriteCompleted{PeerID: peerID, Characteristic: char, Seq: seq, Err: errors.New("radio: sim: write rejected")}
		}
		return WriteCompleted{PeerID: peerID, Characteristic: char, Seq: seq}
	})
	if err != nil {
		return err
	}
	if p, _ := s.peers.Load(peerID); p.Echo && !p.FailWrite {
		return s.Notify(peerID, payload)
	}
	return nil
}

// Notify pushes a notification from the peer. It is dropped unless the
// peer is linked and subscribed.
func (s *Sim) Notify(peerID string, data []byte) error {
	return s.enqueue(func() Event {
		link, ok := s.links.Load(peerID)
		if !ok {
			return nil
		}
		link.mu.Lock()
		char := link.char
		link.mu.Unlock()
		if char == nil {
			return nil
		}
		return Notification{PeerID: peerID, Characteristic: char, Data: data}
	})
}

func (s *Sim) Disconnect(peerID string) error {
	return s.enqueue(func() Event {
		if _, ok := s.links.LoadAndDelete(peerID); !ok {
			return nil
		}
		return Disconnected{PeerID: peerID}
	})
}

// DropLink simulates the peer going out of range.
func (s *Sim) DropLink(peerID string) error {
	return s.enqueue(func() Event {
		if _, ok := s.links.LoadAndDelete(peerID); !ok {
			return nil
		}
		return Disconnected{PeerID: peerID, Err: errors.New("radio: sim: link supervision timeout")}
	})
}

func (s *Sim) Close() error {
	s.once.Do(func() {
		s.qmu.Lock()
		s.closed = true
		close(s.jobs)
		s.qmu.Unlock()
	})
	return nil
}

var _ Radio = (*Sim)(nil)
