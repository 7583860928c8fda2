package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/peerlink/internal/ble/radio"
)

// Options configures a Central.
type Options struct {
	Target   Target
	MaxWrite int // largest encoded payload; zero means the ATT maximum

	// Per-stage hardware response deadlines. Zero disables a deadline.
	ConnectTimeout        time.Duration
	ServiceTimeout        time.Duration
	CharacteristicTimeout time.Duration
	SubscribeTimeout      time.Duration
	WriteTimeout          time.Duration

	DispatchCapacity int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Target:                DefaultTarget(),
		ConnectTimeout:        10 * time.Second,
		ServiceTimeout:        5 * time.Second,
		CharacteristicTimeout: 5 * time.Second,
		SubscribeTimeout:      5 * time.Second,
		WriteTimeout:          5 * time.Second,
		DispatchCapacity:      DefaultDispatchCapacity,
	}
}

func (o Options) stageTimeout(stage ConnectionState) time.Duration {
	switch stage {
	case StateConnecting:
		return o.ConnectTimeout
	case StateServicesDiscovering:
		return o.ServiceTimeout
	case StateCharacteristicsDiscovering:
		return o.CharacteristicTimeout
	case StateSubscribingNotify:
		return o.SubscribeTimeout
	default:
		return 0
	}
}

// deadline is a fired stage or write timer. gen identifies the arming it
// belongs to so a timer that lost a race with its stage is discarded.
type deadline struct {
	gen   uint64
	write bool
	stage ConnectionState
}

// Central is the BLE central. Run owns a single event loop; every hardware
// event, command and deadline is applied on it in arrival order, so no
// component state needs a lock. Commands may be called from any goroutine
// while Run is active, including from dispatcher handlers.
type Central struct {
	radio      radio.Radio
	opts       Options
	dispatcher *Dispatcher

	adapter   Adapter
	registry  *PeerRegistry
	scanner   *Scanner
	session   *Session
	transport *Transport

	cmds      chan func()
	deadlines chan deadline
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	// Loop-owned deadline bookkeeping.
	stageGen     uint64
	writeGen     uint64
	stageTimer   *time.Timer
	armedSession *Session
	armedStage   ConnectionState
	writeTimer   *time.Timer
	armedWrite   *PendingWrite
}

// NewCentral creates a central driving r.
func NewCentral(r radio.Radio, opts Options) *Central {
	if opts.Target == (Target{}) {
		opts.Target = DefaultTarget()
	}
	registry := NewPeerRegistry()
	return &Central{
		radio:      r,
		opts:       opts,
		dispatcher: NewDispatcher(opts.DispatchCapacity),
		registry:   registry,
		scanner:    NewScanner(r, registry, opts.Target.Service),
		transport:  NewTransport(r, opts.MaxWrite),
		cmds:       make(chan func()),
		deadlines:  make(chan deadline, 4),
		done:       make(chan struct{}),
	}
}

// Dispatcher returns the event surface. Register handlers before issuing
// commands; nothing is replayed.
func (c *Central) Dispatcher() *Dispatcher { return c.dispatcher }

// Run enables the radio and processes events until ctx is cancelled or the
// radio's event stream ends. It may be called once.
func (c *Central) Run(ctx context.Context) error {
	started := false
	c.startOnce.Do(func() { started = true })
	if !started {
		return ErrClosed
	}
	defer c.shutdown()

	if err := c.radio.Enable(); err != nil {
		slog.Error("[BLE] enable adapter", "error", err)
	}

	events := c.radio.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				slog.Info("[BLE] radio event stream closed")
				return nil
			}
			c.handleRadio(ev)
		case fn := <-c.cmds:
			fn()
		case d := <-c.deadlines:
			c.handleDeadline(d)
		}
	}
}

func (c *Central) shutdown() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.stopTimer(&c.stageTimer)
		c.stopTimer(&c.writeTimer)
		if c.session != nil {
			c.session.Disconnect()
		}
		_ = c.scanner.Stop()
		c.dispatcher.Close()
	})
}

// do runs fn on the loop and returns its result.
func (c *Central) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- func() { reply <- fn() }:
	case <-c.done:
		return ErrClosed
	}
	return <-reply
}

// StartScan clears the discovered peers and starts scanning.
func (c *Central) StartScan() error {
	return c.do(func() error {
		return c.scanner.Start(&c.adapter)
	})
}

// StopScan stops scanning; a no-op when not scanning.
func (c *Central) StopScan() error {
	return c.do(c.scanner.Stop)
}

// Connect starts a session with a discovered peer. It is rejected while
// another session is live.
func (c *Central) Connect(peerID string) error {
	return c.do(func() error {
		if !c.adapter.Ready() {
			return ErrAdapterNotReady
		}
		if c.session != nil && c.session.State().Live() {
			return ErrAlreadyConnecting
		}
		peer, ok := c.registry.Lookup(peerID)
		if !ok {
			return ErrUnknownPeer
		}
		c.transport.Abandon()
		c.session = NewSession(c.radio, c.opts.Target, peer)
		c.emit(c.session.Start())
		return nil
	})
}

// Disconnect ends the live session; a no-op when there is none.
func (c *Central) Disconnect() error {
	return c.do(func() error {
		if c.session == nil {
			return nil
		}
		evs := c.session.Disconnect()
		if len(evs) > 0 {
			c.transport.Abandon()
		}
		c.emit(evs)
		return nil
	})
}

// Send writes text to the connected peer. The outcome arrives as a
// SendResultEvent; a returned error means nothing was sent.
func (c *Central) Send(text string) error {
	return c.do(func() error {
		if err := c.transport.Send(c.session, text); err != nil {
			return err
		}
		c.rearm()
		return nil
	})
}

// Peers returns the discovered peers in first-seen order.
func (c *Central) Peers() []Peer {
	var peers []Peer
	if err := c.do(func() error {
		peers = c.registry.List()
		return nil
	}); err != nil {
		return nil
	}
	return peers
}

// Status is a point-in-time view of the central.
type Status struct {
	Adapter  radio.AdapterState
	Scanning bool
	State    ConnectionState
	Peer     Peer
	Writing  bool
}

// Status reports the current state.
func (c *Central) Status() (Status, error) {
	var st Status
	err := c.do(func() error {
		st.Adapter = c.adapter.State()
		st.Scanning = c.scanner.Scanning()
		st.Writing = c.transport.Pending() != nil
		if c.session != nil {
			st.State = c.session.State()
			st.Peer = c.session.Peer()
		}
		return nil
	})
	return st, err
}

func (c *Central) handleRadio(ev radio.Event) {
	switch e := ev.(type) {
	case radio.AdapterStateChanged:
		evs := c.adapter.Observe(e.State)
		if len(evs) > 0 && !c.adapter.Ready() {
			c.scanner.Halt()
			if c.session != nil && c.session.State().Live() {
				c.transport.Abandon()
				evs = append(evs, c.session.AdapterLost()...)
			}
		}
		if FatalAdapterState(e.State) {
			slog.Error("[BLE] adapter unusable", "state", e.State)
		}
		c.emit(evs)

	case radio.Advertisement:
		c.emit(c.scanner.Handle(e))

	case radio.WriteCompleted, radio.Notification:
		c.emit(c.transport.Handle(c.session, ev))

	default:
		if c.session == nil {
			return
		}
		evs := c.session.Handle(ev)
		if c.session.State().Terminal() {
			c.transport.Abandon()
		}
		c.emit(evs)
	}
}

func (c *Central) handleDeadline(d deadline) {
	if d.write {
		if d.gen != c.writeGen {
			return
		}
		c.writeTimer = nil
		c.armedWrite = nil
		c.emit(c.transport.Timeout())
		return
	}
	if d.gen != c.stageGen {
		return
	}
	c.stageTimer = nil
	if c.session == nil {
		return
	}
	evs := c.session.Timeout(d.stage)
	if c.session.State().Terminal() {
		c.transport.Abandon()
	}
	c.emit(evs)
}

// emit publishes events and re-arms deadlines for whatever the components
// are now waiting on.
func (c *Central) emit(evs []Event) {
	c.rearm()
	if len(evs) > 0 {
		c.dispatcher.Publish(evs...)
	}
}

func (c *Central) rearm() {
	var stage ConnectionState
	if c.session != nil {
		stage = c.session.State()
	}
	if c.session != c.armedSession || stage != c.armedStage {
		c.stopTimer(&c.stageTimer)
		c.armedSession, c.armedStage = c.session, stage
		if d := c.opts.stageTimeout(stage); d > 0 && stage.awaitsHardware() {
			c.stageTimer = c.arm(d, deadline{stage: stage})
		}
	}

	pending := c.transport.Pending()
	if pending != c.armedWrite {
		c.stopTimer(&c.writeTimer)
		c.armedWrite = pending
		if pending != nil && c.opts.WriteTimeout > 0 {
			c.writeTimer = c.arm(c.opts.WriteTimeout, deadline{write: true})
		}
	}
}

func (c *Central) arm(after time.Duration, d deadline) *time.Timer {
	if d.write {
		c.writeGen++
		d.gen = c.writeGen
	} else {
		c.stageGen++
		d.gen = c.stageGen
	}
	return time.AfterFunc(after, func() {
		select {
		case c.deadlines <- d:
		case <-c.done:
		}
	})
}

func (c *Central) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
