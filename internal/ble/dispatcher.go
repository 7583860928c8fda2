package ble

import (
	"sync"

	"github.com/cskr/pubsub/v2"
)

// DefaultDispatchCapacity is the per-subscriber buffer of a Dispatcher.
const DefaultDispatchCapacity = 256

// Handler receives every event, in emission order, on its own goroutine.
type Handler interface {
	HandleEvent(ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event)

func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

// HandlerFuncs is a Handler with one optional callback per event kind.
// Nil callbacks are skipped.
type HandlerFuncs struct {
	AdapterStateChanged func(AdapterStateEvent)
	PeerDiscovered      func(PeerDiscoveredEvent)
	ConnectionOutcome   func(ConnectionOutcomeEvent)
	ServiceReady        func(ServiceReadyEvent)
	CharacteristicReady func(CharacteristicReadyEvent)
	MessageReceived     func(MessageReceivedEvent)
	SendResult          func(SendResultEvent)
	StateChanged        func(StateChangedEvent)
	Disconnected        func(DisconnectedEvent)
}

func (h HandlerFuncs) HandleEvent(ev Event) {
	switch e := ev.(type) {
	case AdapterStateEvent:
		if h.AdapterStateChanged != nil {
			h.AdapterStateChanged(e)
		}
	case PeerDiscoveredEvent:
		if h.PeerDiscovered != nil {
			h.PeerDiscovered(e)
		}
	case ConnectionOutcomeEvent:
		if h.ConnectionOutcome != nil {
			h.ConnectionOutcome(e)
		}
	case ServiceReadyEvent:
		if h.ServiceReady != nil {
			h.ServiceReady(e)
		}
	case CharacteristicReadyEvent:
		if h.CharacteristicReady != nil {
			h.CharacteristicReady(e)
		}
	case MessageReceivedEvent:
		if h.MessageReceived != nil {
			h.MessageReceived(e)
		}
	case SendResultEvent:
		if h.SendResult != nil {
			h.SendResult(e)
		}
	case StateChangedEvent:
		if h.StateChanged != nil {
			h.StateChanged(e)
		}
	case DisconnectedEvent:
		if h.Disconnected != nil {
			h.Disconnected(e)
		}
	}
}

// Dispatcher fans events out to external collaborators. Each event kind is
// a pubsub topic; a subscriber listening on several kinds still sees them in
// the order they were published. There is no replay: a handler registered
// after an event was published never sees it.
type Dispatcher struct {
	ps *pubsub.PubSub[EventKind, Event]
	wg sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher whose subscribers buffer up to
// capacity events before Publish blocks.
func NewDispatcher(capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultDispatchCapacity
	}
	return &Dispatcher{ps: pubsub.New[EventKind, Event](capacity)}
}

// Handle registers h for every event kind. h runs on a dedicated goroutine
// until the dispatcher is closed, so it may call back into the Central.
func (d *Dispatcher) Handle(h Handler) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	ch := d.ps.Sub(AllEventKinds...)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range ch {
			h.HandleEvent(ev)
		}
	}()
}

// Subscribe returns a channel of the given kinds (all kinds when none are
// named) and a function that cancels the subscription. The channel is
// closed when the dispatcher closes.
func (d *Dispatcher) Subscribe(kinds ...EventKind) (<-chan Event, func()) {
	if len(kinds) == 0 {
		kinds = AllEventKinds
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	ch := d.ps.Sub(kinds...)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.RLock()
			defer d.mu.RUnlock()
			if !d.closed {
				// Unsub waits on the pubsub loop, which may be blocked
				// delivering to ch; never block the caller on it.
				go d.ps.Unsub(ch, kinds...)
			}
		})
	}
}

// Publish delivers events in order. Events published after Close are dropped.
func (d *Dispatcher) Publish(events ...Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, ev := range events {
		d.ps.Pub(ev, ev.Kind())
	}
}

// Close stops delivery and waits for registered handlers to drain the
// events already published to them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.ps.Shutdown()
	d.wg.Wait()
}
