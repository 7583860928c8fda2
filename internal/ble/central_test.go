package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/peerlink/internal/ble/radio"
)

// startCentral runs c until the test ends and returns its event feed, which
// is subscribed before Run so nothing is missed.
func startCentral(t *testing.T, c *Central) <-chan Event {
	t.Helper()
	events, cancelSub := c.Dispatcher().Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancelSub()
		cancel()
		<-done
	})
	return events
}

// await reads events until match returns true and returns that event.
func await(t *testing.T, events <-chan Event, what string, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed waiting for %s", what)
			}
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func awaitState(t *testing.T, events <-chan Event, want ConnectionState) StateChangedEvent {
	t.Helper()
	return await(t, events, "state "+want.String(), func(ev Event) bool {
		sc, ok := ev.(StateChangedEvent)
		return ok && sc.To == want
	}).(StateChangedEvent)
}

func awaitKind(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	return await(t, events, string(kind), func(ev Event) bool { return ev.Kind() == kind })
}

// expectQuiet fails if any event arrives within d.
func expectQuiet(t *testing.T, events <-chan Event, d time.Duration) {
	t.Helper()
	select {
	case ev := <-events:
		t.Errorf("unexpected event %T%+v", ev, ev)
	case <-time.After(d):
	}
}

func awaitPowered(t *testing.T, events <-chan Event) {
	t.Helper()
	await(t, events, "powered on", func(ev Event) bool {
		as, ok := ev.(AdapterStateEvent)
		return ok && as.State == radio.StatePoweredOn
	})
}

func TestCentralEndToEnd(t *testing.T) {
	sim := radio.NewSim(radio.SimOptions{
		Peers: []radio.SimPeer{{ID: "P1", Name: "Alice", RSSI: -60}},
	})
	defer sim.Close()
	c := NewCentral(sim, DefaultOptions())
	events := startCentral(t, c)
	awaitPowered(t, events)

	if err := c.StartScan(); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	awaitKind(t, events, EventPeerDiscovered)
	if err := sim.Advertise("P1", -55); err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	await(t, events, "rediscovery", func(ev Event) bool {
		pd, ok := ev.(PeerDiscoveredEvent)
		return ok && pd.Peer.RSSI == -55
	})

	peers := c.Peers()
	if len(peers) != 1 || peers[0].ID != "P1" || peers[0].RSSI != -55 {
		t.Fatalf("Peers = %+v, want single P1 at -55", peers)
	}

	if err := c.Connect("P1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	outcome := awaitKind(t, events, EventConnectionOutcome).(ConnectionOutcomeEvent)
	if !outcome.Success || outcome.PeerID != "P1" {
		t.Fatalf("outcome = %+v, want success for P1", outcome)
	}
	awaitKind(t, events, EventServiceReady)
	awaitState(t, events, StateSubscribingNotify)
	cr := awaitKind(t, events, EventCharacteristicReady).(CharacteristicReadyEvent)
	if !cr.SupportsNotify {
		t.Error("characteristic-ready without notify support")
	}
	awaitState(t, events, StateReady)

	if err := c.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	res := awaitKind(t, events, EventSendResult).(SendResultEvent)
	if !res.Success || string(res.Payload) != "hello" {
		t.Fatalf("send result = %+v, want success", res)
	}
	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Writing {
		t.Error("pending write not cleared after send-result")
	}
	if st.State != StateReady || st.Peer.ID != "P1" {
		t.Errorf("status = %+v", st)
	}

	if err := sim.Notify("P1", []byte("hi")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	msg := awaitKind(t, events, EventMessageReceived).(MessageReceivedEvent)
	if string(msg.Data) != "hi" {
		t.Errorf("message = %q, want %q", msg.Data, "hi")
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	awaitKind(t, events, EventDisconnected)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	expectQuiet(t, events, 100*time.Millisecond)
}

func TestCentralRejectsWhenAdapterNotReady(t *testing.T) {
	m := newMockRadio()
	c := NewCentral(m, DefaultOptions())
	events := startCentral(t, c)

	m.emit(radio.AdapterStateChanged{State: radio.StatePoweredOff})
	awaitKind(t, events, EventAdapterStateChanged)

	if err := c.StartScan(); !errors.Is(err, ErrAdapterNotReady) {
		t.Errorf("StartScan = %v, want adapter not ready", err)
	}
	if err := c.Connect("P1"); !errors.Is(err, ErrAdapterNotReady) {
		t.Errorf("Connect = %v, want adapter not ready", err)
	}
	if n := m.count("Connect"); n != 0 {
		t.Errorf("hardware Connect called %d times, want 0", n)
	}
	if err := c.Send("hi"); !errors.Is(err, ErrTransportNotReady) {
		t.Errorf("Send = %v, want transport not ready", err)
	}
	expectQuiet(t, events, 50*time.Millisecond)
}

func TestCentralConnectGuards(t *testing.T) {
	m := newMockRadio()
	c := NewCentral(m, DefaultOptions())
	events := startCentral(t, c)

	m.emit(radio.AdapterStateChanged{State: radio.StatePoweredOn})
	awaitPowered(t, events)

	if err := c.Connect("P1"); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("Connect(undiscovered) = %v, want unknown peer", err)
	}

	if err := c.StartScan(); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	m.emit(advert("P1", -60))
	m.emit(advert("P2", -70))
	awaitKind(t, events, EventPeerDiscovered)
	awaitKind(t, events, EventPeerDiscovered)

	if err := c.Connect("P1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	awaitState(t, events, StateConnecting)

	if err := c.Connect("P2"); !errors.Is(err, ErrAlreadyConnecting) {
		t.Errorf("second Connect = %v, want already connecting", err)
	}
	st, _ := c.Status()
	if st.Peer.ID != "P1" || st.State != StateConnecting {
		t.Errorf("status = %+v, want P1 connecting", st)
	}
	if n := m.count("Connect"); n != 1 {
		t.Errorf("hardware Connect called %d times, want 1", n)
	}
}

func TestCentralAlreadyConnectingInEveryLiveState(t *testing.T) {
	steps := []radio.Event{
		radio.Connected{PeerID: "P1"},
		servicesFound("P1"),
		charsFound("P1", true),
		radio.NotifyStateChanged{PeerID: "P1", Characteristic: testChar, Enabled: true},
	}
	tests := []struct {
		state ConnectionState
		steps int
	}{
		{StateConnecting, 0},
		{StateServicesDiscovering, 1},
		{StateCharacteristicsDiscovering, 2},
		{StateSubscribingNotify, 3},
		{StateReady, 4},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			m := newMockRadio()
			opts := DefaultOptions()
			opts.ConnectTimeout, opts.ServiceTimeout = 0, 0
			opts.CharacteristicTimeout, opts.SubscribeTimeout = 0, 0
			c := NewCentral(m, opts)
			events := startCentral(t, c)

			m.emit(radio.AdapterStateChanged{State: radio.StatePoweredOn})
			awaitPowered(t, events)
			if err := c.StartScan(); err != nil {
				t.Fatalf("StartScan: %v", err)
			}
			m.emit(advert("P1", -60))
			m.emit(advert("P2", -70))
			awaitKind(t, events, EventPeerDiscovered)
			awaitKind(t, events, EventPeerDiscovered)

			if err := c.Connect("P1"); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			for _, ev := range steps[:tt.steps] {
				m.emit(ev)
			}
			awaitState(t, events, tt.state)

			for _, id := range []string{"P2", "P1"} {
				if err := c.Connect(id); !errors.Is(err, ErrAlreadyConnecting) {
					t.Errorf("Connect(%s) = %v, want already connecting", id, err)
				}
			}
			st, _ := c.Status()
			if st.Peer.ID != "P1" || st.State != tt.state {
				t.Errorf("status = %+v, want P1 in %v", st, tt.state)
			}
			if n := m.count("Connect"); n != 1 {
				t.Errorf("hardware Connect called %d times, want 1", n)
			}
		})
	}
}

func TestCentralStopScanIdempotent(t *testing.T) {
	m := newMockRadio()
	c := NewCentral(m, DefaultOptions())
	events := startCentral(t, c)
	m.emit(radio.AdapterStateChanged{State: radio.StatePoweredOn})
	awaitPowered(t, events)

	for i := 0; i < 2; i++ {
		if err := c.StopScan(); err != nil {
			t.Fatalf("StopScan: %v", err)
		}
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
	}
	if n := m.count("StopScan"); n != 0 {
		t.Errorf("hardware StopScan called %d times, want 0", n)
	}
	expectQuiet(t, events, 50*time.Millisecond)
}

func TestCentralStageTimeout(t *testing.T) {
	m := newMockRadio()
	opts := DefaultOptions()
	opts.ConnectTimeout = 30 * time.Millisecond
	c := NewCentral(m, opts)
	events := startCentral(t, c)
	m.emit(radio.AdapterStateChanged{State: radio.StatePoweredOn})
	awaitPowered(t, events)

	if err := c.StartScan(); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	m.emit(advert("P1", -60))
	awaitKind(t, events, EventPeerDiscovered)
	if err := c.Connect("P1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	outcome := awaitKind(t, events, EventConnectionOutcome).(ConnectionOutcomeEvent)
	if outcome.Success {
		t.Fatal("outcome succeeded, want timeout failure")
	}
	if !errors.Is(outcome.Err, ErrConnectFailed) || !errors.Is(outcome.Err, ErrTimeout) {
		t.Errorf("outcome err = %v, want connect failed by timeout", outcome.Err)
	}

	// The session is terminal, so a fresh connect is allowed.
	if err := c.Connect("P1"); err != nil {
		t.Errorf("Connect after timeout: %v", err)
	}
}

func TestCentralWriteTimeout(t *testing.T) {
	sim := radio.NewSim(radio.SimOptions{
		Peers: []radio.SimPeer{{ID: "P1", Name: "Alice", RSSI: -60}},
	})
	defer sim.Close()
	opts := DefaultOptions()
	opts.WriteTimeout = 30 * time.Millisecond
	c := NewCentral(stallWrites{sim}, opts)
	events := startCentral(t, c)
	awaitPowered(t, events)

	if err := c.StartScan(); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	awaitKind(t, events, EventPeerDiscovered)
	if err := c.Connect("P1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	awaitState(t, events, StateReady)

	if err := c.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	res := awaitKind(t, events, EventSendResult).(SendResultEvent)
	if res.Success || !errors.Is(res.Err, ErrWriteFailed) || !errors.Is(res.Err, ErrTimeout) {
		t.Errorf("send result = %+v, want write timeout", res)
	}
	if err := c.Send("again"); err != nil {
		t.Errorf("Send after timeout: %v", err)
	}
}

// stallWrites accepts writes and never acknowledges them.
type stallWrites struct{ *radio.Sim }

func (stallWrites) Write(string, radio.CharacteristicHandle, []byte, uint64) error { return nil }

func TestCentralFailureKinds(t *testing.T) {
	tests := []struct {
		name string
		peer radio.SimPeer
		want error
	}{
		{"refused", radio.SimPeer{FailConnect: true}, ErrConnectFailed},
		{"no service", radio.SimPeer{MissingService: true}, ErrServiceNotFound},
		{"no characteristic", radio.SimPeer{MissingCharacteristic: true}, ErrCharacteristicNotFound},
		{"subscribe rejected", radio.SimPeer{FailSubscribe: true}, ErrSubscribeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.peer.ID, tt.peer.RSSI = "P1", -60
			sim := radio.NewSim(radio.SimOptions{Peers: []radio.SimPeer{tt.peer}})
			defer sim.Close()
			c := NewCentral(sim, DefaultOptions())
			events := startCentral(t, c)
			awaitPowered(t, events)

			if err := c.StartScan(); err != nil {
				t.Fatalf("StartScan: %v", err)
			}
			awaitKind(t, events, EventPeerDiscovered)
			if err := c.Connect("P1"); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			sc := awaitState(t, events, StateFailed)
			if !errors.Is(sc.Err, tt.want) {
				t.Errorf("failure = %v, want %v", sc.Err, tt.want)
			}
			outcome := awaitKind(t, events, EventConnectionOutcome).(ConnectionOutcomeEvent)
			if outcome.Success || !errors.Is(outcome.Err, tt.want) {
				t.Errorf("outcome = %+v, want failure %v", outcome, tt.want)
			}
		})
	}
}

func TestCentralNoNotifyPeer(t *testing.T) {
	sim := radio.NewSim(radio.SimOptions{
		Peers: []radio.SimPeer{{ID: "P1", RSSI: -60, NoNotify: true}},
	})
	defer sim.Close()
	c := NewCentral(sim, DefaultOptions())
	events := startCentral(t, c)
	awaitPowered(t, events)

	if err := c.StartScan(); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	awaitKind(t, events, EventPeerDiscovered)
	if err := c.Connect("P1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sc := awaitState(t, events, StateReady)
	if sc.From != StateCharacteristicsDiscovering {
		t.Errorf("reached ready from %v, want characteristics-discovering", sc.From)
	}
}

func TestCentralPowerLossEndsSession(t *testing.T) {
	sim := radio.NewSim(radio.SimOptions{
		Peers: []radio.SimPeer{{ID: "P1", RSSI: -60}},
	})
	defer sim.Close()
	c := NewCentral(sim, DefaultOptions())
	events := startCentral(t, c)
	awaitPowered(t, events)

	if err := c.StartScan(); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	awaitKind(t, events, EventPeerDiscovered)
	if err := c.Connect("P1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	awaitState(t, events, StateReady)

	if err := sim.SetState(radio.StatePoweredOff); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	awaitKind(t, events, EventDisconnected)

	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Scanning || st.State != StateDisconnected || st.Adapter != radio.StatePoweredOff {
		t.Errorf("status = %+v", st)
	}
}

func TestCentralHandlerMayCallBack(t *testing.T) {
	sim := radio.NewSim(radio.SimOptions{
		Peers: []radio.SimPeer{{ID: "P1", RSSI: -60, Echo: true}},
	})
	defer sim.Close()
	c := NewCentral(sim, DefaultOptions())

	// Connect from inside the discovery callback and send once ready.
	c.Dispatcher().Handle(HandlerFuncs{
		PeerDiscovered: func(e PeerDiscoveredEvent) { _ = c.Connect(e.Peer.ID) },
		StateChanged: func(e StateChangedEvent) {
			if e.To == StateReady {
				_ = c.Send("ping")
			}
		},
	})
	events := startCentral(t, c)
	awaitPowered(t, events)
	if err := c.StartScan(); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	msg := awaitKind(t, events, EventMessageReceived).(MessageReceivedEvent)
	if string(msg.Data) != "ping" {
		t.Errorf("echo = %q, want ping", msg.Data)
	}
}

func TestCentralRunOnce(t *testing.T) {
	sim := radio.NewSim(radio.SimOptions{})
	c := NewCentral(sim, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context canceled", err)
	}
	if err := c.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("second Run = %v, want closed", err)
	}
	if err := c.StartScan(); !errors.Is(err, ErrClosed) {
		t.Errorf("StartScan after Run = %v, want closed", err)
	}
	_ = sim.Close()
}
