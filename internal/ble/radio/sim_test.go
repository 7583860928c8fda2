package radio

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func next(t *testing.T, s *Sim) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestSimNegotiation(t *testing.T) {
	s := NewSim(SimOptions{Peers: []SimPeer{{ID: "P1", Name: "Alice", RSSI: -60}}})
	defer s.Close()

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if ev := next(t, s).(AdapterStateChanged); ev.State != StatePoweredOn {
		t.Errorf("state = %v, want powered-on", ev.State)
	}

	if err := s.StartScan(ServiceUUID); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	adv := next(t, s).(Advertisement)
	if adv.PeerID != "P1" || adv.Name != "Alice" || adv.RSSI != -60 || len(adv.Services) != 1 || adv.Services[0] != ServiceUUID {
		t.Errorf("advertisement = %+v", adv)
	}

	if err := s.Connect("P1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, ok := next(t, s).(Connected); !ok {
		t.Fatal("expected Connected")
	}

	if err := s.DiscoverServices("P1", ServiceUUID); err != nil {
		t.Fatalf("DiscoverServices() error = %v", err)
	}
	svcs := next(t, s).(ServicesDiscovered)
	if svcs.Err != nil || len(svcs.Services) != 2 {
		t.Fatalf("services = %+v", svcs)
	}
	target := svcs.Services[1]
	if target.UUID != ServiceUUID {
		t.Errorf("second service = %s, want %s", target.UUID, ServiceUUID)
	}

	if err := s.DiscoverCharacteristics("P1", target.Handle, CharacteristicUUID); err != nil {
		t.Fatalf("DiscoverCharacteristics() error = %v", err)
	}
	chars := next(t, s).(CharacteristicsDiscovered)
	if len(chars.Characteristics) != 1 || !chars.Characteristics[0].Notify {
		t.Fatalf("characteristics = %+v", chars)
	}
	char := chars.Characteristics[0].Handle

	// Notifications are dropped until subscribed.
	if err := s.Notify("P1", []byte("early")); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if err := s.Subscribe("P1", char); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if ns := next(t, s).(NotifyStateChanged); !ns.Enabled || ns.Err != nil {
		t.Errorf("notify state = %+v", ns)
	}

	if err := s.Write("P1", char, []byte("hello"), 7); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if wc := next(t, s).(WriteCompleted); wc.Err != nil || wc.Seq != 7 {
		t.Errorf("write = %+v, want success echoing seq 7", wc)
	}

	if err := s.Notify("P1", []byte("hi")); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	n := next(t, s).(Notification)
	if string(n.Data) != "hi" || n.Characteristic != char {
		t.Errorf("notification = %+v", n)
	}

	if err := s.Disconnect("P1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if d := next(t, s).(Disconnected); d.Err != nil {
		t.Errorf("disconnected = %+v, want requested disconnect", d)
	}
}

func TestSimFaults(t *testing.T) {
	s := NewSim(SimOptions{Peers: []SimPeer{
		{ID: "refuse", FailConnect: true},
		{ID: "bare", MissingService: true},
	}})
	defer s.Close()

	if err := s.Connect("refuse"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if cf, ok := next(t, s).(ConnectFailed); !ok || cf.Err == nil {
		t.Errorf("expected ConnectFailed with cause, got %+v", cf)
	}

	if err := s.Connect("bare"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	next(t, s)
	if err := s.DiscoverServices("bare", ServiceUUID); err != nil {
		t.Fatalf("DiscoverServices() error = %v", err)
	}
	svcs := next(t, s).(ServicesDiscovered)
	for _, svc := range svcs.Services {
		if svc.UUID == ServiceUUID {
			t.Error("target service hosted by a peer that lacks it")
		}
	}

	if err := s.DropLink("bare"); err != nil {
		t.Fatalf("DropLink() error = %v", err)
	}
	if d := next(t, s).(Disconnected); d.Err == nil {
		t.Error("dropped link reported without a cause")
	}
}

func TestSimAdvertiseOnlyWhileScanning(t *testing.T) {
	s := NewSim(SimOptions{Peers: []SimPeer{{ID: "P1", RSSI: -60}}})
	defer s.Close()

	if err := s.Advertise("P1", -40); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	if err := s.Advertise("nobody", -40); err == nil {
		t.Error("Advertise(unknown) should fail")
	}
	// Responses are ordered, so once Enable answers the advert was handled.
	if err := s.Enable(); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if _, ok := next(t, s).(AdapterStateChanged); !ok {
		t.Fatal("advertisement delivered while not scanning")
	}

	s.AddPeer(SimPeer{ID: "P2", RSSI: -70})
	if err := s.StartScan(uuid.Nil); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	// The pre-scan advertisement was dropped; the scan announces both peers.
	if adv := next(t, s).(Advertisement); adv.PeerID != "P1" || adv.RSSI != -60 {
		t.Errorf("first advertisement = %+v", adv)
	}
	if adv := next(t, s).(Advertisement); adv.PeerID != "P2" {
		t.Errorf("second advertisement = %+v", adv)
	}
}

func TestSimClose(t *testing.T) {
	s := NewSim(SimOptions{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := s.Enable(); err != ErrSimClosed {
		t.Errorf("Enable() after Close = %v, want ErrSimClosed", err)
	}
	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("event delivered after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event stream not closed")
	}
}
