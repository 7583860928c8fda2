package radio

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"tinygo.org/x/bluetooth"
)

// ErrUnknownHandle is reported when a handle from another backend is passed in.
var ErrUnknownHandle = errors.New("radio: handle not produced by this adapter")

// TinyGo drives a real adapter through tinygo.org/x/bluetooth.
//
// tinygo's GATT calls block, so each request runs on its own goroutine and
// reports its outcome as an Event. Peer identifiers are the address strings
// reported by the platform: MAC addresses on Linux and Windows,
// CoreBluetooth UUIDs on macOS.
type TinyGo struct {
	adapter   *bluetooth.Adapter
	adapterID string // BlueZ adapter name used for power tracking, e.g. "hci0"

	seen    *xsync.MapOf[string, bluetooth.Address]
	links   *xsync.MapOf[string, *bluetooth.Device]
	dialing *xsync.MapOf[string, *dial]

	scanning  atomic.Bool
	stopWatch func()

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewTinyGo creates a radio backed by the platform's default adapter.
// adapterID names the BlueZ adapter whose power state is watched on Linux;
// an empty value means "hci0".
func NewTinyGo(adapterID string) *TinyGo {
	if adapterID == "" {
		adapterID = "hci0"
	}
	return &TinyGo{
		adapter:   bluetooth.DefaultAdapter,
		adapterID: adapterID,
		seen:      xsync.NewMapOf[string, bluetooth.Address](),
		links:     xsync.NewMapOf[string, *bluetooth.Device](),
		dialing:   xsync.NewMapOf[string, *dial](),
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
	}
}

// emit delivers ev unless the radio is closed.
func (t *TinyGo) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *TinyGo) Events() <-chan Event { return t.events }

func (t *TinyGo) Enable() error {
	if err := t.adapter.Enable(); err != nil {
		go t.emit(AdapterStateChanged{State: StateUnsupported})
		return fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "enable"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot enable the bluetooth adapter"),
		)
	}

	// On macOS, tinygo fires this callback with connected=false from
	// DidDisconnectPeripheral; on Linux it follows the Device1 Connected property.
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		if _, ok := t.links.LoadAndDelete(id); ok {
			slog.Info("[BLE] link dropped", "peer", id)
			t.emit(Disconnected{PeerID: id})
		}
	})

	if runtime.GOOS == "linux" {
		stop, err := WatchBlueZPower(t.adapterID, func(state AdapterState) {
			if state != StatePoweredOn {
				t.scanning.Store(false)
			}
			t.emit(AdapterStateChanged{State: state})
		})
		if err == nil {
			t.stopWatch = stop
			return nil
		}
		slog.Warn("[BLE] power tracking unavailable, assuming powered on", "error", err)
	}

	go t.emit(AdapterStateChanged{State: StatePoweredOn})
	return nil
}

func (t *TinyGo) StartScan(service uuid.UUID) error {
	target, err := bluetooth.ParseUUID(service.String())
	if err != nil {
		return fault.Wrap(err, ftag.With(ftag.InvalidArgument), fmsg.With("Cannot parse service UUID"))
	}
	if !t.scanning.CompareAndSwap(false, true) {
		return nil
	}

	go func() {
		err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(target) {
				return
			}
			id := result.Address.String()
			t.seen.Store(id, result.Address)
			t.emit(Advertisement{
				PeerID:   id,
				Name:     result.LocalName(),
				RSSI:     int(result.RSSI),
				Services: []uuid.UUID{service},
			})
		})
		t.scanning.Store(false)
		if err != nil {
			slog.Error("[BLE] scan ended with error", "error", fault.Wrap(err,
				fctx.With(context.Background(), "error_at", "scan"),
				ftag.With(ftag.Internal),
				fmsg.With("Scan aborted"),
			))
		}
	}()
	return nil
}

func (t *TinyGo) StopScan() error {
	if !t.scanning.Load() {
		return nil
	}
	if err := t.adapter.StopScan(); err != nil {
		return fault.Wrap(err, ftag.With(ftag.Internal), fmsg.With("Cannot stop scan"))
	}
	return nil
}

// address resolves a peer identifier, preferring the address captured
// during the scan.
func (t *TinyGo) address(peerID string) bluetooth.Address {
	if addr, ok := t.seen.Load(peerID); ok {
		return addr
	}
	var addr bluetooth.Address
	addr.Set(peerID)
	return addr
}

// dial is one in-flight adapter.Connect call.
type dial struct {
	abandoned bool
}

// beginDial registers a connect attempt, replacing any older attempt for
// the same peer.
func (t *TinyGo) beginDial(peerID string) *dial {
	d := &dial{}
	t.dialing.Store(peerID, d)
	return d
}

// finishDial retires own and reports whether its link should be kept. A
// kept device is published to links before the attempt is forgotten, so a
// concurrent Disconnect always finds one or the other.
func (t *TinyGo) finishDial(peerID string, own *dial, device *bluetooth.Device) bool {
	keep := false
	t.dialing.Compute(peerID, func(cur *dial, loaded bool) (*dial, bool) {
		if !loaded || cur != own {
			return cur, !loaded
		}
		keep = !cur.abandoned && device != nil
		if keep {
			t.links.Store(peerID, device)
		}
		return nil, true
	})
	return keep
}

// abandonDial marks the peer's in-flight connect attempt, if any, so its
// link is torn down as soon as it comes up.
func (t *TinyGo) abandonDial(peerID string) bool {
	found := false
	t.dialing.Compute(peerID, func(cur *dial, loaded bool) (*dial, bool) {
		if !loaded {
			return nil, true
		}
		cur.abandoned = true
		found = true
		return cur, false
	})
	return found
}

func (t *TinyGo) Connect(peerID string) error {
	addr := t.address(peerID)
	own := t.beginDial(peerID)
	go func() {
		device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			t.finishDial(peerID, own, nil)
			t.emit(ConnectFailed{PeerID: peerID, Err: fault.Wrap(err,
				fctx.With(context.Background(), "peer", peerID),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot connect to peer"),
			)})
			return
		}
		if !t.finishDial(peerID, own, &device) {
			slog.Info("[BLE] closing link of abandoned connect", "peer", peerID)
			t.emit(Disconnected{PeerID: peerID, Err: device.Disconnect()})
			return
		}
		t.emit(Connected{PeerID: peerID})
	}()
	return nil
}

func (t *TinyGo) device(peerID string) (*bluetooth.Device, error) {
	d, ok := t.links.Load(peerID)
	if !ok {
		return nil, fault.Wrap(errors.New("no link"),
			fctx.With(context.Background(), "peer", peerID),
			ftag.With(ftag.NotFound),
			fmsg.With("Peer is not connected"),
		)
	}
	return d, nil
}

func (t *TinyGo) DiscoverServices(peerID string, service uuid.UUID) error {
	d, err := t.device(peerID)
	if err != nil {
		return err
	}
	target, err := bluetooth.ParseUUID(service.String())
	if err != nil {
		return fault.Wrap(err, ftag.With(ftag.InvalidArgument), fmsg.With("Cannot parse service UUID"))
	}
	go func() {
		svcs, err := d.DiscoverServices([]bluetooth.UUID{target})
		if err != nil {
			t.emit(ServicesDiscovered{PeerID: peerID, Err: fault.Wrap(err, ftag.With(ftag.Internal), fmsg.With("Service discovery failed"))})
			return
		}
		out := make([]Service, 0, len(svcs))
		for i := range svcs {
			id, err := uuid.Parse(svcs[i].UUID().String())
			if err != nil {
				continue
			}
			svc := svcs[i]
			out = append(out, Service{UUID: id, Handle: &svc})
		}
		t.emit(ServicesDiscovered{PeerID: peerID, Services: out})
	}()
	return nil
}

func (t *TinyGo) DiscoverCharacteristics(peerID string, svc ServiceHandle, char uuid.UUID) error {
	service, ok := svc.(*bluetooth.DeviceService)
	if !ok {
		return ErrUnknownHandle
	}
	target, err := bluetooth.ParseUUID(char.String())
	if err != nil {
		return fault.Wrap(err, ftag.With(ftag.InvalidArgument), fmsg.With("Cannot parse characteristic UUID"))
	}
	go func() {
		chars, err := service.DiscoverCharacteristics([]bluetooth.UUID{target})
		if err != nil {
			t.emit(CharacteristicsDiscovered{PeerID: peerID, Service: svc, Err: fault.Wrap(err, ftag.With(ftag.Internal), fmsg.With("Characteristic discovery failed"))})
			return
		}
		out := make([]Characteristic, 0, len(chars))
		for i := range chars {
			id, err := uuid.Parse(chars[i].UUID().String())
			if err != nil {
				continue
			}
			c := chars[i]
			// tinygo does not expose characteristic properties on every
			// platform; a rejected subscription surfaces as SubscribeFailed.
			out = append(out, Characteristic{UUID: id, Notify: true, Handle: &c})
		}
		t.emit(CharacteristicsDiscovered{PeerID: peerID, Service: svc, Characteristics: out})
	}()
	return nil
}

func (t *TinyGo) Subscribe(peerID string, char CharacteristicHandle) error {
	c, ok := char.(*bluetooth.DeviceCharacteristic)
	if !ok {
		return ErrUnknownHandle
	}
	go func() {
		err := c.EnableNotifications(func(buf []byte) {
			data := make([]byte, len(buf))
			copy(data, buf)
			t.emit(Notification{PeerID: peerID, Characteristic: char, Data: data})
		})
		if err != nil {
			err = fault.Wrap(err, ftag.With(ftag.Internal), fmsg.With("Cannot enable notifications"))
		}
		t.emit(NotifyStateChanged{PeerID: peerID, Characteristic: char, Enabled: err == nil, Err: err})
	}()
	return nil
}

func (t *TinyGo) Write(peerID string, char CharacteristicHandle, data []byte, seq uint64) error {
	c, ok := char.(*bluetooth.DeviceCharacteristic)
	if !ok {
		return ErrUnknownHandle
	}
	go func() {
		err := writeCharacteristic(c, data)
		if err != nil {
			err = fault.Wrap(err,
				fctx.With(context.Background(), "peer", peerID),
				ftag.With(ftag.Internal),
				fmsg.With("Write failed"),
			)
		}
		t.emit(WriteCompleted{PeerID: peerID, Characteristic: char, Seq: seq, Err: err})
	}()
	return nil
}

func (t *TinyGo) Disconnect(peerID string) error {
	if t.abandonDial(peerID) {
		slog.Debug("[BLE] connect abandoned", "peer", peerID)
		return nil
	}
	d, ok := t.links.Load(peerID)
	if !ok {
		return nil
	}
	go func() {
		err := d.Disconnect()
		// The connect handler may already have reported this link.
		if _, ok := t.links.LoadAndDelete(peerID); ok {
			t.emit(Disconnected{PeerID: peerID, Err: err})
		}
	}()
	return nil
}

func (t *TinyGo) Close() error {
	t.once.Do(func() {
		if t.stopWatch != nil {
			t.stopWatch()
		}
		if t.scanning.Load() {
			_ = t.adapter.StopScan()
		}
		t.links.Range(func(id string, d *bluetooth.Device) bool {
			_ = d.Disconnect()
			return true
		})
		close(t.done)
	})
	return nil
}

// Compile-time check that TinyGo implements Radio.
var _ Radio = (*TinyGo)(nil)
