package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaz8081/peerlink/internal/ble"
)

// Recorder persists connection lifecycle and message events. Register it
// with ble.Dispatcher.Handle; it runs on the dispatcher's goroutine and
// never calls back into the central.
type Recorder struct {
	db      *DB
	localID string
	timeout time.Duration

	readyAt map[string]time.Time // peers whose current link reached Ready
}

// NewRecorder creates a recorder writing rows on behalf of localID.
func NewRecorder(db *DB, localID string) *Recorder {
	return &Recorder{
		db:      db,
		localID: localID,
		timeout: 5 * time.Second,
		readyAt: make(map[string]time.Time),
	}
}

// HandleEvent implements ble.Handler.
func (r *Recorder) HandleEvent(ev ble.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	switch e := ev.(type) {
	case ble.StateChangedEvent:
		err = r.stateChanged(ctx, e)
	case ble.MessageReceivedEvent:
		err = r.db.SaveMessage(ctx, &Message{
			Content:          string(e.Data),
			SenderDeviceID:   e.PeerID,
			ReceiverDeviceID: r.localID,
			DeliveryStatus:   DeliveryReceived,
		})
	case ble.SendResultEvent:
		status := DeliverySent
		if !e.Success {
			status = DeliveryFailed
		}
		err = r.db.SaveMessage(ctx, &Message{
			Content:          string(e.Payload),
			SenderDeviceID:   r.localID,
			ReceiverDeviceID: e.PeerID,
			DeliveryStatus:   status,
		})
	}
	if err != nil {
		slog.Error("[STORE] record event", "kind", ev.Kind(), "error", err)
	}
}

func (r *Recorder) stateChanged(ctx context.Context, e ble.StateChangedEvent) error {
	l := &ConnectionLog{LocalDeviceID: r.localID, RemoteDeviceID: e.PeerID}
	switch e.To {
	case ble.StateConnecting:
		delete(r.readyAt, e.PeerID)
		l.Status = StatusAttempt
	case ble.StateReady:
		r.readyAt[e.PeerID] = time.Now()
		l.Status = StatusSuccess
	case ble.StateFailed:
		l.Status = StatusFailure
		if e.Err != nil {
			l.ErrorMessage = e.Err.Error()
		}
	case ble.StateDisconnected:
		l.Status = StatusDisconnected
		if e.Err != nil {
			l.ErrorMessage = e.Err.Error()
		}
		if at, ok := r.readyAt[e.PeerID]; ok {
			l.Duration = time.Since(at)
			delete(r.readyAt, e.PeerID)
		}
	default:
		return nil
	}
	return r.db.SaveConnectionLog(ctx, l)
}

var _ ble.Handler = (*Recorder)(nil)
