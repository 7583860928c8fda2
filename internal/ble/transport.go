package ble

import (
	"errors"
	"log/slog"

	"github.com/chaz8081/peerlink/internal/ble/protocol"
	"github.com/chaz8081/peerlink/internal/ble/radio"
)

// PendingWrite is the single write awaiting its hardware acknowledgment.
// Seq identifies it among writes that timed out or were abandoned earlier.
type PendingWrite struct {
	PeerID  string
	Seq     uint64
	Payload []byte
}

// Transport sends and receives text over a Ready session's characteristic.
// It is not a queue: a second Send before the first completes is rejected.
type Transport struct {
	radio    radio.Radio
	maxWrite int
	seq      uint64
	pending  *PendingWrite
}

// NewTransport creates a transport. maxWrite bounds the encoded payload;
// zero means protocol.MaxAttributeLen.
func NewTransport(r radio.Radio, maxWrite int) *Transport {
	return &Transport{radio: r, maxWrite: maxWrite}
}

// Pending returns the outstanding write, or nil.
func (t *Transport) Pending() *PendingWrite { return t.pending }

// Send encodes text and issues one characteristic write. The result arrives
// later as a SendResultEvent. Precondition failures return an error without
// touching the hardware and without any event.
func (t *Transport) Send(s *Session, text string) error {
	if s == nil || s.State() != StateReady {
		return ErrTransportNotReady
	}
	if t.pending != nil {
		return ErrWriteInProgress
	}
	data, err := protocol.EncodeText(text, t.maxWrite)
	switch {
	case errors.Is(err, protocol.ErrTooLarge):
		return newError(KindPayloadTooLarge, err)
	case err != nil:
		return newError(KindPayloadEncodingFailed, err)
	}

	peer := s.Peer().ID
	t.seq++
	if err := t.radio.Write(peer, s.Characteristic(), data, t.seq); err != nil {
		return newError(KindWriteFailed, err)
	}
	t.pending = &PendingWrite{PeerID: peer, Seq: t.seq, Payload: data}
	slog.Debug("[BLE] write issued", "peer", peer, "seq", t.seq, "bytes", len(data), "text", protocol.Cut(text, 32))
	return nil
}

// Handle consumes write completions and notifications.
func (t *Transport) Handle(s *Session, ev radio.Event) []Event {
	switch e := ev.(type) {
	case radio.WriteCompleted:
		if t.pending == nil || t.pending.PeerID != e.PeerID || t.pending.Seq != e.Seq {
			slog.Debug("[BLE] stale write completion", "peer", e.PeerID, "seq", e.Seq)
			return nil
		}
		p := t.pending
		t.pending = nil
		if e.Err != nil {
			err := newError(KindWriteFailed, e.Err)
			slog.Warn("[BLE] write failed", "peer", p.PeerID, "error", err)
			return []Event{SendResultEvent{PeerID: p.PeerID, Payload: p.Payload, Err: err}}
		}
		return []Event{SendResultEvent{PeerID: p.PeerID, Success: true, Payload: p.Payload}}

	case radio.Notification:
		if s == nil || s.State() != StateReady || s.Peer().ID != e.PeerID {
			return nil
		}
		slog.Debug("[BLE] notification", "peer", e.PeerID, "bytes", len(e.Data))
		return []Event{MessageReceivedEvent{PeerID: e.PeerID, Data: e.Data}}
	}
	return nil
}

// Timeout fails the outstanding write.
func (t *Transport) Timeout() []Event {
	if t.pending == nil {
		return nil
	}
	p := t.pending
	t.pending = nil
	err := newError(KindWriteFailed, ErrTimeout)
	slog.Warn("[BLE] write timed out", "peer", p.PeerID)
	return []Event{SendResultEvent{PeerID: p.PeerID, Payload: p.Payload, Err: err}}
}

// Abandon drops the outstanding write without a result, as happens when the
// session it was issued on ends.
func (t *Transport) Abandon() {
	if t.pending != nil {
		slog.Debug("[BLE] write abandoned", "peer", t.pending.PeerID)
	}
	t.pending = nil
}
