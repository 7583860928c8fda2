// Package store keeps the connection and message history in SQLite (WAL
// mode). It sits outside the BLE core and learns about activity only from
// dispatched events; see Recorder.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Connection log statuses.
const (
	StatusAttempt      = "attempt"
	StatusSuccess      = "success"
	StatusFailure      = "failure"
	StatusDisconnected = "disconnected"
)

// Message delivery statuses. Received messages stay unread until marked
// delivered.
const (
	DeliverySent      = "sent"
	DeliveryFailed    = "failed"
	DeliveryReceived  = "received"
	DeliveryDelivered = "delivered"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ConnectionLog is one connection lifecycle record.
type ConnectionLog struct {
	ID             uuid.UUID
	LocalDeviceID  string
	RemoteDeviceID string
	Status         string
	ErrorMessage   string
	Duration       time.Duration // link lifetime, set on disconnected
	CreatedAt      time.Time
}

// Message is one chat message in either direction.
type Message struct {
	ID               uuid.UUID
	Content          string
	SenderDeviceID   string
	ReceiverDeviceID string
	DeliveryStatus   string
	CreatedAt        time.Time
}

// ConnectionStats summarises the connection logs of a local device.
type ConnectionStats struct {
	Attempts  int
	Successes int
	Failures  int
}

// MessagePreview is the latest message exchanged with one remote device.
type MessagePreview struct {
	DeviceID    string
	LastMessage string
	Timestamp   time.Time
	UnreadCount int
}

// DB wraps *sql.DB with domain helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode and
// applies the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// Limit writer concurrency to 1; SQLite WAL allows concurrent readers.
	raw.SetMaxOpenConns(1)

	db := &DB{raw}
	if err := Migrate(db); err != nil {
		raw.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the DDL schema. It is idempotent.
func Migrate(db *DB) error {
	for _, stmt := range []string{ddlConnectionLogs, ddlMessages} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

const ddlConnectionLogs = `
CREATE TABLE IF NOT EXISTS connection_logs (
    id               TEXT    PRIMARY KEY,
    local_device_id  TEXT    NOT NULL,
    remote_device_id TEXT    NOT NULL,
    connection_type  TEXT    NOT NULL DEFAULT 'outgoing',
    status           TEXT    NOT NULL,          -- attempt | success | failure | disconnected
    error_message    TEXT    NOT NULL DEFAULT '',
    duration_ms      INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL           -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_connection_logs_local ON connection_logs (local_device_id, status);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id                 TEXT    PRIMARY KEY,
    content            TEXT    NOT NULL,
    sender_device_id   TEXT    NOT NULL,
    receiver_device_id TEXT    NOT NULL,
    delivery_status    TEXT    NOT NULL,        -- sent | failed | received | delivered
    created_at         INTEGER NOT NULL         -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at DESC);
`

// SaveConnectionLog inserts l, assigning its ID and timestamp when unset.
func (db *DB) SaveConnectionLog(ctx context.Context, l *ConnectionLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO connection_logs (id, local_device_id, remote_device_id, status, error_message, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.LocalDeviceID, l.RemoteDeviceID, l.Status, l.ErrorMessage,
		l.Duration.Milliseconds(), l.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save connection log: %w", err)
	}
	return nil
}

// ConnectionLogs returns the most recent logs for a remote device, newest first.
func (db *DB) ConnectionLogs(ctx context.Context, remoteDeviceID string, limit int) ([]ConnectionLog, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, local_device_id, remote_device_id, status, error_message, duration_ms, created_at
		 FROM connection_logs WHERE remote_device_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		remoteDeviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query connection logs: %w", err)
	}
	defer rows.Close()

	var logs []ConnectionLog
	for rows.Next() {
		var (
			l          ConnectionLog
			id         string
			durationMS int64
			createdAt  int64
		)
		if err := rows.Scan(&id, &l.LocalDeviceID, &l.RemoteDeviceID, &l.Status, &l.ErrorMessage, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan connection log: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: connection log id %q: %w", id, err)
		}
		l.Duration = time.Duration(durationMS) * time.Millisecond
		l.CreatedAt = time.UnixMilli(createdAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Stats counts the connection attempts, successes and failures recorded
// for a local device.
func (db *DB) Stats(ctx context.Context, localDeviceID string) (ConnectionStats, error) {
	var st ConnectionStats
	err := db.QueryRowContext(ctx,
		`SELECT
		    COALESCE(SUM(status = ?), 0),
		    COALESCE(SUM(status = ?), 0),
		    COALESCE(SUM(status = ?), 0)
		 FROM connection_logs WHERE local_device_id = ?`,
		StatusAttempt, StatusSuccess, StatusFailure, localDeviceID,
	).Scan(&st.Attempts, &st.Successes, &st.Failures)
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("store: connection stats: %w", err)
	}
	return st, nil
}

// SaveMessage inserts m, assigning its ID and timestamp when unset.
func (db *DB) SaveMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO messages (id, content, sender_device_id, receiver_device_id, delivery_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.Content, m.SenderDeviceID, m.ReceiverDeviceID, m.DeliveryStatus, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save message: %w", err)
	}
	return nil
}

// Messages returns up to limit messages sent or received by deviceID,
// newest first.
func (db *DB) Messages(ctx context.Context, deviceID string, limit int) ([]Message, error) {
	return db.queryMessages(ctx,
		`SELECT id, content, sender_device_id, receiver_device_id, delivery_status, created_at
		 FROM messages WHERE sender_device_id = ? OR receiver_device_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		deviceID, deviceID, limit)
}

// UnreadMessages returns up to limit messages received by deviceID that
// were not yet marked delivered, newest first.
func (db *DB) UnreadMessages(ctx context.Context, deviceID string, limit int) ([]Message, error) {
	return db.queryMessages(ctx,
		`SELECT id, content, sender_device_id, receiver_device_id, delivery_status, created_at
		 FROM messages WHERE receiver_device_id = ? AND delivery_status = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		deviceID, DeliveryReceived, limit)
}

// UpdateMessageStatus sets the delivery status of one message.
func (db *DB) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE messages SET delivery_status = ? WHERE id = ?`, status, id.String())
	if err != nil {
		return fmt.Errorf("store: update message %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: message %s: %w", id, ErrNotFound)
	}
	return nil
}

// Previews returns, for every remote device deviceID exchanged messages
// with, the newest message and the number of unread ones. Previews are
// ordered newest first.
func (db *DB) Previews(ctx context.Context, deviceID string) ([]MessagePreview, error) {
	msgs, err := db.queryMessages(ctx,
		`SELECT id, content, sender_device_id, receiver_device_id, delivery_status, created_at
		 FROM messages WHERE sender_device_id = ? OR receiver_device_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		deviceID, deviceID)
	if err != nil {
		return nil, err
	}

	var previews []MessagePreview
	index := make(map[string]int)
	for _, m := range msgs {
		other := m.SenderDeviceID
		if other == deviceID {
			other = m.ReceiverDeviceID
		}
		i, ok := index[other]
		if !ok {
			i = len(previews)
			index[other] = i
			previews = append(previews, MessagePreview{
				DeviceID:    other,
				LastMessage: m.Content,
				Timestamp:   m.CreatedAt,
			})
		}
		if m.ReceiverDeviceID == deviceID && m.DeliveryStatus == DeliveryReceived {
			previews[i].UnreadCount++
		}
	}
	return previews, nil
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m         Message
			id        string
			createdAt int64
		)
		if err := rows.Scan(&id, &m.Content, &m.SenderDeviceID, &m.ReceiverDeviceID, &m.DeliveryStatus, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: message id %q: %w", id, err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
