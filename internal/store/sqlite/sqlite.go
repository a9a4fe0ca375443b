// Package sqlite implements store.SessionStore on top of mattn/go-sqlite3,
// grounded on the teacher's internal/auth package (the only place the
// teacher touches SQLite) and exercising the durable-storage slot spec.md
// §9 reserves for a production deployment.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pyr33x/goqtt/internal/store"
	"github.com/pyr33x/goqtt/pkg/er"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and ensures
// the session/offline tables exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &er.Err{Context: "sqlite.Open", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			client_id        TEXT PRIMARY KEY,
			username         TEXT,
			version          INTEGER,
			expiry_interval  INTEGER,
			subscriptions    TEXT,
			created_at       INTEGER,
			last_seen        INTEGER
		);
		CREATE TABLE IF NOT EXISTS offline_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id  TEXT NOT NULL,
			topic      TEXT NOT NULL,
			payload    BLOB,
			qos        INTEGER,
			retain     INTEGER,
			properties TEXT,
			queued_at  INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_offline_client ON offline_messages(client_id);
	`)
	if err != nil {
		return &er.Err{Context: "sqlite.migrate", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, clientID string) (*store.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT client_id, username, version, expiry_interval, subscriptions, created_at, last_seen
		FROM sessions WHERE client_id = ?`, clientID)

	var rec store.Record
	var subsJSON string
	var created, lastSeen int64
	err := row.Scan(&rec.ClientID, &rec.Username, &rec.Version, &rec.ExpiryInterval, &subsJSON, &created, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &er.Err{Context: "sqlite.LoadSession", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	if subsJSON != "" {
		if err := json.Unmarshal([]byte(subsJSON), &rec.Subscriptions); err != nil {
			return nil, false, &er.Err{Context: "sqlite.LoadSession", Message: err, Reason: er.ReasonUnspecifiedError}
		}
	}
	rec.CreatedAt = time.Unix(created, 0)
	rec.LastSeen = time.Unix(lastSeen, 0)
	return &rec, true, nil
}

func (s *Store) SaveSession(ctx context.Context, rec *store.Record) error {
	subsJSON, err := json.Marshal(rec.Subscriptions)
	if err != nil {
		return &er.Err{Context: "sqlite.SaveSession", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (client_id, username, version, expiry_interval, subscriptions, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			username = excluded.username,
			version = excluded.version,
			expiry_interval = excluded.expiry_interval,
			subscriptions = excluded.subscriptions,
			last_seen = excluded.last_seen`,
		rec.ClientID, rec.Username, rec.Version, rec.ExpiryInterval, string(subsJSON),
		rec.CreatedAt.Unix(), rec.LastSeen.Unix())
	if err != nil {
		return &er.Err{Context: "sqlite.SaveSession", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, clientID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE client_id = ?`, clientID); err != nil {
		return &er.Err{Context: "sqlite.DeleteSession", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_messages WHERE client_id = ?`, clientID); err != nil {
		return &er.Err{Context: "sqlite.DeleteSession", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	return nil
}

func (s *Store) EnqueueOffline(ctx context.Context, clientID string, msg store.OfflineMessage) error {
	propsJSON, err := json.Marshal(msg.Properties)
	if err != nil {
		return &er.Err{Context: "sqlite.EnqueueOffline", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	retain := 0
	if msg.Retain {
		retain = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offline_messages (client_id, topic, payload, qos, retain, properties, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		clientID, msg.Topic, msg.Payload, msg.QoS, retain, string(propsJSON), msg.QueuedAt.Unix())
	if err != nil {
		return &er.Err{Context: "sqlite.EnqueueOffline", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	return nil
}

func (s *Store) DrainOffline(ctx context.Context, clientID string) ([]store.OfflineMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, payload, qos, retain, properties, queued_at
		FROM offline_messages WHERE client_id = ? ORDER BY id ASC`, clientID)
	if err != nil {
		return nil, &er.Err{Context: "sqlite.DrainOffline", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	defer rows.Close()

	var out []store.OfflineMessage
	for rows.Next() {
		var msg store.OfflineMessage
		var retain int
		var propsJSON string
		var queuedAt int64
		if err := rows.Scan(&msg.Topic, &msg.Payload, &msg.QoS, &retain, &propsJSON, &queuedAt); err != nil {
			return nil, &er.Err{Context: "sqlite.DrainOffline", Message: err, Reason: er.ReasonUnspecifiedError}
		}
		msg.Retain = retain != 0
		msg.QueuedAt = time.Unix(queuedAt, 0)
		if propsJSON != "" {
			_ = json.Unmarshal([]byte(propsJSON), &msg.Properties)
		}
		out = append(out, msg)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_messages WHERE client_id = ?`, clientID); err != nil {
		return nil, &er.Err{Context: "sqlite.DrainOffline", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }
