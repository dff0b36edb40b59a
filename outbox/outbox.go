// Package outbox is a sqlite-backed store-and-forward queue for uplink
// publishes. HTTP ingest enqueues; a drain worker publishes over the
// cellular link and marks the outcome, so messages survive the dead
// zones and restarts an NB-IoT deployment lives with.
package outbox

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "embed" // for side effect

	_ "modernc.org/sqlite" // for side effect

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrEmpty is returned by Next when no message is queued.
	ErrEmpty = errors.New("outbox empty")

	// ErrNotFound is returned when marking a message that does not exist.
	ErrNotFound = errors.New("message not found")
)

// Message states.
const (
	StateQueued = "queued"
	StateSent   = "sent"
	StateFailed = "failed"
)

// Message is one queued publish.
type Message struct {
	ID        string    `db:"id"`
	Topic     string    `db:"topic"`
	Payload   []byte    `db:"payload"`
	QoS       int       `db:"qos"`
	Retain    bool      `db:"retain"`
	State     string    `db:"state"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
}

//go:embed schema.sql
var schema string

// Store is the sqlite-backed queue. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	db *sqlx.DB
}

// Open opens (creating if necessary) the queue database at dbSpec.
// ":memory:" is accepted for tests.
func Open(dbSpec string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbSpec)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// One connection: the queue is inherently serial, and this keeps an
	// in-memory database on a single backing instance.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("unable to create schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue appends a publish to the queue and returns it with its
// assigned id.
func (s *Store) Enqueue(topic string, payload []byte, qos int, retain bool) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		QoS:       qos,
		Retain:    retain,
		State:     StateQueued,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.NamedExec(
		`INSERT INTO messages (
			id,
			topic,
			payload,
			qos,
			retain,
			state,
			attempts,
			created_at)
		 VALUES(
			:id,
			:topic,
			:payload,
			:qos,
			:retain,
			:state,
			:attempts,
			:created_at)`, msg)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Next returns the oldest queued message, or ErrEmpty.
func (s *Store) Next() (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msg Message
	err := s.db.QueryRowx(
		"SELECT * FROM messages WHERE state = ? ORDER BY created_at, id LIMIT 1",
		StateQueued).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrEmpty
	}
	return msg, err
}

// MarkSent records a successful publish.
func (s *Store) MarkSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return checkRowsAffected(s.db.Exec(
		"UPDATE messages SET state = ?, attempts = attempts + 1 WHERE id = ?",
		StateSent, id))
}

// MarkFailed records a failed publish attempt. With terminal set the
// message moves to the failed state and will not be retried; otherwise
// it stays queued with its attempt count bumped.
func (s *Store) MarkFailed(id string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := StateQueued
	if terminal {
		state = StateFailed
	}
	return checkRowsAffected(s.db.Exec(
		"UPDATE messages SET state = ?, attempts = attempts + 1 WHERE id = ?",
		state, id))
}

// Counts reports how many messages are in each state.
func (s *Store) Counts() (queued, sent, failed int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Queryx("SELECT state, COUNT(*) FROM messages GROUP BY state")
	if err != nil {
		return 0, 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return 0, 0, 0, err
		}
		switch state {
		case StateQueued:
			queued = count
		case StateSent:
			sent = count
		case StateFailed:
			failed = count
		}
	}
	return queued, sent, failed, rows.Err()
}

func checkRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
