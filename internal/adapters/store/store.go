// Package store keeps a SQLite log of sensor state transitions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/domain/ports"
	"github.com/brianly1003/filesensor/internal/sync"
)

// schemaVersion is incremented when the transitions table changes shape.
const schemaVersion = 1

// queueSize bounds transitions waiting to be written.
const queueSize = 256

// DefaultHistoryLimit applies when History is called with limit <= 0.
const DefaultHistoryLimit = 100

// Transition is one recorded state change.
type Transition struct {
	ID        int64        `json:"id"`
	Key       string       `json:"key"`
	State     domain.State `json:"state"`
	Timestamp time.Time    `json:"timestamp"`
}

// Store writes transitions on a background goroutine so recording never
// blocks the monitor that produced them.
type Store struct {
	db    *sql.DB
	queue chan Transition
	now   func() time.Time

	mu      sync.Mutex
	closed  bool
	dropped int64
	pending int // queued or being inserted
	done    chan struct{}
}

// Open opens (creating if needed) the database at path and starts the
// writer.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:    db,
		queue: make(chan Transition, queueSize),
		now:   func() time.Time { return time.Now().UTC() },
		done:  make(chan struct{}),
	}
	go s.writeLoop()

	log.Info().Str("path", path).Msg("history store opened")
	return s, nil
}

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'")
	if err := row.Scan(&currentVersion); err != nil {
		currentVersion = 0
	}

	if currentVersion != 0 && currentVersion < schemaVersion {
		log.Info().
			Int("old_version", currentVersion).
			Int("new_version", schemaVersion).
			Msg("schema version changed, dropping transition history")
		_, _ = db.Exec("DROP TABLE IF EXISTS transitions")
	}

	schema := `
		CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_key TEXT NOT NULL,
			state TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_key_time ON transitions(sensor_key, recorded_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	_, err := db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)", schemaVersion)
	return err
}

// OnStateChanged queues a transition. It implements ports.ChangeNotifier.
func (s *Store) OnStateChanged(key string, state domain.State) {
	s.Record(Transition{Key: key, State: state, Timestamp: s.now()})
}

// Record queues t for writing. When the queue is full the transition is
// dropped and counted.
func (s *Store) Record(t Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.queue <- t:
		s.pending++
	default:
		s.dropped++
		log.Warn().Str("key", t.Key).Msg("history queue full, transition dropped")
	}
}

// Dropped returns the number of transitions lost to a full queue.
func (s *Store) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for t := range s.queue {
		if err := s.insert(t); err != nil {
			log.Error().Err(err).Str("key", t.Key).Msg("failed to record transition")
		}
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
	}
}

func (s *Store) insert(t Transition) error {
	_, err := s.db.Exec(
		"INSERT INTO transitions (sensor_key, state, recorded_at) VALUES (?, ?, ?)",
		t.Key, string(t.State), t.Timestamp.UnixMilli(),
	)
	return err
}

// Flush blocks until no transition is queued or being inserted, or ctx
// ends.
func (s *Store) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		pending := s.pending
		s.mu.Unlock()
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// History returns the newest transitions first. An empty key returns every
// sensor.
func (s *Store) History(ctx context.Context, key string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := "SELECT id, sensor_key, state, recorded_at FROM transitions"
	args := []any{}
	if key != "" {
		query += " WHERE sensor_key = ?"
		args = append(args, key)
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []Transition{}
	for rows.Next() {
		var (
			t     Transition
			state string
			ms    int64
		)
		if err := rows.Scan(&t.ID, &t.Key, &state, &ms); err != nil {
			return nil, err
		}
		t.State = domain.State(state)
		t.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close stops accepting transitions, writes what is queued and closes the
// database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

var _ ports.ChangeNotifier = (*Store)(nil)
