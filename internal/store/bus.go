package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"promptloop/internal/logging"
)

// BusStore is the event bus backing cross-component signals. Each channel
// lives in its own SQLite file under the bus directory so publishers for
// different channels never contend on one writer lock.
type BusStore struct {
	busDir string
	mu     sync.Mutex
	dbs    map[string]*sql.DB
}

// BusEvent is one published event. Payload is a JSON document whose shape
// is owned by the publisher.
type BusEvent struct {
	ID        string
	Channel   string
	EventType string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// ReadOptions narrows a bus read. Zero values mean no filter; a zero Limit
// reads everything matching.
type ReadOptions struct {
	EventType string
	Since     time.Time
	Limit     int
}

// NewBusStore opens a bus rooted at busDir. Channel databases are created
// lazily on first publish or read.
func NewBusStore(busDir string) (*BusStore, error) {
	if err := os.MkdirAll(busDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bus directory: %w", err)
	}

	return &BusStore{
		busDir: busDir,
		dbs:    make(map[string]*sql.DB),
	}, nil
}

// channelDB opens (or returns the cached handle for) a channel's database.
func (b *BusStore) channelDB(channel string) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if db, ok := b.dbs[channel]; ok {
		return db, nil
	}

	dbPath := filepath.Join(b.busDir, channel+".db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open channel %s: %w", channel, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize channel %s: %w", channel, err)
	}

	b.dbs[channel] = db
	return db, nil
}

// Publish appends an event to a channel. The payload is marshaled to JSON.
func (b *BusStore) Publish(channel, eventType string, payload interface{}) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "BusPublish")
	defer timer.Stop()

	db, err := b.channelDB(channel)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	id := uuid.New().String()
	_, err = db.Exec(`
		INSERT INTO events (id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		id, eventType, string(data), time.Now().UTC())
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to publish to %s/%s: %v",
			channel, eventType, err)
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	logging.StoreDebug("Published event %s to %s/%s", id, channel, eventType)
	return id, nil
}

// Read returns events from a channel newest first. A channel that has never
// been written reads as empty, not as an error.
func (b *BusStore) Read(channel string, opts ReadOptions) ([]BusEvent, error) {
	dbPath := filepath.Join(b.busDir, channel+".db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := b.channelDB(channel)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, event_type, payload, created_at FROM events WHERE 1=1`
	var args []interface{}

	if opts.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, opts.EventType)
	}
	if !opts.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since.UTC())
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel %s: %w", channel, err)
	}
	defer rows.Close()

	var events []BusEvent
	for rows.Next() {
		ev := BusEvent{Channel: channel}
		var payload string
		if err := rows.Scan(&ev.ID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to scan event row: %v", err)
			continue
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}

	return events, rows.Err()
}

// Channels lists channels that have at least one database file on disk.
func (b *BusStore) Channels() ([]string, error) {
	entries, err := os.ReadDir(b.busDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list bus directory: %w", err)
	}

	var channels []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".db" {
			continue
		}
		channels = append(channels, name[:len(name)-len(".db")])
	}

	return channels, nil
}

// Close closes every open channel database.
func (b *BusStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for channel, db := range b.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.dbs, channel)
	}

	return firstErr
}
