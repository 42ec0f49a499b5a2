// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package journal implements the Activity Journal: a batched,
// write-ahead-logged append-only store used by every other component for
// traces. Entries are queued non-blockingly by Log and flushed to SQLite
// either when the queue reaches BatchMaxSize or when BatchFlushInterval
// has elapsed since the oldest unflushed entry.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/arcflow/conductor/pkg/security/audit"
)

// Level is the severity of an ActivityEntry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is a single activity record (spec §3 ActivityEntry).
type Entry struct {
	ID         string
	TraceID    string
	Actor      string
	AgentID    string
	ActionType string
	Target     string
	Payload    map[string]interface{}
	Timestamp  time.Time
	Level      Level
}

// Redactor strips secret-shaped substrings from a payload before it is
// persisted. Supplements the spec: defense in depth for the audit trail,
// modeled on the teacher's span-attribute redactor.
type Redactor interface {
	Redact(payload map[string]interface{}) map[string]interface{}
}

// Config configures a Journal.
type Config struct {
	// Path is the sqlite file path. Use ":memory:" for tests.
	Path string

	// BatchMaxSize is the queue length that triggers an immediate flush.
	BatchMaxSize int

	// BatchFlushInterval is the max time an entry waits before a flush.
	BatchFlushInterval time.Duration

	// QueueCapacity bounds the in-memory buffer channel.
	QueueCapacity int

	// Redactor, if set, scrubs payloads before they are serialized.
	Redactor Redactor

	// SideChannel receives write-failure notifications out of band
	// (spec §4.1: "write errors are logged to a side channel but do
	// not propagate to callers"). Optional; slog is always used too.
	SideChannel *audit.Logger

	Logger *slog.Logger
}

const (
	defaultBatchMaxSize       = 50
	defaultBatchFlushInterval = 200 * time.Millisecond
	defaultQueueCapacity      = 4096
)

// Journal is the Activity Journal.
type Journal struct {
	cfg    Config
	db     *sql.DB
	logger *slog.Logger

	queue      chan Entry
	flushReq   chan chan struct{}
	done       chan struct{}
	closed     chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	isClosed bool
}

// Open creates (or opens) the journal's SQLite store, applies the schema
// migration, and starts the background batching loop.
func Open(cfg Config) (*Journal, error) {
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = defaultBatchMaxSize
	}
	if cfg.BatchFlushInterval <= 0 {
		cfg.BatchFlushInterval = defaultBatchFlushInterval
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on", dsn)
	} else {
		dsn = "file::memory:?mode=memory&cache=shared&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal schema: %w", err)
	}

	j := &Journal{
		cfg:    cfg,
		db:     db,
		logger: cfg.Logger,
		queue:    make(chan Entry, cfg.QueueCapacity),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}

	go j.batchLoop()

	return j, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS activity (
	id TEXT PRIMARY KEY,
	trace_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	agent_id TEXT,
	action_type TEXT NOT NULL,
	target TEXT,
	payload TEXT,
	timestamp TEXT NOT NULL,
	level TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_trace_timestamp ON activity(trace_id, timestamp);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	message TEXT NOT NULL,
	proposal_id TEXT,
	trace_id TEXT,
	created_at TEXT NOT NULL,
	dismissed_at TEXT,
	metadata TEXT
);
`)
	return err
}

// Log enqueues entry non-blockingly. If the journal is closed, or the
// queue is full, the entry is dropped (loss is acceptable; corruption is
// not) and reported to the side channel.
func (j *Journal) Log(entry Entry) {
	j.mu.Lock()
	closed := j.isClosed
	j.mu.Unlock()
	if closed {
		j.reportDrop(entry, "journal closed")
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	select {
	case j.queue <- entry:
	default:
		j.reportDrop(entry, "queue full")
	}
}

func (j *Journal) reportDrop(entry Entry, reason string) {
	j.logger.Warn("journal entry dropped", "reason", reason, "action_type", entry.ActionType, "trace_id", entry.TraceID)
	if j.cfg.SideChannel != nil {
		j.cfg.SideChannel.Log(audit.Event{
			Timestamp: time.Now().UTC(),
			EventType: "journal.entry_dropped",
			Decision:  "dropped",
			Reason:    reason,
			Metadata:  map[string]interface{}{"action_type": entry.ActionType, "trace_id": entry.TraceID},
		})
	}
}

// batchLoop drains the queue, triggering a flush on size or time.
func (j *Journal) batchLoop() {
	defer close(j.closed)

	batch := make([]Entry, 0, j.cfg.BatchMaxSize)
	timer := time.NewTimer(j.cfg.BatchFlushInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		batchSize := len(batch)
		flushStart := time.Now()
		err := j.writeBatch(batch)
		recordFlush(time.Since(flushStart).Seconds(), batchSize, err != nil)
		if err != nil {
			j.logger.Error("journal batch write failed", "error", err, "batch_size", batchSize)
			if j.cfg.SideChannel != nil {
				j.cfg.SideChannel.Log(audit.Event{
					Timestamp: time.Now().UTC(),
					EventType: "journal.batch_failed",
					Decision:  "lost",
					Reason:    err.Error(),
					Metadata:  map[string]interface{}{"batch_size": batchSize},
				})
			}
		}
		batch = batch[:0]
	}

	drainQueue := func() {
		for {
			select {
			case entry := <-j.queue:
				batch = append(batch, entry)
			default:
				return
			}
		}
	}

	for {
		select {
		case entry := <-j.queue:
			if len(batch) == 0 {
				// The flush interval is counted from the first unflushed entry.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(j.cfg.BatchFlushInterval)
			}
			batch = append(batch, entry)
			if len(batch) >= j.cfg.BatchMaxSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(j.cfg.BatchFlushInterval)
			}
		case <-timer.C:
			flush()
			timer.Reset(j.cfg.BatchFlushInterval)
		case ack := <-j.flushReq:
			// Drain whatever is queued right now, then flush, so Flush()
			// observes everything enqueued before it was called.
			drainQueue()
			flush()
			close(ack)
		case <-j.done:
			// Drain whatever remains synchronously, one final transaction.
			drainQueue()
			flush()
			return
		}
	}
}

// writeBatch persists entries within a single transaction, redacting
// payloads first. On failure the transaction rolls back; the batch is
// considered lost (spec §4.1: loss acceptable, corruption not).
func (j *Journal) writeBatch(batch []Entry) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO activity (id, trace_id, actor, agent_id, action_type, target, payload, timestamp, level) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		payload := e.Payload
		if j.cfg.Redactor != nil && payload != nil {
			payload = j.cfg.Redactor.Redact(payload)
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling payload for %s: %w", e.ID, err)
		}
		if _, err := stmt.Exec(e.ID, e.TraceID, e.Actor, e.AgentID, e.ActionType, e.Target, string(payloadJSON), e.Timestamp.Format(time.RFC3339Nano), string(e.Level)); err != nil {
			return fmt.Errorf("inserting entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Flush forces any currently-queued entries to be written durably before
// returning.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	closed := j.isClosed
	j.mu.Unlock()
	if closed {
		return fmt.Errorf("journal is closed")
	}

	ack := make(chan struct{})
	select {
	case j.flushReq <- ack:
	case <-j.done:
		return fmt.Errorf("journal is closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue in one final synchronous transaction and shuts
// down the background loop. After Close returns, Log is a no-op.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.isClosed = true
		j.mu.Unlock()

		close(j.done)
		<-j.closed
		j.closeErr = j.db.Close()
	})
	return j.closeErr
}

// Query returns entries for a trace, ordered by timestamp, for tests and
// CLI inspection (`journal tail`).
func (j *Journal) Query(ctx context.Context, traceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `SELECT id, trace_id, actor, agent_id, action_type, target, payload, timestamp, level FROM activity WHERE trace_id = ? ORDER BY timestamp ASC LIMIT ?`, traceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var payloadJSON, ts, level string
		var agentID, target sql.NullString
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Actor, &agentID, &e.ActionType, &target, &payloadJSON, &ts, &level); err != nil {
			return nil, err
		}
		e.AgentID = agentID.String
		e.Target = target.String
		e.Level = Level(level)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if payloadJSON != "" && payloadJSON != "null" {
			_ = json.Unmarshal([]byte(payloadJSON), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
