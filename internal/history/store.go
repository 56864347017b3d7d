// Package history journals every accepted order transition to SQLite so the
// order-history view survives a restart. The journal is append-only with a
// row cap; oldest rows are evicted first.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/optionsdesk/terminal/internal/events"
	"github.com/optionsdesk/terminal/internal/orders"
	"github.com/optionsdesk/terminal/internal/telemetry"
)

const evictPct = 0.10 // evict oldest 10% of rows when over the cap

const schema = `CREATE TABLE IF NOT EXISTS order_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id      TEXT NOT NULL,
	order_number  TEXT NOT NULL DEFAULT '',
	symbol        TEXT NOT NULL,
	action        TEXT NOT NULL,
	quantity      INTEGER NOT NULL,
	price         REAL NOT NULL,
	price_type    TEXT NOT NULL,
	segment       TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	filled_qty    INTEGER NOT NULL DEFAULT 0,
	pending_qty   INTEGER NOT NULL DEFAULT 0,
	recorded_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id);`

type Store struct {
	db       *sql.DB
	maxRows  int64
	mu       sync.Mutex
	rowCount int64
}

func Open(path string, maxRows int64) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	var rowCount int64
	db.QueryRow(`SELECT COUNT(*) FROM order_events`).Scan(&rowCount)

	telemetry.Infof("history: opened %s  rows=%d", path, rowCount)
	return &Store{db: db, maxRows: maxRows, rowCount: rowCount}, nil
}

// Attach subscribes the journal to order updates on the bus.
func (s *Store) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventOrderUpdate, func(evt events.Event) error {
		change, ok := evt.Payload.(orders.Change)
		if !ok {
			return nil
		}
		return s.Record(change.Order)
	})
}

// Record appends one transition row for the order's current state.
func (s *Store) Record(o orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := o.Timestamps[o.State]
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO order_events
		(order_id, order_number, symbol, action, quantity, price, price_type,
		 segment, state, reason, filled_qty, pending_qty, recorded_at)
		VALUES (?,?,?,?,?,?,?, ?,?,?,?,?,?)`,
		o.ID, o.OrderNumber, o.Details.Symbol, o.Details.Action,
		o.Details.Quantity, o.Details.Price, o.Details.PriceType,
		o.Details.Segment, string(o.State), o.Reason,
		o.FilledQuantity, o.PendingQuantity,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}

	s.rowCount++
	if s.maxRows > 0 && s.rowCount > s.maxRows {
		s.evict()
	}
	return nil
}

// EventRow is one journaled transition.
type EventRow struct {
	OrderID     string
	OrderNumber string
	Symbol      string
	Action      string
	State       string
	Reason      string
	RecordedAt  string
}

// Recent returns the newest n transition rows, newest first.
func (s *Store) Recent(n int) ([]EventRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT order_id, order_number, symbol, action, state, reason, recorded_at
		 FROM order_events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.OrderID, &r.OrderNumber, &r.Symbol, &r.Action, &r.State, &r.Reason, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// evict deletes the oldest 10% of rows by count. Must hold s.mu.
func (s *Store) evict() {
	toDelete := int64(float64(s.rowCount) * evictPct)
	if toDelete < 1 {
		toDelete = 1
	}

	res, err := s.db.Exec(
		`DELETE FROM order_events WHERE id IN (
			SELECT id FROM order_events ORDER BY id ASC LIMIT ?
		)`, toDelete)
	if err != nil {
		telemetry.Warnf("history: evict: %v", err)
		return
	}

	deleted, _ := res.RowsAffected()
	s.rowCount -= deleted
	telemetry.Infof("history: evicted %d rows (cap %d)", deleted, s.maxRows)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
