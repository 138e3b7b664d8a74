package storage

import (
	"context"
	cryptoRand "crypto/rand"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// Journal event kinds
const (
	EventOpen  = "open"
	EventClose = "close"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS trade_journal (
    id TEXT PRIMARY KEY,
    position_id TEXT NOT NULL,
    event TEXT NOT NULL,
    symbol TEXT NOT NULL,
    underlying_price REAL NOT NULL,
    premium_collected REAL NOT NULL,
    max_loss REAL NOT NULL,
    pnl REAL NOT NULL,
    recorded_at TEXT NOT NULL,
    payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_position ON trade_journal(position_id);
`

// SQLiteJournal appends position events to a SQLite table. Row ids are
// monotonic ULIDs so rows sort by insertion time.
type SQLiteJournal struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	mono io.Reader
}

// OpenSQLiteJournal creates or opens the journal database at path.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// One writer; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &SQLiteJournal{
		db:      db,
		timeout: 5 * time.Second,
		now:     time.Now,
		mono:    ulid.Monotonic(rand.New(rand.NewSource(seed)), 0), // #nosec G404 -- ids, not secrets
	}, nil
}

// RecordOpen appends an open event for pos.
func (j *SQLiteJournal) RecordOpen(pos *models.Position) error {
	return j.record(EventOpen, pos)
}

// RecordClose appends a close event for pos.
func (j *SQLiteJournal) RecordClose(pos *models.Position) error {
	return j.record(EventClose, pos)
}

func (j *SQLiteJournal) record(event string, pos *models.Position) error {
	if pos == nil {
		return fmt.Errorf("journal %s: nil position", event)
	}
	payload, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("journal %s %s: encoding: %w", event, pos.ID, err)
	}

	at := j.now().UTC()
	id, err := j.newID(at)
	if err != nil {
		return fmt.Errorf("journal %s %s: id: %w", event, pos.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO trade_journal
			(id, position_id, event, symbol, underlying_price, premium_collected, max_loss, pnl, recorded_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, pos.ID, event, pos.Symbol, pos.UnderlyingPrice, pos.PremiumCollected, pos.MaxLoss, pos.PnL,
		at.Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("journal %s %s: insert: %w", event, pos.ID, err)
	}
	return nil
}

func (j *SQLiteJournal) newID(at time.Time) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), j.mono)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Count returns the number of rows for event, or every row when event is empty.
func (j *SQLiteJournal) Count(event string) (int, error) {
	var n int
	var err error
	if event == "" {
		err = j.db.QueryRow(`SELECT count(*) FROM trade_journal`).Scan(&n)
	} else {
		err = j.db.QueryRow(`SELECT count(*) FROM trade_journal WHERE event = ?`, event).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("counting journal rows: %w", err)
	}
	return n, nil
}

// Close releases the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
