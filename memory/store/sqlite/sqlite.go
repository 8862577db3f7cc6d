// Package sqlite persists memory records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/memory"
)

// timeLayout is fixed width so created_at sorts correctly as text.
const timeLayout = "2006-01-02 15:04:05.000000000"

const createTableSQL = `CREATE TABLE IF NOT EXISTS memory_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	vector BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS idx_memory_items_created_at ON memory_items (created_at)`

// Store is a memory.Persister backed by SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at path and initializes the schema.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap(err, "open database", path)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, wrap(err, "set WAL mode", path)
	}
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, wrap(err, "create schema", path)
	}

	return &Store{db: db}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createSchema(ctx context.Context, db execer) error {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, createIndexSQL)
	return err
}

// Save drops and recreates memory_items, then inserts records in batches of
// batchSize inside a single transaction.
func (s *Store) Save(ctx context.Context, records []memory.Record, batchSize int) error {
	if batchSize < 1 {
		batchSize = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err, "begin transaction", "")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS memory_items"); err != nil {
		return wrap(err, "drop table", "")
	}
	if err := createSchema(ctx, tx); err != nil {
		return wrap(err, "recreate table", "")
	}

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := insertBatch(ctx, tx, records[start:end]); err != nil {
			return wrap(err, "insert batch", "")
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap(err, "commit", "")
	}
	return nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, batch []memory.Record) error {
	query := "INSERT INTO memory_items (text, vector, created_at) VALUES "
	args := make([]any, 0, len(batch)*3)
	for i, rec := range batch {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?, ?)"
		args = append(args, rec.Text, EncodeVector(rec.Embedding), rec.CreatedAt.UTC().Format(timeLayout))
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// Load returns up to limit records, newest first by created_at.
func (s *Store) Load(ctx context.Context, limit int) ([]memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, vector, created_at FROM memory_items
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap(err, "query records", "")
	}
	defer rows.Close()

	var records []memory.Record
	for rows.Next() {
		var (
			rec       memory.Record
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &blob, &createdAt); err != nil {
			return nil, wrap(err, "scan record", "")
		}
		if rec.Embedding, err = DecodeVector(blob); err != nil {
			return nil, wrap(err, "decode vector", "")
		}
		rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "iterate records", "")
	}
	return records, nil
}

// Count returns the number of persisted rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_items").Scan(&n); err != nil {
		return 0, wrap(err, "count records", "")
	}
	return n, nil
}

// Truncate deletes every persisted row.
func (s *Store) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM memory_items"); err != nil {
		return wrap(err, "truncate", "")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EncodeVector serializes v as raw little-endian float32 bytes.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, goerr.New("vector blob length is not a multiple of 4", goerr.V("length", len(b)))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func wrap(err error, op, path string) error {
	opts := []goerr.Option{goerr.V("op", op), goerr.V("cause", err.Error())}
	if path != "" {
		opts = append(opts, goerr.V("path", path))
	}
	return goerr.Wrap(core.ErrPersistence, "sqlite "+op, opts...)
}
