// Package sqlite keeps archived sessions and the runtime event log in a
// single SQLite database. Archive payloads are zstd-compressed JSON.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/klauspost/compress/zstd"

	_ "modernc.org/sqlite"
)

const (
	DefaultFileName       = "archive.db"
	DefaultEventRetention = 10000
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS archives (
	session_id TEXT PRIMARY KEY,
	vault_id   TEXT NOT NULL,
	reason     TEXT NOT NULL,
	ended_at   INTEGER NOT NULL,
	payload    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	type       TEXT NOT NULL,
	session_id TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_session ON events(session_id);
`

var (
	_ ports.ArchiveStore = (*Store)(nil)
	_ ports.EventLog     = (*Store)(nil)
)

// Store implements both ports.ArchiveStore and ports.EventLog.
type Store struct {
	db        *sql.DB
	retention int

	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	codecErr    error
}

type Options struct {
	// EventRetention bounds the events table. Zero means
	// DefaultEventRetention.
	EventRetention int
}

// Open creates the database at path when missing. Use ":memory:" in tests.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	// a second connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}

	retention := opts.EventRetention
	if retention <= 0 {
		retention = DefaultEventRetention
	}

	return &Store{db: db, retention: retention}, nil
}

func (s *Store) Close() error {
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
	return s.db.Close()
}

func (s *Store) codec() (*zstd.Encoder, *zstd.Decoder, error) {
	s.encoderOnce.Do(func() {
		s.encoder, s.codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if s.codecErr != nil {
			return
		}
		s.decoder, s.codecErr = zstd.NewReader(nil)
	})
	return s.encoder, s.decoder, s.codecErr
}

func (s *Store) Save(ctx context.Context, archive domain.ArchivedSession) error {
	raw, err := json.Marshal(toArchiveRecord(archive))
	if err != nil {
		return fmt.Errorf("encode archive %s: %w", archive.SessionID, err)
	}
	encoder, _, err := s.codec()
	if err != nil {
		return fmt.Errorf("init zstd: %w", err)
	}
	payload := encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO archives (session_id, vault_id, reason, ended_at, payload)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		string(archive.SessionID), archive.VaultID, string(archive.Reason), archive.EndedAt.UnixNano(), payload,
	)
	if err != nil {
		return fmt.Errorf("insert archive %s: %w", archive.SessionID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert archive %s: %w", archive.SessionID, err)
	}
	if affected == 0 {
		return domain.ErrArchiveExists
	}

	return nil
}

func (s *Store) GetBySessionID(ctx context.Context, id domain.SessionID) (domain.ArchivedSession, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM archives WHERE session_id = ?`, string(id)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ArchivedSession{}, domain.ErrArchiveNotFound
	}
	if err != nil {
		return domain.ArchivedSession{}, fmt.Errorf("read archive %s: %w", id, err)
	}

	_, decoder, err := s.codec()
	if err != nil {
		return domain.ArchivedSession{}, fmt.Errorf("init zstd: %w", err)
	}
	raw, err := decoder.DecodeAll(payload, nil)
	if err != nil {
		return domain.ArchivedSession{}, fmt.Errorf("decompress archive %s: %w", id, err)
	}
	var record archiveRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.ArchivedSession{}, fmt.Errorf("decode archive %s: %w", id, err)
	}

	return record.toDomain(), nil
}

func (s *Store) Append(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (ts, type, session_id, data) VALUES (?, ?, ?, ?)`,
		event.Timestamp.UnixNano(), string(event.Type), string(event.SessionID), string(data),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE id <= (SELECT COALESCE(MAX(id), 0) FROM events) - ?`,
		s.retention,
	); err != nil {
		return fmt.Errorf("trim events: %w", err)
	}

	return tx.Commit()
}

// Recent returns up to limit events, newest first. A limit <= 0 returns
// everything retained.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = s.retention
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, type, session_id, data FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, limit)
	for rows.Next() {
		var (
			ts        int64
			eventType string
			sessionID string
			data      string
		)
		if err := rows.Scan(&ts, &eventType, &sessionID, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event := domain.Event{
			Timestamp: time.Unix(0, ts).UTC(),
			Type:      domain.EventType(eventType),
			SessionID: domain.SessionID(sessionID),
		}
		if err := json.Unmarshal([]byte(data), &event.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
