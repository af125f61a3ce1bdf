// Package store persists relayed messages in SQLite, one logical collection
// per channel key.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/domain"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// SQLiteStore implements domain.RecordStore.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock replaces the timestamp source used for new records.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

func NewSQLiteStore(dbPath string, logger *slog.Logger, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: appends and trims on one channel never interleave.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

// Append stores one record; the store assigns CreatedAt.
func (s *SQLiteStore) Append(ctx context.Context, channelKey, messageID string, payload []byte) (domain.RetainedRecord, error) {
	rec := domain.RetainedRecord{
		ChannelKey: channelKey,
		MessageID:  messageID,
		Payload:    string(payload),
		CreatedAt:  s.now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_messages (channel_key, message_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		rec.ChannelKey, rec.MessageID, rec.Payload, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return domain.RetainedRecord{}, wrapClosed(err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return domain.RetainedRecord{}, err
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM relay_messages WHERE id = ?`, id)
	return wrapClosed(err)
}

// ListIDs returns ids for channelKey newest first, skipping the first offset.
func (s *SQLiteStore) ListIDs(ctx context.Context, channelKey string, offset int) ([]int64, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM relay_messages WHERE channel_key = ?
		 ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?`,
		channelKey, offset,
	)
	if err != nil {
		return nil, wrapClosed(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Recent returns up to limit records for channelKey, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, channelKey string, limit int) ([]domain.RetainedRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_key, message_id, payload, created_at FROM relay_messages
		 WHERE channel_key = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		channelKey, limit,
	)
	if err != nil {
		return nil, wrapClosed(err)
	}
	defer rows.Close()

	var recs []domain.RetainedRecord
	for rows.Next() {
		var r domain.RetainedRecord
		var ts int64
		if err := rows.Scan(&r.ID, &r.ChannelKey, &r.MessageID, &r.Payload, &ts); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, ts).UTC()
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Count returns how many records channelKey holds.
func (s *SQLiteStore) Count(ctx context.Context, channelKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relay_messages WHERE channel_key = ?`, channelKey,
	).Scan(&n)
	return n, wrapClosed(err)
}

// ChannelKeys lists every channel key that has at least one record.
func (s *SQLiteStore) ChannelKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT channel_key FROM relay_messages ORDER BY channel_key`)
	if err != nil {
		return nil, wrapClosed(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return wrapClosed(s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func wrapClosed(err error) error {
	if err != nil && err.Error() == "sql: database is closed" {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
