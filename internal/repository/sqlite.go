package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// ErrDuplicateSequence is returned by Append when the (session, sequence)
// pair already exists.
var ErrDuplicateSequence = errors.New("duplicate event sequence")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS run_sessions (
			session_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			workspace_path TEXT NOT NULL DEFAULT '',
			meta TEXT,
			owner_user_id TEXT,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_sessions_kind ON run_sessions(kind, created_at)`,
		`CREATE TABLE IF NOT EXISTS session_events (
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			channel TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			ts INTEGER NOT NULL,
			PRIMARY KEY (session_id, sequence),
			FOREIGN KEY (session_id) REFERENCES run_sessions(session_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new run session.
func (s *SQLiteStore) Create(ctx context.Context, session *domain.RunSession) error {
	var meta sql.NullString
	if len(session.Meta) > 0 {
		meta = sql.NullString{String: string(session.Meta), Valid: true}
	}
	var owner sql.NullString
	if session.OwnerUserID != nil {
		owner = sql.NullString{String: *session.OwnerUserID, Valid: true}
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_sessions (session_id, kind, workspace_path, meta, owner_user_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.Kind, session.WorkspacePath, meta, owner, session.Status, session.CreatedAt, session.UpdatedAt)
	return err
}

// FindByID retrieves a run session by ID.
func (s *SQLiteStore) FindByID(ctx context.Context, sessionID string) (*domain.RunSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, kind, workspace_path, meta, owner_user_id, status, created_at, updated_at
		 FROM run_sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateStatus sets the status of a run session.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		status, time.Now(), sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return nil
}

// List returns run sessions, optionally filtered by kind.
func (s *SQLiteStore) List(ctx context.Context, kind string) ([]domain.RunSession, error) {
	query := `SELECT session_id, kind, workspace_path, meta, owner_user_id, status, created_at, updated_at FROM run_sessions`
	var args []interface{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at ASC, session_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.RunSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.RunSession, error) {
	var session domain.RunSession
	var meta, owner sql.NullString
	if err := row.Scan(&session.SessionID, &session.Kind, &session.WorkspacePath, &meta, &owner,
		&session.Status, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	if meta.Valid {
		session.Meta = json.RawMessage(meta.String)
	}
	if owner.Valid {
		o := owner.String
		session.OwnerUserID = &o
	}
	return &session, nil
}

// Append persists one event at the given sequence.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, sequence int64, channel, eventType string, payload json.RawMessage) (*domain.SessionEvent, error) {
	now := time.Now()
	var p sql.NullString
	if len(payload) > 0 {
		p = sql.NullString{String: string(payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, sequence, channel, type, payload, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, sequence, channel, eventType, p, now.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: session %s sequence %d", ErrDuplicateSequence, sessionID, sequence)
		}
		return nil, err
	}
	return &domain.SessionEvent{
		SessionID: sessionID,
		Sequence:  sequence,
		Channel:   channel,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.UnixMilli(now.UnixMilli()),
	}, nil
}

// GetSince retrieves events with sequence greater than afterSeq.
func (s *SQLiteStore) GetSince(ctx context.Context, sessionID string, afterSeq int64) ([]domain.SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, sequence, channel, type, payload, ts FROM session_events
		 WHERE session_id = ? AND sequence > ? ORDER BY sequence ASC`,
		sessionID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.SessionEvent
	for rows.Next() {
		var event domain.SessionEvent
		var payload sql.NullString
		var ts int64
		if err := rows.Scan(&event.SessionID, &event.Sequence, &event.Channel, &event.Type, &payload, &ts); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		event.Timestamp = time.UnixMilli(ts)
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetNextSequence returns the next free sequence number for a session.
func (s *SQLiteStore) GetNextSequence(ctx context.Context, sessionID string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence) + 1, 0) FROM session_events WHERE session_id = ?`,
		sessionID).Scan(&next)
	return next, err
}

// DeleteForSession removes every event of a session.
func (s *SQLiteStore) DeleteForSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_events WHERE session_id = ?`, sessionID)
	return err
}
