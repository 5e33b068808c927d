// Package store provides storage backends for LoanPipe.
//
// This file implements an SQLite-backed store for session archives.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/LoanPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "dsnSet", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore.NewSQLiteStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: open failed", "error", err)
		return nil, err
	}
	// Writes serialise on the file lock anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: migrations applied", "dsn", dsn)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSessionArchive(archive models.SessionArchive) error {
	if archive.SessionID == "" {
		return models.ErrEmptySessionID
	}
	applicantJSON, historyJSON, err := encodeArchive(archive)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO session_archives
		(session_id, created_at, ended_at, reason, final_state, message_count, applicant_json, history_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			reason = excluded.reason,
			final_state = excluded.final_state,
			message_count = excluded.message_count,
			applicant_json = excluded.applicant_json,
			history_json = excluded.history_json`,
		archive.SessionID, archive.CreatedAt, archive.EndedAt, string(archive.Reason), string(archive.FinalState),
		archive.MessageCount, applicantJSON, historyJSON,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveSessionArchive: insert failed", "error", err, "sessionID", archive.SessionID)
		return fmt.Errorf("save session archive failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveSessionArchive: saved", "sessionID", archive.SessionID, "reason", archive.Reason)
	return nil
}

func (s *SQLiteStore) GetSessionArchive(sessionID string) (*models.SessionArchive, error) {
	row := s.db.QueryRow(`SELECT session_id, created_at, ended_at, reason, final_state, message_count, applicant_json, history_json
		FROM session_archives WHERE session_id = ?`, sessionID)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session archive failed: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListSessionArchives(limit int) ([]models.SessionArchive, error) {
	query := `SELECT session_id, created_at, ended_at, reason, final_state, message_count, applicant_json, history_json
		FROM session_archives ORDER BY ended_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list session archives failed: %w", err)
	}
	defer rows.Close()
	return collectArchives(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database connection")
	return s.db.Close()
}
