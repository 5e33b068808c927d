// Package store provides storage backends for LoanPipe.
//
// This file implements a PostgreSQL-backed store for session archives.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LoanPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "dsnSet", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore.NewPostgresStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: open failed", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveSessionArchive(archive models.SessionArchive) error {
	if archive.SessionID == "" {
		return models.ErrEmptySessionID
	}
	applicantJSON, historyJSON, err := encodeArchive(archive)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO session_archives
		(session_id, created_at, ended_at, reason, final_state, message_count, applicant_json, history_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			reason = EXCLUDED.reason,
			final_state = EXCLUDED.final_state,
			message_count = EXCLUDED.message_count,
			applicant_json = EXCLUDED.applicant_json,
			history_json = EXCLUDED.history_json`,
		archive.SessionID, archive.CreatedAt, archive.EndedAt, string(archive.Reason), string(archive.FinalState),
		archive.MessageCount, applicantJSON, historyJSON,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveSessionArchive: insert failed", "error", err, "sessionID", archive.SessionID)
		return fmt.Errorf("save session archive failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSessionArchive(sessionID string) (*models.SessionArchive, error) {
	row := s.db.QueryRow(`SELECT session_id, created_at, ended_at, reason, final_state, message_count, applicant_json, history_json
		FROM session_archives WHERE session_id = $1`, sessionID)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session archive failed: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListSessionArchives(limit int) ([]models.SessionArchive, error) {
	query := `SELECT session_id, created_at, ended_at, reason, final_state, message_count, applicant_json, history_json
		FROM session_archives ORDER BY ended_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list session archives failed: %w", err)
	}
	defer rows.Close()
	return collectArchives(rows)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore.Close: closing database connection")
	return s.db.Close()
}
