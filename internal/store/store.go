// Package store provides storage backends for LoanPipe.
//
// It persists the archives of ended chat sessions and the inbound message
// dedup records used by the phone channels. An in-memory store is used when no
// database is configured; SQLite and PostgreSQL are selected by DSN.
package store

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/models"
)

// ErrArchiveNotFound is returned when no archive exists for a session id.
var ErrArchiveNotFound = errors.New("session archive not found")

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
)

// Store is the archive persistence used by the session manager and the API.
type Store interface {
	SaveSessionArchive(archive models.SessionArchive) error
	GetSessionArchive(sessionID string) (*models.SessionArchive, error)
	// ListSessionArchives returns archives newest first. A limit <= 0 returns all of them.
	ListSessionArchives(limit int) ([]models.SessionArchive, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the data source name for either backend.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return WithDSN(dsn)
}

// DetectDSNType reports which driver a DSN belongs to: "postgres" for URLs
// and keyword/value connection strings, "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// Open returns the backend matching the DSN type.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		slog.Debug("store.Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == DSNTypePostgres {
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// InMemoryStore keeps archives and dedup records in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	archives map[string]models.SessionArchive
	inbound  map[string]DedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		archives: make(map[string]models.SessionArchive),
		inbound:  make(map[string]DedupRecord),
	}
}

var (
	_ Store     = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) SaveSessionArchive(archive models.SessionArchive) error {
	if archive.SessionID == "" {
		return models.ErrEmptySessionID
	}
	archive.History = append([]models.HistoryEntry(nil), archive.History...)
	s.mu.Lock()
	s.archives[archive.SessionID] = archive
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) GetSessionArchive(sessionID string) (*models.SessionArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archives[sessionID]
	if !ok {
		return nil, ErrArchiveNotFound
	}
	return &a, nil
}

func (s *InMemoryStore) ListSessionArchives(limit int) ([]models.SessionArchive, error) {
	s.mu.RLock()
	out := make([]models.SessionArchive, 0, len(s.archives))
	for _, a := range s.archives {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].EndedAt.After(out[j].EndedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
