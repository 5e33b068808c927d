package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/LoanPipe/internal/flow"
	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/store"
)

// Default lifecycle settings.
const (
	DefaultTimeout       = 2 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// FlowFactory builds a fresh conversation flow for a new session.
type FlowFactory func() (*flow.ConversationFlow, error)

// Opts holds configuration options for a Manager.
type Opts struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	NewID         func() string
}

// Option configures a Manager.
type Option func(*Opts)

// WithTimeout sets the inactivity timeout after which a session is expired.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithSweepInterval sets how often Start sweeps for expired sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.SweepInterval = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// WithIDGenerator replaces the generator used when Create is called without an id.
func WithIDGenerator(fn func() string) Option {
	return func(o *Opts) {
		o.NewID = fn
	}
}

// Manager is the registry of live sessions.
type Manager struct {
	newFlow  FlowFactory
	archives store.Store
	timer    *flow.SimpleTimer
	opts     Opts

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager. archives may be nil, in which case ended
// sessions are discarded.
func NewManager(newFlow FlowFactory, archives store.Store, opts ...Option) (*Manager, error) {
	if newFlow == nil {
		return nil, fmt.Errorf("flow factory is required")
	}
	cfg := Opts{
		Timeout:       DefaultTimeout,
		SweepInterval: DefaultSweepInterval,
		Now:           time.Now,
		NewID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Manager{
		newFlow:  newFlow,
		archives: archives,
		timer:    flow.NewSimpleTimer(),
		opts:     cfg,
		sessions: make(map[string]*Session),
	}, nil
}

// Create opens a session and returns it with its welcome message. An empty id
// gets a generated one.
func (m *Manager) Create(id string) (*Session, models.StageResult, error) {
	if id == "" {
		id = m.opts.NewID()
	}
	f, err := m.newFlow()
	if err != nil {
		return nil, models.StageResult{}, fmt.Errorf("failed to create conversation flow: %w", err)
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		if !m.expired(existing) {
			m.mu.Unlock()
			return nil, models.StageResult{}, models.ErrSessionExists
		}
		delete(m.sessions, id)
		m.mu.Unlock()
		m.teardown(existing, models.EndReasonExpired)
		m.mu.Lock()
		if _, ok := m.sessions[id]; ok {
			m.mu.Unlock()
			return nil, models.StageResult{}, models.ErrSessionExists
		}
	}
	s := newSession(id, f, m.opts.Now)
	m.sessions[id] = s
	m.mu.Unlock()

	res := s.start()
	m.schedule(s)
	slog.Info("Manager.Create: session created", "sessionID", id)
	return s, res, nil
}

// Open is Create for callers that only need the welcome message.
func (m *Manager) Open(id string) (models.StageResult, error) {
	_, res, err := m.Create(id)
	return res, err
}

// Exists reports whether id names a live session.
func (m *Manager) Exists(id string) bool {
	_, err := m.Get(id)
	return err == nil
}

// Get returns a live session. A session past its inactivity timeout is ended
// on access and reported as not found.
func (m *Manager) Get(id string) (*Session, error) {
	if id == "" {
		return nil, models.ErrEmptySessionID
	}
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, models.ErrSessionNotFound
	}
	if m.expired(s) {
		delete(m.sessions, id)
		m.mu.Unlock()
		m.teardown(s, models.EndReasonExpired)
		return nil, models.ErrSessionNotFound
	}
	m.mu.Unlock()
	return s, nil
}

// Handle routes one user message to the session.
func (m *Manager) Handle(ctx context.Context, id, text string) (models.StageResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.StageResult{}, err
	}
	res, err := s.Handle(ctx, text)
	if err != nil {
		return models.StageResult{}, err
	}
	m.schedule(s)
	return res, nil
}

// UploadDocument routes a salary slip to the session.
func (m *Manager) UploadDocument(ctx context.Context, id, filename string, r io.Reader) (models.StageResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.StageResult{}, err
	}
	res, err := s.UploadDocument(ctx, filename, r)
	if err != nil {
		return models.StageResult{}, err
	}
	m.schedule(s)
	return res, nil
}

// End removes the session and archives it with the given reason.
func (m *Manager) End(id string, reason models.EndReason) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return models.ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	m.teardown(s, reason)
	return nil
}

// CleanupExpired ends every session past its inactivity timeout and returns
// how many were removed.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if m.expired(s) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.teardown(s, models.EndReasonExpired)
	}
	if len(expired) > 0 {
		slog.Info("Manager.CleanupExpired: expired sessions removed", "count", len(expired))
	}
	return len(expired)
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stats returns the summary of a live session.
func (m *Manager) Stats(id string) (models.SessionStats, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.SessionStats{}, err
	}
	return s.Stats(), nil
}

// Start sweeps for expired sessions until ctx is cancelled. Remaining sessions
// are ended with reason disconnected on shutdown.
func (m *Manager) Start(ctx context.Context) error {
	slog.Info("Manager.Start: starting session sweeper", "interval", m.opts.SweepInterval, "timeout", m.opts.Timeout)
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			slog.Info("Manager.Start: stopped")
			return nil
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		remaining = append(remaining, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range remaining {
		m.teardown(s, models.EndReasonDisconnected)
	}
	m.timer.Stop()
}

// expired reports whether s has been idle for longer than the timeout.
func (m *Manager) expired(s *Session) bool {
	return m.opts.Now().Sub(s.LastActivity()) >= m.opts.Timeout
}

// schedule replaces the session's inactivity timer.
func (m *Manager) schedule(s *Session) {
	id := s.ID()
	timerID, err := m.timer.ScheduleAfter(m.opts.Timeout, func() {
		m.expireIfIdle(id)
	})
	if err != nil {
		slog.Warn("Manager.schedule: failed to schedule expiry", "sessionID", id, "error", err)
		return
	}
	if previous := s.setTimer(timerID); previous != "" {
		m.timer.Cancel(previous)
	}
}

func (m *Manager) expireIfIdle(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !m.expired(s) {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	slog.Info("Manager.expireIfIdle: session timed out", "sessionID", id)
	m.teardown(s, models.EndReasonExpired)
}

// teardown closes a session already removed from the registry and archives it.
func (m *Manager) teardown(s *Session, reason models.EndReason) {
	if timerID := s.setTimer(""); timerID != "" {
		m.timer.Cancel(timerID)
	}
	archive := s.close(reason)
	slog.Info("Manager.teardown: session ended", "sessionID", s.ID(), "reason", reason, "finalState", archive.FinalState, "messageCount", archive.MessageCount)

	if m.archives == nil {
		return
	}
	if err := m.archives.SaveSessionArchive(archive); err != nil {
		slog.Warn("Manager.teardown: failed to archive session", "sessionID", s.ID(), "error", err)
	}
}
