// Package session keeps the registry of live loan conversations.
//
// Each Session wraps one flow.ConversationFlow and serialises the messages sent
// to it. The Manager creates and looks up sessions, expires them after a period
// of inactivity and writes a best-effort archive when a session ends.
package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/flow"
	"github.com/BTreeMap/LoanPipe/internal/models"
)

// Session is one conversation. Messages are handled one at a time.
type Session struct {
	id        string
	createdAt time.Time
	now       func() time.Time

	// mu serialises access to the flow.
	mu     sync.Mutex
	flow   *flow.ConversationFlow
	closed bool

	// info guards the fields below, which are read without waiting for an
	// in-flight message.
	info          sync.RWMutex
	lastActivity  time.Time
	history       []models.HistoryEntry
	state         models.StateType
	applicantName string
	timerID       string
}

func newSession(id string, f *flow.ConversationFlow, now func() time.Time) *Session {
	t := now()
	return &Session{
		id:           id,
		createdAt:    t,
		now:          now,
		flow:         f,
		lastActivity: t,
		state:        f.State(),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastActivity returns the time of the most recent message.
func (s *Session) LastActivity() time.Time {
	s.info.RLock()
	defer s.info.RUnlock()
	return s.lastActivity
}

// start renders the welcome message and records it as the first bot entry.
func (s *Session) start() models.StageResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.flow.Start()
	s.record(res, "")
	return res
}

// Handle passes one user message to the conversation flow.
func (s *Session) Handle(ctx context.Context, text string) (models.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.StageResult{}, models.ErrSessionNotFound
	}
	s.touch()

	res, err := s.flow.ProcessResponse(ctx, text)
	if err != nil {
		return models.StageResult{}, err
	}
	s.record(res, text)
	return res, nil
}

// UploadDocument passes a salary slip to the conversation flow.
func (s *Session) UploadDocument(ctx context.Context, filename string, r io.Reader) (models.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.StageResult{}, models.ErrSessionNotFound
	}
	s.touch()

	res, err := s.flow.ProcessUploadedDocument(ctx, filename, r)
	if err != nil {
		return models.StageResult{}, err
	}
	s.record(res, "[salary slip] "+filename)
	return res, nil
}

// History returns a copy of the message history.
func (s *Session) History() []models.HistoryEntry {
	s.info.RLock()
	defer s.info.RUnlock()
	return append([]models.HistoryEntry(nil), s.history...)
}

// Stats summarises the session.
func (s *Session) Stats() models.SessionStats {
	s.info.RLock()
	defer s.info.RUnlock()
	return models.SessionStats{
		SessionID:     s.id,
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
		State:         s.state,
		MessageCount:  len(s.history),
		ApplicantName: s.applicantName,
	}
}

func (s *Session) touch() {
	s.info.Lock()
	s.lastActivity = s.now()
	s.info.Unlock()
}

// record appends the user text (when present) and the bot reply. Callers hold mu.
func (s *Session) record(res models.StageResult, userText string) {
	t := s.now()
	applicant := s.flow.Applicant()

	s.info.Lock()
	defer s.info.Unlock()
	if userText != "" {
		s.history = append(s.history, models.HistoryEntry{Sender: models.SenderUser, Text: userText, Timestamp: t})
	}
	s.history = append(s.history, models.HistoryEntry{Sender: models.SenderBot, Text: res.Text, Timestamp: t})
	s.lastActivity = t
	s.state = s.flow.State()
	s.applicantName = applicant.Name
}

// close marks the session ended and returns its archive. It waits for an
// in-flight message to finish.
func (s *Session) close(reason models.EndReason) models.SessionArchive {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	applicant := s.flow.Applicant()

	s.info.RLock()
	defer s.info.RUnlock()
	return models.SessionArchive{
		SessionID:    s.id,
		CreatedAt:    s.createdAt,
		EndedAt:      s.now(),
		Reason:       reason,
		FinalState:   s.state,
		MessageCount: len(s.history),
		Applicant:    applicant,
		History:      append([]models.HistoryEntry(nil), s.history...),
	}
}

func (s *Session) setTimer(id string) (previous string) {
	s.info.Lock()
	defer s.info.Unlock()
	previous, s.timerID = s.timerID, id
	return previous
}
