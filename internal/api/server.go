package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/BTreeMap/LoanPipe/internal/document"
	"github.com/BTreeMap/LoanPipe/internal/messaging"
	"github.com/BTreeMap/LoanPipe/internal/session"
	"github.com/BTreeMap/LoanPipe/internal/store"
)

// Upload limits.
const (
	MaxUploadSize        = 10 << 20
	MaxConcurrentUploads = 4
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	sessions  *session.Manager
	archives  store.Store
	documents *document.HTMLRenderer
	twilio    *messaging.TwilioService // nil when the Twilio transport is off
	uploads   *semaphore.Weighted
	upgrader  websocket.Upgrader
}

// NewServer creates a Server. twilio may be nil.
func NewServer(sessions *session.Manager, archives store.Store, documents *document.HTMLRenderer, twilio *messaging.TwilioService) *Server {
	return &Server{
		sessions:  sessions,
		archives:  archives,
		documents: documents,
		twilio:    twilio,
		uploads:   semaphore.NewWeighted(MaxConcurrentUploads),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The chat widget is embedded on other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ws/{session_id}", s.websocketHandler)
	mux.HandleFunc("POST /sessions", s.createSessionHandler)
	mux.HandleFunc("GET /sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("DELETE /sessions/{id}", s.endSessionHandler)
	mux.HandleFunc("GET /sessions/{id}/history", s.historyHandler)
	mux.HandleFunc("POST /sessions/{id}/messages", s.messageHandler)
	mux.HandleFunc("POST /sessions/{id}/salary-slip", s.salarySlipHandler)
	mux.HandleFunc("GET "+document.DownloadPath+"{filename}", s.documentHandler)
	mux.HandleFunc("GET /archives/{id}", s.archiveHandler)
	if s.twilio != nil {
		mux.HandleFunc("POST /twilio/webhook", s.twilio.TwilioWebhookHandler)
	}
	return mux
}
