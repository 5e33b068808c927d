package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/document"
	"github.com/BTreeMap/LoanPipe/internal/flow"
	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/store"
)

// createSessionRequest is the optional body of POST /sessions.
type createSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// sessionCreated is returned by POST /sessions.
type sessionCreated struct {
	SessionID string             `json:"session_id"`
	Welcome   models.StageResult `json:"welcome"`
}

// healthHandler reports liveness and the number of live sessions.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"active_sessions": s.sessions.ActiveCount(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

// createSessionHandler handles POST /sessions.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			slog.Warn("Server.createSessionHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
	}

	sess, welcome, err := s.sessions.Create(req.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionExists) {
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
			return
		}
		slog.Error("Server.createSessionHandler: failed to create session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(sessionCreated{SessionID: sess.ID(), Welcome: welcome}))
}

// getSessionHandler handles GET /sessions/{id}.
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sessions.Stats(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// historyHandler handles GET /sessions/{id}/history.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess.History()))
}

// endSessionHandler handles DELETE /sessions/{id}.
func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.End(id, models.EndReasonEnded); err != nil {
		writeSessionError(w, err)
		return
	}
	slog.Info("Server.endSessionHandler: session ended", "sessionID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session ended", nil))
}

// messageHandler handles POST /sessions/{id}/messages.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg models.ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := msg.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.sessions.Handle(r.Context(), r.PathValue("id"), msg.Content)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// salarySlipHandler handles POST /sessions/{id}/salary-slip with a multipart
// "file" field.
func (s *Server) salarySlipHandler(w http.ResponseWriter, r *http.Request) {
	if !s.uploads.TryAcquire(1) {
		slog.Warn("Server.salarySlipHandler: too many concurrent uploads")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Too many uploads in progress, please retry"))
		return
	}
	defer s.uploads.Release(1)

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		slog.Warn("Server.salarySlipHandler: missing upload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("A salary slip must be sent in the \"file\" field"))
		return
	}
	defer file.Close()

	id := r.PathValue("id")
	res, err := s.sessions.UploadDocument(r.Context(), id, header.Filename, file)
	if err != nil {
		if errors.Is(err, flow.ErrSalaryProofNotRequested) {
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
			return
		}
		writeSessionError(w, err)
		return
	}
	slog.Info("Server.salarySlipHandler: salary slip processed", "sessionID", id, "filename", header.Filename, "size", header.Size)
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// documentHandler serves a rendered sanction letter.
func (s *Server) documentHandler(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	f, err := s.documents.Open(filename)
	switch {
	case errors.Is(err, document.ErrInvalidFilename):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid document name"))
		return
	case errors.Is(err, document.ErrDocumentNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Document not found"))
		return
	case err != nil:
		slog.Error("Server.documentHandler: failed to open document", "filename", filename, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to open document"))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		slog.Error("Server.documentHandler: failed to stat document", "filename", filename, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to open document"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// archiveHandler handles GET /archives/{id}.
func (s *Server) archiveHandler(w http.ResponseWriter, r *http.Request) {
	archive, err := s.archives.GetSessionArchive(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrArchiveNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Archive not found"))
			return
		}
		slog.Error("Server.archiveHandler: failed to load archive", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load archive"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(archive))
}
