package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BTreeMap/LoanPipe/internal/models"
)

// Websocket frame types.
const (
	FrameTypeMessage = "message"
	FrameTypeError   = "error"
)

const (
	wsReadLimit    = 2 * models.MaxMessageLength
	wsWriteTimeout = 10 * time.Second
)

// chatFrame is one outbound websocket message.
type chatFrame struct {
	Type        string           `json:"type"`
	Content     string           `json:"content"`
	Sender      models.Sender    `json:"sender,omitempty"`
	Timestamp   string           `json:"timestamp"`
	State       models.StateType `json:"state,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
}

func botFrame(res models.StageResult) chatFrame {
	return chatFrame{
		Type:        FrameTypeMessage,
		Content:     res.Text,
		Sender:      models.SenderBot,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		State:       res.State,
		Metadata:    res.Metadata,
		Suggestions: res.QuickReplies,
	}
}

func errorFrame(msg string) chatFrame {
	return chatFrame{Type: FrameTypeError, Content: msg, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// websocketHandler runs one browser chat. The session lives as long as the
// connection and is archived as disconnected when it closes.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.websocketHandler: upgrade failed", "sessionID", id, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	_, welcome, err := s.sessions.Create(id)
	if err != nil {
		slog.Warn("Server.websocketHandler: failed to open session", "sessionID", id, "error", err)
		writeFrame(conn, errorFrame(err.Error()))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(wsWriteTimeout))
		return
	}
	slog.Info("Server.websocketHandler: chat connected", "sessionID", id)
	defer func() {
		if err := s.sessions.End(id, models.EndReasonDisconnected); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
			slog.Warn("Server.websocketHandler: failed to end session", "sessionID", id, "error", err)
		}
		slog.Info("Server.websocketHandler: chat disconnected", "sessionID", id)
	}()

	if err := writeFrame(conn, botFrame(welcome)); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Server.websocketHandler: connection lost", "sessionID", id, "error", err)
			}
			return
		}

		var msg models.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if writeFrame(conn, errorFrame("Invalid message format")) != nil {
				return
			}
			continue
		}
		if err := msg.Validate(); err != nil {
			if writeFrame(conn, errorFrame(err.Error())) != nil {
				return
			}
			continue
		}

		res, err := s.sessions.Handle(r.Context(), id, msg.Content)
		if errors.Is(err, models.ErrSessionNotFound) {
			writeFrame(conn, errorFrame("Your session has ended. Please reconnect to start again."))
			return
		}
		if err != nil {
			slog.Error("Server.websocketHandler: failed to handle message", "sessionID", id, "error", err)
			if writeFrame(conn, errorFrame("Something went wrong, please try again.")) != nil {
				return
			}
			continue
		}
		if err := writeFrame(conn, botFrame(res)); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame chatFrame) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		slog.Warn("Server.writeFrame: write failed", "type", frame.Type, "error", err)
		return err
	}
	return nil
}
