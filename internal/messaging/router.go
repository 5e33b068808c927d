package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/store"
)

// PhoneSessionPrefix namespaces sessions opened from a phone channel.
const PhoneSessionPrefix = "wa:"

// Conversations is the part of the session registry the router drives.
type Conversations interface {
	Open(id string) (models.StageResult, error)
	Exists(id string) bool
	Handle(ctx context.Context, id, text string) (models.StageResult, error)
}

// ConversationRouter connects a phone-channel Service to live sessions. Each
// sender gets one session, created on first contact.
type ConversationRouter struct {
	svc      Service
	sessions Conversations
	dedup    store.DedupRepo

	mu      sync.Mutex
	options map[string][]string // last quick replies offered per session
}

// NewConversationRouter creates a router. dedup may be nil to disable
// redelivery filtering.
func NewConversationRouter(svc Service, sessions Conversations, dedup store.DedupRepo) *ConversationRouter {
	return &ConversationRouter{
		svc:      svc,
		sessions: sessions,
		dedup:    dedup,
		options:  make(map[string][]string),
	}
}

// Start consumes inbound messages until ctx is cancelled or the service
// closes its channels. Messages are processed in arrival order.
func (r *ConversationRouter) Start(ctx context.Context) error {
	slog.Info("ConversationRouter.Start: routing inbound messages")
	responses := r.svc.Responses()
	receipts := r.svc.Receipts()
	for {
		select {
		case <-ctx.Done():
			slog.Info("ConversationRouter.Start: stopped")
			return nil
		case resp, ok := <-responses:
			if !ok {
				slog.Info("ConversationRouter.Start: response channel closed")
				return nil
			}
			if err := r.ProcessResponse(ctx, resp); err != nil {
				slog.Error("ConversationRouter.Start: failed to process message", "error", err, "from", resp.From)
			}
		case receipt, ok := <-receipts:
			if !ok {
				receipts = nil
				continue
			}
			slog.Debug("ConversationRouter.Start: receipt", "to", receipt.To, "status", receipt.Status)
		}
	}
}

// ProcessResponse handles one inbound message and sends the replies back to
// the sender.
func (r *ConversationRouter) ProcessResponse(ctx context.Context, resp models.Response) error {
	phone, err := r.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", resp.From, err)
	}
	id := PhoneSessionPrefix + phone

	if r.dedup != nil && resp.MessageID != "" {
		fresh, err := r.dedup.RecordInbound(resp.MessageID, id)
		if err != nil {
			slog.Warn("ConversationRouter.ProcessResponse: dedup check failed", "messageID", resp.MessageID, "error", err)
		} else if !fresh {
			slog.Debug("ConversationRouter.ProcessResponse: duplicate delivery ignored", "messageID", resp.MessageID)
			return nil
		}
	}

	if !r.sessions.Exists(id) {
		welcome, err := r.sessions.Open(id)
		switch {
		case err == nil:
			slog.Info("ConversationRouter.ProcessResponse: session opened", "sessionID", id)
			r.setOptions(id, welcome.QuickReplies)
			if err := r.reply(ctx, phone, welcome); err != nil {
				return err
			}
		case errors.Is(err, models.ErrSessionExists):
		default:
			return fmt.Errorf("failed to open session: %w", err)
		}
	}

	text := ResolveQuickReply(r.lastOptions(id), resp.Body)
	res, err := r.sessions.Handle(ctx, id, text)
	switch {
	case err == nil:
		r.setOptions(id, res.QuickReplies)
		if err := r.reply(ctx, phone, res); err != nil {
			return err
		}
	case errors.Is(err, models.ErrEmptyMessage), errors.Is(err, models.ErrMessageTooLong):
		slog.Debug("ConversationRouter.ProcessResponse: message rejected", "sessionID", id, "error", err)
	default:
		return fmt.Errorf("failed to handle message: %w", err)
	}

	if r.dedup != nil && resp.MessageID != "" {
		if err := r.dedup.MarkProcessed(resp.MessageID); err != nil {
			slog.Warn("ConversationRouter.ProcessResponse: failed to mark processed", "messageID", resp.MessageID, "error", err)
		}
	}
	return nil
}

func (r *ConversationRouter) reply(ctx context.Context, phone string, res models.StageResult) error {
	if err := r.svc.SendMessage(ctx, phone, FormatReply(res)); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

func (r *ConversationRouter) lastOptions(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.options[id]
}

func (r *ConversationRouter) setOptions(id string, options []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(options) == 0 {
		delete(r.options, id)
		return
	}
	r.options[id] = options
}
