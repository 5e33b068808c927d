package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/store"
	"github.com/BTreeMap/LoanPipe/internal/whatsapp"
)

// fakeConversations echoes every message and offers two quick replies.
type fakeConversations struct {
	mu       sync.Mutex
	open     map[string]bool
	received []string
	err      error
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{open: make(map[string]bool)}
}

func (f *fakeConversations) Open(id string) (models.StageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open[id] {
		return models.StageResult{}, models.ErrSessionExists
	}
	f.open[id] = true
	return models.StageResult{Text: "Welcome", QuickReplies: []string{"Yes, I need a loan", "Tell me about rates"}}, nil
}

func (f *fakeConversations) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[id]
}

func (f *fakeConversations) Handle(ctx context.Context, id, text string) (models.StageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.StageResult{}, f.err
	}
	if strings.TrimSpace(text) == "" {
		return models.StageResult{}, models.ErrEmptyMessage
	}
	f.received = append(f.received, id+"|"+text)
	return models.StageResult{Text: "echo: " + text}, nil
}

func (f *fakeConversations) Received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func newTestRouter(dedup store.DedupRepo) (*ConversationRouter, *whatsapp.MockClient, *fakeConversations, *WhatsAppService) {
	client := whatsapp.NewMockClient()
	svc := NewWhatsAppService(client)
	conversations := newFakeConversations()
	return NewConversationRouter(svc, conversations, dedup), client, conversations, svc
}

func TestConversationRouter_FirstContactSendsWelcome(t *testing.T) {
	router, client, conversations, _ := newTestRouter(nil)
	err := router.ProcessResponse(context.Background(), models.Response{From: "+91 98765 43210", Body: "hi"})
	if err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}

	sent := client.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected welcome and reply, got %d messages", len(sent))
	}
	if sent[0].To != "919876543210" || !strings.HasPrefix(sent[0].Body, "Welcome") {
		t.Errorf("unexpected welcome %+v", sent[0])
	}
	if !strings.Contains(sent[0].Body, "1. Yes, I need a loan") {
		t.Errorf("expected numbered quick replies in welcome, got %q", sent[0].Body)
	}
	if sent[1].Body != "echo: hi" {
		t.Errorf("unexpected reply %q", sent[1].Body)
	}
	if got := conversations.Received(); len(got) != 1 || got[0] != "wa:919876543210|hi" {
		t.Errorf("unexpected session routing %v", got)
	}
}

func TestConversationRouter_NumericReplySelectsOption(t *testing.T) {
	router, client, conversations, _ := newTestRouter(nil)
	ctx := context.Background()
	conversations.Open("wa:919876543210")
	router.setOptions("wa:919876543210", []string{"Yes, I need a loan", "Tell me about rates"})

	if err := router.ProcessResponse(ctx, models.Response{From: "919876543210", Body: "2"}); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if got := conversations.Received(); len(got) != 1 || got[0] != "wa:919876543210|Tell me about rates" {
		t.Errorf("expected option 2 to be resolved, got %v", got)
	}

	// The echo reply carries no options, so a bare number is passed through.
	if err := router.ProcessResponse(ctx, models.Response{From: "919876543210", Body: "2"}); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if got := conversations.Received(); got[len(got)-1] != "wa:919876543210|2" {
		t.Errorf("expected raw body after options cleared, got %v", got)
	}
	if n := len(client.Sent()); n != 2 {
		t.Errorf("expected 2 replies, got %d", n)
	}
}

func TestConversationRouter_DeduplicatesRedelivery(t *testing.T) {
	dedup := store.NewInMemoryStore()
	router, client, conversations, _ := newTestRouter(dedup)
	ctx := context.Background()
	resp := models.Response{From: "919876543210", Body: "hi", MessageID: "SM1"}

	if err := router.ProcessResponse(ctx, resp); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if err := router.ProcessResponse(ctx, resp); err != nil {
		t.Fatalf("ProcessResponse on redelivery failed: %v", err)
	}
	if n := len(conversations.Received()); n != 1 {
		t.Errorf("expected redelivery to be dropped, handled %d times", n)
	}
	if n := len(client.Sent()); n != 2 {
		t.Errorf("expected only first delivery replies, got %d", n)
	}

	resp.MessageID = "SM2"
	if err := router.ProcessResponse(ctx, resp); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if n := len(conversations.Received()); n != 2 {
		t.Errorf("expected new message id to be handled, got %d", n)
	}
}

func TestConversationRouter_EmptyBodyIsIgnored(t *testing.T) {
	router, client, conversations, _ := newTestRouter(nil)
	conversations.Open("wa:919876543210")
	if err := router.ProcessResponse(context.Background(), models.Response{From: "919876543210", Body: "   "}); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if n := len(client.Sent()); n != 0 {
		t.Errorf("expected no reply for blank message, got %d", n)
	}
}

func TestConversationRouter_Errors(t *testing.T) {
	router, client, conversations, _ := newTestRouter(nil)
	ctx := context.Background()

	if err := router.ProcessResponse(ctx, models.Response{From: "abc", Body: "hi"}); err == nil {
		t.Error("expected error for invalid sender")
	}

	conversations.err = errors.New("boom")
	if err := router.ProcessResponse(ctx, models.Response{From: "919876543210", Body: "hi"}); err == nil {
		t.Error("expected handler error to be returned")
	}
	conversations.err = nil

	client.Err = errors.New("send failed")
	if err := router.ProcessResponse(ctx, models.Response{From: "919876543210", Body: "hi"}); err == nil {
		t.Error("expected send error to be returned")
	}
}

func TestConversationRouter_Start(t *testing.T) {
	router, client, _, svc := newTestRouter(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- router.Start(ctx) }()

	svc.emitResponse(models.Response{From: "919876543210", Body: "hi"})
	deadline := time.Now().Add(2 * time.Second)
	for len(client.Sent()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(client.Sent()); n != 2 {
		t.Fatalf("expected 2 messages sent, got %d", n)
	}

	svc.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after the service stopped")
	}
}
