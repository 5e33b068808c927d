package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/whatsapp"
)

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+91 98765-43210", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	sent := mockClient.Sent()
	if len(sent) != 1 || sent[0].To != "919876543210" {
		t.Fatalf("expected one message to canonical number, got %+v", sent)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "919876543210" {
			t.Errorf("expected receipt.To 919876543210, got %s", receipt.To)
		}
		if receipt.Status != models.StatusTypeSent {
			t.Errorf("expected receipt.Status %s, got %s", models.StatusTypeSent, receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessage_FailedReceipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	mockClient.Err = errors.New("network down")
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "9876543210", "hello"); err == nil {
		t.Fatal("expected send error")
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.StatusTypeFailed {
			t.Errorf("expected failed receipt, got %s", receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessage_InvalidRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	for _, to := range []string{"", "abc", "12345"} {
		if err := svc.SendMessage(context.Background(), to, "hello"); err == nil {
			t.Errorf("expected error for recipient %q", to)
		}
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if receipt, ok := <-svc.Receipts(); ok {
		t.Errorf("expected receipts channel closed, got value %v", receipt)
	}
	if response, ok := <-svc.Responses(); ok {
		t.Errorf("expected responses channel closed, got value %v", response)
	}
	if err := svc.SendMessage(context.Background(), "9876543210", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func incomingMessage(from, text string) *events.Message {
	evt := &events.Message{Message: &waE2E.Message{Conversation: &text}}
	evt.Info.ID = "3EB0C767D26A1D2B"
	evt.Info.Sender = types.NewJID(from, types.DefaultUserServer)
	evt.Info.Timestamp = time.Unix(1767225600, 0)
	return evt
}

func TestWhatsAppService_HandleIncomingMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	svc.handleEvent(incomingMessage("919876543210", "5 lakhs"))
	select {
	case resp := <-svc.Responses():
		if resp.From != "919876543210" || resp.Body != "5 lakhs" {
			t.Errorf("unexpected response %+v", resp)
		}
		if resp.MessageID != "3EB0C767D26A1D2B" {
			t.Errorf("expected message id to be forwarded, got %q", resp.MessageID)
		}
		if resp.Time != 1767225600 {
			t.Errorf("expected timestamp 1767225600, got %d", resp.Time)
		}
	default:
		t.Fatal("expected response, got none")
	}

	own := incomingMessage("919876543210", "echo")
	own.Info.IsFromMe = true
	group := incomingMessage("919876543210", "hello all")
	group.Info.IsGroup = true
	media := incomingMessage("919876543210", "")
	media.Message = &waE2E.Message{}
	for _, evt := range []*events.Message{own, group, media} {
		svc.handleEvent(evt)
	}
	select {
	case resp := <-svc.Responses():
		t.Errorf("expected ignored messages, got %+v", resp)
	default:
	}
}

func TestWhatsAppService_HandleExtendedText(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	text := "2 years"
	evt := incomingMessage("919876543210", "")
	evt.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: &text}}
	svc.handleEvent(evt)
	select {
	case resp := <-svc.Responses():
		if resp.Body != "2 years" {
			t.Errorf("expected extended text body, got %q", resp.Body)
		}
	default:
		t.Fatal("expected response, got none")
	}
}

func TestWhatsAppService_HandleReceipt(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	evt := &events.Receipt{Type: events.ReceiptTypeRead, Timestamp: time.Unix(1767225600, 0)}
	evt.MessageSource.Sender = types.NewJID("919876543210", types.DefaultUserServer)
	svc.handleEvent(evt)
	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.StatusTypeRead || receipt.To != "919876543210" {
			t.Errorf("unexpected receipt %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}
