package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/twiliowhatsapp"
)

// TwilioSignatureHeader carries the request signature on Twilio webhooks.
const TwilioSignatureHeader = "X-Twilio-Signature"

// emptyTwiML acknowledges a webhook without sending a reply through TwiML.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service over the Twilio REST API. Inbound messages
// arrive through TwilioWebhookHandler.
type TwilioService struct {
	eventChannels
	client     twiliowhatsapp.TwilioWhatsAppSender
	validator  *twiliowhatsapp.SignatureValidator
	webhookURL string
}

var _ Service = (*TwilioService)(nil)

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature
// does not match webhookURL, the public URL Twilio posts to.
func WithSignatureValidation(authToken, webhookURL string) TwilioOption {
	return func(s *TwilioService) {
		if authToken == "" || webhookURL == "" {
			return
		}
		s.validator = twiliowhatsapp.NewSignatureValidator(authToken)
		s.webhookURL = webhookURL
	}
}

// NewTwilioService creates a TwilioService around a real or mock client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{client: client}
	s.init("TwilioService")
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("TwilioService.NewTwilioService: created", "signatureValidation", s.validator != nil)
	return s
}

// ValidateAndCanonicalizeRecipient reduces a phone number or "whatsapp:+..."
// address to digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(strings.TrimPrefix(recipient, "whatsapp:"))
}

// Start is a no-op; Twilio pushes inbound messages to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	if s.close() {
		slog.Info("TwilioService.Stop: channels closed")
	}
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.StatusTypeFailed, Time: time.Now().Unix()})
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.StatusTypeSent, Time: time.Now().Unix()})
	return nil
}

// TwilioWebhookHandler accepts inbound Twilio messages and emits them on
// Responses(). Media-only messages are acknowledged and dropped.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.TwilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.validator.Validate(s.webhookURL, params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("TwilioService.TwilioWebhookHandler: invalid signature", "remoteAddr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	if from == "" {
		slog.Warn("TwilioService.TwilioWebhookHandler: missing sender")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	if body := r.PostFormValue("Body"); body != "" {
		s.emitResponse(models.Response{
			From:      from,
			Body:      body,
			Time:      time.Now().Unix(),
			MessageID: r.PostFormValue("MessageSid"),
		})
	} else {
		slog.Debug("TwilioService.TwilioWebhookHandler: ignoring message without text", "from", from)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}
