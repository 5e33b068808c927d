// Package api serves the loan chat over HTTP and websocket and runs the
// phone-channel transports.
//
// Run wires the store, the conversation flow collaborators, the session
// manager and the optional WhatsApp and Twilio services, then serves until the
// context is cancelled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/LoanPipe/internal/bureau"
	"github.com/BTreeMap/LoanPipe/internal/directory"
	"github.com/BTreeMap/LoanPipe/internal/document"
	"github.com/BTreeMap/LoanPipe/internal/flow"
	"github.com/BTreeMap/LoanPipe/internal/genai"
	"github.com/BTreeMap/LoanPipe/internal/messaging"
	"github.com/BTreeMap/LoanPipe/internal/session"
	"github.com/BTreeMap/LoanPipe/internal/store"
	"github.com/BTreeMap/LoanPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LoanPipe/internal/whatsapp"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultStateDir        = "/var/lib/loanpipe"
	DocumentsDirName       = "documents"
	DefaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Opts holds configuration options for Run.
type Opts struct {
	Addr             string
	StateDir         string
	PublicBaseURL    string
	SessionTimeout   time.Duration
	GenAIEnabled     bool
	WhatsAppEnabled  bool
	TwilioEnabled    bool
	TwilioWebhookURL string
	OTPMaxAttempts   int
	OTPTTL           time.Duration
}

// Option defines a configuration option for Run.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the directory that holds rendered documents and debug logs.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithPublicBaseURL sets the prefix used in document download links.
func WithPublicBaseURL(url string) Option {
	return func(o *Opts) { o.PublicBaseURL = url }
}

// WithSessionTimeout sets the inactivity timeout for sessions.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SessionTimeout = d }
}

// WithGenAI enables the hosted-model intent fallback.
func WithGenAI(enabled bool) Option {
	return func(o *Opts) { o.GenAIEnabled = enabled }
}

// WithWhatsApp enables the whatsmeow transport.
func WithWhatsApp(enabled bool) Option {
	return func(o *Opts) { o.WhatsAppEnabled = enabled }
}

// WithTwilio enables the Twilio transport. A non-empty webhookURL turns on
// signature validation for inbound webhooks.
func WithTwilio(enabled bool, webhookURL string) Option {
	return func(o *Opts) {
		o.TwilioEnabled = enabled
		o.TwilioWebhookURL = webhookURL
	}
}

// WithOTPHardening caps wrong OTP entries and sets an OTP lifetime. Zero
// values leave either limit off.
func WithOTPHardening(maxAttempts int, ttl time.Duration) Option {
	return func(o *Opts) {
		o.OTPMaxAttempts = maxAttempts
		o.OTPTTL = ttl
	}
}

// Run builds every module and serves until ctx is cancelled or a component fails.
func Run(ctx context.Context, storeOpts []store.Option, genaiOpts []genai.Option, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, StateDir: DefaultStateDir}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	var storeCfg store.Opts
	for _, opt := range storeOpts {
		opt(&storeCfg)
	}
	st, err := store.Open(storeCfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	renderer, err := document.NewHTMLRenderer(
		document.WithDir(filepath.Join(cfg.StateDir, DocumentsDirName)),
		document.WithBaseURL(cfg.PublicBaseURL),
	)
	if err != nil {
		return fmt.Errorf("failed to create document renderer: %w", err)
	}

	deps := flow.Dependencies{
		Directory: directory.NewInMemoryDirectory(),
		Bureau:    bureau.NewMockBureau(),
		Renderer:  renderer,
	}
	if cfg.GenAIEnabled {
		client, err := genai.NewClient(genaiOpts...)
		if err != nil {
			slog.Warn("api.Run: GenAI client unavailable, using keyword intents", "error", err)
		} else {
			deps.Intents = flow.NewGenAIIntentClassifier(client)
			slog.Info("api.Run: GenAI intent fallback enabled")
		}
	}
	flowOpts := []flow.Option{flow.WithOTPMaxAttempts(cfg.OTPMaxAttempts), flow.WithOTPTTL(cfg.OTPTTL)}
	newFlow := func() (*flow.ConversationFlow, error) {
		return flow.NewConversationFlow(deps, flowOpts...)
	}

	var sessionOpts []session.Option
	if cfg.SessionTimeout > 0 {
		sessionOpts = append(sessionOpts, session.WithTimeout(cfg.SessionTimeout))
	}
	sessions, err := session.NewManager(newFlow, st, sessionOpts...)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	var services []messaging.Service
	var twilioSvc *messaging.TwilioService
	if cfg.WhatsAppEnabled {
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		defer waClient.Disconnect()
		services = append(services, messaging.NewWhatsAppService(waClient))
	}
	if cfg.TwilioEnabled {
		twilioCfg := twiliowhatsapp.ResolveOpts(twilioOpts...)
		client, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		twilioSvc = messaging.NewTwilioService(client, messaging.WithSignatureValidation(twilioCfg.AuthToken, cfg.TwilioWebhookURL))
		services = append(services, twilioSvc)
		if cfg.TwilioWebhookURL == "" {
			slog.Warn("api.Run: Twilio webhook signature validation disabled, no webhook URL configured")
		}
	}

	server := NewServer(sessions, st, renderer, twilioSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	dedup, _ := st.(store.DedupRepo)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sessions.Start(gctx)
	})
	for _, svc := range services {
		if err := svc.Start(gctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		router := messaging.NewConversationRouter(svc, sessions, dedup)
		g.Go(func() error {
			return router.Start(gctx)
		})
	}
	g.Go(func() error {
		slog.Info("api.Run: LoanPipe API listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("api.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api.Run: HTTP shutdown incomplete", "error", err)
		}
		for _, svc := range services {
			svc.Stop()
		}
		return nil
	})
	return g.Wait()
}
