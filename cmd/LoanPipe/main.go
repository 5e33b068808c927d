package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/LoanPipe/internal/api"
	"github.com/BTreeMap/LoanPipe/internal/genai"
	"github.com/BTreeMap/LoanPipe/internal/lockfile"
	"github.com/BTreeMap/LoanPipe/internal/store"
	"github.com/BTreeMap/LoanPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LoanPipe/internal/util"
	"github.com/BTreeMap/LoanPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LoanPipe state data
	DefaultStateDir = api.DefaultStateDir
	// DefaultAppDBFileName is the SQLite file used when DATABASE_URL is unset
	DefaultAppDBFileName = "loanpipe.db"
	// DefaultWhatsAppDBFileName is the whatsmeow device store file
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger(slog.LevelInfo)

	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	initializeLogger(parseLogLevel(config.LogLevel, config.Debug))

	if err := ensureDirectoriesExist(config); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.Acquire(config.StateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, config)
	stop()
	if releaseErr := lock.Release(); releaseErr != nil {
		slog.Warn("Failed to release state directory lock", "error", releaseErr)
	}
	if err != nil {
		slog.Error("LoanPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LoanPipe exited successfully")
}

// run starts every configured component and blocks until ctx is cancelled.
func run(ctx context.Context, config Config) error {
	slog.Info("Bootstrapping LoanPipe",
		"stateDir", config.StateDir,
		"apiAddr", config.APIAddr,
		"whatsapp", config.WhatsAppEnabled,
		"twilio", config.TwilioEnabled,
		"genai", config.OpenAIKey != "")
	return api.Run(ctx,
		buildStoreOptions(config),
		buildGenAIOptions(config),
		buildWhatsAppOptions(config),
		buildTwilioOptions(config),
		buildAPIOptions(config))
}

// Config holds the resolved configuration from the environment and flags.
type Config struct {
	StateDir       string
	DatabaseURL    string
	APIAddr        string
	PublicBaseURL  string
	SessionTimeout time.Duration
	LogLevel       string
	Debug          bool

	OpenAIKey   string
	OpenAIModel string

	WhatsAppEnabled bool
	WhatsAppDBDSN   string
	QROutput        string
	NumericCode     bool

	TwilioEnabled    bool
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string

	OTPMaxAttempts int
	OTPTTL         time.Duration
}

// initializeLogger installs a text handler at the given level.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// parseLogLevel maps LOANPIPE_LOG_LEVEL to a slog level. -debug wins.
func parseLogLevel(level string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("LOANPIPE_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		PublicBaseURL:    os.Getenv("PUBLIC_BASE_URL"),
		SessionTimeout:   util.ParseDurationEnv("SESSION_TIMEOUT", 0),
		LogLevel:         os.Getenv("LOANPIPE_LOG_LEVEL"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		WhatsAppEnabled:  util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		OTPMaxAttempts:   util.ParseIntEnv("OTP_MAX_ATTEMPTS", 0),
		OTPTTL:           util.ParseDurationEnv("OTP_TTL", 0),
	}
	config.TwilioEnabled = config.TwilioAccountSID != ""

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LOANPIPE_STATE_DIR set, using default", "stateDir", config.StateDir)
	}
	applyStateDirDefaults(&config)

	slog.Debug("environment variables loaded",
		"LOANPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"WHATSAPP_ENABLED", config.WhatsAppEnabled,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"SESSION_TIMEOUT", config.SessionTimeout)

	return config
}

// applyStateDirDefaults fills unset database DSNs with files in the state directory.
func applyStateDirDefaults(config *Config) {
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// parseCommandLineFlags overrides config with command line arguments.
func parseCommandLineFlags(args []string, config Config) (Config, error) {
	envStateDir := config.StateDir
	envDefaults := config
	envDefaults.DatabaseURL, envDefaults.WhatsAppDBDSN = "", ""
	applyStateDirDefaults(&envDefaults)
	dbDefaulted := config.DatabaseURL == envDefaults.DatabaseURL
	waDefaulted := config.WhatsAppDBDSN == envDefaults.WhatsAppDBDSN

	fs := flag.NewFlagSet("LoanPipe", flag.ContinueOnError)
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for LoanPipe data (overrides $LOANPIPE_STATE_DIR)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "SQLite path or Postgres URL for session archives (overrides $DATABASE_URL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.PublicBaseURL, "public-base-url", config.PublicBaseURL, "public URL prefix for document links (overrides $PUBLIC_BASE_URL)")
	fs.DurationVar(&config.SessionTimeout, "session-timeout", config.SessionTimeout, "session inactivity timeout (overrides $SESSION_TIMEOUT)")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.OpenAIModel, "openai-model", config.OpenAIModel, "OpenAI model for intent classification (overrides $OPENAI_MODEL)")
	fs.BoolVar(&config.WhatsAppEnabled, "whatsapp", config.WhatsAppEnabled, "enable the WhatsApp transport (overrides $WHATSAPP_ENABLED)")
	fs.StringVar(&config.WhatsAppDBDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.QROutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", false, "use numeric login code instead of QR code")
	fs.BoolVar(&config.TwilioEnabled, "twilio", config.TwilioEnabled, "enable the Twilio transport (default on when $TWILIO_ACCOUNT_SID is set)")
	fs.StringVar(&config.TwilioWebhookURL, "twilio-webhook-url", config.TwilioWebhookURL, "public Twilio webhook URL for signature validation (overrides $TWILIO_WEBHOOK_URL)")
	fs.BoolVar(&config.Debug, "debug", false, "enable debug logging (overrides $LOANPIPE_LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return config, fmt.Errorf("failed to parse flags: %w", err)
	}

	// Defaults derived from the environment state dir follow a -state-dir override.
	if config.StateDir != envStateDir {
		if dbDefaulted && config.DatabaseURL == envDefaults.DatabaseURL {
			config.DatabaseURL = ""
		}
		if waDefaulted && config.WhatsAppDBDSN == envDefaults.WhatsAppDBDSN {
			config.WhatsAppDBDSN = ""
		}
		applyStateDirDefaults(&config)
		slog.Debug("Updated database DSNs based on state directory", "stateDir", config.StateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", config.StateDir,
		"dbDSNSet", config.DatabaseURL != "",
		"apiAddr", config.APIAddr,
		"whatsapp", config.WhatsAppEnabled,
		"twilio", config.TwilioEnabled,
		"debug", config.Debug)
	return config, nil
}

// ensureDirectoriesExist creates the state directory and the parent of a
// file-based database.
func ensureDirectoriesExist(config Config) error {
	dirs := []string{config.StateDir}
	if store.DetectDSNType(config.DatabaseURL) == store.DSNTypeSQLite {
		dirs = append(dirs, filepath.Dir(strings.TrimPrefix(config.DatabaseURL, "file:")))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(config Config) []store.Option {
	if config.DatabaseURL == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(config.DatabaseURL) == store.DSNTypePostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(config.DatabaseURL)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dbPath", config.DatabaseURL)
	return []store.Option{store.WithSQLiteDSN(config.DatabaseURL)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	var opts []genai.Option
	if config.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(config.OpenAIKey))
	}
	if config.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(config.OpenAIModel))
	}
	if config.Debug {
		opts = append(opts, genai.WithDebugMode(true, config.StateDir))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	var opts []whatsapp.Option
	if config.WhatsAppDBDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(config.WhatsAppDBDSN))
	}
	if config.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioFrom))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config) []api.Option {
	opts := []api.Option{
		api.WithStateDir(config.StateDir),
		api.WithGenAI(config.OpenAIKey != ""),
		api.WithWhatsApp(config.WhatsAppEnabled),
		api.WithTwilio(config.TwilioEnabled, config.TwilioWebhookURL),
		api.WithOTPHardening(config.OTPMaxAttempts, config.OTPTTL),
	}
	if config.APIAddr != "" {
		opts = append(opts, api.WithAddr(config.APIAddr))
	}
	if config.PublicBaseURL != "" {
		opts = append(opts, api.WithPublicBaseURL(config.PublicBaseURL))
	}
	if config.SessionTimeout > 0 {
		opts = append(opts, api.WithSessionTimeout(config.SessionTimeout))
	}
	return opts
}
