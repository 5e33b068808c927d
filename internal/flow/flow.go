// Package flow implements the loan conversation: the top-level orchestrator
// and the sales, verification, underwriting and document stages it routes to.
//
// Collaborators (customer directory, credit bureau, document renderer, intent
// classifier and salary extractor) are injected through Dependencies; the
// package never constructs them itself.
package flow

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/util"
)

// ErrSalaryProofNotRequested is returned when a salary slip arrives while no salary proof is pending.
var ErrSalaryProofNotRequested = errors.New("salary proof was not requested for this application")

// DefaultMockSalary is the monthly salary reported by FixedSalaryExtractor.
const DefaultMockSalary = 75000

// CustomerDirectory looks up and registers customers. A lookup miss returns (nil, nil).
type CustomerDirectory interface {
	LookupByPhone(ctx context.Context, phone string) (*models.Customer, error)
	Create(ctx context.Context, c models.Customer) (string, error)
}

// CreditBureau returns a credit report for a phone number.
type CreditBureau interface {
	Score(ctx context.Context, phone string) (models.BureauReport, error)
}

// DocumentRenderer turns sanction letter fields into a retrievable artifact.
type DocumentRenderer interface {
	Render(ctx context.Context, letter models.SanctionLetter) (models.DocumentHandle, error)
}

// SalaryExtractor reads a monthly salary from an uploaded salary slip.
type SalaryExtractor interface {
	ExtractSalary(ctx context.Context, filename string, r io.Reader) (int, error)
}

// FixedSalaryExtractor reports the same salary for every document.
type FixedSalaryExtractor struct {
	Salary int
}

// ExtractSalary returns the configured salary without parsing the document.
func (e FixedSalaryExtractor) ExtractSalary(ctx context.Context, filename string, r io.Reader) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return e.Salary, nil
}

// Dependencies holds the collaborators injected into a ConversationFlow.
type Dependencies struct {
	Directory CustomerDirectory
	Bureau    CreditBureau
	Renderer  DocumentRenderer
	Intents   IntentClassifier // defaults to KeywordIntentClassifier
	Salary    SalaryExtractor  // defaults to FixedSalaryExtractor{DefaultMockSalary}
}

// Opts holds configuration options for a ConversationFlow.
type Opts struct {
	OTPMaxAttempts int           // 0 means unlimited
	OTPTTL         time.Duration // 0 means no expiry
	Now            func() time.Time
	NewOTP         func() string
	LenderName     string
}

// Option defines a configuration option for a ConversationFlow.
type Option func(*Opts)

// WithOTPMaxAttempts issues a fresh OTP after n wrong entries.
func WithOTPMaxAttempts(n int) Option {
	return func(o *Opts) { o.OTPMaxAttempts = n }
}

// WithOTPTTL issues a fresh OTP when the current one is older than ttl.
func WithOTPTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.OTPTTL = ttl }
}

// WithClock overrides the time source used for OTP expiry and sanction dates.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithOTPGenerator overrides the OTP source.
func WithOTPGenerator(fn func() string) Option {
	return func(o *Opts) { o.NewOTP = fn }
}

// WithLenderName sets the lender named in replies.
func WithLenderName(name string) Option {
	return func(o *Opts) { o.LenderName = name }
}

func defaultOpts() Opts {
	return Opts{
		Now:        time.Now,
		NewOTP:     util.GenerateOTP,
		LenderName: "LoanPipe Finance",
	}
}
