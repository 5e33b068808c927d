package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/extract"
	"github.com/BTreeMap/LoanPipe/internal/models"
)

// Defaults applied to customers missing from the directory.
const (
	defaultCustomerName     = "Valued Customer"
	defaultCustomerCity     = "Your City"
	defaultCustomerAge      = 30
	defaultCreditScore      = 720
	defaultPreapprovedLimit = 300000
)

var (
	kycAffirmativeKeywords = []string{"yes", "correct", "right", "looks good", "good"}
	kycNegativeKeywords    = []string{"no", "update", "wrong", "incorrect"}
)

// verificationStep is the sub-state of identity verification.
type verificationStep int

const (
	verificationStepOTP verificationStep = iota
	verificationStepChangeNumber
	verificationStepKYC
	verificationStepDetails
	verificationStepComplete
)

func (s verificationStep) String() string {
	switch s {
	case verificationStepOTP:
		return "phone_otp"
	case verificationStepChangeNumber:
		return "change_number"
	case verificationStepKYC:
		return "kyc_confirmation"
	case verificationStepDetails:
		return "collecting_details"
	case verificationStepComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// VerificationModule runs the OTP check and the KYC lookup.
type VerificationModule struct {
	directory CustomerDirectory
	opts      *Opts

	step          verificationStep
	attempts      int
	issuedAt      time.Time
	customerFound bool
}

// NewVerificationModule creates a verification module backed by directory.
func NewVerificationModule(directory CustomerDirectory, opts *Opts) *VerificationModule {
	return &VerificationModule{directory: directory, opts: opts}
}

// Step returns the name of the current sub-state.
func (m *VerificationModule) Step() string {
	return m.step.String()
}

// Start issues an OTP for the applicant's phone.
func (m *VerificationModule) Start(app *models.Applicant) models.StageResult {
	m.step = verificationStepOTP
	m.customerFound = false
	m.issueOTP(app)
	slog.Info("VerificationModule.Start: OTP issued", "phone", maskPhone(app.Phone))
	return m.otpResult(otpText(app.Phone, app.GeneratedOTP), app)
}

// Process consumes one user message. Directory failures are returned as errors
// and leave the sub-state unchanged.
func (m *VerificationModule) Process(ctx context.Context, text string, app *models.Applicant) (models.StageResult, error) {
	switch m.step {
	case verificationStepOTP:
		return m.processOTP(ctx, text, app)
	case verificationStepChangeNumber:
		phone, ok := extract.Phone(text)
		if !ok {
			return models.StageResult{Text: phoneClarificationText(), QuickReplies: phoneQuickReplies, Metadata: stepMetadata(m.step.String())}, nil
		}
		return m.changeNumber(phone, app), nil
	case verificationStepKYC:
		return m.processKYC(text), nil
	case verificationStepDetails:
		return m.processDetails(ctx, text, app), nil
	case verificationStepComplete:
		return m.completed(verificationCompleteText()), nil
	default:
		return models.StageResult{}, fmt.Errorf("verification in unknown step %d", int(m.step))
	}
}

func (m *VerificationModule) processOTP(ctx context.Context, text string, app *models.Applicant) (models.StageResult, error) {
	if m.opts.OTPTTL > 0 && m.opts.Now().Sub(m.issuedAt) > m.opts.OTPTTL {
		m.issueOTP(app)
		slog.Info("VerificationModule.Process: OTP expired, issued a new one")
		return m.otpResult(otpReissuedText("That OTP has expired, so I've sent a new one.", app.Phone, app.GeneratedOTP), app), nil
	}

	if extract.MatchOTP(text, app.GeneratedOTP) {
		slog.Info("VerificationModule.Process: OTP verified")
		return m.fetchKYC(ctx, app)
	}

	if extract.ContainsAny(text, "resend") {
		m.issueOTP(app)
		return m.otpResult(otpReissuedText("Done, here's a fresh OTP.", app.Phone, app.GeneratedOTP), app), nil
	}
	if phone, ok := extract.Phone(text); ok {
		return m.changeNumber(phone, app), nil
	}
	if extract.ContainsAny(text, "change number", "change my number", "change phone", "different number") {
		m.step = verificationStepChangeNumber
		return models.StageResult{Text: changeNumberText(), QuickReplies: phoneQuickReplies, Metadata: stepMetadata(m.step.String())}, nil
	}

	m.attempts++
	if m.opts.OTPMaxAttempts > 0 && m.attempts >= m.opts.OTPMaxAttempts {
		m.issueOTP(app)
		slog.Warn("VerificationModule.Process: OTP attempts exhausted, issued a new one", "maxAttempts", m.opts.OTPMaxAttempts)
		return m.otpResult(otpReissuedText("Too many incorrect attempts, so I've sent a new OTP.", app.Phone, app.GeneratedOTP), app), nil
	}
	slog.Debug("VerificationModule.Process: OTP mismatch", "attempts", m.attempts)
	res := m.otpResult(otpInvalidText(), app)
	res.Metadata["error"] = "invalid_otp"
	return res, nil
}

func (m *VerificationModule) fetchKYC(ctx context.Context, app *models.Applicant) (models.StageResult, error) {
	customer, err := m.directory.LookupByPhone(ctx, app.Phone)
	if err != nil {
		slog.Error("VerificationModule.fetchKYC: directory lookup failed", "error", err)
		return models.StageResult{}, fmt.Errorf("customer lookup failed: %w", err)
	}

	if customer == nil {
		m.step = verificationStepDetails
		m.customerFound = false
		slog.Info("VerificationModule.fetchKYC: new customer", "phone", maskPhone(app.Phone))
		return models.StageResult{
			Text:     kycNotFoundText(),
			Metadata: map[string]any{"step": m.step.String(), "customer_found": false},
		}, nil
	}

	app.ApplyCustomer(*customer)
	m.step = verificationStepKYC
	m.customerFound = true
	slog.Info("VerificationModule.fetchKYC: customer found", "customerID", customer.CustomerID)
	return models.StageResult{
		Text:     kycFoundText(*customer),
		Metadata: map[string]any{"step": m.step.String(), "customer_found": true},
	}, nil
}

func (m *VerificationModule) processKYC(text string) models.StageResult {
	affirmative := extract.ContainsAny(text, kycAffirmativeKeywords...)
	negative := extract.ContainsAny(text, kycNegativeKeywords...)
	if negative && !affirmative {
		m.step = verificationStepDetails
		slog.Info("VerificationModule.processKYC: applicant asked to update details")
		return models.StageResult{
			Text:     kycMismatchText(),
			Metadata: map[string]any{"step": m.step.String(), "kyc_mismatch": true},
		}
	}
	return m.completed(verificationCompleteText())
}

// processDetails accepts whatever the applicant sends. Known customers only
// have their name refreshed; new customers get default figures and are
// registered in the directory on a best-effort basis.
func (m *VerificationModule) processDetails(ctx context.Context, text string, app *models.Applicant) models.StageResult {
	if m.customerFound {
		if name, ok := extract.Name(text); ok {
			app.Name = name
		}
		return m.completed(detailsUpdatedText())
	}

	if app.Name == "" {
		if name, ok := extract.Name(text); ok {
			app.Name = name
		} else {
			app.Name = defaultCustomerName
		}
	}
	customer := models.Customer{
		CustomerID:       "TC" + lastDigits(app.Phone, 4),
		Name:             app.Name,
		Phone:            app.Phone,
		Age:              defaultCustomerAge,
		City:             defaultCustomerCity,
		CreditScore:      defaultCreditScore,
		PreapprovedLimit: defaultPreapprovedLimit,
	}
	app.ApplyCustomer(customer)

	if id, err := m.directory.Create(ctx, customer); err != nil {
		slog.Warn("VerificationModule.processDetails: failed to register customer", "customerID", customer.CustomerID, "error", err)
	} else {
		app.CustomerID = id
		slog.Info("VerificationModule.processDetails: customer registered", "customerID", id)
	}
	return m.completed(detailsUpdatedText())
}

func (m *VerificationModule) changeNumber(phone string, app *models.Applicant) models.StageResult {
	app.Phone = phone
	m.step = verificationStepOTP
	m.issueOTP(app)
	slog.Info("VerificationModule.changeNumber: phone replaced", "phone", maskPhone(phone))
	return m.otpResult(otpReissuedText("Number updated.", app.Phone, app.GeneratedOTP), app)
}

func (m *VerificationModule) completed(text string) models.StageResult {
	m.step = verificationStepComplete
	return models.StageResult{
		Text:     text,
		Metadata: map[string]any{"step": m.step.String(), "verification_complete": true},
		Signal:   models.SignalUnderwriting,
	}
}

func (m *VerificationModule) issueOTP(app *models.Applicant) {
	app.GeneratedOTP = m.opts.NewOTP()
	m.issuedAt = m.opts.Now()
	m.attempts = 0
}

func (m *VerificationModule) otpResult(text string, app *models.Applicant) models.StageResult {
	return models.StageResult{
		Text:     text,
		Metadata: map[string]any{"step": verificationStepOTP.String(), "otp": app.GeneratedOTP},
	}
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return "******" + lastDigits(phone, 4)
}
