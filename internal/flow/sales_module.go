package flow

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/LoanPipe/internal/extract"
	"github.com/BTreeMap/LoanPipe/internal/models"
)

// salesStep is the sub-state of the sales intake. Steps only move forward.
type salesStep int

const (
	salesStepAmount salesStep = iota
	salesStepTenure
	salesStepPurpose
	salesStepPhone
	salesStepComplete
)

func (s salesStep) String() string {
	switch s {
	case salesStepAmount:
		return "amount"
	case salesStepTenure:
		return "tenure"
	case salesStepPurpose:
		return "purpose"
	case salesStepPhone:
		return "phone"
	case salesStepComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// SalesModule collects the loan amount, tenure, purpose and phone number, one per turn.
type SalesModule struct {
	step   salesStep
	intake models.SalesIntake
}

// NewSalesModule creates a sales module waiting for Start.
func NewSalesModule() *SalesModule {
	return &SalesModule{}
}

// Step returns the name of the field the module is waiting for.
func (m *SalesModule) Step() string {
	return m.step.String()
}

// Start resets the intake and asks for the loan amount.
func (m *SalesModule) Start() models.StageResult {
	m.step = salesStepAmount
	m.intake = models.SalesIntake{}
	slog.Debug("SalesModule.Start: intake started")
	return models.StageResult{
		Text:         salesStartText(),
		QuickReplies: amountQuickReplies,
		Metadata:     stepMetadata(salesStepAmount.String()),
	}
}

// Process consumes one user message. Invalid input re-prompts for the same
// field; the final field returns SignalVerification with the completed intake.
func (m *SalesModule) Process(text string) models.StageResult {
	switch m.step {
	case salesStepAmount:
		amount, ok := extract.Amount(text)
		if !ok {
			slog.Debug("SalesModule.Process: amount not recognised", "text", text)
			return models.StageResult{
				Text:         amountClarificationText(),
				QuickReplies: amountQuickReplies,
				Metadata:     clarificationMetadata(salesStepAmount.String()),
			}
		}
		m.intake.LoanAmount = amount
		m.step = salesStepTenure
		res := m.prompt(tenureText(amount))
		res.Metadata["amount"] = amount
		return res

	case salesStepTenure:
		months, ok := extract.Tenure(text)
		if !ok {
			slog.Debug("SalesModule.Process: tenure not recognised", "text", text)
			return models.StageResult{Text: tenureClarificationText(), Metadata: clarificationMetadata(salesStepTenure.String())}
		}
		m.intake.TenureMonths = months
		m.step = salesStepPurpose
		return m.prompt(purposeText())

	case salesStepPurpose:
		purpose := strings.TrimSpace(text)
		if purpose == "" {
			return m.prompt(purposeText())
		}
		m.intake.Purpose = purpose
		m.step = salesStepPhone
		return m.prompt(phoneText())

	case salesStepPhone:
		phone, ok := extract.Phone(text)
		if !ok {
			slog.Debug("SalesModule.Process: phone not recognised")
			return models.StageResult{Text: phoneClarificationText(), Metadata: clarificationMetadata(salesStepPhone.String())}
		}
		m.intake.Phone = phone
		m.step = salesStepComplete
		slog.Info("SalesModule.Process: intake complete", "amount", m.intake.LoanAmount, "tenureMonths", m.intake.TenureMonths)
		return m.complete()

	case salesStepComplete:
		return m.complete()

	default:
		slog.Error("SalesModule.Process: unknown step", "step", int(m.step))
		return m.Start()
	}
}

func (m *SalesModule) prompt(text string) models.StageResult {
	return models.StageResult{Text: text, Metadata: stepMetadata(m.step.String())}
}

func (m *SalesModule) complete() models.StageResult {
	intake := m.intake
	return models.StageResult{
		Text:     salesSummaryText(intake),
		Metadata: map[string]any{"step": salesStepComplete.String(), "sales_complete": true},
		Signal:   models.SignalVerification,
		Intake:   &intake,
	}
}

func stepMetadata(step string) map[string]any {
	return map[string]any{"step": step}
}

func clarificationMetadata(step string) map[string]any {
	return map[string]any{"step": step, "clarification": step}
}
