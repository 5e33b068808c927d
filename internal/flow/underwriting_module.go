package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/underwriting"
)

// UnderwritingModule pulls the bureau report and applies the decision table.
// It remembers the last decision so the orchestrator can resume after errors.
type UnderwritingModule struct {
	bureau   CreditBureau
	decision *underwriting.Decision
}

// NewUnderwritingModule creates an underwriting module backed by bureau.
func NewUnderwritingModule(bureau CreditBureau) *UnderwritingModule {
	return &UnderwritingModule{bureau: bureau}
}

// Decision returns the recorded decision, if any.
func (m *UnderwritingModule) Decision() (underwriting.Decision, bool) {
	if m.decision == nil {
		return underwriting.Decision{}, false
	}
	return *m.decision, true
}

// Reset forgets the recorded decision.
func (m *UnderwritingModule) Reset() {
	m.decision = nil
}

// Evaluate runs the first underwriting pass. The directory credit score is
// used when present, otherwise the bureau score.
func (m *UnderwritingModule) Evaluate(ctx context.Context, app *models.Applicant) (underwriting.Decision, error) {
	if err := app.ReadyForUnderwriting(); err != nil {
		return underwriting.Decision{}, err
	}

	report, err := m.bureau.Score(ctx, app.Phone)
	if err != nil {
		slog.Error("UnderwritingModule.Evaluate: bureau lookup failed", "error", err)
		return underwriting.Decision{}, fmt.Errorf("credit bureau lookup failed: %w", err)
	}
	app.Bureau = &report

	score := app.CreditScore
	if score == 0 {
		score = report.CreditScore
		app.CreditScore = score
	}

	d := underwriting.Evaluate(underwriting.Application{
		CreditScore:      score,
		RequestedAmount:  app.LoanAmount,
		PreapprovedLimit: app.PreapprovedLimit,
	})
	m.decision = &d
	slog.Info("UnderwritingModule.Evaluate: decision made", "outcome", d.Outcome, "reason", d.Reason,
		"creditScore", score, "bureauScore", report.CreditScore, "riskBand", report.RiskBand)
	return d, nil
}

// EvaluateSalary runs the second pass once a salary is known. It is only valid
// while salary proof is pending.
func (m *UnderwritingModule) EvaluateSalary(app *models.Applicant) (underwriting.Decision, error) {
	if m.decision == nil || m.decision.Outcome != underwriting.NeedsSalaryProof {
		return underwriting.Decision{}, ErrSalaryProofNotRequested
	}
	d := underwriting.EvaluateWithSalary(app.LoanAmount, app.TenureMonths, app.Salary)
	m.decision = &d
	slog.Info("UnderwritingModule.EvaluateSalary: decision made", "outcome", d.Outcome, "reason", d.Reason, "salary", app.Salary)
	return d, nil
}

// AwaitingSalaryProof reports whether a salary slip upload is expected.
func (m *UnderwritingModule) AwaitingSalaryProof() bool {
	return m.decision != nil && m.decision.Outcome == underwriting.NeedsSalaryProof
}

func bureauMetadata(app *models.Applicant) map[string]any {
	if app.Bureau == nil {
		return nil
	}
	return map[string]any{
		"credit_score":           app.CreditScore,
		"bureau_score":           app.Bureau.CreditScore,
		"risk_band":              app.Bureau.RiskBand,
		"recommended_rate_range": app.Bureau.RecommendedRateRange,
	}
}
