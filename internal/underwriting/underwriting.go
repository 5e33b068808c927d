// Package underwriting holds the loan decision table and the EMI formula.
//
// Evaluate and EvaluateWithSalary are pure functions: identical inputs always
// produce identical decisions.
package underwriting

import "math"

// Annual nominal rates. Quotes during the conversation use QuoteAnnualRate;
// the sanction letter states the final offer at SanctionAnnualRate.
const (
	QuoteAnnualRate    = 0.15
	SanctionAnnualRate = 0.1299
)

// Decision thresholds.
const (
	MinCreditScore      = 700
	SalaryProofMultiple = 2
	MaxEMIToIncomeRatio = 0.50
)

// Outcome is the kind of underwriting decision.
type Outcome string

const (
	Approved         Outcome = "approved"
	Rejected         Outcome = "rejected"
	NeedsSalaryProof Outcome = "needs_salary_proof"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonCreditScoreLow Reason = "credit_score_low"
	ReasonAmountTooHigh  Reason = "amount_too_high"
	ReasonHighEMIRatio   Reason = "high_emi_ratio"
)

// Decision is the result of an underwriting pass. Reason is set only for Rejected.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  Reason  `json:"reason,omitempty"`
}

// Application is the input to the first underwriting pass.
type Application struct {
	CreditScore      int
	RequestedAmount  int
	PreapprovedLimit int
}

// Evaluate applies the decision table in order; the first matching rule wins.
func Evaluate(app Application) Decision {
	switch {
	case app.CreditScore < MinCreditScore:
		return Decision{Outcome: Rejected, Reason: ReasonCreditScoreLow}
	case app.RequestedAmount <= app.PreapprovedLimit:
		return Decision{Outcome: Approved}
	case app.RequestedAmount <= SalaryProofMultiple*app.PreapprovedLimit:
		return Decision{Outcome: NeedsSalaryProof}
	default:
		return Decision{Outcome: Rejected, Reason: ReasonAmountTooHigh}
	}
}

// EvaluateWithSalary is the second pass run after salary proof is provided.
// The EMI at the quote rate may take at most half of the monthly salary.
func EvaluateWithSalary(amount, tenureMonths, monthlySalary int) Decision {
	if monthlySalary <= 0 {
		return Decision{Outcome: Rejected, Reason: ReasonHighEMIRatio}
	}
	if EMIRatio(amount, tenureMonths, monthlySalary) > MaxEMIToIncomeRatio {
		return Decision{Outcome: Rejected, Reason: ReasonHighEMIRatio}
	}
	return Decision{Outcome: Approved}
}

// EMIRatio returns the quote-rate EMI as a fraction of monthly salary.
func EMIRatio(amount, tenureMonths, monthlySalary int) float64 {
	if monthlySalary <= 0 {
		return math.Inf(1)
	}
	return float64(EMI(amount, tenureMonths, QuoteAnnualRate)) / float64(monthlySalary)
}

// EMI returns the equated monthly instalment truncated to whole rupees:
//
//	P * r * (1+r)^n / ((1+r)^n - 1), r = annualRate/12
//
// A zero principal or tenure yields 0.
func EMI(principal, months int, annualRate float64) int {
	if principal <= 0 || months <= 0 {
		return 0
	}
	r := annualRate / 12
	if r == 0 {
		return principal / months
	}
	p := float64(principal)
	growth := math.Pow(1+r, float64(months))
	return int(p * r * growth / (growth - 1))
}
