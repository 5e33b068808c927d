package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/underwriting"
	"github.com/google/uuid"
)

const (
	letterDateLayout = "January 02, 2006"
	firstEMIDay      = 5
)

var sanctionTerms = []string{
	"This sanction letter is valid for 30 days from the date of issue.",
	"Loan disbursal is subject to completion of documentation and verification.",
	"Interest will be charged from the date of disbursal at the rate mentioned above.",
	"EMI will commence from the month following disbursal as per the schedule.",
	"Prepayment: Allowed after 6 months with 2% + GST charges on outstanding principal.",
	"Late Payment: Penal charges of 2% per month will be levied on overdue amounts.",
	"The loan is secured by post-dated cheques/ECS mandate for EMI payments.",
	"Any change in personal/employment details must be intimated immediately.",
	"This loan is governed by the terms of the loan agreement to be executed.",
	"For any queries, please contact our customer care at 1800-209-8800.",
}

// DocumentModule builds the sanction letter for an approved application.
type DocumentModule struct {
	renderer DocumentRenderer
	now      func() time.Time
}

// NewDocumentModule creates a document module writing through renderer.
func NewDocumentModule(renderer DocumentRenderer, now func() time.Time) *DocumentModule {
	return &DocumentModule{renderer: renderer, now: now}
}

// Generate renders the sanction letter and records the approval id and
// document handle on the applicant.
func (m *DocumentModule) Generate(ctx context.Context, app *models.Applicant) (models.StageResult, error) {
	letter := BuildSanctionLetter(app, m.now(), uuid.NewString())

	handle, err := m.renderer.Render(ctx, letter)
	if err != nil {
		slog.Error("DocumentModule.Generate: render failed", "approvalID", letter.ApprovalID, "error", err)
		return models.StageResult{}, fmt.Errorf("failed to render sanction letter: %w", err)
	}
	app.ApprovalID = letter.ApprovalID
	app.Document = &handle

	slog.Info("DocumentModule.Generate: sanction letter ready", "approvalID", letter.ApprovalID, "documentID", handle.ID)
	return models.StageResult{
		Text: sanctionText(app, letter, handle.URL),
		Metadata: map[string]any{
			"sanction_letter_generated": true,
			"approval_id":               letter.ApprovalID,
			"document_id":               handle.ID,
			"filename":                  handle.Filename,
			"download_url":              handle.URL,
		},
	}, nil
}

// BuildSanctionLetter fills the letter fields from the applicant. The approval
// id suffix is the first six characters of idSeed, upper-cased.
func BuildSanctionLetter(app *models.Applicant, now time.Time, idSeed string) models.SanctionLetter {
	suffix := strings.ToUpper(strings.ReplaceAll(idSeed, "-", ""))
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	name := app.Name
	if name == "" {
		name = defaultCustomerName
	}
	city := app.City
	if city == "" {
		city = defaultCustomerCity
	}

	return models.SanctionLetter{
		ApprovalID:       "TC" + now.Format("20060102") + suffix,
		IssuedAt:         now,
		ApprovalDate:     now.Format(letterDateLayout),
		DisbursalDate:    now.AddDate(0, 0, 1).Format(letterDateLayout),
		FirstEMIDate:     FirstEMIDate(now).Format(letterDateLayout),
		ApplicantName:    name,
		CustomerID:       app.CustomerID,
		City:             city,
		Phone:            app.Phone,
		LoanAmount:       app.LoanAmount,
		TenureMonths:     app.TenureMonths,
		Purpose:          app.Purpose,
		EMI:              underwriting.EMI(app.LoanAmount, app.TenureMonths, underwriting.SanctionAnnualRate),
		InterestRate:     sanctionRateLabel,
		ProcessingFee:    ProcessingFee,
		GSTPercent:       ProcessingFeeGST,
		TotalFee:         ProcessingFee + ProcessingFee*ProcessingFeeGST/100,
		CreditScore:      app.CreditScore,
		PreapprovedLimit: app.PreapprovedLimit,
		Terms:            append([]string(nil), sanctionTerms...),
	}
}

// FirstEMIDate is the 5th of the month after t. December rolls into January.
func FirstEMIDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, firstEMIDay, 0, 0, 0, 0, t.Location())
}
