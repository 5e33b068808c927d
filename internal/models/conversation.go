package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrIncompleteApplication is returned when a phase transition needs fields that were never collected.
var ErrIncompleteApplication = errors.New("application is missing required fields")

// StageResult is the structured reply every stage returns.
type StageResult struct {
	Text         string         `json:"content"`
	QuickReplies []string       `json:"suggestions,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	State        StateType      `json:"state,omitempty"` // top-level state after processing, set by the orchestrator

	Signal RoutingSignal `json:"-"`
	Intake *SalesIntake  `json:"-"` // set with SignalVerification
}

// HasQuickReplies reports whether the stage already supplied its own suggestions.
func (r StageResult) HasQuickReplies() bool {
	return len(r.QuickReplies) > 0
}

// SalesIntake is the record collected by the sales stage, one field per turn.
type SalesIntake struct {
	LoanAmount   int    `json:"loan_amount"`
	TenureMonths int    `json:"tenure_months"`
	Purpose      string `json:"purpose"`
	Phone        string `json:"phone"`
}

// Customer is a record held by the customer directory.
type Customer struct {
	CustomerID       string   `json:"customer_id"`
	Name             string   `json:"name"`
	Phone            string   `json:"phone"`
	Age              int      `json:"age"`
	City             string   `json:"city"`
	CreditScore      int      `json:"credit_score"`
	PreapprovedLimit int      `json:"preapproved_limit"`
	Salary           int      `json:"salary"`
	ExistingLoans    []string `json:"existing_loans,omitempty"`
}

// BureauReport is returned by the credit bureau for a phone number.
type BureauReport struct {
	CreditScore          int    `json:"credit_score"`
	RiskBand             string `json:"risk_band"`
	RecommendedRateRange string `json:"recommended_rate_range"`
}

// DocumentHandle identifies a rendered sanction letter.
type DocumentHandle struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Applicant is the typed conversation context. Fields fill in as the conversation advances.
type Applicant struct {
	// Greeting and sales
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	LoanAmount   int    `json:"loan_amount,omitempty"`
	TenureMonths int    `json:"tenure_months,omitempty"`
	Purpose      string `json:"purpose,omitempty"`

	// Verification
	CustomerID       string   `json:"customer_id,omitempty"`
	City             string   `json:"city,omitempty"`
	Age              int      `json:"age,omitempty"`
	CreditScore      int      `json:"credit_score,omitempty"`
	PreapprovedLimit int      `json:"preapproved_limit,omitempty"`
	Salary           int      `json:"salary,omitempty"`
	ExistingLoans    []string `json:"existing_loans,omitempty"`
	GeneratedOTP     string   `json:"-"`

	// Underwriting and sanction
	Bureau     *BureauReport   `json:"bureau,omitempty"`
	ApprovalID string          `json:"approval_id,omitempty"`
	Document   *DocumentHandle `json:"document,omitempty"`
}

// ApplyIntake merges a completed sales intake.
func (a *Applicant) ApplyIntake(in SalesIntake) {
	a.LoanAmount = in.LoanAmount
	a.TenureMonths = in.TenureMonths
	a.Purpose = in.Purpose
	a.Phone = in.Phone
}

// ApplyCustomer merges a directory record. The directory name replaces a self-reported one.
func (a *Applicant) ApplyCustomer(c Customer) {
	if c.Name != "" {
		a.Name = c.Name
	}
	a.CustomerID = c.CustomerID
	a.City = c.City
	a.Age = c.Age
	a.CreditScore = c.CreditScore
	a.PreapprovedLimit = c.PreapprovedLimit
	a.Salary = c.Salary
	a.ExistingLoans = append([]string(nil), c.ExistingLoans...)
}

// ReadyForUnderwriting checks the fields the underwriting phase reads.
func (a *Applicant) ReadyForUnderwriting() error {
	var missing []string
	if a.Phone == "" {
		missing = append(missing, "phone")
	}
	if a.LoanAmount <= 0 {
		missing = append(missing, "loan_amount")
	}
	if a.TenureMonths <= 0 {
		missing = append(missing, "tenure_months")
	}
	if a.PreapprovedLimit <= 0 {
		missing = append(missing, "preapproved_limit")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrIncompleteApplication, strings.Join(missing, ", "))
	}
	return nil
}

// SanctionLetter holds the field values of a rendered approval document.
type SanctionLetter struct {
	ApprovalID       string    `json:"approval_id"`
	IssuedAt         time.Time `json:"issued_at"`
	ApprovalDate     string    `json:"approval_date"`
	DisbursalDate    string    `json:"disbursal_date"`
	FirstEMIDate     string    `json:"first_emi_date"`
	ApplicantName    string    `json:"applicant_name"`
	CustomerID       string    `json:"customer_id"`
	City             string    `json:"city"`
	Phone            string    `json:"phone"`
	LoanAmount       int       `json:"loan_amount"`
	TenureMonths     int       `json:"tenure_months"`
	Purpose          string    `json:"purpose"`
	EMI              int       `json:"emi"`
	InterestRate     string    `json:"interest_rate"`
	ProcessingFee    int       `json:"processing_fee"`
	GSTPercent       int       `json:"gst_percent"`
	TotalFee         int       `json:"total_fee"`
	CreditScore      int       `json:"credit_score"`
	PreapprovedLimit int       `json:"preapproved_limit"`
	Terms            []string  `json:"terms"`
}

// HistoryEntry is one message in a session transcript.
type HistoryEntry struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStats summarises a live session.
type SessionStats struct {
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	State         StateType `json:"state"`
	MessageCount  int       `json:"message_count"`
	ApplicantName string    `json:"applicant_name,omitempty"`
}

// SessionArchive is the summary written when a session ends.
type SessionArchive struct {
	SessionID    string         `json:"session_id"`
	CreatedAt    time.Time      `json:"created_at"`
	EndedAt      time.Time      `json:"ended_at"`
	Reason       EndReason      `json:"reason"`
	FinalState   StateType      `json:"final_state"`
	MessageCount int            `json:"message_count"`
	Applicant    Applicant      `json:"applicant"`
	History      []HistoryEntry `json:"history"`
}
