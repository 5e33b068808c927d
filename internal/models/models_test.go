package models

import (
	"errors"
	"strings"
	"testing"
)

func TestChatMessageValidate(t *testing.T) {
	m := ChatMessage{}
	if err := m.Validate(); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	m.Content = strings.Repeat("a", MaxMessageLength+1)
	if err := m.Validate(); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
	m.Content = "5 lakhs"
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplicantReadyForUnderwriting(t *testing.T) {
	a := Applicant{Phone: "9876543210", LoanAmount: 500000}
	err := a.ReadyForUnderwriting()
	if !errors.Is(err, ErrIncompleteApplication) {
		t.Fatalf("expected ErrIncompleteApplication, got %v", err)
	}
	if !strings.Contains(err.Error(), "tenure_months") || !strings.Contains(err.Error(), "preapproved_limit") {
		t.Errorf("error should name missing fields, got %q", err.Error())
	}

	a.TenureMonths = 24
	a.PreapprovedLimit = 500000
	if err := a.ReadyForUnderwriting(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplicantApplyCustomerKeepsSelfReportedNameWhenRecordHasNone(t *testing.T) {
	a := Applicant{Name: "Rahul"}
	a.ApplyCustomer(Customer{CustomerID: "TC1001", CreditScore: 780, ExistingLoans: []string{"Car Loan"}})
	if a.Name != "Rahul" {
		t.Errorf("expected name to stay Rahul, got %q", a.Name)
	}
	if a.CustomerID != "TC1001" || a.CreditScore != 780 {
		t.Errorf("customer fields not merged: %+v", a)
	}

	a.ApplyCustomer(Customer{Name: "Rahul Sharma"})
	if a.Name != "Rahul Sharma" {
		t.Errorf("expected directory name to win, got %q", a.Name)
	}
}

func TestErrorResponse(t *testing.T) {
	resp := Error("boom")
	if resp.Status != string(APIStatusError) || resp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", resp)
	}
	ok := SuccessWithMessage("done", map[string]int{"n": 1})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success response: %+v", ok)
	}
}
