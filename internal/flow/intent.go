package flow

import (
	"context"

	"github.com/BTreeMap/LoanPipe/internal/extract"
)

// Intent is the coarse meaning of a message sent in the greeting state.
type Intent string

const (
	IntentDecline     Intent = "decline"
	IntentAffirmative Intent = "affirmative"
	IntentRates       Intent = "rates"
	IntentDocuments   Intent = "documents"
	IntentEligibility Intent = "eligibility"
	IntentLoanRequest Intent = "loan_request"
	IntentInformation Intent = "information"
)

// AllIntents lists every intent in classification order.
var AllIntents = []Intent{
	IntentDecline,
	IntentAffirmative,
	IntentRates,
	IntentDocuments,
	IntentEligibility,
	IntentLoanRequest,
	IntentInformation,
}

// IntentClassifier maps free text to an Intent. Implementations never fail;
// anything unrecognised is IntentInformation.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) Intent
}

// intentKeywords is checked in order; the first set with a match wins.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentDecline, []string{"not interested", "maybe later", "no"}},
	{IntentAffirmative, []string{"yes", "sure", "okay", "interested", "need a loan"}},
	{IntentRates, []string{"rate", "rates", "interest", "percentage", "%"}},
	{IntentDocuments, []string{"document", "documents", "papers", "paperwork", "requirements"}},
	{IntentEligibility, []string{"eligible", "eligibility", "qualify", "how much", "maximum", "limit"}},
	{IntentLoanRequest, []string{"loan", "loans", "money", "borrow", "credit"}},
}

// KeywordIntentClassifier classifies by word-boundary keyword matching.
type KeywordIntentClassifier struct{}

// Classify returns the first intent whose keyword set matches text.
func (KeywordIntentClassifier) Classify(_ context.Context, text string) Intent {
	for _, set := range intentKeywords {
		if extract.ContainsAny(text, set.keywords...) {
			return set.intent
		}
	}
	return IntentInformation
}

func validIntent(s string) (Intent, bool) {
	for _, in := range AllIntents {
		if string(in) == s {
			return in, true
		}
	}
	return "", false
}
