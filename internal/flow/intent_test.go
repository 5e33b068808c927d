package flow

import (
	"context"
	"testing"
)

func TestKeywordIntentClassifier(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"not interested", IntentDecline},
		{"maybe later", IntentDecline},
		{"no thanks", IntentDecline},
		{"I know what I want", IntentInformation},
		{"Yes, I need a loan", IntentAffirmative},
		{"sure", IntentAffirmative},
		{"I'm interested", IntentAffirmative},
		{"what is the interest rate", IntentRates},
		{"is it 12%?", IntentRates},
		{"what documents do you need", IntentDocuments},
		{"any paperwork?", IntentDocuments},
		{"am I eligible", IntentEligibility},
		{"how much can I get", IntentEligibility},
		{"I want to borrow money", IntentLoanRequest},
		{"tell me something", IntentInformation},
	}
	c := KeywordIntentClassifier{}
	for _, tt := range tests {
		if got := c.Classify(context.Background(), tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestGenAIIntentClassifier(t *testing.T) {
	ctx := context.Background()

	gen := &stubPromptGenerator{reply: " Eligibility.\n"}
	c := NewGenAIIntentClassifier(gen)
	if got := c.Classify(ctx, "yes"); got != IntentAffirmative || gen.calls != 0 {
		t.Errorf("keyword match should skip the model, got %s calls=%d", got, gen.calls)
	}
	if got := c.Classify(ctx, "what would I qualify for"); got != IntentEligibility {
		t.Errorf("expected eligibility from keywords, got %s", got)
	}
	if got := c.Classify(ctx, "tell me something"); got != IntentEligibility || gen.calls != 1 {
		t.Errorf("expected model label eligibility, got %s calls=%d", got, gen.calls)
	}

	gen.reply = "banana"
	if got := c.Classify(ctx, "tell me something"); got != IntentInformation {
		t.Errorf("unknown label should fall back to information, got %s", got)
	}

	gen.err = errCollaboratorDown
	if got := c.Classify(ctx, "tell me something"); got != IntentInformation {
		t.Errorf("model error should fall back to information, got %s", got)
	}

	if got := NewGenAIIntentClassifier(nil).Classify(ctx, "tell me something"); got != IntentInformation {
		t.Errorf("nil client should use keywords only, got %s", got)
	}
}
