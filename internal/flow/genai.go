package flow

import (
	"context"
	"log/slog"
	"strings"
)

// PromptGenerator is the subset of the genai client used by the flow.
type PromptGenerator interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const intentSystemPrompt = `You classify messages sent to a personal loan assistant.
Reply with exactly one label and nothing else:
decline - the user is declining or not interested
affirmative - the user agrees or wants to proceed
rates - the user asks about interest rates
documents - the user asks about required documents
eligibility - the user asks whether or how much they qualify for
loan_request - the user asks for a loan or money
information - anything else`

// GenAIIntentClassifier falls back to a hosted model when keyword matching
// only yields IntentInformation.
type GenAIIntentClassifier struct {
	Keywords KeywordIntentClassifier
	Client   PromptGenerator
}

// NewGenAIIntentClassifier creates a classifier backed by client.
func NewGenAIIntentClassifier(client PromptGenerator) *GenAIIntentClassifier {
	return &GenAIIntentClassifier{Client: client}
}

// Classify uses keywords first. Model errors and unknown labels are IntentInformation.
func (c *GenAIIntentClassifier) Classify(ctx context.Context, text string) Intent {
	intent := c.Keywords.Classify(ctx, text)
	if intent != IntentInformation || c.Client == nil {
		return intent
	}

	label, err := c.Client.GeneratePrompt(ctx, intentSystemPrompt, text)
	if err != nil {
		slog.Warn("GenAIIntentClassifier.Classify: model call failed, using keyword result", "error", err)
		return IntentInformation
	}
	label = strings.Trim(strings.ToLower(strings.TrimSpace(label)), ".\"'`")
	if in, ok := validIntent(label); ok {
		slog.Debug("GenAIIntentClassifier.Classify: model label", "intent", in)
		return in
	}
	slog.Warn("GenAIIntentClassifier.Classify: unrecognised label", "label", label)
	return IntentInformation
}
