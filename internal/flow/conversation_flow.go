package flow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"

	"github.com/BTreeMap/LoanPipe/internal/extract"
	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/underwriting"
)

var greetingKeywords = []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening", "namaste"}

// ConversationFlow is the top-level state machine of one loan conversation.
// It routes each message to the active stage and advances the state from the
// routing signals the stages return.
//
// A ConversationFlow is not safe for concurrent use; callers serialise
// messages per conversation.
type ConversationFlow struct {
	deps Dependencies
	opts Opts

	state     models.StateType
	applicant models.Applicant

	sales        *SalesModule
	verification *VerificationModule
	underwriting *UnderwritingModule
	document     *DocumentModule
}

// NewConversationFlow creates a flow in the greeting state.
func NewConversationFlow(deps Dependencies, opts ...Option) (*ConversationFlow, error) {
	if deps.Directory == nil {
		return nil, fmt.Errorf("customer directory is required")
	}
	if deps.Bureau == nil {
		return nil, fmt.Errorf("credit bureau is required")
	}
	if deps.Renderer == nil {
		return nil, fmt.Errorf("document renderer is required")
	}
	if deps.Intents == nil {
		deps.Intents = KeywordIntentClassifier{}
	}
	if deps.Salary == nil {
		deps.Salary = FixedSalaryExtractor{Salary: DefaultMockSalary}
	}

	cfg := defaultOpts()
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &ConversationFlow{
		deps:  deps,
		opts:  cfg,
		state: models.StateGreeting,
		sales: NewSalesModule(),
	}
	f.verification = NewVerificationModule(deps.Directory, &f.opts)
	f.underwriting = NewUnderwritingModule(deps.Bureau)
	f.document = NewDocumentModule(deps.Renderer, cfg.Now)
	return f, nil
}

// State returns the current top-level state.
func (f *ConversationFlow) State() models.StateType {
	return f.state
}

// Applicant returns a snapshot of the collected context.
func (f *ConversationFlow) Applicant() models.Applicant {
	a := f.applicant
	a.ExistingLoans = append([]string(nil), f.applicant.ExistingLoans...)
	if f.applicant.Bureau != nil {
		b := *f.applicant.Bureau
		a.Bureau = &b
	}
	if f.applicant.Document != nil {
		d := *f.applicant.Document
		a.Document = &d
	}
	return a
}

// Start returns the welcome message.
func (f *ConversationFlow) Start() models.StageResult {
	f.state = models.StateGreeting
	return f.finish(models.StageResult{
		Text:         welcomeText(f.opts.LenderName, f.applicant.Name),
		QuickReplies: welcomeQuickReplies,
	})
}

// ProcessResponse handles one user message. Collaborator failures come back as
// a processing-issue reply with the state unchanged; the returned error is
// reserved for invalid input.
func (f *ConversationFlow) ProcessResponse(ctx context.Context, text string) (models.StageResult, error) {
	msg := models.ChatMessage{Content: text}
	if err := msg.Validate(); err != nil {
		return models.StageResult{}, err
	}
	text = strings.TrimSpace(text)
	slog.Debug("ConversationFlow.ProcessResponse: processing message", "state", f.state, "length", len(text))

	var (
		res models.StageResult
		err error
	)
	switch f.state {
	case models.StateGreeting:
		res = f.processGreeting(ctx, text)
	case models.StateCollectingName:
		res = f.collectName(text)
	case models.StateSales:
		res = f.processSales(text)
	case models.StateVerification:
		res, err = f.processVerification(ctx, text)
	case models.StateUnderwriting:
		res, err = f.processUnderwriting(ctx, text)
	case models.StateSanction:
		res = models.StageResult{
			Text:         sanctionClosingText(&f.applicant, extract.ContainsAny(text, "download", "letter", "link")),
			QuickReplies: sanctionQuickReplies,
			Metadata:     map[string]any{"conversation_complete": true},
		}
	default:
		err = fmt.Errorf("conversation in unknown state %q", f.state)
	}

	if err != nil {
		slog.Error("ConversationFlow.ProcessResponse: processing failed", "state", f.state, "error", err)
		return f.finish(processingIssue()), nil
	}
	return f.finish(res), nil
}

// ProcessUploadedDocument reads a salary slip and runs the second underwriting
// pass. It returns ErrSalaryProofNotRequested unless a salary slip is pending.
func (f *ConversationFlow) ProcessUploadedDocument(ctx context.Context, filename string, r io.Reader) (models.StageResult, error) {
	if f.state != models.StateUnderwriting || !f.underwriting.AwaitingSalaryProof() {
		return models.StageResult{}, ErrSalaryProofNotRequested
	}

	salary, err := f.deps.Salary.ExtractSalary(ctx, filename, r)
	if err != nil {
		slog.Error("ConversationFlow.ProcessUploadedDocument: salary extraction failed", "filename", filename, "error", err)
		return f.finish(processingIssue()), nil
	}
	f.applicant.Salary = salary
	slog.Info("ConversationFlow.ProcessUploadedDocument: salary extracted", "filename", filename, "salary", salary)

	d, err := f.underwriting.EvaluateSalary(&f.applicant)
	if err != nil {
		return models.StageResult{}, err
	}
	res, err := f.applyDecision(ctx, d)
	if err != nil {
		slog.Error("ConversationFlow.ProcessUploadedDocument: processing failed", "error", err)
		return f.finish(processingIssue()), nil
	}
	return f.finish(res), nil
}

func (f *ConversationFlow) processGreeting(ctx context.Context, text string) models.StageResult {
	if f.applicant.Name == "" && extract.ContainsAny(text, greetingKeywords...) {
		f.state = models.StateCollectingName
		return models.StageResult{Text: askNameText(f.opts.LenderName), QuickReplies: askNameQuickReplies}
	}

	intent := f.deps.Intents.Classify(ctx, text)
	slog.Debug("ConversationFlow.processGreeting: intent classified", "intent", intent)
	switch intent {
	case IntentAffirmative, IntentLoanRequest:
		f.state = models.StateSales
		return f.sales.Start()
	case IntentRates:
		return models.StageResult{Text: ratesText(f.applicant.Name), QuickReplies: []string{"Check my rate", "Yes, let's apply", "What documents needed?"}}
	case IntentDocuments:
		return models.StageResult{Text: documentsText(f.applicant.Name), QuickReplies: []string{"Yes, let's start", "Check eligibility", "What about income proof?"}}
	case IntentEligibility:
		return models.StageResult{Text: eligibilityText(f.applicant.Name), QuickReplies: []string{"Check my eligibility", "Yes, let's apply"}}
	default:
		reply, suggestions := objectionText(f.applicant.Name, text)
		return models.StageResult{Text: reply, QuickReplies: suggestions, Metadata: map[string]any{"objection_handled": true}}
	}
}

func (f *ConversationFlow) collectName(text string) models.StageResult {
	f.state = models.StateGreeting
	if !extract.ContainsAny(text, "skip") {
		if name, ok := extract.Name(text); ok {
			f.applicant.Name = name
			slog.Info("ConversationFlow.collectName: name collected", "name", name)
		}
	}
	return models.StageResult{
		Text:         welcomeText(f.opts.LenderName, f.applicant.Name),
		QuickReplies: welcomeQuickReplies,
		Metadata:     map[string]any{"name_found": f.applicant.Name != ""},
	}
}

func (f *ConversationFlow) processSales(text string) models.StageResult {
	res := f.withDefaultQuickReplies(f.sales.Process(text))
	if res.Signal != models.SignalVerification || res.Intake == nil {
		return res
	}

	f.applicant.ApplyIntake(*res.Intake)
	f.state = models.StateVerification
	slog.Info("ConversationFlow.processSales: moving to verification")
	return joinResults(res, f.withDefaultQuickReplies(f.verification.Start(&f.applicant)))
}

func (f *ConversationFlow) processVerification(ctx context.Context, text string) (models.StageResult, error) {
	res, err := f.verification.Process(ctx, text, &f.applicant)
	if err != nil {
		return models.StageResult{}, err
	}
	res = f.withDefaultQuickReplies(res)
	if res.Signal != models.SignalUnderwriting {
		return res, nil
	}

	f.state = models.StateUnderwriting
	slog.Info("ConversationFlow.processVerification: moving to underwriting")
	decision, err := f.runUnderwriting(ctx)
	if err != nil {
		return models.StageResult{}, err
	}
	return joinResults(res, decision), nil
}

// processUnderwriting handles messages while a decision is pending or after a
// rejection. A missing decision means the last evaluation failed and is retried.
func (f *ConversationFlow) processUnderwriting(ctx context.Context, text string) (models.StageResult, error) {
	d, ok := f.underwriting.Decision()
	if !ok {
		return f.runUnderwriting(ctx)
	}
	switch d.Outcome {
	case underwriting.Approved:
		// the sanction letter failed to render last time
		return f.approve(ctx)
	case underwriting.Rejected:
		return models.StageResult{
			Text:         rejectionReminderText(),
			QuickReplies: rejectQuickReplies,
			Metadata:     map[string]any{"loan_rejected": true, "reason": string(d.Reason)},
		}, nil
	case underwriting.NeedsSalaryProof:
		return models.StageResult{
			Text:         salaryReminderText(),
			QuickReplies: salaryQuickReplies,
			Metadata:     map[string]any{"salary_required": true},
		}, nil
	default:
		return models.StageResult{}, fmt.Errorf("unknown underwriting outcome %q", d.Outcome)
	}
}

func (f *ConversationFlow) runUnderwriting(ctx context.Context) (models.StageResult, error) {
	d, err := f.underwriting.Evaluate(ctx, &f.applicant)
	if err != nil {
		return models.StageResult{}, err
	}
	return f.applyDecision(ctx, d)
}

func (f *ConversationFlow) applyDecision(ctx context.Context, d underwriting.Decision) (models.StageResult, error) {
	switch d.Outcome {
	case underwriting.Approved:
		return f.approve(ctx)
	case underwriting.Rejected:
		meta := map[string]any{"loan_rejected": true, "reason": string(d.Reason)}
		maps.Copy(meta, bureauMetadata(&f.applicant))
		return models.StageResult{
			Text:         rejectionText(f.applicant.Name, d.Reason, f.applicant.PreapprovedLimit),
			QuickReplies: rejectQuickReplies,
			Metadata:     meta,
		}, nil
	case underwriting.NeedsSalaryProof:
		meta := map[string]any{"salary_required": true}
		maps.Copy(meta, bureauMetadata(&f.applicant))
		return models.StageResult{
			Text:         salaryRequestText(&f.applicant),
			QuickReplies: salaryQuickReplies,
			Metadata:     meta,
		}, nil
	default:
		return models.StageResult{}, fmt.Errorf("unknown underwriting outcome %q", d.Outcome)
	}
}

func (f *ConversationFlow) approve(ctx context.Context) (models.StageResult, error) {
	doc, err := f.document.Generate(ctx, &f.applicant)
	if err != nil {
		return models.StageResult{}, err
	}
	f.state = models.StateSanction
	slog.Info("ConversationFlow.approve: application sanctioned", "approvalID", f.applicant.ApprovalID)

	approval := models.StageResult{Text: approvalText(&f.applicant), Metadata: bureauMetadata(&f.applicant)}
	res := joinResults(approval, doc)
	res.QuickReplies = sanctionQuickReplies
	return res, nil
}

// withDefaultQuickReplies fills in the suggestions for the stage step, but
// never replaces suggestions the stage supplied itself.
func (f *ConversationFlow) withDefaultQuickReplies(res models.StageResult) models.StageResult {
	if res.HasQuickReplies() {
		return res
	}
	step, _ := res.Metadata["step"].(string)
	switch step {
	case salesStepTenure.String():
		res.QuickReplies = tenureQuickReplies
	case salesStepPurpose.String():
		res.QuickReplies = purposeQuickReplies
	case salesStepPhone.String():
		res.QuickReplies = phoneQuickReplies
	case verificationStepOTP.String():
		if f.applicant.GeneratedOTP != "" {
			res.QuickReplies = []string{f.applicant.GeneratedOTP, "Resend OTP", "Change number"}
		}
	case verificationStepKYC.String():
		res.QuickReplies = kycQuickReplies
	}
	return res
}

func (f *ConversationFlow) finish(res models.StageResult) models.StageResult {
	res.State = f.state
	res.QuickReplies = append([]string(nil), res.QuickReplies...)
	return res
}

// joinResults chains two stage replies into one: texts are joined and the
// later result wins for suggestions, signal and overlapping metadata.
func joinResults(first, second models.StageResult) models.StageResult {
	out := second
	out.Text = strings.TrimSpace(first.Text + "\n\n" + second.Text)
	if len(first.Metadata) > 0 || len(second.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(first.Metadata)+len(second.Metadata))
		maps.Copy(out.Metadata, first.Metadata)
		maps.Copy(out.Metadata, second.Metadata)
	}
	if out.Intake == nil {
		out.Intake = first.Intake
	}
	return out
}

func processingIssue() models.StageResult {
	return models.StageResult{
		Text:         processingIssueText(),
		QuickReplies: errorQuickReplies,
		Metadata:     map[string]any{"error": true},
	}
}
