package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/bureau"
	"github.com/BTreeMap/LoanPipe/internal/directory"
	"github.com/BTreeMap/LoanPipe/internal/models"
)

var errCollaboratorDown = errors.New("collaborator unavailable")

var testNow = time.Date(2026, time.January, 15, 10, 30, 0, 0, time.UTC)

// recordingRenderer keeps every letter it is asked to render.
type recordingRenderer struct {
	mu      sync.Mutex
	letters []models.SanctionLetter
	err     error
}

func (r *recordingRenderer) Render(ctx context.Context, letter models.SanctionLetter) (models.DocumentHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return models.DocumentHandle{}, r.err
	}
	r.letters = append(r.letters, letter)
	filename := "sanction_letter_" + letter.ApprovalID + ".html"
	return models.DocumentHandle{ID: "doc-1", Filename: filename, URL: "/documents/" + filename}, nil
}

func (r *recordingRenderer) last(t *testing.T) models.SanctionLetter {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.letters) == 0 {
		t.Fatal("expected a rendered sanction letter, got none")
	}
	return r.letters[len(r.letters)-1]
}

// switchableBureau fails while err is set and otherwise delegates to a zero-jitter mock.
type switchableBureau struct {
	err   error
	calls int
	inner *bureau.MockBureau
}

func (b *switchableBureau) Score(ctx context.Context, phone string) (models.BureauReport, error) {
	b.calls++
	if b.err != nil {
		return models.BureauReport{}, b.err
	}
	return b.inner.Score(ctx, phone)
}

// failingDirectory fails every call.
type failingDirectory struct{}

func (failingDirectory) LookupByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	return nil, errCollaboratorDown
}

func (failingDirectory) Create(ctx context.Context, c models.Customer) (string, error) {
	return "", errCollaboratorDown
}

// stubPromptGenerator returns a fixed model reply.
type stubPromptGenerator struct {
	reply string
	err   error
	calls int
}

func (g *stubPromptGenerator) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.calls++
	return g.reply, g.err
}

// sequenceOTP returns 4321, 4322, ... on successive calls.
func sequenceOTP() func() string {
	n := 4320
	return func() string {
		n++
		return fmt.Sprintf("%d", n)
	}
}

type testHarness struct {
	flow      *ConversationFlow
	directory *directory.InMemoryDirectory
	bureau    *switchableBureau
	renderer  *recordingRenderer
}

func newTestHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	h := &testHarness{
		directory: directory.NewInMemoryDirectory(),
		bureau:    &switchableBureau{inner: bureau.NewMockBureau(bureau.WithJitter(func() int { return 0 }))},
		renderer:  &recordingRenderer{},
	}
	all := append([]Option{WithClock(func() time.Time { return testNow }), WithOTPGenerator(sequenceOTP())}, opts...)
	f, err := NewConversationFlow(Dependencies{
		Directory: h.directory,
		Bureau:    h.bureau,
		Renderer:  h.renderer,
	}, all...)
	if err != nil {
		t.Fatalf("NewConversationFlow failed: %v", err)
	}
	h.flow = f
	return h
}

// send processes text and fails the test on an input error.
func (h *testHarness) send(t *testing.T, text string) models.StageResult {
	t.Helper()
	res, err := h.flow.ProcessResponse(context.Background(), text)
	if err != nil {
		t.Fatalf("ProcessResponse(%q) failed: %v", text, err)
	}
	if res.Text == "" {
		t.Fatalf("ProcessResponse(%q) returned empty text", text)
	}
	return res
}

// driveToVerification runs the sales intake for phone and returns the OTP result.
func (h *testHarness) driveToVerification(t *testing.T, amount, phone string) models.StageResult {
	t.Helper()
	h.flow.Start()
	h.send(t, "yes")
	h.send(t, amount)
	h.send(t, "2 years")
	h.send(t, "wedding")
	res := h.send(t, phone)
	if h.flow.State() != models.StateVerification {
		t.Fatalf("expected VERIFICATION after phone, got %s", h.flow.State())
	}
	return res
}

func assertState(t *testing.T, f *ConversationFlow, want models.StateType) {
	t.Helper()
	if got := f.State(); got != want {
		t.Fatalf("expected state %s, got %s", want, got)
	}
}

func assertQuickReplies(t *testing.T, res models.StageResult, want []string) {
	t.Helper()
	if len(res.QuickReplies) != len(want) {
		t.Fatalf("expected quick replies %v, got %v", want, res.QuickReplies)
	}
	for i := range want {
		if res.QuickReplies[i] != want[i] {
			t.Fatalf("expected quick replies %v, got %v", want, res.QuickReplies)
		}
	}
}
