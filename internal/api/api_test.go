package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/bureau"
	"github.com/BTreeMap/LoanPipe/internal/directory"
	"github.com/BTreeMap/LoanPipe/internal/document"
	"github.com/BTreeMap/LoanPipe/internal/flow"
	"github.com/BTreeMap/LoanPipe/internal/messaging"
	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/session"
	"github.com/BTreeMap/LoanPipe/internal/store"
	"github.com/BTreeMap/LoanPipe/internal/testutil"
	"github.com/BTreeMap/LoanPipe/internal/twiliowhatsapp"
)

type testServer struct {
	server   *Server
	handler  http.Handler
	sessions *session.Manager
	archives *store.InMemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	renderer, err := document.NewHTMLRenderer(document.WithDir(t.TempDir()), document.WithBaseURL("https://loans.example.com"))
	if err != nil {
		t.Fatalf("NewHTMLRenderer failed: %v", err)
	}
	factory := func() (*flow.ConversationFlow, error) {
		n := 4320
		return flow.NewConversationFlow(flow.Dependencies{
			Directory: directory.NewInMemoryDirectory(),
			Bureau:    bureau.NewMockBureau(bureau.WithJitter(func() int { return 0 })),
			Renderer:  renderer,
		}, flow.WithOTPGenerator(func() string { n++; return fmt.Sprintf("%d", n) }))
	}
	archives := store.NewInMemoryStore()
	sessions, err := session.NewManager(factory, archives)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	twilioSvc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	server := NewServer(sessions, archives, renderer, twilioSvc)
	return &testServer{server: server, handler: server.Handler(), sessions: sessions, archives: archives}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) createSession(t *testing.T, id string) string {
	t.Helper()
	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions", createSessionRequest{SessionID: id}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create session")
	var created sessionCreated
	testutil.DecodeResult(t, rr, &created)
	return created.SessionID
}

func (ts *testServer) send(t *testing.T, id, content string) models.StageResult {
	t.Helper()
	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/"+id+"/messages", models.ChatMessage{Content: content}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "send "+content)
	var res models.StageResult
	testutil.DecodeResult(t, rr, &res)
	return res
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t)
	ts.createSession(t, "")

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	body := testutil.AssertJSONResponse(t, rr, "healthy")
	if body["active_sessions"].(float64) != 1 {
		t.Errorf("expected 1 active session, got %v", body["active_sessions"])
	}
	if _, ok := body["timestamp"].(string); !ok {
		t.Error("expected timestamp in health response")
	}
}

func TestCreateSessionHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions", nil))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create without body")
	var created sessionCreated
	testutil.DecodeResult(t, rr, &created)
	if created.SessionID == "" {
		t.Error("expected generated session id")
	}
	if created.Welcome.Text == "" || len(created.Welcome.QuickReplies) != 4 {
		t.Errorf("unexpected welcome %+v", created.Welcome)
	}

	if id := ts.createSession(t, "tab-1"); id != "tab-1" {
		t.Errorf("expected requested id, got %q", id)
	}
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions", createSessionRequest{SessionID: "tab-1"}))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "duplicate session")
	testutil.AssertJSONResponse(t, rr, "error")

	req, _ := http.NewRequest(http.MethodPost, "/sessions", strings.NewReader("{not json"))
	rr = ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid JSON")
}

func TestMessageHandler(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "")

	res := ts.send(t, id, "yes")
	if res.State != models.StateSales {
		t.Errorf("expected SALES after yes, got %s", res.State)
	}

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/"+id+"/messages", models.ChatMessage{Content: ""}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty message")

	long := models.ChatMessage{Content: strings.Repeat("a", models.MaxMessageLength+1)}
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/"+id+"/messages", long))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "message too long")

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/missing/messages", models.ChatMessage{Content: "hi"}))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown session")
}

func TestSessionStatsHistoryAndEnd(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "")
	ts.send(t, id, "yes")

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "stats")
	var stats models.SessionStats
	testutil.DecodeResult(t, rr, &stats)
	if stats.SessionID != id || stats.State != models.StateSales || stats.MessageCount != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions/"+id+"/history", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "history")
	var history []models.HistoryEntry
	testutil.DecodeResult(t, rr, &history)
	if len(history) != 3 || history[1].Sender != models.SenderUser || history[1].Text != "yes" {
		t.Errorf("unexpected history %+v", history)
	}

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodDelete, "/sessions/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "end session")
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodDelete, "/sessions/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "end twice")
	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "stats after end")

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/archives/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "archive")
	var archive models.SessionArchive
	testutil.DecodeResult(t, rr, &archive)
	if archive.Reason != models.EndReasonEnded || archive.FinalState != models.StateSales || archive.MessageCount != 3 {
		t.Errorf("unexpected archive %+v", archive)
	}

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/archives/unknown", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing archive")
}

func TestSalarySlipUploadAndDownload(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "")
	upload := func() *httptest.ResponseRecorder {
		return ts.do(testutil.CreateMultipartRequest(t, "/sessions/"+id+"/salary-slip", "file", "slip.pdf", []byte("%PDF-1.4")))
	}

	rr := upload()
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "upload before it is requested")

	for _, msg := range []string{"yes", "5 lakhs", "2 years", "wedding", "9876543211", "4321", "yes"} {
		ts.send(t, id, msg)
	}

	rr = ts.do(testutil.CreateMultipartRequest(t, "/sessions/"+id+"/salary-slip", "document", "slip.pdf", []byte("%PDF")))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "wrong form field")

	rr = upload()
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "upload")
	var res models.StageResult
	testutil.DecodeResult(t, rr, &res)
	if res.State != models.StateSanction {
		t.Fatalf("expected SANCTION after upload, got %s", res.State)
	}
	filename, _ := res.Metadata["filename"].(string)
	if filename == "" {
		t.Fatalf("expected document filename in metadata, got %+v", res.Metadata)
	}
	if url, _ := res.Metadata["download_url"].(string); url != "https://loans.example.com/documents/"+filename {
		t.Errorf("unexpected download url %q", url)
	}

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/documents/"+filename, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "download")
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected HTML document, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "<table>") {
		t.Error("expected rendered letter to contain the loan table")
	}
}

func TestDocumentHandler_Rejections(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/documents/sanction_letter_missing.html", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing document")

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/documents/notes.txt", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "wrong document name")

	rr = ts.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/documents/..%2Fsecrets.html", nil))
	if rr.Code == http.StatusOK {
		t.Error("expected path traversal to be rejected")
	}
}

func TestSalarySlipHandler_UploadLimit(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "")
	if !ts.server.uploads.TryAcquire(MaxConcurrentUploads) {
		t.Fatal("failed to hold upload slots")
	}
	defer ts.server.uploads.Release(MaxConcurrentUploads)

	rr := ts.do(testutil.CreateMultipartRequest(t, "/sessions/"+id+"/salary-slip", "file", "slip.pdf", []byte("%PDF")))
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "upload limit")
}

func TestTwilioWebhookRoute(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader("From=whatsapp%3A%2B919876543210&Body=hi&MessageSid=SM1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "twilio webhook")

	select {
	case resp := <-ts.server.twilio.Responses():
		if resp.Body != "hi" || resp.MessageID != "SM1" {
			t.Errorf("unexpected response %+v", resp)
		}
	default:
		t.Fatal("expected webhook message to be forwarded")
	}
}

func TestTwilioWebhookRoute_DisabledWithoutService(t *testing.T) {
	ts := newTestServer(t)
	handler := NewServer(ts.sessions, ts.archives, ts.server.documents, nil).Handler()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/twilio/webhook", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "webhook without twilio")
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, nil, nil, nil, nil, []Option{WithAddr("127.0.0.1:0"), WithStateDir(t.TempDir())})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_TwilioRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	err := Run(context.Background(), nil, nil, nil, nil, []Option{
		WithAddr("127.0.0.1:0"),
		WithStateDir(t.TempDir()),
		WithTwilio(true, ""),
	})
	if err == nil || !strings.Contains(err.Error(), "Twilio") {
		t.Errorf("expected Twilio client error, got %v", err)
	}
}
