package testutil

import (
	"fmt"
	"mime"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/LoanPipe/internal/models"
)

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{name: "matching status codes", expected: 200, actual: 200},
		{name: "different status codes", expected: 200, actual: 404, shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v", tt.shouldFail, mockT.failed)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name           string
		jsonBody       string
		expectedStatus string
		shouldFail     bool
	}{
		{"valid JSON with matching status", `{"status":"ok","result":"test"}`, "ok", false},
		{"valid JSON with different status", `{"status":"error","message":"test"}`, "ok", true},
		{"invalid JSON", `{"status":}`, "ok", true},
		{"missing status field", `{"result":"test"}`, "ok", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.jsonBody)

			defer func() {
				if r := recover(); r != nil && !tt.shouldFail {
					t.Errorf("unexpected panic: %v", r)
				}
			}()

			response := AssertJSONResponse(mockT, rr, tt.expectedStatus)
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mockT.failed, mockT.errorMsg)
			}
			if !tt.shouldFail && response == nil {
				t.Error("expected response map to be returned")
			}
		})
	}
}

func TestDecodeResult(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Body.WriteString(`{"status":"ok","result":{"session_id":"abc","state":"SALES","message_count":3}}`)
	var stats models.SessionStats
	DecodeResult(t, rr, &stats)
	if stats.SessionID != "abc" || stats.State != models.StateSales || stats.MessageCount != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, "POST", "/sessions/abc/messages", models.ChatMessage{Content: "5 lakhs"})
	if req.Method != "POST" || req.URL.Path != "/sessions/abc/messages" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}

	req = CreateHTTPRequest(t, "GET", "/health", nil)
	if req.Header.Get("Content-Type") != "" {
		t.Error("expected no content type without a body")
	}
}

func TestCreateMultipartRequest(t *testing.T) {
	req := CreateMultipartRequest(t, "/sessions/abc/salary-slip", "file", "slip.pdf", []byte("%PDF-1.4"))
	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("unexpected content type %q (%v)", req.Header.Get("Content-Type"), err)
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		t.Fatalf("FormFile failed: %v", err)
	}
	defer file.Close()
	if header.Filename != "slip.pdf" || header.Size != int64(len("%PDF-1.4")) {
		t.Errorf("unexpected file header %+v", header)
	}
}

func TestMustUnmarshalJSON(t *testing.T) {
	var target map[string]interface{}
	MustUnmarshalJSON(t, MustMarshalJSON(t, map[string]interface{}{"key": "value", "number": 123}), &target)
	if target["key"] != "value" {
		t.Errorf("expected key to be 'value', got %v", target["key"])
	}
	if target["number"].(float64) != 123 {
		t.Errorf("expected number to be 123, got %v", target["number"])
	}
}

// mockTestingT records failures instead of failing the real test.
type mockTestingT struct {
	failed   bool
	errorMsg string
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Error(args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprint(args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.Errorf(format, args...)
	panic("test failed")
}

func (m *mockTestingT) Fatal(args ...interface{}) {
	m.Error(args...)
	panic("test failed")
}
