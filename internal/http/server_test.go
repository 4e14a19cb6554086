package httpserver

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	v1 "github.com/kemeter/ring/internal/http/v1"
)

func TestAPIPrefixEnforced(t *testing.T) {
	s := NewServer(v1.Deps{})

	// Unversioned path should 404
	req := httptest.NewRequest(http.MethodGet, "/deployments", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unversioned path, got %d", rec.Code)
	}

	// Versioned health endpoint should 200 with no dependencies wired
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 for versioned path, got %d", rec2.Code)
	}
}

func TestAccessLogUsesSlog(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := NewServer(v1.Deps{Logger: log})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one JSON access record, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "request" || entry["level"] != "WARN" {
		t.Fatalf("unexpected record: %v", entry)
	}
	if entry["path"] != "/nowhere" || entry["method"] != http.MethodGet || entry["status"] != float64(404) {
		t.Fatalf("unexpected record: %v", entry)
	}
	if id, _ := entry["request_id"].(string); id == "" {
		t.Fatalf("missing request id: %v", entry)
	}
}

func TestAccessLogHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))
	rec := httptest.NewRecorder()
	NewServer(v1.Deps{Logger: log}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if buf.Len() != 0 {
		t.Fatalf("info access record must be filtered at error level, got %q", buf.String())
	}
}

func TestRootDocsRedirect(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(v1.Deps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/v1/docs/index.html" {
		t.Fatalf("unexpected redirect target %q", loc)
	}
}
