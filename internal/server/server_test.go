package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/audit"
	"github.com/raaihank/ad-sentinel/internal/classify"
	"github.com/raaihank/ad-sentinel/internal/config"
	"github.com/raaihank/ad-sentinel/internal/engine"
	"github.com/raaihank/ad-sentinel/internal/filter"
	"github.com/raaihank/ad-sentinel/internal/logger"
	"github.com/raaihank/ad-sentinel/internal/match"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/score"
)

func testServer(t *testing.T) (*Server, *pattern.Snapshot) {
	t.Helper()
	zlog := &logger.Logger{Logger: zap.NewNop()}

	lib := &pattern.Library{Version: "srv-test", Patterns: []pattern.Pattern{{
		ID:              "GUARANTEE-001",
		Name:            "보장 표현",
		Type:            pattern.ViolationGuarantee,
		Keywords:        []string{"보장"},
		DefaultSeverity: "critical",
		BaseConfidence:  0.9,
		Enabled:         true,
	}}}
	snap := pattern.NewSnapshot(lib, zlog.Logger)

	scorer, err := score.New(score.DefaultConfig(), zlog.Logger)
	if err != nil {
		t.Fatalf("Failed to create scorer: %v", err)
	}
	eng := engine.New(
		match.New(classify.NewDefault(), 50, zlog.Logger),
		filter.New(nil, nil, zlog.Logger),
		scorer,
		audit.New(audit.DefaultConfig(), zlog.Logger),
		nil, nil, zlog.Logger,
	)
	eng.Reload(snap, nil)

	srv, err := New(config.GetDefaults(), zlog, Options{
		Engine:   eng,
		Snapshot: func() *pattern.Snapshot { return snap },
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv, snap
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Wrong status: %s", body["status"])
	}
}

func TestHandleAnalyze(t *testing.T) {
	srv, _ := testServer(t)

	t.Run("ViolatingDocument", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/analyze",
			map[string]string{"text": "완치를 보장합니다"})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var out engine.Output
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if len(out.Violations) != 1 {
			t.Errorf("Expected 1 violation, got %d", len(out.Violations))
		}
		if out.SnapshotVersion != "srv-test" {
			t.Errorf("Missing snapshot version: %s", out.SnapshotVersion)
		}
	})

	t.Run("MissingText", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/analyze", map[string]string{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})

	t.Run("InvalidBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewBufferString("{broken"))
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})
}

func TestHandleAnalyzeBatch(t *testing.T) {
	srv, _ := testServer(t)

	t.Run("MultipleDocuments", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/analyze/batch", map[string]interface{}{
			"documents": []map[string]string{
				{"documentId": "a", "text": "완치를 보장합니다"},
				{"documentId": "b", "text": "진료 안내입니다"},
			},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var body struct {
			Results []engine.BatchItem `json:"results"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if len(body.Results) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(body.Results))
		}
	})

	t.Run("EmptyDocuments", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/v1/analyze/batch",
			map[string]interface{}{"documents": []map[string]string{}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})
}

func TestHandlePatterns(t *testing.T) {
	srv, snap := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/v1/patterns", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Version  string            `json:"version"`
		Patterns []pattern.Pattern `json:"patterns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Version != snap.Version {
		t.Errorf("Wrong version: %s", body.Version)
	}
	if len(body.Patterns) != snap.Len() {
		t.Errorf("Expected %d patterns, got %d", snap.Len(), len(body.Patterns))
	}
}

func TestFeedbackEndpointsWithoutStore(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/feedback/false-positive",
		map[string]string{"patternId": "GUARANTEE-001", "matchedText": "품질 보장"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without feedback service, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/suggestions/1/approve", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without store, got %d", rec.Code)
	}
}

func TestRequiresEngine(t *testing.T) {
	zlog := &logger.Logger{Logger: zap.NewNop()}
	if _, err := New(config.GetDefaults(), zlog, Options{}); err == nil {
		t.Error("Expected error when engine is missing")
	}
}
