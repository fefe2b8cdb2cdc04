package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/audit"
	"github.com/raaihank/ad-sentinel/internal/classify"
	"github.com/raaihank/ad-sentinel/internal/filter"
	"github.com/raaihank/ad-sentinel/internal/gemini"
	"github.com/raaihank/ad-sentinel/internal/match"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/score"
	"github.com/raaihank/ad-sentinel/internal/violation"
)

// fakeAuditor returns a canned response or error.
type fakeAuditor struct {
	out   *gemini.ViolationOutput
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeAuditor) Analyze(context.Context, string, gemini.PromptConfig) (*gemini.ViolationOutput, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

// memoryCache is a map-backed ResultCache.
type memoryCache struct {
	mu   sync.Mutex
	data map[string]*Output
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string]*Output)}
}

func (c *memoryCache) Get(_ context.Context, key string) (*Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.data[key]
	if !ok {
		return nil, false
	}
	copied := *out
	return &copied, true
}

func (c *memoryCache) Set(_ context.Context, key string, out *Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = out
}

func testEngine(t *testing.T, auditor Auditor, cache ResultCache) *Engine {
	t.Helper()
	logger := zap.NewNop()

	lib := &pattern.Library{Version: "test-v1", Patterns: []pattern.Pattern{
		{
			ID:              "GUARANTEE-001",
			Name:            "치료 효과 보장 표현",
			Type:            pattern.ViolationGuarantee,
			Regex:           `(100\s*%|백\s*퍼센트)\s*(완치|치료|성공|효과)`,
			Keywords:        []string{"보장"},
			DefaultSeverity: "critical",
			BaseConfidence:  0.9,
			Enabled:         true,
		},
		{
			ID:              "EXAGGERATION-001",
			Name:            "최상급 과장 표현",
			Type:            pattern.ViolationExaggeration,
			Keywords:        []string{"최고"},
			DefaultSeverity: "high",
			BaseConfidence:  0.75,
			Enabled:         true,
		},
	}}
	snap := pattern.NewSnapshot(lib, logger)

	matcher := match.New(classify.NewDefault(), 50, logger)
	f := filter.New(filter.ModifierTable{
		"*": {classify.ContextQuotation: 0.5, classify.ContextQuestion: 0.6, classify.ContextNegation: 0.4},
	}, nil, logger)
	scorer, err := score.New(score.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("Failed to create scorer: %v", err)
	}
	reconciler := audit.New(audit.DefaultConfig(), logger)

	eng := New(matcher, f, scorer, reconciler, auditor, cache, logger)
	eng.Reload(snap, nil)
	return eng
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	t.Run("CleanDocument", func(t *testing.T) {
		eng := testEngine(t, nil, nil)
		out, err := eng.Analyze(ctx, Request{DocumentID: "doc-1", Text: "진료 시간과 오시는 길 안내입니다."})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if out.Status != violation.StatusClean {
			t.Errorf("Expected clean status, got %s", out.Status)
		}
		if len(out.Violations) != 0 {
			t.Errorf("Clean status with %d violations", len(out.Violations))
		}
		if out.CleanScore != 100 || out.Grade != "S" {
			t.Errorf("Clean document should be 100/S, got %f/%s", out.CleanScore, out.Grade)
		}
	})

	t.Run("GuaranteeDocument", func(t *testing.T) {
		eng := testEngine(t, nil, nil)
		out, err := eng.Analyze(ctx, Request{Text: "저희는 100% 완치 보장을 약속합니다."})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if out.Status != violation.StatusViolation {
			t.Errorf("Expected violation status, got %s", out.Status)
		}
		if len(out.Violations) != 2 {
			t.Fatalf("Expected regex + keyword findings, got %d", len(out.Violations))
		}
		if out.SnapshotVersion != "test-v1" {
			t.Errorf("Missing snapshot version: %s", out.SnapshotVersion)
		}
		if out.CleanScore != 40 {
			t.Errorf("Two criticals should score 40, got %f", out.CleanScore)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		eng := testEngine(t, nil, nil)
		req := Request{Text: "최고의 의료진이 100% 완치 보장"}
		first, err := eng.Analyze(ctx, req)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		for i := 0; i < 5; i++ {
			again, err := eng.Analyze(ctx, req)
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			if !reflect.DeepEqual(first.Violations, again.Violations) {
				t.Fatal("Violations differ across identical runs")
			}
			if first.CleanScore != again.CleanScore || first.Grade != again.Grade {
				t.Fatal("Score differs across identical runs")
			}
		}
	})

	t.Run("NoSnapshotLoaded", func(t *testing.T) {
		logger := zap.NewNop()
		matcher := match.New(classify.NewDefault(), 50, logger)
		f := filter.New(nil, nil, logger)
		scorer, _ := score.New(score.DefaultConfig(), logger)
		eng := New(matcher, f, scorer, audit.New(audit.DefaultConfig(), logger), nil, nil, logger)
		if _, err := eng.Analyze(ctx, Request{Text: "문서"}); err == nil {
			t.Error("Expected error before first Reload")
		}
	})
}

func TestAnalyzeWithAudit(t *testing.T) {
	ctx := context.Background()

	t.Run("ModelFailureDegradesGracefully", func(t *testing.T) {
		auditor := &fakeAuditor{err: gemini.ErrTimeout}
		eng := testEngine(t, auditor, nil)

		out, err := eng.Analyze(ctx, Request{Text: "100% 완치 보장"})
		if err != nil {
			t.Fatalf("Degraded path must not fail: %v", err)
		}
		if !out.Degraded {
			t.Error("Expected degraded output")
		}
		if out.Audit == nil || !out.Audit.Degraded {
			t.Fatal("Audit result missing on degraded path")
		}
		if len(out.Violations) == 0 {
			t.Error("Rule-engine findings must survive model failure")
		}
		adds, removes := out.Audit.CountActions()
		if out.Audit.AuditDelta != adds-removes {
			t.Errorf("Delta %d does not reconcile with %d adds, %d removes",
				out.Audit.AuditDelta, adds, removes)
		}
	})

	t.Run("ModelOutputReconciled", func(t *testing.T) {
		auditor := &fakeAuditor{out: &gemini.ViolationOutput{Violations: []gemini.Violation{
			{PatternID: "GUARANTEE-001", Severity: "critical", OriginalText: "100% 완치", Confidence: 0.95},
			{PatternID: "FAKE-999", Severity: "critical", OriginalText: "유령", Confidence: 0.9},
		}}}
		eng := testEngine(t, auditor, nil)

		out, err := eng.Analyze(ctx, Request{Text: "100% 완치 보장"})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if out.Degraded {
			t.Error("Successful audit should not be degraded")
		}
		for _, v := range out.Violations {
			if v.PatternID == "FAKE-999" {
				t.Error("Fabricated pattern id survived reconciliation")
			}
		}
		if out.Audit.GeminiOriginalCount != 2 {
			t.Errorf("Expected original count 2, got %d", out.Audit.GeminiOriginalCount)
		}
	})

	t.Run("SkipAuditBypassesModel", func(t *testing.T) {
		auditor := &fakeAuditor{out: &gemini.ViolationOutput{}}
		eng := testEngine(t, auditor, nil)

		out, err := eng.Analyze(ctx, Request{Text: "100% 완치 보장", SkipAudit: true})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if auditor.calls != 0 {
			t.Errorf("Model called despite SkipAudit: %d calls", auditor.calls)
		}
		if out.Audit != nil {
			t.Error("Audit result present despite SkipAudit")
		}
	})
}

func TestAnalyzeCaching(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	eng := testEngine(t, nil, cache)

	req := Request{Text: "100% 완치 보장"}
	first, err := eng.Analyze(ctx, req)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if first.CacheHit {
		t.Error("First analysis flagged as cache hit")
	}

	second, err := eng.Analyze(ctx, req)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !second.CacheHit {
		t.Error("Second analysis should hit the cache")
	}
	if second.CleanScore != first.CleanScore {
		t.Error("Cached result differs from original")
	}
}

func TestDegradedOutputNotCached(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	auditor := &fakeAuditor{err: gemini.ErrTimeout}
	eng := testEngine(t, auditor, cache)

	req := Request{Text: "100% 완치 보장"}
	first, err := eng.Analyze(ctx, req)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !first.Degraded {
		t.Fatal("Expected degraded output while the model is down")
	}

	// A repeat analysis must re-run the pipeline, not serve the outage
	// result from cache.
	second, err := eng.Analyze(ctx, req)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if second.CacheHit {
		t.Error("Degraded output was served from cache")
	}
	if auditor.calls != 2 {
		t.Errorf("Expected the model to be retried, got %d calls", auditor.calls)
	}
	if len(cache.data) != 0 {
		t.Errorf("Degraded output stored in cache: %d entries", len(cache.data))
	}
}

func TestAnalyzeBatch(t *testing.T) {
	ctx := context.Background()
	eng := testEngine(t, nil, nil)

	t.Run("MixedDocuments", func(t *testing.T) {
		reqs := []Request{
			{DocumentID: "a", Text: "100% 완치 보장"},
			{DocumentID: "b", Text: "진료 안내입니다."},
			{DocumentID: "c", Text: "최고의 시설"},
		}
		items := eng.AnalyzeBatch(ctx, reqs, 2)
		if len(items) != 3 {
			t.Fatalf("Expected 3 items, got %d", len(items))
		}
		for _, item := range items {
			if item.Err != nil {
				t.Fatalf("Document %d failed: %v", item.Index, item.Err)
			}
		}
		if items[0].Output.Status != violation.StatusViolation {
			t.Errorf("Document a should violate, got %s", items[0].Output.Status)
		}
		if items[1].Output.Status != violation.StatusClean {
			t.Errorf("Document b should be clean, got %s", items[1].Output.Status)
		}
	})

	t.Run("OrderPreserved", func(t *testing.T) {
		var reqs []Request
		for i := 0; i < 20; i++ {
			reqs = append(reqs, Request{DocumentID: fmt.Sprintf("doc-%02d", i), Text: "진료 안내"})
		}
		items := eng.AnalyzeBatch(ctx, reqs, 8)
		for i, item := range items {
			if item.Index != i {
				t.Fatalf("Item %d has index %d", i, item.Index)
			}
			if item.Output == nil || item.Output.DocumentID != reqs[i].DocumentID {
				t.Fatalf("Item %d result misattributed", i)
			}
		}
	})

	t.Run("FailureIsolated", func(t *testing.T) {
		// A failing auditor degrades instead of erroring, so force failure
		// through an unloaded engine instead.
		logger := zap.NewNop()
		matcher := match.New(classify.NewDefault(), 50, logger)
		scorer, _ := score.New(score.DefaultConfig(), logger)
		broken := New(matcher, filter.New(nil, nil, logger), scorer,
			audit.New(audit.DefaultConfig(), logger), nil, nil, logger)

		items := broken.AnalyzeBatch(ctx, []Request{{Text: "하나"}, {Text: "둘"}}, 2)
		for _, item := range items {
			if item.Err == nil {
				t.Error("Expected per-document error from unloaded engine")
			}
			if item.ErrMsg == "" {
				t.Error("ErrMsg not populated")
			}
		}
	})

	t.Run("CancelledContextStopsFeeding", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		// The select between feeding and ctx.Done is racy for already-ready
		// workers, so only the slice shape is deterministic here.
		items := eng.AnalyzeBatch(cancelled, []Request{{Text: "하나"}, {Text: "둘"}}, 1)
		if len(items) != 2 {
			t.Fatalf("Expected placeholder items, got %d", len(items))
		}
	})
}

func TestOverallStatus(t *testing.T) {
	if got := overallStatus(nil); got != violation.StatusClean {
		t.Errorf("Empty set should be clean, got %s", got)
	}
	if got := overallStatus([]violation.Result{{Status: violation.StatusPossible}}); got != violation.StatusPossible {
		t.Errorf("Expected possible, got %s", got)
	}
	if got := overallStatus([]violation.Result{
		{Status: violation.StatusPossible},
		{Status: violation.StatusViolation},
		{Status: violation.StatusLikely},
	}); got != violation.StatusViolation {
		t.Errorf("Worst status should win, got %s", got)
	}
}
