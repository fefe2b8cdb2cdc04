package filter

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/classify"
	"github.com/raaihank/ad-sentinel/internal/match"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/violation"
)

// recordingRecorder captures exception hit increments.
type recordingRecorder struct {
	mu   sync.Mutex
	hits []int64
}

func (r *recordingRecorder) RecordExceptionHit(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, id)
	return nil
}

func guaranteeCandidates(t *testing.T, text string) []match.Candidate {
	t.Helper()
	lib := &pattern.Library{Version: "test", Patterns: []pattern.Pattern{{
		ID:              "GUARANTEE-001",
		Name:            "치료 효과 보장 표현",
		Type:            pattern.ViolationGuarantee,
		Keywords:        []string{"보장"},
		DefaultSeverity: "critical",
		BaseConfidence:  0.9,
		Enabled:         true,
	}}}
	snap := pattern.NewSnapshot(lib, zap.NewNop())
	m := match.New(classify.NewDefault(), 50, zap.NewNop())
	return m.Scan(text, snap)
}

func defaultModifiers() ModifierTable {
	return ModifierTable{
		"*": {
			classify.ContextQuotation:  0.5,
			classify.ContextQuestion:   0.6,
			classify.ContextNegation:   0.4,
			classify.ContextDisclaimer: 0.7,
		},
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("NoExceptionsPassesThrough", func(t *testing.T) {
		f := New(defaultModifiers(), nil, zap.NewNop())
		cands := guaranteeCandidates(t, "완치를 보장합니다")
		results, suppressed := f.Apply(ctx, cands, nil, violation.DocumentMeta{})
		if len(results) != 1 || len(suppressed) != 0 {
			t.Fatalf("Expected 1 result, 0 suppressed; got %d, %d", len(results), len(suppressed))
		}
		r := results[0]
		if r.Confidence != 0.9 {
			t.Errorf("Confidence changed without cause: %f", r.Confidence)
		}
		if r.Status != violation.StatusViolation {
			t.Errorf("Expected violation status at 0.9, got %s", r.Status)
		}
		if r.Source != violation.SourceRuleEngine {
			t.Errorf("Wrong source: %s", r.Source)
		}
	})

	t.Run("KeywordExceptionSuppresses", func(t *testing.T) {
		rec := &recordingRecorder{}
		f := New(defaultModifiers(), rec, zap.NewNop())
		cands := guaranteeCandidates(t, "품질 보장 제도를 운영합니다")
		exceptions := map[string][]pattern.ExceptionRule{
			"GUARANTEE-001": {{ID: 7, PatternID: "GUARANTEE-001", Type: pattern.ExceptionKeyword, Value: "품질 보장", Active: true}},
		}
		results, suppressed := f.Apply(ctx, cands, exceptions, violation.DocumentMeta{})
		if len(results) != 0 {
			t.Fatalf("Expected suppression, got %d results", len(results))
		}
		if len(suppressed) != 1 || suppressed[0].ExceptionID != 7 {
			t.Fatalf("Suppression not recorded: %+v", suppressed)
		}
		if len(rec.hits) != 1 || rec.hits[0] != 7 {
			t.Errorf("Hit count not recorded exactly once: %v", rec.hits)
		}
	})

	t.Run("InactiveRuleNeverSuppresses", func(t *testing.T) {
		rec := &recordingRecorder{}
		f := New(defaultModifiers(), rec, zap.NewNop())
		cands := guaranteeCandidates(t, "품질 보장 제도를 운영합니다")
		exceptions := map[string][]pattern.ExceptionRule{
			"GUARANTEE-001": {{ID: 7, PatternID: "GUARANTEE-001", Type: pattern.ExceptionKeyword, Value: "품질 보장", Active: false}},
		}
		results, suppressed := f.Apply(ctx, cands, exceptions, violation.DocumentMeta{})
		if len(results) != 1 || len(suppressed) != 0 {
			t.Fatalf("Inactive rule suppressed: %d results, %d suppressed", len(results), len(suppressed))
		}
		if len(rec.hits) != 0 {
			t.Errorf("Inactive rule incremented hit count: %v", rec.hits)
		}
	})

	t.Run("QuotationHalvesConfidence", func(t *testing.T) {
		f := New(defaultModifiers(), nil, zap.NewNop())
		cands := guaranteeCandidates(t, `기사에 "완치 보장 광고는 불법"이라고 적혀 있다`)
		results, _ := f.Apply(ctx, cands, nil, violation.DocumentMeta{})
		if len(results) != 1 {
			t.Fatalf("Expected 1 result, got %d", len(results))
		}
		if results[0].Confidence != 0.45 {
			t.Errorf("Expected 0.9*0.5 = 0.45, got %f", results[0].Confidence)
		}
		if results[0].Status == violation.StatusViolation {
			t.Error("Halved confidence should drop status below violation")
		}
	})

	t.Run("HardSuppressionBeatsModifier", func(t *testing.T) {
		rec := &recordingRecorder{}
		f := New(defaultModifiers(), rec, zap.NewNop())
		// Candidate sits in a quotation AND matches an exception; the
		// exception must win, leaving nothing to soften.
		cands := guaranteeCandidates(t, `"품질 보장 안내문"을 인용했다`)
		exceptions := map[string][]pattern.ExceptionRule{
			"GUARANTEE-001": {{ID: 3, PatternID: "GUARANTEE-001", Type: pattern.ExceptionKeyword, Value: "품질 보장", Active: true}},
		}
		results, suppressed := f.Apply(ctx, cands, exceptions, violation.DocumentMeta{})
		if len(results) != 0 || len(suppressed) != 1 {
			t.Fatalf("Hard suppression lost to modifier: %d results", len(results))
		}
	})

	t.Run("DepartmentException", func(t *testing.T) {
		f := New(defaultModifiers(), nil, zap.NewNop())
		cands := guaranteeCandidates(t, "완치를 보장합니다")
		exceptions := map[string][]pattern.ExceptionRule{
			"GUARANTEE-001": {{ID: 9, Type: pattern.ExceptionDepartment, Value: "치과", Active: true}},
		}

		results, suppressed := f.Apply(ctx, cands, exceptions, violation.DocumentMeta{Department: "치과"})
		if len(results) != 0 || len(suppressed) != 1 {
			t.Fatalf("Matching department did not suppress")
		}

		results, suppressed = f.Apply(ctx, cands, exceptions, violation.DocumentMeta{Department: "피부과"})
		if len(results) != 1 || len(suppressed) != 0 {
			t.Fatalf("Non-matching department suppressed")
		}
	})

	t.Run("CompositeException", func(t *testing.T) {
		f := New(defaultModifiers(), nil, zap.NewNop())
		cands := guaranteeCandidates(t, `"품질 보장 안내"라고 쓰여 있다`)
		exceptions := map[string][]pattern.ExceptionRule{
			"GUARANTEE-001": {{
				ID: 11, Type: pattern.ExceptionComposite,
				Value: "keyword=품질 보장&&context=quotation", Active: true,
			}},
		}
		_, suppressed := f.Apply(ctx, cands, exceptions, violation.DocumentMeta{})
		if len(suppressed) != 1 {
			t.Fatal("Composite exception with all parts holding did not suppress")
		}

		// Same composite outside a quotation: the context leg fails.
		cands = guaranteeCandidates(t, "품질 보장 안내입니다")
		results, suppressed := f.Apply(ctx, cands, exceptions, violation.DocumentMeta{})
		if len(results) != 1 || len(suppressed) != 0 {
			t.Fatal("Composite exception suppressed with a failing part")
		}
	})

	t.Run("MalformedExceptionRegexIgnored", func(t *testing.T) {
		f := New(defaultModifiers(), nil, zap.NewNop())
		cands := guaranteeCandidates(t, "완치를 보장합니다")
		exceptions := map[string][]pattern.ExceptionRule{
			"GUARANTEE-001": {{ID: 5, Type: pattern.ExceptionRegex, Value: "([bad", Active: true}},
		}
		results, suppressed := f.Apply(ctx, cands, exceptions, violation.DocumentMeta{})
		if len(results) != 1 || len(suppressed) != 0 {
			t.Fatal("Malformed exception regex should be skipped, not match")
		}
	})
}

func TestMatchesText(t *testing.T) {
	t.Run("Keyword", func(t *testing.T) {
		rule := pattern.ExceptionRule{Type: pattern.ExceptionKeyword, Value: "품질 보장", Active: true}
		if !MatchesText(rule, "저희의 품질 보장 제도") {
			t.Error("Active keyword rule should match")
		}
		rule.Active = false
		if MatchesText(rule, "저희의 품질 보장 제도") {
			t.Error("Inactive rule must never match")
		}
	})

	t.Run("Regex", func(t *testing.T) {
		rule := pattern.ExceptionRule{Type: pattern.ExceptionRegex, Value: `품질\s*보장`, Active: true}
		if !MatchesText(rule, "품질보장") {
			t.Error("Regex rule should match")
		}
	})

	t.Run("ContextTypeNotApplicable", func(t *testing.T) {
		rule := pattern.ExceptionRule{Type: pattern.ExceptionContext, Value: "quotation", Active: true}
		if MatchesText(rule, "아무 텍스트") {
			t.Error("Context rules have no text form and must not match")
		}
	})
}

func TestModifierTableLookup(t *testing.T) {
	table := ModifierTable{
		"GUARANTEE-001": {classify.ContextQuotation: 0.3},
		"*":             {classify.ContextQuotation: 0.5},
	}
	if v, ok := table.Lookup("GUARANTEE-001", classify.ContextQuotation); !ok || v != 0.3 {
		t.Errorf("Specific entry not preferred: %f", v)
	}
	if v, ok := table.Lookup("OTHER-001", classify.ContextQuotation); !ok || v != 0.5 {
		t.Errorf("Wildcard fallback missing: %f", v)
	}
	if _, ok := table.Lookup("OTHER-001", classify.ContextNegation); ok {
		t.Error("Unconfigured context should not resolve")
	}
}
