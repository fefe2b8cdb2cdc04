// Package engine wires the analysis pipeline: classify, match, filter,
// score, and optionally audit against the external model.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/audit"
	"github.com/raaihank/ad-sentinel/internal/filter"
	"github.com/raaihank/ad-sentinel/internal/gemini"
	"github.com/raaihank/ad-sentinel/internal/match"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/score"
	"github.com/raaihank/ad-sentinel/internal/violation"
)

// Auditor is the external model surface the engine depends on. The real
// implementation is gemini.Client; tests substitute fakes.
type Auditor interface {
	Analyze(ctx context.Context, document string, prompt gemini.PromptConfig) (*gemini.ViolationOutput, error)
}

// ruleSet is the immutable snapshot bundle one analysis pass runs against.
// Mutations (new exceptions, pattern edits) only become visible on the next
// Reload, never mid-scan.
type ruleSet struct {
	snap       *pattern.Snapshot
	exceptions map[string][]pattern.ExceptionRule
	prompt     gemini.PromptConfig
}

// Engine runs the per-document pipeline. Stages within a document are
// strictly sequential; separate documents may run concurrently against the
// same rule set snapshot.
type Engine struct {
	matcher    *match.Matcher
	filter     *filter.Filter
	scorer     *score.Scorer
	reconciler *audit.Reconciler
	auditor    Auditor
	cache      ResultCache
	logger     *zap.Logger

	mu    sync.RWMutex
	rules ruleSet
}

// New creates an engine. auditor and cache may be nil, disabling the audit
// pass and result caching respectively.
func New(
	matcher *match.Matcher,
	f *filter.Filter,
	scorer *score.Scorer,
	reconciler *audit.Reconciler,
	auditor Auditor,
	cache ResultCache,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		matcher:    matcher,
		filter:     f,
		scorer:     scorer,
		reconciler: reconciler,
		auditor:    auditor,
		cache:      cache,
		logger:     logger,
	}
}

// Reload swaps in a new pattern snapshot and exception set. In-flight
// analyses keep the snapshot they started with.
func (e *Engine) Reload(snap *pattern.Snapshot, exceptions map[string][]pattern.ExceptionRule) {
	rules := ruleSet{
		snap:       snap,
		exceptions: exceptions,
		prompt:     gemini.BuildPromptConfig(snap, exceptions),
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()

	e.logger.Info("Rule set reloaded",
		zap.String("version", snap.Version),
		zap.Int("patterns", snap.Len()),
		zap.Int("patterns_with_exceptions", len(exceptions)))
}

// currentRules returns the rule set for one full pass.
func (e *Engine) currentRules() (ruleSet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rules.snap == nil {
		return ruleSet{}, fmt.Errorf("no pattern snapshot loaded")
	}
	return e.rules, nil
}

// Analyze runs the full pipeline for one document.
func (e *Engine) Analyze(ctx context.Context, req Request) (*Output, error) {
	rules, err := e.currentRules()
	if err != nil {
		return nil, err
	}

	cacheKey := resultKey(req.Text, rules.snap.Version)
	if e.cache != nil {
		if out, ok := e.cache.Get(ctx, cacheKey); ok {
			out.CacheHit = true
			return out, nil
		}
	}

	start := time.Now()

	candidates := e.matcher.Scan(req.Text, rules.snap)
	violations, suppressed := e.filter.Apply(ctx, candidates, rules.exceptions, req.Meta)

	out := &Output{
		DocumentID:      req.DocumentID,
		AnalyzedAt:      start.UTC(),
		SnapshotVersion: rules.snap.Version,
		Diagnostics:     rules.snap.Diagnostics,
	}

	if e.auditor != nil && !req.SkipAudit {
		llmOut, llmErr := e.auditor.Analyze(ctx, req.Text, rules.prompt)
		if llmErr != nil {
			e.logger.Warn("Model audit unavailable, degrading to rule-engine output",
				zap.String("document_id", req.DocumentID),
				zap.Error(llmErr))
			out.Audit = e.reconciler.Fallback(violations, llmErr.Error())
			out.Degraded = true
		} else {
			out.Audit = e.reconciler.Reconcile(req.Text, violations, llmOut, rules.snap, rules.exceptions)
		}
		out.Violations = out.Audit.FinalViolations
	} else {
		out.Violations = violations
	}

	summary := e.scorer.Score(out.Violations)
	out.Grade = summary.Grade
	out.CleanScore = summary.CleanScore
	out.Confidence = summary.Confidence
	out.Status = overallStatus(out.Violations)
	out.Summary = summarize(out, len(suppressed))
	out.ProcessingTimeMS = time.Since(start).Milliseconds()

	// Degraded outputs stay out of the cache so a transient model outage is
	// not served until TTL after recovery.
	if e.cache != nil && !out.Degraded {
		e.cache.Set(ctx, cacheKey, out)
	}

	e.logger.Info("Document analyzed",
		zap.String("document_id", req.DocumentID),
		zap.Int("violations", len(out.Violations)),
		zap.Int("suppressed", len(suppressed)),
		zap.String("grade", out.Grade),
		zap.Float64("clean_score", out.CleanScore),
		zap.Bool("degraded", out.Degraded),
		zap.Int64("duration_ms", out.ProcessingTimeMS))

	return out, nil
}

// AnalyzeBatch runs Analyze across documents with the given parallelism.
// Failures are isolated per document. Cancelling ctx stops new documents
// from starting; in-flight documents run to completion.
func (e *Engine) AnalyzeBatch(ctx context.Context, reqs []Request, workers int) []BatchItem {
	if workers <= 0 {
		workers = 4
	}
	if workers > len(reqs) {
		workers = len(reqs)
	}

	items := make([]BatchItem, len(reqs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out, err := e.Analyze(ctx, reqs[i])
				items[i] = BatchItem{Index: i, Output: out, Err: err}
				if err != nil {
					items[i].ErrMsg = err.Error()
					e.logger.Error("Batch document failed",
						zap.Int("index", i),
						zap.String("document_id", reqs[i].DocumentID),
						zap.Error(err))
				}
			}
		}()
	}

feed:
	for i := range reqs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	return items
}

// overallStatus is clean exactly when the violation set is empty, otherwise
// the worst individual status.
func overallStatus(violations []violation.Result) violation.Status {
	if len(violations) == 0 {
		return violation.StatusClean
	}
	worst := violation.StatusPossible
	for _, v := range violations {
		switch v.Status {
		case violation.StatusViolation:
			return violation.StatusViolation
		case violation.StatusLikely:
			worst = violation.StatusLikely
		}
	}
	return worst
}

// summarize renders the one-line human summary for the output.
func summarize(out *Output, suppressed int) string {
	if len(out.Violations) == 0 {
		return fmt.Sprintf("clean: no violations (grade %s, %d suppressed by exceptions)", out.Grade, suppressed)
	}
	return fmt.Sprintf("%d violation(s), grade %s, clean score %.0f", len(out.Violations), out.Grade, out.CleanScore)
}

// resultKey derives the cache key for a document under a snapshot version.
func resultKey(text, version string) string {
	sum := sha256.Sum256([]byte(text))
	return "analysis:" + version + ":" + hex.EncodeToString(sum[:])
}
