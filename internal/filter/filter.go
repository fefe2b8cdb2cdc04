// Package filter applies exception rules and context-based confidence decay
// to raw match candidates.
package filter

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/classify"
	"github.com/raaihank/ad-sentinel/internal/match"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/violation"
)

// HitRecorder persists exception hit counts. Increments are atomic per
// suppression event; concurrent document scans share one rule set snapshot.
type HitRecorder interface {
	RecordExceptionHit(ctx context.Context, exceptionID int64) error
}

// NopRecorder discards hit counts. Used when no store is configured.
type NopRecorder struct{}

// RecordExceptionHit implements HitRecorder.
func (NopRecorder) RecordExceptionHit(context.Context, int64) error { return nil }

// ModifierTable maps (pattern, context) pairs to confidence multipliers.
// The pattern key "*" applies to every pattern without a specific entry.
type ModifierTable map[string]map[classify.ContextType]float64

// Lookup returns the modifier for a pattern/context pair, if configured.
func (t ModifierTable) Lookup(patternID string, ctx classify.ContextType) (float64, bool) {
	if m, ok := t[patternID]; ok {
		if v, ok := m[ctx]; ok {
			return v, true
		}
	}
	if m, ok := t["*"]; ok {
		if v, ok := m[ctx]; ok {
			return v, true
		}
	}
	return 0, false
}

// softenedContexts are the context types eligible for confidence decay when
// no hard exception applies.
var softenedContexts = map[classify.ContextType]bool{
	classify.ContextNegation:   true,
	classify.ContextQuestion:   true,
	classify.ContextQuotation:  true,
	classify.ContextDisclaimer: true,
}

// Suppression records a candidate removed by an exception rule.
type Suppression struct {
	Candidate   match.Candidate
	ExceptionID int64
	Reason      string
}

// Filter turns match candidates into violation results, dropping candidates
// suppressed by active exceptions and decaying confidence by context.
type Filter struct {
	modifiers ModifierTable
	recorder  HitRecorder
	logger    *zap.Logger
}

// New creates an exception filter.
func New(modifiers ModifierTable, recorder HitRecorder, logger *zap.Logger) *Filter {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Filter{
		modifiers: modifiers,
		recorder:  recorder,
		logger:    logger,
	}
}

// Apply filters candidates against the active exceptions for their pattern.
// Hard suppression always wins over confidence modification. Each suppressed
// candidate increments the matching exception's hit count exactly once.
// A finding whose confidence leaves [0,1] is dropped as a data-quality
// defect and logged, never propagated.
func (f *Filter) Apply(
	ctx context.Context,
	candidates []match.Candidate,
	exceptions map[string][]pattern.ExceptionRule,
	meta violation.DocumentMeta,
) ([]violation.Result, []Suppression) {
	results := make([]violation.Result, 0, len(candidates))
	var suppressed []Suppression

	for _, cand := range candidates {
		if exc, ok := f.matchException(cand, exceptions[cand.PatternID], meta); ok {
			suppressed = append(suppressed, Suppression{
				Candidate:   cand,
				ExceptionID: exc.ID,
				Reason:      string(exc.Type) + ":" + exc.Value,
			})
			if err := f.recorder.RecordExceptionHit(ctx, exc.ID); err != nil {
				f.logger.Warn("Failed to record exception hit",
					zap.Int64("exception_id", exc.ID),
					zap.Error(err))
			}
			continue
		}

		conf := cand.Confidence
		if softenedContexts[cand.Context] {
			if mod, ok := f.modifiers.Lookup(cand.PatternID, cand.Context); ok {
				conf *= mod
			}
		}

		if conf < 0 || conf > 1 {
			f.logger.Error("Dropping finding with out-of-range confidence",
				zap.String("pattern_id", cand.PatternID),
				zap.Float64("confidence", conf))
			continue
		}

		results = append(results, violation.Result{
			PatternID:   cand.PatternID,
			Type:        cand.Pattern.Type,
			Status:      violation.StatusForConfidence(conf),
			Severity:    cand.Pattern.Severity,
			MatchedText: cand.Text,
			Position:    cand.Start,
			End:         cand.End,
			Description: cand.Pattern.Name,
			LegalBasis:  cand.Pattern.LegalBasis,
			Confidence:  conf,
			Context:     cand.Context,
			Source:      violation.SourceRuleEngine,
		})
	}

	return results, suppressed
}

// matchException returns the first active exception that suppresses the
// candidate. Inactive rules never suppress (soft-delete semantics).
func (f *Filter) matchException(
	cand match.Candidate,
	rules []pattern.ExceptionRule,
	meta violation.DocumentMeta,
) (pattern.ExceptionRule, bool) {
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if f.exceptionApplies(rule.Type, rule.Value, cand, meta) {
			return rule, true
		}
	}
	return pattern.ExceptionRule{}, false
}

// exceptionApplies evaluates one exception condition against a candidate.
// Composite values chain conditions with "&&", each shaped "type=value";
// all parts must hold.
func (f *Filter) exceptionApplies(
	typ pattern.ExceptionType,
	value string,
	cand match.Candidate,
	meta violation.DocumentMeta,
) bool {
	switch typ {
	case pattern.ExceptionKeyword:
		return strings.Contains(strings.ToLower(cand.Sentence), strings.ToLower(value))
	case pattern.ExceptionContext:
		return string(cand.Context) == value
	case pattern.ExceptionRegex:
		re, err := regexp.Compile(value)
		if err != nil {
			f.logger.Warn("Skipping exception with malformed regex",
				zap.String("pattern_id", cand.PatternID),
				zap.Error(err))
			return false
		}
		return re.MatchString(cand.Sentence)
	case pattern.ExceptionDepartment:
		return meta.Department != "" && strings.EqualFold(meta.Department, value)
	case pattern.ExceptionComposite:
		parts := strings.Split(value, "&&")
		for _, part := range parts {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				return false
			}
			if !f.exceptionApplies(pattern.ExceptionType(k), v, cand, meta) {
				return false
			}
		}
		return len(parts) > 0
	default:
		return false
	}
}

// MatchesText reports whether an active exception suppresses a literal
// matched text. The auditor uses this for its negative-list check on LLM
// findings, where no candidate span is available.
func MatchesText(rule pattern.ExceptionRule, text string) bool {
	if !rule.Active {
		return false
	}
	switch rule.Type {
	case pattern.ExceptionKeyword:
		return strings.Contains(strings.ToLower(text), strings.ToLower(rule.Value))
	case pattern.ExceptionRegex:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	default:
		return false
	}
}
