// Package audit merges rule-engine findings with the external model's
// structured output into one authoritative result.
package audit

import (
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/filter"
	"github.com/raaihank/ad-sentinel/internal/gemini"
	"github.com/raaihank/ad-sentinel/internal/match"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/violation"
)

// Config tunes the reconciliation checks.
type Config struct {
	// ConfidenceFloor is the minimum rule-engine confidence for a finding to
	// be supplemented when the model missed it.
	ConfidenceFloor float64 `yaml:"confidence_floor" mapstructure:"confidence_floor"`
	// DisclaimerProximity is the byte window around a violation span searched
	// for disclaimer boilerplate.
	DisclaimerProximity int `yaml:"disclaimer_proximity" mapstructure:"disclaimer_proximity"`
	// DisclaimerCues are the boilerplate fragments that count as a disclaimer.
	DisclaimerCues []string `yaml:"disclaimer_cues" mapstructure:"disclaimer_cues"`
}

// DefaultConfig returns the stock reconciliation settings.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor:     0.7,
		DisclaimerProximity: 200,
		DisclaimerCues: []string{
			"개인차", "부작용", "주의사항", "효과는 개인에 따라", "다를 수 있습니다",
		},
	}
}

// Reconciler audits model output against rule-engine findings.
type Reconciler struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a reconciler.
func New(cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.7
	}
	if cfg.DisclaimerProximity <= 0 {
		cfg.DisclaimerProximity = 200
	}
	return &Reconciler{cfg: cfg, logger: logger}
}

// Fallback produces a rule-engine-only result when the model call failed.
// Every rule finding is recorded as a GEMINI_MISSED addition so the delta
// invariant still holds against geminiOriginalCount of zero.
func (r *Reconciler) Fallback(ruleViolations []violation.Result, diagnostic string) *Result {
	res := &Result{
		FinalViolations: append([]violation.Result(nil), ruleViolations...),
		Degraded:        true,
		Diagnostic:      diagnostic,
	}
	for _, v := range ruleViolations {
		res.Issues = append(res.Issues, Issue{
			Type:        IssueGeminiMissed,
			Action:      ActionAdd,
			PatternID:   v.PatternID,
			MatchedText: v.MatchedText,
			Detail:      "model unavailable, rule-engine finding carried over",
		})
	}
	res.FinalCount = len(res.FinalViolations)
	res.AuditDelta = res.FinalCount - res.GeminiOriginalCount
	return res
}

// Reconcile runs the four audit checks in order: fabrication, negative
// list, missed detection, disclaimer. document is the analyzed text; snap
// and exceptions are the same snapshots the rule engine scanned with.
func (r *Reconciler) Reconcile(
	document string,
	ruleViolations []violation.Result,
	llm *gemini.ViolationOutput,
	snap *pattern.Snapshot,
	exceptions map[string][]pattern.ExceptionRule,
) *Result {
	res := &Result{
		GrayZones:           llm.GrayZones,
		MandatoryItems:      llm.MandatoryItems,
		GeminiOriginalCount: len(llm.Violations),
	}

	kept := make([]violation.Result, 0, len(llm.Violations))
	// acknowledged tracks, per kept finding, whether the model marked a
	// disclaimer as present. Rule supplements are exempt from the check.
	var acknowledged []bool
	for _, lv := range llm.Violations {
		cp, ok := snap.Get(lv.PatternID)
		if !ok {
			res.Issues = append(res.Issues, Issue{
				Type:        IssueFabricatedPatternID,
				Action:      ActionRemove,
				PatternID:   lv.PatternID,
				MatchedText: lv.OriginalText,
				Detail:      "pattern id not in enabled set",
			})
			continue
		}

		if excID, hit := r.negativeListHit(lv, exceptions[lv.PatternID]); hit {
			res.Issues = append(res.Issues, Issue{
				Type:        IssueNegativeListViolation,
				Action:      ActionRemove,
				PatternID:   lv.PatternID,
				MatchedText: lv.OriginalText,
				Detail:      excID,
			})
			continue
		}

		kept = append(kept, r.toResult(document, lv, cp))
		acknowledged = append(acknowledged, lv.DisclaimerPresent)
	}

	// Missed-detection: confident rule findings with no overlapping model
	// finding for the same pattern are supplemented.
	for _, rv := range ruleViolations {
		if rv.Confidence < r.cfg.ConfidenceFloor {
			continue
		}
		if r.covered(rv, kept) {
			continue
		}
		supp := rv
		supp.Source = violation.SourceRuleEngineSupp
		kept = append(kept, supp)
		acknowledged = append(acknowledged, true)
		res.Issues = append(res.Issues, Issue{
			Type:        IssueGeminiMissed,
			Action:      ActionAdd,
			PatternID:   rv.PatternID,
			MatchedText: rv.MatchedText,
			Detail:      "confident rule-engine finding absent from model output",
		})
	}

	// Disclaimer check: boilerplate near the span that the model did not
	// acknowledge downgrades the severity one band.
	for i := range kept {
		if acknowledged[i] {
			continue
		}
		if r.disclaimerNearby(document, kept[i].Position, kept[i].End) {
			prev := kept[i].Severity
			kept[i].Severity = prev.Downgrade()
			res.Issues = append(res.Issues, Issue{
				Type:        IssueDisclaimerNotApplied,
				Action:      ActionModify,
				PatternID:   kept[i].PatternID,
				MatchedText: kept[i].MatchedText,
				Detail:      string(prev) + " -> " + string(kept[i].Severity),
			})
		}
	}

	res.FinalViolations = kept
	res.FinalCount = len(kept)
	res.AuditDelta = res.FinalCount - res.GeminiOriginalCount

	r.logger.Debug("Audit reconciliation completed",
		zap.Int("gemini_original", res.GeminiOriginalCount),
		zap.Int("final", res.FinalCount),
		zap.Int("delta", res.AuditDelta),
		zap.Int("issues", len(res.Issues)))

	return res
}

// negativeListHit reports whether any active exception exactly covers the
// model-reported text.
func (r *Reconciler) negativeListHit(lv gemini.Violation, rules []pattern.ExceptionRule) (string, bool) {
	for _, rule := range rules {
		if filter.MatchesText(rule, lv.OriginalText) {
			return rule.Value, true
		}
	}
	return "", false
}

// toResult converts a validated model violation into the internal result
// shape. Model severities outside the normalized scale fall back to the
// pattern's default.
func (r *Reconciler) toResult(document string, lv gemini.Violation, cp *pattern.CompiledPattern) violation.Result {
	sev, ok := pattern.NormalizeSeverity(lv.Severity)
	if !ok {
		sev = cp.Severity
	}
	if adj, ok := pattern.NormalizeSeverity(lv.AdjustedSeverity); ok {
		sev = adj
	}

	pos := strings.Index(document, lv.OriginalText)
	end := pos + len(lv.OriginalText)
	if pos < 0 {
		pos, end = 0, 0
	}

	return violation.Result{
		PatternID:   lv.PatternID,
		Type:        cp.Type,
		Status:      violation.StatusForConfidence(lv.Confidence),
		Severity:    sev,
		MatchedText: lv.OriginalText,
		Position:    pos,
		End:         end,
		Description: lv.Reasoning,
		LegalBasis:  cp.LegalBasis,
		Confidence:  lv.Confidence,
		Source:      violation.SourceLLM,
	}
}

// covered reports whether a rule finding overlaps a kept model finding for
// the same pattern.
func (r *Reconciler) covered(rv violation.Result, kept []violation.Result) bool {
	for _, kv := range kept {
		if kv.PatternID != rv.PatternID {
			continue
		}
		if kv.End == 0 && kv.MatchedText == rv.MatchedText {
			return true
		}
		if match.Overlaps(rv.Position, rv.End, kv.Position, kv.End) {
			return true
		}
	}
	return false
}

// disclaimerNearby searches the proximity window around a span for
// disclaimer boilerplate.
func (r *Reconciler) disclaimerNearby(document string, start, end int) bool {
	lo := start - r.cfg.DisclaimerProximity
	if lo < 0 {
		lo = 0
	}
	hi := end + r.cfg.DisclaimerProximity
	if hi > len(document) {
		hi = len(document)
	}
	if lo >= hi {
		return false
	}
	window := document[lo:hi]
	cues := r.cfg.DisclaimerCues
	if len(cues) == 0 {
		cues = DefaultConfig().DisclaimerCues
	}
	for _, cue := range cues {
		if strings.Contains(window, cue) {
			return true
		}
	}
	return false
}
