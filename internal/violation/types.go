// Package violation defines the violation result types shared by the
// filter, scorer, and auditor stages.
package violation

import (
	"github.com/raaihank/ad-sentinel/internal/classify"
	"github.com/raaihank/ad-sentinel/internal/pattern"
)

// Status grades how certain a finding is.
type Status string

const (
	StatusViolation Status = "violation"
	StatusLikely    Status = "likely"
	StatusPossible  Status = "possible"
	StatusClean     Status = "clean"
)

// StatusForConfidence maps a confidence value onto a finding status.
func StatusForConfidence(conf float64) Status {
	switch {
	case conf >= 0.8:
		return StatusViolation
	case conf >= 0.5:
		return StatusLikely
	default:
		return StatusPossible
	}
}

// Source identifies which side of the audit produced a final violation.
const (
	SourceRuleEngine        = "rule_engine"
	SourceLLM               = "llm"
	SourceRuleEngineSupp    = "rule_engine_supplement"
)

// Result is one confirmed violation finding for a document.
// Confidence is always within [0,1]; records that fall outside are dropped
// by the producing stage, never propagated.
type Result struct {
	PatternID   string                `json:"patternId"`
	Type        pattern.ViolationType `json:"type"`
	Status      Status                `json:"status"`
	Severity    pattern.Severity      `json:"severity"`
	MatchedText string                `json:"matchedText"`
	Position    int                   `json:"position"`
	End         int                   `json:"end"`
	Description string                `json:"description,omitempty"`
	LegalBasis  []pattern.LegalBasis  `json:"legalBasis,omitempty"`
	Confidence  float64               `json:"confidence"`
	Context     classify.ContextType  `json:"context,omitempty"`
	Source      string                `json:"source,omitempty"`
}

// DocumentMeta carries the recognized metadata keys of an analysis request
// plus an escape hatch for unrecognized fields. The engine only dispatches
// on the named fields, never on Extra.
type DocumentMeta struct {
	HospitalName string            `json:"hospitalName,omitempty"`
	Department   string            `json:"department,omitempty"`
	AdType       string            `json:"adType,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}
