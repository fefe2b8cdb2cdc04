package pattern

import (
	"regexp"
	"time"
)

// ViolationType categorizes what kind of advertising violation a pattern detects.
type ViolationType string

const (
	ViolationProhibitedExpression ViolationType = "prohibited_expression"
	ViolationExaggeration         ViolationType = "exaggeration"
	ViolationFalseClaim           ViolationType = "false_claim"
	ViolationGuarantee            ViolationType = "guarantee"
	ViolationComparison           ViolationType = "comparison"
	ViolationBeforeAfter          ViolationType = "before_after"
	ViolationTestimonial          ViolationType = "testimonial"
	ViolationPriceInducement      ViolationType = "price_inducement"
	ViolationOther                ViolationType = "other"
)

// Severity is the normalized severity scale used throughout the engine.
// Deployments feed in several vocabularies; NormalizeSeverity maps them all here.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMajor    Severity = "major"
	SeverityMedium   Severity = "medium"
	SeverityMinor    Severity = "minor"
	SeverityLow      Severity = "low"
)

// severityRank orders severities from most to least severe. Higher rank is worse.
var severityRank = map[Severity]int{
	SeverityCritical: 6,
	SeverityHigh:     5,
	SeverityMajor:    4,
	SeverityMedium:   3,
	SeverityMinor:    2,
	SeverityLow:      1,
}

// Rank returns the ordinal position of the severity (higher is more severe).
// Unknown severities rank as zero, below every known level.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether the severity is one of the normalized levels.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Downgrade returns the severity one band lower. SeverityLow stays put.
func (s Severity) Downgrade() Severity {
	switch s {
	case SeverityCritical:
		return SeverityHigh
	case SeverityHigh:
		return SeverityMajor
	case SeverityMajor:
		return SeverityMedium
	case SeverityMedium:
		return SeverityMinor
	case SeverityMinor, SeverityLow:
		return SeverityLow
	default:
		return s
	}
}

// NormalizeSeverity maps the severity vocabularies found in pattern files
// from different deployments onto the single internal scale.
func NormalizeSeverity(raw string) (Severity, bool) {
	switch Severity(raw) {
	case SeverityCritical, SeverityHigh, SeverityMajor, SeverityMedium, SeverityMinor, SeverityLow:
		return Severity(raw), true
	}
	// Legacy three-level vocabulary used "major"/"minor" alongside "critical";
	// those map directly. Remaining aliases:
	switch raw {
	case "severe", "fatal":
		return SeverityCritical, true
	case "moderate", "warning":
		return SeverityMedium, true
	case "info", "notice", "trivial":
		return SeverityLow, true
	}
	return "", false
}

// LegalBasis cites the law and article a pattern enforces.
type LegalBasis struct {
	Law         string `yaml:"law" json:"law"`
	Article     string `yaml:"article" json:"article"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Pattern is one detection rule from the versioned pattern library.
// IDs are stable across library versions; consumers persist them.
type Pattern struct {
	ID              string        `yaml:"id" json:"id"`
	Name            string        `yaml:"name" json:"name"`
	Type            ViolationType `yaml:"type" json:"type"`
	Regex           string        `yaml:"regex,omitempty" json:"regex,omitempty"`
	Keywords        []string      `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	DefaultSeverity string        `yaml:"default_severity" json:"defaultSeverity"`
	BaseConfidence  float64       `yaml:"base_confidence,omitempty" json:"baseConfidence,omitempty"`
	LegalBasis      []LegalBasis  `yaml:"legal_basis,omitempty" json:"legalBasis,omitempty"`
	Enabled         bool          `yaml:"enabled" json:"enabled"`
}

// ExceptionType classifies how an exception rule matches a candidate.
type ExceptionType string

const (
	ExceptionKeyword    ExceptionType = "keyword"
	ExceptionContext    ExceptionType = "context"
	ExceptionRegex      ExceptionType = "regex"
	ExceptionDepartment ExceptionType = "department"
	ExceptionComposite  ExceptionType = "composite"
)

// ExceptionRule suppresses known-benign matches for a single pattern.
// Inactive rules are soft-deleted: they must never suppress anything.
type ExceptionRule struct {
	ID        int64         `db:"id" json:"id"`
	PatternID string        `db:"pattern_id" json:"patternId"`
	Type      ExceptionType `db:"exception_type" json:"exceptionType"`
	Value     string        `db:"exception_value" json:"exceptionValue"`
	Active    bool          `db:"is_active" json:"isActive"`
	HitCount  int64         `db:"hit_count" json:"hitCount"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
}

// CompiledPattern pairs a library pattern with its compiled regex (nil for
// keyword patterns) and lowercased keywords ready for matching.
type CompiledPattern struct {
	Pattern
	Severity Severity
	Compiled *regexp.Regexp
	Lowered  []string
}

// CompileDiagnostic records a pattern that could not be compiled.
// The scan continues without it; the diagnostic surfaces in logs and results.
type CompileDiagnostic struct {
	PatternID string `json:"patternId"`
	Reason    string `json:"reason"`
}

// Library is a versioned set of patterns as loaded from the pattern file.
type Library struct {
	Version  string    `yaml:"version" json:"version"`
	Patterns []Pattern `yaml:"patterns" json:"patterns"`
}
