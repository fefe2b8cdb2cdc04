package audit

import (
	"github.com/raaihank/ad-sentinel/internal/gemini"
	"github.com/raaihank/ad-sentinel/internal/violation"
)

// IssueType labels a reconciliation diff against the raw model output.
type IssueType string

const (
	IssueFabricatedPatternID   IssueType = "FABRICATED_PATTERN_ID"
	IssueNegativeListViolation IssueType = "NEGATIVE_LIST_VIOLATION"
	IssueGeminiMissed          IssueType = "GEMINI_MISSED"
	IssueDisclaimerNotApplied  IssueType = "DISCLAIMER_NOT_APPLIED"
)

// Action says what the issue did to the final set. An issue references
// either an added or a removed violation, never both; modifications touch
// neither count.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionModify Action = "modify"
)

// Issue is one typed diff recorded while reconciling model output.
type Issue struct {
	Type        IssueType `json:"type"`
	Action      Action    `json:"action"`
	PatternID   string    `json:"patternId"`
	MatchedText string    `json:"matchedText,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Result is the audited outcome for one document.
// AuditDelta always equals FinalCount - GeminiOriginalCount, and reconciles
// exactly with the signed ADD/REMOVE issue counts.
type Result struct {
	FinalViolations     []violation.Result     `json:"finalViolations"`
	GrayZones           []gemini.GrayZone      `json:"grayZones,omitempty"`
	MandatoryItems      []gemini.MandatoryItem `json:"mandatoryItems,omitempty"`
	Issues              []Issue                `json:"auditIssues"`
	GeminiOriginalCount int                    `json:"geminiOriginalCount"`
	FinalCount          int                    `json:"finalCount"`
	AuditDelta          int                    `json:"auditDelta"`
	Degraded            bool                   `json:"degraded"`
	Diagnostic          string                 `json:"diagnostic,omitempty"`
}

// CountActions tallies the signed add/remove issues. Tests use this to
// check delta reconciliation.
func (r *Result) CountActions() (adds, removes int) {
	for _, issue := range r.Issues {
		switch issue.Action {
		case ActionAdd:
			adds++
		case ActionRemove:
			removes++
		}
	}
	return adds, removes
}
