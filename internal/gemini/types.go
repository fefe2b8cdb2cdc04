package gemini

import (
	"fmt"

	"github.com/raaihank/ad-sentinel/internal/pattern"
)

// PromptConfig is the serialized rule context sent with every analysis
// request so the model grounds its findings in the active pattern library.
type PromptConfig struct {
	Patterns          []PatternRef        `json:"patterns"`
	NegativeList      []string            `json:"negativeList,omitempty"`
	DisclaimerRules   []string            `json:"disclaimerRules,omitempty"`
	DepartmentRules   map[string][]string `json:"departmentRules,omitempty"`
	ContextExceptions []string            `json:"contextExceptions,omitempty"`
	SectionWeights    map[string]float64  `json:"sectionWeights,omitempty"`
}

// PatternRef is the compact pattern form embedded in prompts.
type PatternRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
}

// BuildPromptConfig derives a prompt config from a pattern snapshot and the
// active exception values (the negative list).
func BuildPromptConfig(snap *pattern.Snapshot, exceptions map[string][]pattern.ExceptionRule) PromptConfig {
	cfg := PromptConfig{}
	for _, cp := range snap.Patterns() {
		cfg.Patterns = append(cfg.Patterns, PatternRef{
			ID:       cp.ID,
			Name:     cp.Name,
			Type:     string(cp.Type),
			Severity: string(cp.Severity),
		})
	}
	for _, rules := range exceptions {
		for _, r := range rules {
			if r.Active && r.Type == pattern.ExceptionKeyword {
				cfg.NegativeList = append(cfg.NegativeList, r.Value)
			}
		}
	}
	return cfg
}

// Violation is one model-reported finding. All fields are untrusted until
// Validate has run.
type Violation struct {
	PatternID         string  `json:"patternId"`
	Category          string  `json:"category"`
	Severity          string  `json:"severity"`
	OriginalText      string  `json:"originalText"`
	Context           string  `json:"context,omitempty"`
	SectionType       string  `json:"sectionType,omitempty"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning,omitempty"`
	FromImage         bool    `json:"fromImage,omitempty"`
	DisclaimerPresent bool    `json:"disclaimerPresent,omitempty"`
	AdjustedSeverity  string  `json:"adjustedSeverity,omitempty"`
}

// Section is a model-identified region of the document.
type Section struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// GrayZone is an evasion tactic flagged for human legal review rather than
// scored as a violation.
type GrayZone struct {
	Text      string `json:"text"`
	Tactic    string `json:"tactic"`
	Reasoning string `json:"reasoning,omitempty"`
}

// MandatoryItem is one entry of the mandatory-disclosure checklist.
type MandatoryItem struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Note    string `json:"note,omitempty"`
}

// ViolationOutput is the fixed response shape of the external model.
type ViolationOutput struct {
	Sections              []Section       `json:"sections"`
	Violations            []Violation     `json:"violations"`
	GrayZones             []GrayZone      `json:"grayZones,omitempty"`
	MandatoryItems        []MandatoryItem `json:"mandatoryItems,omitempty"`
	Summary               string          `json:"summary,omitempty"`
	ChecklistVerification map[string]bool `json:"checklistVerification,omitempty"`
}

// Validate defensively checks the decoded output. Violations with a missing
// pattern reference, empty matched text, or out-of-range confidence are
// removed rather than failing the whole response; a fully empty shape is an
// error so malformed bodies do not masquerade as clean results.
func (o *ViolationOutput) Validate() error {
	if o == nil {
		return fmt.Errorf("nil output")
	}
	if len(o.Sections) == 0 && len(o.Violations) == 0 && len(o.GrayZones) == 0 &&
		len(o.MandatoryItems) == 0 && len(o.ChecklistVerification) == 0 && o.Summary == "" {
		return fmt.Errorf("empty output shape")
	}
	valid := o.Violations[:0]
	for _, v := range o.Violations {
		if v.PatternID == "" || v.OriginalText == "" {
			continue
		}
		if v.Confidence < 0 || v.Confidence > 1 {
			continue
		}
		valid = append(valid, v)
	}
	o.Violations = valid
	return nil
}
