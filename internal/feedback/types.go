package feedback

import (
	"errors"
	"fmt"
	"time"

	"github.com/raaihank/ad-sentinel/internal/pattern"
)

// ErrIllegalTransition is returned when a status write would skip or revert
// a state machine step.
var ErrIllegalTransition = errors.New("illegal status transition")

// CaseStatus is the review state of a false-positive report.
type CaseStatus string

const (
	CasePending   CaseStatus = "pending"
	CaseReviewing CaseStatus = "reviewing"
	CaseResolved  CaseStatus = "resolved"
	CaseRejected  CaseStatus = "rejected"
)

// caseTransitions is the validated transition table for FP cases.
var caseTransitions = map[CaseStatus][]CaseStatus{
	CasePending:   {CaseReviewing, CaseRejected},
	CaseReviewing: {CaseResolved, CaseRejected},
}

// ValidateCaseTransition rejects any status write not in the table.
func ValidateCaseTransition(from, to CaseStatus) error {
	for _, allowed := range caseTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: case %s -> %s", ErrIllegalTransition, from, to)
}

// SuggestionStatus is the lifecycle state of an exception suggestion.
// Promotion to an exception rule happens only on explicit approval, never
// automatically.
type SuggestionStatus string

const (
	SuggestionCollecting    SuggestionStatus = "collecting"
	SuggestionPendingReview SuggestionStatus = "pending_review"
	SuggestionApproved      SuggestionStatus = "approved"
	SuggestionRejected      SuggestionStatus = "rejected"
	SuggestionApplied       SuggestionStatus = "applied"
)

// suggestionTransitions is the validated transition table for suggestions.
var suggestionTransitions = map[SuggestionStatus][]SuggestionStatus{
	SuggestionCollecting:    {SuggestionPendingReview, SuggestionRejected},
	SuggestionPendingReview: {SuggestionApproved, SuggestionRejected},
	SuggestionApproved:      {SuggestionApplied},
}

// ValidateSuggestionTransition rejects any status write not in the table.
func ValidateSuggestionTransition(from, to SuggestionStatus) error {
	for _, allowed := range suggestionTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: suggestion %s -> %s", ErrIllegalTransition, from, to)
}

// FalsePositiveCase is one reviewer report that a finding was benign.
type FalsePositiveCase struct {
	ID          int64      `db:"id" json:"id"`
	PatternID   string     `db:"pattern_id" json:"patternId"`
	MatchedText string     `db:"matched_text" json:"matchedText"`
	Context     string     `db:"context" json:"context"`
	Status      CaseStatus `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// Suggestion is a generalized exception candidate aggregated from several
// false-positive cases.
type Suggestion struct {
	ID              int64                 `db:"id" json:"id"`
	PatternID       string                `db:"pattern_id" json:"patternId"`
	ExceptionType   pattern.ExceptionType `db:"exception_type" json:"exceptionType"`
	Value           string                `db:"exception_value" json:"exceptionValue"`
	Status          SuggestionStatus      `db:"status" json:"status"`
	Confidence      float64               `db:"confidence" json:"confidence"`
	OccurrenceCount int64                 `db:"occurrence_count" json:"occurrenceCount"`
	SourceFPIDs     []int64               `db:"-" json:"sourceFpIds"`
	CreatedAt       time.Time             `db:"created_at" json:"createdAt"`
}
