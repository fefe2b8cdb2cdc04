// Package feedback manages false-positive reports and the exception
// suggestion pipeline that turns them into reviewed exception rules.
package feedback

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/pattern"
)

// Store is the persistence surface the feedback service requires.
// internal/store implements it on PostgreSQL.
type Store interface {
	InsertFalsePositive(ctx context.Context, fp *FalsePositiveCase) error
	ListCasesByPattern(ctx context.Context, patternID string) ([]FalsePositiveCase, error)
	UpdateCaseStatus(ctx context.Context, id int64, from, to CaseStatus) error

	InsertSuggestion(ctx context.Context, s *Suggestion) error
	GetSuggestion(ctx context.Context, id int64) (*Suggestion, error)
	UpdateSuggestionStatus(ctx context.Context, id int64, from, to SuggestionStatus) error
	PromoteSuggestion(ctx context.Context, s *Suggestion) (*pattern.ExceptionRule, error)
}

// Config tunes suggestion aggregation.
type Config struct {
	// MinOccurrences is the number of FP cases for one pattern before a
	// suggestion is raised for review.
	MinOccurrences int `yaml:"min_occurrences" mapstructure:"min_occurrences"`
	// MinDistinctContexts requires the cases to come from that many
	// different contexts before generalizing.
	MinDistinctContexts int `yaml:"min_distinct_contexts" mapstructure:"min_distinct_contexts"`
}

// DefaultConfig returns the stock aggregation thresholds.
func DefaultConfig() Config {
	return Config{MinOccurrences: 3, MinDistinctContexts: 2}
}

// Service aggregates FP cases into suggestions and gates their promotion.
type Service struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewService creates a feedback service.
func NewService(store Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = 3
	}
	if cfg.MinDistinctContexts <= 0 {
		cfg.MinDistinctContexts = 2
	}
	return &Service{store: store, cfg: cfg, logger: logger}
}

// ReportFalsePositive records a reviewer report and, when the pattern has
// accumulated enough diverse cases, raises an exception suggestion for
// review. The suggestion is never auto-applied.
func (s *Service) ReportFalsePositive(ctx context.Context, fp *FalsePositiveCase) (*Suggestion, error) {
	if fp.PatternID == "" || fp.MatchedText == "" {
		return nil, fmt.Errorf("false-positive report needs pattern id and matched text")
	}
	fp.Status = CasePending

	if err := s.store.InsertFalsePositive(ctx, fp); err != nil {
		return nil, fmt.Errorf("failed to store false-positive case: %w", err)
	}

	s.logger.Info("False-positive case recorded",
		zap.String("pattern_id", fp.PatternID),
		zap.Int64("case_id", fp.ID))

	return s.maybeSuggest(ctx, fp.PatternID)
}

// maybeSuggest checks the aggregation thresholds for a pattern and raises a
// pending-review suggestion when both are met.
func (s *Service) maybeSuggest(ctx context.Context, patternID string) (*Suggestion, error) {
	cases, err := s.store.ListCasesByPattern(ctx, patternID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}

	// Cases already consumed by a raised suggestion sit in reviewing and do
	// not count again; only pending cases feed a new suggestion.
	open := cases[:0]
	contexts := make(map[string]bool)
	for _, c := range cases {
		if c.Status == CasePending {
			open = append(open, c)
			contexts[c.Context] = true
		}
	}

	if len(open) < s.cfg.MinOccurrences || len(contexts) < s.cfg.MinDistinctContexts {
		return nil, nil
	}

	value := commonKeyword(open)
	if value == "" {
		return nil, nil
	}

	ids := make([]int64, 0, len(open))
	for _, c := range open {
		ids = append(ids, c.ID)
	}

	suggestion := &Suggestion{
		PatternID:       patternID,
		ExceptionType:   pattern.ExceptionKeyword,
		Value:           value,
		Status:          SuggestionPendingReview,
		Confidence:      suggestionConfidence(len(open), len(contexts)),
		OccurrenceCount: int64(len(open)),
		SourceFPIDs:     ids,
	}

	if err := s.store.InsertSuggestion(ctx, suggestion); err != nil {
		return nil, fmt.Errorf("failed to store suggestion: %w", err)
	}

	// Move the consumed cases under review so later reports for the same
	// pattern start a fresh cohort instead of raising duplicate suggestions.
	for _, id := range ids {
		if err := s.store.UpdateCaseStatus(ctx, id, CasePending, CaseReviewing); err != nil {
			s.logger.Warn("Failed to mark source case as reviewing",
				zap.Int64("case_id", id), zap.Error(err))
		}
	}

	s.logger.Info("Exception suggestion raised for review",
		zap.String("pattern_id", patternID),
		zap.String("value", value),
		zap.Int("source_cases", len(open)),
		zap.Float64("confidence", suggestion.Confidence))

	return suggestion, nil
}

// Approve moves a suggestion through approved to applied and promotes it to
// an exception rule. This is the only path that creates rules from feedback.
func (s *Service) Approve(ctx context.Context, suggestionID int64) (*pattern.ExceptionRule, error) {
	suggestion, err := s.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestion: %w", err)
	}

	if err := ValidateSuggestionTransition(suggestion.Status, SuggestionApproved); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSuggestionStatus(ctx, suggestionID, suggestion.Status, SuggestionApproved); err != nil {
		return nil, fmt.Errorf("failed to approve suggestion: %w", err)
	}
	suggestion.Status = SuggestionApproved

	rule, err := s.store.PromoteSuggestion(ctx, suggestion)
	if err != nil {
		return nil, fmt.Errorf("failed to promote suggestion: %w", err)
	}

	s.logger.Info("Suggestion approved and applied",
		zap.Int64("suggestion_id", suggestionID),
		zap.String("pattern_id", suggestion.PatternID),
		zap.Int64("exception_id", rule.ID))

	return rule, nil
}

// Reject moves a suggestion to rejected.
func (s *Service) Reject(ctx context.Context, suggestionID int64) error {
	suggestion, err := s.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return fmt.Errorf("failed to load suggestion: %w", err)
	}
	if err := ValidateSuggestionTransition(suggestion.Status, SuggestionRejected); err != nil {
		return err
	}
	if err := s.store.UpdateSuggestionStatus(ctx, suggestionID, suggestion.Status, SuggestionRejected); err != nil {
		return fmt.Errorf("failed to reject suggestion: %w", err)
	}
	return nil
}

// commonKeyword picks the longest matched text shared by every open case,
// falling back to the most frequent matched text.
func commonKeyword(cases []FalsePositiveCase) string {
	counts := make(map[string]int)
	for _, c := range cases {
		counts[strings.TrimSpace(c.MatchedText)]++
	}
	best, bestCount := "", 0
	for text, n := range counts {
		if text == "" {
			continue
		}
		if n > bestCount || (n == bestCount && len(text) > len(best)) {
			best, bestCount = text, n
		}
	}
	return best
}

// suggestionConfidence grows with case count and context diversity, capped
// below certainty since the generalization is unreviewed.
func suggestionConfidence(occurrences, contexts int) float64 {
	conf := 0.4 + 0.1*float64(occurrences) + 0.05*float64(contexts)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
