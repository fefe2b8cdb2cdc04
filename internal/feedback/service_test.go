package feedback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/pattern"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	cases       []FalsePositiveCase
	suggestions map[int64]*Suggestion
	promoted    []*Suggestion
	nextID      int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{suggestions: make(map[int64]*Suggestion), nextID: 1}
}

func (s *fakeStore) InsertFalsePositive(_ context.Context, fp *FalsePositiveCase) error {
	fp.ID = s.nextID
	s.nextID++
	s.cases = append(s.cases, *fp)
	return nil
}

func (s *fakeStore) ListCasesByPattern(_ context.Context, patternID string) ([]FalsePositiveCase, error) {
	var out []FalsePositiveCase
	for _, c := range s.cases {
		if c.PatternID == patternID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateCaseStatus(_ context.Context, id int64, from, to CaseStatus) error {
	if err := ValidateCaseTransition(from, to); err != nil {
		return err
	}
	for i := range s.cases {
		if s.cases[i].ID == id && s.cases[i].Status == from {
			s.cases[i].Status = to
			return nil
		}
	}
	return ErrIllegalTransition
}

func (s *fakeStore) InsertSuggestion(_ context.Context, sg *Suggestion) error {
	sg.ID = s.nextID
	s.nextID++
	copied := *sg
	s.suggestions[sg.ID] = &copied
	return nil
}

func (s *fakeStore) GetSuggestion(_ context.Context, id int64) (*Suggestion, error) {
	sg, ok := s.suggestions[id]
	if !ok {
		return nil, ErrIllegalTransition
	}
	copied := *sg
	return &copied, nil
}

func (s *fakeStore) UpdateSuggestionStatus(_ context.Context, id int64, from, to SuggestionStatus) error {
	if err := ValidateSuggestionTransition(from, to); err != nil {
		return err
	}
	sg, ok := s.suggestions[id]
	if !ok || sg.Status != from {
		return ErrIllegalTransition
	}
	sg.Status = to
	return nil
}

func (s *fakeStore) PromoteSuggestion(_ context.Context, sg *Suggestion) (*pattern.ExceptionRule, error) {
	if err := s.UpdateSuggestionStatus(context.Background(), sg.ID, SuggestionApproved, SuggestionApplied); err != nil {
		return nil, err
	}
	s.promoted = append(s.promoted, sg)
	return &pattern.ExceptionRule{
		ID:        s.nextID,
		PatternID: sg.PatternID,
		Type:      sg.ExceptionType,
		Value:     sg.Value,
		Active:    true,
	}, nil
}

func report(patternID, text, ctx string) *FalsePositiveCase {
	return &FalsePositiveCase{PatternID: patternID, MatchedText: text, Context: ctx}
}

func TestReportFalsePositive(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresPatternAndText", func(t *testing.T) {
		svc := NewService(newFakeStore(), DefaultConfig(), zap.NewNop())
		_, err := svc.ReportFalsePositive(ctx, &FalsePositiveCase{PatternID: "", MatchedText: "x"})
		assert.Error(t, err)
		_, err = svc.ReportFalsePositive(ctx, &FalsePositiveCase{PatternID: "P", MatchedText: ""})
		assert.Error(t, err)
	})

	t.Run("BelowOccurrenceThresholdNoSuggestion", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(store, DefaultConfig(), zap.NewNop())

		for i := 0; i < 2; i++ {
			sg, err := svc.ReportFalsePositive(ctx, report("GUARANTEE-001", "품질 보장", "quotation"))
			require.NoError(t, err)
			assert.Nil(t, sg)
		}
	})

	t.Run("SingleContextNoSuggestion", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(store, DefaultConfig(), zap.NewNop())

		var last *Suggestion
		for i := 0; i < 4; i++ {
			var err error
			last, err = svc.ReportFalsePositive(ctx, report("GUARANTEE-001", "품질 보장", "quotation"))
			require.NoError(t, err)
		}
		assert.Nil(t, last, "cases from one context must not generalize")
	})

	t.Run("ThresholdsMetRaisesSuggestion", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(store, DefaultConfig(), zap.NewNop())

		_, err := svc.ReportFalsePositive(ctx, report("GUARANTEE-001", "품질 보장", "quotation"))
		require.NoError(t, err)
		_, err = svc.ReportFalsePositive(ctx, report("GUARANTEE-001", "품질 보장", "negation"))
		require.NoError(t, err)
		sg, err := svc.ReportFalsePositive(ctx, report("GUARANTEE-001", "품질 보장", "normal"))
		require.NoError(t, err)

		require.NotNil(t, sg)
		assert.Equal(t, SuggestionPendingReview, sg.Status)
		assert.Equal(t, pattern.ExceptionKeyword, sg.ExceptionType)
		assert.Equal(t, "품질 보장", sg.Value)
		assert.Equal(t, int64(3), sg.OccurrenceCount)
		assert.Len(t, sg.SourceFPIDs, 3)
		assert.Less(t, sg.Confidence, 0.96, "suggestion confidence stays below certainty")
	})

	t.Run("ConsumedCasesDoNotRaiseAgain", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(store, DefaultConfig(), zap.NewNop())

		contexts := []string{"quotation", "negation", "normal"}
		var first *Suggestion
		for _, c := range contexts {
			var err error
			first, err = svc.ReportFalsePositive(ctx, report("GUARANTEE-001", "품질 보장", c))
			require.NoError(t, err)
		}
		require.NotNil(t, first)

		// The fourth report joins a fresh cohort; the three consumed cases
		// must not back a second suggestion for the same pattern.
		sg, err := svc.ReportFalsePositive(ctx, report("GUARANTEE-001", "품질 보장", "disclaimer"))
		require.NoError(t, err)
		assert.Nil(t, sg)
		assert.Len(t, store.suggestions, 1)

		for _, c := range store.cases {
			if containsID(first.SourceFPIDs, c.ID) {
				assert.Equal(t, CaseReviewing, c.Status, "source case %d should be under review", c.ID)
			} else {
				assert.Equal(t, CasePending, c.Status, "later case %d should stay pending", c.ID)
			}
		}
	})
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestApprove(t *testing.T) {
	ctx := context.Background()

	raise := func(t *testing.T, store *fakeStore, svc *Service) *Suggestion {
		t.Helper()
		contexts := []string{"quotation", "negation", "normal"}
		var sg *Suggestion
		for _, c := range contexts {
			var err error
			sg, err = svc.ReportFalsePositive(ctx, report("GUARANTEE-001", "품질 보장", c))
			require.NoError(t, err)
		}
		require.NotNil(t, sg)
		return sg
	}

	t.Run("PromotesToExceptionRule", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(store, DefaultConfig(), zap.NewNop())
		sg := raise(t, store, svc)

		rule, err := svc.Approve(ctx, sg.ID)
		require.NoError(t, err)
		assert.Equal(t, "GUARANTEE-001", rule.PatternID)
		assert.Equal(t, "품질 보장", rule.Value)
		assert.True(t, rule.Active)

		stored, err := store.GetSuggestion(ctx, sg.ID)
		require.NoError(t, err)
		assert.Equal(t, SuggestionApplied, stored.Status)
	})

	t.Run("DoubleApproveRejected", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(store, DefaultConfig(), zap.NewNop())
		sg := raise(t, store, svc)

		_, err := svc.Approve(ctx, sg.ID)
		require.NoError(t, err)

		_, err = svc.Approve(ctx, sg.ID)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("RejectThenApproveFails", func(t *testing.T) {
		store := newFakeStore()
		svc := NewService(store, DefaultConfig(), zap.NewNop())
		sg := raise(t, store, svc)

		require.NoError(t, svc.Reject(ctx, sg.ID))
		_, err := svc.Approve(ctx, sg.ID)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})
}

func TestTransitionTables(t *testing.T) {
	t.Run("CaseTransitions", func(t *testing.T) {
		assert.NoError(t, ValidateCaseTransition(CasePending, CaseReviewing))
		assert.NoError(t, ValidateCaseTransition(CasePending, CaseRejected))
		assert.NoError(t, ValidateCaseTransition(CaseReviewing, CaseResolved))
		assert.ErrorIs(t, ValidateCaseTransition(CasePending, CaseResolved), ErrIllegalTransition)
		assert.ErrorIs(t, ValidateCaseTransition(CaseResolved, CasePending), ErrIllegalTransition)
		assert.ErrorIs(t, ValidateCaseTransition(CaseRejected, CaseReviewing), ErrIllegalTransition)
	})

	t.Run("SuggestionTransitions", func(t *testing.T) {
		assert.NoError(t, ValidateSuggestionTransition(SuggestionCollecting, SuggestionPendingReview))
		assert.NoError(t, ValidateSuggestionTransition(SuggestionPendingReview, SuggestionApproved))
		assert.NoError(t, ValidateSuggestionTransition(SuggestionApproved, SuggestionApplied))
		assert.ErrorIs(t, ValidateSuggestionTransition(SuggestionCollecting, SuggestionApplied), ErrIllegalTransition)
		assert.ErrorIs(t, ValidateSuggestionTransition(SuggestionApplied, SuggestionApproved), ErrIllegalTransition)
		assert.ErrorIs(t, ValidateSuggestionTransition(SuggestionRejected, SuggestionApproved), ErrIllegalTransition)
	})
}

func TestCommonKeyword(t *testing.T) {
	cases := []FalsePositiveCase{
		{MatchedText: "품질 보장"},
		{MatchedText: "품질 보장"},
		{MatchedText: "만족 보장"},
	}
	assert.Equal(t, "품질 보장", commonKeyword(cases))
	assert.Empty(t, commonKeyword(nil))
}

func TestSuggestionConfidence(t *testing.T) {
	low := suggestionConfidence(3, 2)
	high := suggestionConfidence(10, 5)
	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, 0.95)
}
