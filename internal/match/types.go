package match

import (
	"github.com/raaihank/ad-sentinel/internal/classify"
	"github.com/raaihank/ad-sentinel/internal/pattern"
)

// Candidate is a raw match produced by the scanner, before exception
// filtering. Candidates are transient: only survivors become violations.
type Candidate struct {
	PatternID  string
	Pattern    *pattern.CompiledPattern
	Text       string
	Start      int
	End        int
	Before     string
	After      string
	Sentence   string
	Context    classify.ContextType
	Confidence float64
}

// Span reports the candidate's byte range in the scanned document.
func (c Candidate) Span() (int, int) {
	return c.Start, c.End
}

// Overlaps reports whether two byte ranges intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}
