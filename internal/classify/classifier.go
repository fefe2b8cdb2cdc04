// Package classify labels text spans with the surrounding context type used
// by the exception filter to suppress or soften matches.
package classify

import (
	"strings"
)

// ContextType is the single label assigned to a span's enclosing context.
type ContextType string

const (
	ContextNegation   ContextType = "negation"
	ContextQuestion   ContextType = "question"
	ContextQuotation  ContextType = "quotation"
	ContextDisclaimer ContextType = "disclaimer"
	ContextComparison ContextType = "comparison"
	ContextNormal     ContextType = "normal"
)

// quotePairs maps opening quote runes to their closing counterparts.
// Straight quotes close themselves.
var quotePairs = map[rune]rune{
	'"':      '"',
	'\'':     '\'',
	'“': '”', // “ ”
	'‘': '’', // ‘ ’
	'「':      '」',
	'『':      '』',
}

// Lexicons holds the cue word lists consulted by the classifier. The zero
// value is unusable; use DefaultLexicons and override fields as needed.
type Lexicons struct {
	Negation   []string
	Disclaimer []string
	Comparison []string
	Question   []string
}

// DefaultLexicons returns the built-in Korean/English cue lists.
func DefaultLexicons() Lexicons {
	return Lexicons{
		Negation: []string{
			"아니", "없습니다", "없어요", "없는", "않습니다", "않아요", "않는",
			"못합니다", "못하는", "전혀", "절대", "금지", "not ", "no ", "never ",
		},
		Disclaimer: []string{
			"개인차", "부작용", "주의사항", "효과는 개인에 따라", "상이할 수",
			"다를 수 있습니다", "전문의와 상담", "의사와 상담",
			"results may vary", "consult your doctor",
		},
		Comparison: []string{
			"보다", "대비", "에 비해", "비교", " vs ", "versus",
		},
		Question: []string{
			"까?", "나요?", "가요?", "을까요", "ㄹ까요", "인가요",
		},
	}
}

// Classifier assigns exactly one ContextType to a span. It is a pure
// function of its inputs: no state, no randomness, no external calls.
type Classifier struct {
	lex Lexicons
}

// New creates a classifier with the given lexicons.
func New(lex Lexicons) *Classifier {
	return &Classifier{lex: lex}
}

// NewDefault creates a classifier with the built-in lexicons.
func NewDefault() *Classifier {
	return New(DefaultLexicons())
}

// Classify labels the span found at spanStart within sentence. Precedence
// when several cues are present: quotation > question > negation >
// disclaimer > comparison > normal.
func (c *Classifier) Classify(sentence string, spanStart, spanEnd int) ContextType {
	if spanStart < 0 || spanEnd > len(sentence) || spanStart > spanEnd {
		return ContextNormal
	}

	if isQuoted(sentence, spanStart, spanEnd) {
		return ContextQuotation
	}
	if c.isQuestion(sentence) {
		return ContextQuestion
	}
	lower := strings.ToLower(sentence)
	if containsAny(lower, c.lex.Negation) {
		return ContextNegation
	}
	if containsAny(lower, c.lex.Disclaimer) {
		return ContextDisclaimer
	}
	if containsAny(lower, c.lex.Comparison) {
		return ContextComparison
	}
	return ContextNormal
}

// isQuoted reports whether an unclosed opening quote precedes the span and
// its matching closing quote follows it.
func isQuoted(sentence string, spanStart, spanEnd int) bool {
	var want rune
	for i, r := range sentence {
		if i >= spanStart {
			break
		}
		if want != 0 {
			if r == want {
				want = 0
			}
			continue
		}
		if close, ok := quotePairs[r]; ok {
			want = close
		}
	}
	if want == 0 {
		return false
	}
	rest := sentence[spanEnd:]
	return strings.ContainsRune(rest, want)
}

// isQuestion checks question-mark termination and interrogative endings.
func (c *Classifier) isQuestion(sentence string) bool {
	trimmed := strings.TrimSpace(sentence)
	if strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "？") {
		return true
	}
	for _, cue := range c.lex.Question {
		if strings.Contains(trimmed, cue) {
			return true
		}
	}
	return false
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if cue == "" {
			continue
		}
		if strings.Contains(s, strings.ToLower(cue)) {
			return true
		}
	}
	return false
}
