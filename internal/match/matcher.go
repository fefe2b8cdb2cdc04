// Package match scans document text against a compiled pattern snapshot and
// produces ordered match candidates.
package match

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/classify"
	"github.com/raaihank/ad-sentinel/internal/pattern"
)

// defaultBaseConfidence is used when a pattern does not declare its own.
const defaultBaseConfidence = 0.8

// Matcher scans documents against a pattern snapshot. It holds no mutable
// state between scans; a single Matcher is safe for concurrent use.
type Matcher struct {
	classifier  *classify.Classifier
	windowChars int
	logger      *zap.Logger
}

// New creates a matcher. windowChars bounds the context window captured
// around each match; zero selects the default of 50.
func New(classifier *classify.Classifier, windowChars int, logger *zap.Logger) *Matcher {
	if windowChars <= 0 {
		windowChars = 50
	}
	return &Matcher{
		classifier:  classifier,
		windowChars: windowChars,
		logger:      logger,
	}
}

// Scan finds all candidates for the enabled patterns in snap. Results are
// ordered by start offset ascending, ties broken by pattern ID ascending.
//
// Keyword patterns match as case-insensitive substrings with no word
// boundary handling: recall is preferred here and precision is recovered by
// the exception filter downstream. Overlapping spans from the same pattern
// (a regex hit plus a keyword inside it) collapse to one candidate so a
// single expression is not penalized twice.
func (m *Matcher) Scan(text string, snap *pattern.Snapshot) []Candidate {
	lowered := foldPreserving(text)
	var candidates []Candidate

	for _, cp := range snap.Patterns() {
		var spans [][2]int
		if cp.Compiled != nil {
			for _, loc := range cp.Compiled.FindAllStringIndex(text, -1) {
				spans = append(spans, [2]int{loc[0], loc[1]})
			}
		}
		for _, kw := range cp.Lowered {
			spans = append(spans, substringLocations(lowered, kw)...)
		}
		for _, loc := range dedupeSpans(spans) {
			candidates = append(candidates, m.newCandidate(text, cp, loc[0], loc[1]))
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].PatternID < candidates[j].PatternID
	})

	m.logger.Debug("Document scanned",
		zap.Int("patterns", snap.Len()),
		zap.Int("candidates", len(candidates)))

	return candidates
}

// newCandidate builds a candidate with its context window, enclosing
// sentence, and classified context type.
func (m *Matcher) newCandidate(text string, cp *pattern.CompiledPattern, start, end int) Candidate {
	sentStart, sentEnd := sentenceBounds(text, start)
	sentence := text[sentStart:sentEnd]

	before := text[clampRuneStart(text, maxInt(0, start-m.windowChars)):start]
	after := text[end:clampRuneEnd(text, minInt(len(text), end+m.windowChars))]

	conf := cp.BaseConfidence
	if conf <= 0 {
		conf = defaultBaseConfidence
	}

	return Candidate{
		PatternID:  cp.ID,
		Pattern:    cp,
		Text:       text[start:end],
		Start:      start,
		End:        end,
		Before:     before,
		After:      after,
		Sentence:   sentence,
		Context:    m.classifier.Classify(sentence, start-sentStart, end-sentStart),
		Confidence: conf,
	}
}

// dedupeSpans keeps one span per overlapping group: earliest start first,
// the longer span winning on equal starts.
func dedupeSpans(spans [][2]int) [][2]int {
	if len(spans) < 2 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i][0] != spans[j][0] {
			return spans[i][0] < spans[j][0]
		}
		return spans[i][1] > spans[j][1]
	})
	kept := spans[:0]
	maxEnd := -1
	for _, s := range spans {
		if s[0] < maxEnd {
			continue
		}
		kept = append(kept, s)
		maxEnd = s[1]
	}
	return kept
}

// foldPreserving lowercases text rune by rune, keeping any rune whose
// lowercase form encodes to a different byte length so offsets into the
// folded copy stay valid for the original text. Hangul is caseless and
// ASCII folds in place; the exception is exotic letters like 'İ'.
func foldPreserving(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		l := unicode.ToLower(r)
		if utf8.RuneLen(l) != utf8.RuneLen(r) {
			l = r
		}
		b.WriteRune(l)
	}
	return b.String()
}

// substringLocations finds all non-overlapping occurrences of needle.
func substringLocations(haystack, needle string) [][2]int {
	if needle == "" {
		return nil
	}
	var locs [][2]int
	offset := 0
	for {
		idx := strings.Index(haystack[offset:], needle)
		if idx < 0 {
			return locs
		}
		start := offset + idx
		end := start + len(needle)
		locs = append(locs, [2]int{start, end})
		offset = end
	}
}

// sentenceTerminators end a sentence for boundary purposes.
var sentenceTerminators = []rune{'.', '!', '?', '\n', '。', '！', '？'}

func isTerminator(r rune) bool {
	for _, t := range sentenceTerminators {
		if r == t {
			return true
		}
	}
	return false
}

// sentenceBounds returns the byte range of the sentence enclosing pos.
func sentenceBounds(text string, pos int) (int, int) {
	if pos > len(text) {
		pos = len(text)
	}

	start := 0
	for i, r := range text {
		if i >= pos {
			break
		}
		if isTerminator(r) {
			start = i + utf8.RuneLen(r)
		}
	}

	end := len(text)
	for i, r := range text[pos:] {
		if isTerminator(r) {
			end = pos + i + utf8.RuneLen(r)
			break
		}
	}

	return start, end
}

// clampRuneStart moves pos forward to the nearest rune boundary.
func clampRuneStart(s string, pos int) int {
	for pos < len(s) && !utf8.RuneStart(s[pos]) {
		pos++
	}
	return pos
}

// clampRuneEnd moves pos backward to the nearest rune boundary.
func clampRuneEnd(s string, pos int) int {
	for pos > 0 && pos < len(s) && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
