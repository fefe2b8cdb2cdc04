// Package score aggregates surviving violations into a clean score and an
// ordered letter grade.
package score

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/violation"
)

// Band maps a score floor to a letter grade. Bands must be contiguous and
// cover the whole score range.
type Band struct {
	Grade string  `yaml:"grade" mapstructure:"grade"`
	Min   float64 `yaml:"min" mapstructure:"min"`
}

// Config holds the scoring weights and grade bands. Weights are a
// configuration, not hardcoded ratios; they only have to be monotonic in
// severity.
type Config struct {
	Baseline float64                      `yaml:"baseline" mapstructure:"baseline"`
	Weights  map[pattern.Severity]float64 `yaml:"weights" mapstructure:"weights"`
	Bands    []Band                       `yaml:"bands" mapstructure:"bands"`
}

// DefaultConfig returns the stock 100-point baseline with S..F bands.
func DefaultConfig() Config {
	return Config{
		Baseline: 100,
		Weights: map[pattern.Severity]float64{
			pattern.SeverityCritical: 30,
			pattern.SeverityHigh:     20,
			pattern.SeverityMajor:    15,
			pattern.SeverityMedium:   10,
			pattern.SeverityMinor:    5,
			pattern.SeverityLow:      2,
		},
		Bands: []Band{
			{Grade: "S", Min: 85},
			{Grade: "A", Min: 70},
			{Grade: "B", Min: 55},
			{Grade: "C", Min: 40},
			{Grade: "D", Min: 25},
			{Grade: "F", Min: 0},
		},
	}
}

// Validate checks that weights are monotonic in severity and that the grade
// bands are contiguous and cover [0, baseline].
func (c Config) Validate() error {
	if c.Baseline <= 0 {
		return fmt.Errorf("baseline must be positive, got %g", c.Baseline)
	}

	order := []pattern.Severity{
		pattern.SeverityCritical,
		pattern.SeverityHigh,
		pattern.SeverityMajor,
		pattern.SeverityMedium,
		pattern.SeverityMinor,
		pattern.SeverityLow,
	}
	prev := -1.0
	for i := len(order) - 1; i >= 0; i-- {
		w, ok := c.Weights[order[i]]
		if !ok {
			return fmt.Errorf("missing weight for severity %s", order[i])
		}
		if w < 0 {
			return fmt.Errorf("negative weight for severity %s", order[i])
		}
		if w < prev {
			return fmt.Errorf("weights not monotonic: %s < %s", order[i], order[i+1])
		}
		prev = w
	}

	if len(c.Bands) == 0 {
		return fmt.Errorf("no grade bands configured")
	}
	bands := make([]Band, len(c.Bands))
	copy(bands, c.Bands)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Min > bands[j].Min })
	if bands[len(bands)-1].Min != 0 {
		return fmt.Errorf("grade bands leave a gap below %g", bands[len(bands)-1].Min)
	}
	for i := 1; i < len(bands); i++ {
		if bands[i].Min == bands[i-1].Min {
			return fmt.Errorf("duplicate grade band floor %g", bands[i].Min)
		}
	}
	return nil
}

// Summary is the aggregate compliance rating of one document.
type Summary struct {
	CleanScore float64 `json:"cleanScore"`
	Grade      string  `json:"grade"`
	Confidence float64 `json:"confidence"`
	Penalty    float64 `json:"penalty"`
}

// Scorer computes clean scores and grades from violation sets.
type Scorer struct {
	cfg    Config
	bands  []Band
	logger *zap.Logger
}

// New creates a scorer from a validated config.
func New(cfg Config, logger *zap.Logger) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	bands := make([]Band, len(cfg.Bands))
	copy(bands, cfg.Bands)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Min > bands[j].Min })
	return &Scorer{cfg: cfg, bands: bands, logger: logger}, nil
}

// Score subtracts a severity-weighted penalty per violation from the
// baseline, clamps to [0, baseline], and maps the result to a grade.
// Overall confidence is the minimum of the individual confidences (1.0 for
// a clean document), clamped to [0,1].
func (s *Scorer) Score(violations []violation.Result) Summary {
	penalty := 0.0
	confidence := 1.0
	for _, v := range violations {
		penalty += s.cfg.Weights[v.Severity]
		if v.Confidence < confidence {
			confidence = v.Confidence
		}
	}

	score := s.cfg.Baseline - penalty
	if score < 0 {
		score = 0
	}
	if score > s.cfg.Baseline {
		score = s.cfg.Baseline
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Summary{
		CleanScore: score,
		Grade:      s.gradeFor(score),
		Confidence: confidence,
		Penalty:    penalty,
	}
}

// gradeFor maps a clean score onto the configured bands.
func (s *Scorer) gradeFor(score float64) string {
	for _, b := range s.bands {
		if score >= b.Min {
			return b.Grade
		}
	}
	return s.bands[len(s.bands)-1].Grade
}
