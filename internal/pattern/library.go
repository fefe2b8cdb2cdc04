package pattern

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadLibrary reads a versioned pattern library from a YAML file.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file: %w", err)
	}

	if err := validateLibrary(&lib); err != nil {
		return nil, fmt.Errorf("invalid pattern library: %w", err)
	}

	return &lib, nil
}

// validateLibrary enforces structural invariants: pattern IDs are unique and
// every pattern has either a regex or a keyword list.
func validateLibrary(lib *Library) error {
	seen := make(map[string]bool, len(lib.Patterns))
	for _, p := range lib.Patterns {
		if p.ID == "" {
			return fmt.Errorf("pattern %q has an empty id", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate pattern id: %s", p.ID)
		}
		seen[p.ID] = true

		if p.Regex == "" && len(p.Keywords) == 0 {
			return fmt.Errorf("pattern %s has neither regex nor keywords", p.ID)
		}
	}
	return nil
}

// Snapshot is an immutable compiled view of the enabled patterns in a library.
// A snapshot is taken once per analysis pass; library mutations only become
// visible on the next snapshot.
type Snapshot struct {
	Version     string
	patterns    []*CompiledPattern
	byID        map[string]*CompiledPattern
	Diagnostics []CompileDiagnostic
}

// NewSnapshot compiles the enabled patterns of a library. A malformed regex
// or unrecognized severity skips that single pattern and records a
// diagnostic; the remaining patterns still compile.
func NewSnapshot(lib *Library, logger *zap.Logger) *Snapshot {
	snap := &Snapshot{
		Version: lib.Version,
		byID:    make(map[string]*CompiledPattern),
	}

	for _, p := range lib.Patterns {
		if !p.Enabled {
			continue
		}

		sev, ok := NormalizeSeverity(p.DefaultSeverity)
		if !ok {
			snap.Diagnostics = append(snap.Diagnostics, CompileDiagnostic{
				PatternID: p.ID,
				Reason:    fmt.Sprintf("unrecognized severity %q", p.DefaultSeverity),
			})
			logger.Warn("Pattern skipped: unrecognized severity",
				zap.String("pattern_id", p.ID),
				zap.String("severity", p.DefaultSeverity))
			continue
		}

		cp := &CompiledPattern{Pattern: p, Severity: sev}

		if p.Regex != "" {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				snap.Diagnostics = append(snap.Diagnostics, CompileDiagnostic{
					PatternID: p.ID,
					Reason:    fmt.Sprintf("regex compile failed: %v", err),
				})
				logger.Warn("Pattern skipped: malformed regex",
					zap.String("pattern_id", p.ID),
					zap.Error(err))
				continue
			}
			cp.Compiled = re
		}

		cp.Lowered = make([]string, 0, len(p.Keywords))
		for _, kw := range p.Keywords {
			if kw == "" {
				continue
			}
			cp.Lowered = append(cp.Lowered, strings.ToLower(kw))
		}

		snap.patterns = append(snap.patterns, cp)
		snap.byID[p.ID] = cp
	}

	// Deterministic scan order regardless of file ordering.
	sort.Slice(snap.patterns, func(i, j int) bool {
		return snap.patterns[i].ID < snap.patterns[j].ID
	})

	logger.Info("Pattern snapshot compiled",
		zap.String("version", lib.Version),
		zap.Int("enabled_patterns", len(snap.patterns)),
		zap.Int("skipped_patterns", len(snap.Diagnostics)))

	return snap
}

// Patterns returns the compiled patterns in deterministic (ID) order.
func (s *Snapshot) Patterns() []*CompiledPattern {
	return s.patterns
}

// Get returns the compiled pattern for an ID, if it is enabled in this snapshot.
func (s *Snapshot) Get(id string) (*CompiledPattern, bool) {
	cp, ok := s.byID[id]
	return cp, ok
}

// Has reports whether a pattern ID exists in the enabled set. The auditor
// uses this to catch fabricated pattern references.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Len returns the number of compiled patterns.
func (s *Snapshot) Len() int {
	return len(s.patterns)
}
