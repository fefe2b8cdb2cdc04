package engine

import (
	"context"
	"time"

	"github.com/raaihank/ad-sentinel/internal/audit"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/violation"
)

// Request is one document analysis request.
type Request struct {
	DocumentID string                 `json:"documentId,omitempty"`
	Text       string                 `json:"text"`
	Meta       violation.DocumentMeta `json:"metadata,omitempty"`
	// SkipAudit disables the external model pass for this document.
	SkipAudit bool `json:"skipAudit,omitempty"`
}

// Output is the stable result shape consumed by API callers.
type Output struct {
	DocumentID       string                      `json:"documentId,omitempty"`
	Violations       []violation.Result          `json:"violations"`
	Status           violation.Status            `json:"status"`
	Grade            string                      `json:"grade"`
	CleanScore       float64                     `json:"cleanScore"`
	Summary          string                      `json:"summary"`
	Confidence       float64                     `json:"confidence"`
	ProcessingTimeMS int64                       `json:"processingTime"`
	AnalyzedAt       time.Time                   `json:"analyzedAt"`
	SnapshotVersion  string                      `json:"snapshotVersion,omitempty"`
	Audit            *audit.Result               `json:"audit,omitempty"`
	Degraded         bool                        `json:"degraded,omitempty"`
	Diagnostics      []pattern.CompileDiagnostic `json:"diagnostics,omitempty"`
	CacheHit         bool                        `json:"cacheHit,omitempty"`
}

// BatchItem pairs a document's output with its isolated failure, if any.
// One document failing never aborts the rest of the batch.
type BatchItem struct {
	Index  int     `json:"index"`
	Output *Output `json:"output,omitempty"`
	Err    error   `json:"-"`
	ErrMsg string  `json:"error,omitempty"`
}

// ResultCache caches analysis outputs keyed by document hash and snapshot
// version. Implementations must treat failures as misses, never as fatal.
type ResultCache interface {
	Get(ctx context.Context, key string) (*Output, bool)
	Set(ctx context.Context, key string, out *Output)
}
