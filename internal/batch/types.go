package batch

import (
	"strings"
	"time"
)

// DocumentRecord is one advertisement document from an input dataset.
type DocumentRecord struct {
	DocumentID   string `csv:"document_id" parquet:"document_id" json:"document_id"`
	Text         string `csv:"text" parquet:"text" json:"text"`
	HospitalName string `csv:"hospital_name" parquet:"hospital_name" json:"hospital_name"`
	Department   string `csv:"department" parquet:"department" json:"department"`
	AdType       string `csv:"ad_type" parquet:"ad_type" json:"ad_type"`
}

// Config contains batch pipeline configuration.
type Config struct {
	BatchSize    int  `yaml:"batch_size" mapstructure:"batch_size"`
	Workers      int  `yaml:"workers" mapstructure:"workers"`
	SkipAudit    bool `yaml:"skip_audit" mapstructure:"skip_audit"`
	ValidateOnly bool `yaml:"validate_only" mapstructure:"validate_only"`
}

// ProcessingResult aggregates the outcome of one pipeline run.
type ProcessingResult struct {
	TotalRecords    int64            `json:"total_records"`
	ProcessedOK     int64            `json:"processed_ok"`
	ProcessedFailed int64            `json:"processed_failed"`
	SkippedInvalid  int64            `json:"skipped_invalid"`
	ViolationDocs   int64            `json:"violation_docs"`
	CleanDocs       int64            `json:"clean_docs"`
	GradeCounts     map[string]int64 `json:"grade_counts"`
	Duration        time.Duration    `json:"duration"`
	AnalysisTime    time.Duration    `json:"analysis_time"`
}

// FileFormat identifies a supported input format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
	FormatUnknown FileFormat = "unknown"
)

// DetectFormat determines the input format from the filename extension.
func DetectFormat(filename string) FileFormat {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return FormatCSV
	case strings.HasSuffix(lower, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".jsonl"):
		return FormatJSON
	default:
		return FormatUnknown
	}
}
