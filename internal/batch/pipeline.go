package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/engine"
	"github.com/raaihank/ad-sentinel/internal/violation"
)

// Pipeline reads document datasets and runs them through the analysis
// engine in batches.
type Pipeline struct {
	config *Config
	engine *engine.Engine
	logger *zap.Logger
}

// New creates a batch pipeline.
func New(cfg *Config, eng *engine.Engine, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Pipeline{
		config: cfg,
		engine: eng,
		logger: logger,
	}
}

// Run processes the input file end to end, writing one result per line to
// out. A failed document is reported and skipped, the run keeps going.
func (p *Pipeline) Run(ctx context.Context, inputPath string, out io.Writer) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{GradeCounts: map[string]int64{}}

	format := DetectFormat(inputPath)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported input format: %s", inputPath)
	}

	p.logger.Info("Starting batch analysis",
		zap.String("input", inputPath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.Workers))

	var err error
	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, inputPath, out, result)
	case FormatParquet:
		err = p.processParquet(ctx, inputPath, out, result)
	case FormatJSON:
		err = p.processJSON(ctx, inputPath, out, result)
	}
	if err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	p.logger.Info("Batch analysis completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("skipped_invalid", result.SkippedInvalid),
		zap.Int64("violation_docs", result.ViolationDocs),
		zap.Int64("clean_docs", result.CleanDocs),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("analysis_time", result.AnalysisTime))

	return result, nil
}

func (p *Pipeline) processCSV(ctx context.Context, filePath string, out io.Writer, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.ToLower(name))] = i
	}
	if _, ok := columns["text"]; !ok {
		return fmt.Errorf("CSV header missing required column %q", "text")
	}

	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	field := func(row []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	return p.processBatches(ctx, func() ([]*DocumentRecord, error) {
		var batch []*DocumentRecord
		for len(batch) < p.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				result.SkippedInvalid++
				continue
			}

			record := &DocumentRecord{
				DocumentID:   field(row, "document_id"),
				Text:         field(row, "text"),
				HospitalName: field(row, "hospital_name"),
				Department:   field(row, "department"),
				AdType:       field(row, "ad_type"),
			}
			if p.validateRecord(record, result) {
				batch = append(batch, record)
			}
		}
		return batch, nil
	}, out, result)
}

func (p *Pipeline) processParquet(ctx context.Context, filePath string, out io.Writer, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]*DocumentRecord, error) {
		var batch []*DocumentRecord
		for len(batch) < p.config.BatchSize {
			var record DocumentRecord
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read Parquet record", zap.Error(err))
				result.SkippedInvalid++
				continue
			}
			if p.validateRecord(&record, result) {
				batch = append(batch, &record)
			}
		}
		return batch, nil
	}, out, result)
}

// processJSON reads one JSON object per line.
func (p *Pipeline) processJSON(ctx context.Context, filePath string, out io.Writer, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return p.processBatches(ctx, func() ([]*DocumentRecord, error) {
		var batch []*DocumentRecord
		for len(batch) < p.config.BatchSize {
			var record DocumentRecord
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read JSON record", zap.Error(err))
				result.SkippedInvalid++
				continue
			}
			if p.validateRecord(&record, result) {
				batch = append(batch, &record)
			}
		}
		return batch, nil
	}, out, result)
}

func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*DocumentRecord, error), out io.Writer, result *ProcessingResult) error {
	encoder := json.NewEncoder(out)
	batchNum := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		records, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(records) == 0 {
			break
		}

		batchNum++
		result.TotalRecords += int64(len(records))

		if p.config.ValidateOnly {
			result.ProcessedOK += int64(len(records))
			continue
		}

		reqs := make([]engine.Request, len(records))
		for i, rec := range records {
			reqs[i] = engine.Request{
				DocumentID: rec.DocumentID,
				Text:       rec.Text,
				Meta: violation.DocumentMeta{
					HospitalName: rec.HospitalName,
					Department:   rec.Department,
					AdType:       rec.AdType,
				},
				SkipAudit: p.config.SkipAudit,
			}
		}

		analysisStart := time.Now()
		items := p.engine.AnalyzeBatch(ctx, reqs, p.config.Workers)
		result.AnalysisTime += time.Since(analysisStart)

		for _, item := range items {
			if item.Err != nil {
				result.ProcessedFailed++
				p.logger.Warn("Document analysis failed",
					zap.Int("index", item.Index),
					zap.String("document_id", reqs[item.Index].DocumentID),
					zap.Error(item.Err))
				continue
			}
			result.ProcessedOK++
			result.GradeCounts[item.Output.Grade]++
			if item.Output.Status == violation.StatusClean {
				result.CleanDocs++
			} else {
				result.ViolationDocs++
			}
			if err := encoder.Encode(item.Output); err != nil {
				return fmt.Errorf("failed to write result: %w", err)
			}
		}

		p.logger.Debug("Batch processed",
			zap.Int("batch", batchNum),
			zap.Int("records", len(records)),
			zap.Int64("total_ok", result.ProcessedOK))
	}

	return nil
}

func (p *Pipeline) validateRecord(record *DocumentRecord, result *ProcessingResult) bool {
	if strings.TrimSpace(record.Text) == "" {
		result.SkippedInvalid++
		return false
	}
	return true
}
