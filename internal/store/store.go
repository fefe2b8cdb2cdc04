// Package store persists exception rules, feedback records, and audit
// results in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/engine"
	"github.com/raaihank/ad-sentinel/internal/feedback"
	"github.com/raaihank/ad-sentinel/internal/pattern"
)

// Config contains database configuration.
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// Store wraps the PostgreSQL connection pool.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// schema bootstraps the engine's tables. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS exception_rules (
		id BIGSERIAL PRIMARY KEY,
		pattern_id TEXT NOT NULL,
		exception_type TEXT NOT NULL,
		exception_value TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		hit_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exception_rules_pattern ON exception_rules (pattern_id) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS false_positive_cases (
		id BIGSERIAL PRIMARY KEY,
		pattern_id TEXT NOT NULL,
		matched_text TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS exception_suggestions (
		id BIGSERIAL PRIMARY KEY,
		pattern_id TEXT NOT NULL,
		exception_type TEXT NOT NULL,
		exception_value TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'collecting',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		occurrence_count BIGINT NOT NULL DEFAULT 0,
		source_fp_ids TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_results (
		id BIGSERIAL PRIMARY KEY,
		document_id TEXT NOT NULL,
		snapshot_version TEXT NOT NULL,
		grade TEXT NOT NULL,
		clean_score DOUBLE PRECISION NOT NULL,
		final_count INT NOT NULL,
		gemini_original_count INT NOT NULL,
		audit_delta INT NOT NULL,
		degraded BOOLEAN NOT NULL DEFAULT FALSE,
		payload JSONB NOT NULL,
		analyzed_at TIMESTAMPTZ NOT NULL
	)`,
}

// New connects to PostgreSQL, configures the pool, and verifies the schema.
func New(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	s := &Store{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return s, nil
}

// initialize pings the database and applies the schema.
func (s *Store) initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// ActiveExceptions loads every active exception rule grouped by pattern ID.
// The result is treated as an immutable snapshot by the engine.
func (s *Store) ActiveExceptions(ctx context.Context) (map[string][]pattern.ExceptionRule, error) {
	var rules []pattern.ExceptionRule
	query := `SELECT id, pattern_id, exception_type, exception_value, is_active, hit_count, created_at
		FROM exception_rules WHERE is_active ORDER BY pattern_id, id`
	if err := s.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("failed to load exception rules: %w", err)
	}

	byPattern := make(map[string][]pattern.ExceptionRule)
	for _, r := range rules {
		byPattern[r.PatternID] = append(byPattern[r.PatternID], r)
	}
	return byPattern, nil
}

// InsertExceptionRule stores a new exception rule and fills in its ID.
func (s *Store) InsertExceptionRule(ctx context.Context, rule *pattern.ExceptionRule) error {
	query := `INSERT INTO exception_rules (pattern_id, exception_type, exception_value, is_active)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	err := s.db.QueryRowContext(ctx, query, rule.PatternID, rule.Type, rule.Value, rule.Active).
		Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert exception rule: %w", err)
	}
	return nil
}

// SetExceptionActive flips a rule's active flag (soft delete / restore).
func (s *Store) SetExceptionActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exception_rules SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update exception rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordExceptionHit atomically increments a rule's hit counter. Multiple
// documents scored concurrently against one rule-set snapshot all funnel
// through this single UPDATE.
func (s *Store) RecordExceptionHit(ctx context.Context, exceptionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE exception_rules SET hit_count = hit_count + 1 WHERE id = $1`, exceptionID)
	if err != nil {
		return fmt.Errorf("failed to record exception hit: %w", err)
	}
	return nil
}

// InsertFalsePositive implements feedback.Store.
func (s *Store) InsertFalsePositive(ctx context.Context, fp *feedback.FalsePositiveCase) error {
	query := `INSERT INTO false_positive_cases (pattern_id, matched_text, context, status)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	err := s.db.QueryRowContext(ctx, query, fp.PatternID, fp.MatchedText, fp.Context, fp.Status).
		Scan(&fp.ID, &fp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert false-positive case: %w", err)
	}
	return nil
}

// ListCasesByPattern implements feedback.Store.
func (s *Store) ListCasesByPattern(ctx context.Context, patternID string) ([]feedback.FalsePositiveCase, error) {
	var cases []feedback.FalsePositiveCase
	query := `SELECT id, pattern_id, matched_text, context, status, created_at
		FROM false_positive_cases WHERE pattern_id = $1 ORDER BY id`
	if err := s.db.SelectContext(ctx, &cases, query, patternID); err != nil {
		return nil, fmt.Errorf("failed to list false-positive cases: %w", err)
	}
	return cases, nil
}

// UpdateCaseStatus transitions a case with a state guard in the UPDATE
// itself, so concurrent writers cannot skip a step.
func (s *Store) UpdateCaseStatus(ctx context.Context, id int64, from, to feedback.CaseStatus) error {
	if err := feedback.ValidateCaseTransition(from, to); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE false_positive_cases SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update case status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: case %d not in status %s", feedback.ErrIllegalTransition, id, from)
	}
	return nil
}

// InsertSuggestion implements feedback.Store.
func (s *Store) InsertSuggestion(ctx context.Context, sg *feedback.Suggestion) error {
	ids, err := json.Marshal(sg.SourceFPIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source case ids: %w", err)
	}
	query := `INSERT INTO exception_suggestions
		(pattern_id, exception_type, exception_value, status, confidence, occurrence_count, source_fp_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	err = s.db.QueryRowContext(ctx, query,
		sg.PatternID, sg.ExceptionType, sg.Value, sg.Status, sg.Confidence, sg.OccurrenceCount, string(ids)).
		Scan(&sg.ID, &sg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert suggestion: %w", err)
	}
	return nil
}

// GetSuggestion implements feedback.Store.
func (s *Store) GetSuggestion(ctx context.Context, id int64) (*feedback.Suggestion, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT id, pattern_id, exception_type, exception_value, status, confidence, occurrence_count, source_fp_ids, created_at
		FROM exception_suggestions WHERE id = $1`, id)

	var sg feedback.Suggestion
	var rawIDs string
	err := row.Scan(&sg.ID, &sg.PatternID, &sg.ExceptionType, &sg.Value, &sg.Status,
		&sg.Confidence, &sg.OccurrenceCount, &rawIDs, &sg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestion: %w", err)
	}
	if err := json.Unmarshal([]byte(rawIDs), &sg.SourceFPIDs); err != nil {
		s.logger.Warn("Suggestion has malformed source ids", zap.Int64("id", id), zap.Error(err))
	}
	return &sg, nil
}

// UpdateSuggestionStatus transitions a suggestion with a state guard.
func (s *Store) UpdateSuggestionStatus(ctx context.Context, id int64, from, to feedback.SuggestionStatus) error {
	if err := feedback.ValidateSuggestionTransition(from, to); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE exception_suggestions SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update suggestion status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: suggestion %d not in status %s", feedback.ErrIllegalTransition, id, from)
	}
	return nil
}

// PromoteSuggestion creates the exception rule for an approved suggestion
// and marks it applied, in one transaction.
func (s *Store) PromoteSuggestion(ctx context.Context, sg *feedback.Suggestion) (*pattern.ExceptionRule, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rule := &pattern.ExceptionRule{
		PatternID: sg.PatternID,
		Type:      sg.ExceptionType,
		Value:     sg.Value,
		Active:    true,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO exception_rules (pattern_id, exception_type, exception_value, is_active)
		VALUES ($1, $2, $3, TRUE) RETURNING id, created_at`,
		rule.PatternID, rule.Type, rule.Value).
		Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create exception rule: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE exception_suggestions SET status = $2 WHERE id = $1 AND status = $3`,
		sg.ID, feedback.SuggestionApplied, feedback.SuggestionApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to mark suggestion applied: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: suggestion %d not approved", feedback.ErrIllegalTransition, sg.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit promotion: %w", err)
	}
	return rule, nil
}

// SaveAuditResult persists the audited output of one document.
func (s *Store) SaveAuditResult(ctx context.Context, out *engine.Output) error {
	if out.Audit == nil {
		return nil
	}
	payload, err := json.Marshal(out.Audit)
	if err != nil {
		return fmt.Errorf("failed to marshal audit result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_results
		(document_id, snapshot_version, grade, clean_score, final_count, gemini_original_count, audit_delta, degraded, payload, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		out.DocumentID, out.SnapshotVersion, out.Grade, out.CleanScore,
		out.Audit.FinalCount, out.Audit.GeminiOriginalCount, out.Audit.AuditDelta,
		out.Audit.Degraded, payload, out.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("failed to save audit result: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL hides the password for logging.
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	if colon := strings.LastIndex(userPart, ":"); colon > strings.Index(userPart, "//")+1 {
		return userPart[:colon+1] + "***" + url[at:]
	}
	return url
}
