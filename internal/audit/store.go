package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/glasslm/internal/config"
	"github.com/raaihank/glasslm/internal/privacy"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS masking_events (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		placeholder TEXT NOT NULL,
		confidence TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS leakage_events (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_masking_events_created_at ON masking_events (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_leakage_events_created_at ON leakage_events (created_at)`,
}

// Store persists masking and leakage events in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the audit database and applies the schema
func NewStore(cfg config.AuditConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := NewStoreWithDB(db, logger)
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return store, nil
}

// NewStoreWithDB wraps an existing connection without touching the schema
func NewStoreWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return s.Migrate(ctx)
}

// Migrate creates the audit tables when missing
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// RecordMasking stores one row per masked item in a single statement
func (s *Store) RecordMasking(ctx context.Context, meta Meta, items []privacy.MaskedItem) (*BatchResult, error) {
	if len(items) == 0 {
		return &BatchResult{}, nil
	}

	start := time.Now()
	const cols = 6
	valueStrings := make([]string, 0, len(items))
	valueArgs := make([]interface{}, 0, len(items)*cols)

	for i, item := range items {
		valueStrings = append(valueStrings, placeholders(i, cols))
		valueArgs = append(valueArgs,
			meta.RequestID,
			meta.SessionID,
			meta.Provider,
			string(item.Category),
			item.Placeholder,
			string(item.Confidence),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO masking_events (request_id, session_id, provider, category, placeholder, confidence)
		VALUES %s`, strings.Join(valueStrings, ","))

	return s.execBatch(ctx, "masking", query, valueArgs, start)
}

// RecordLeakage stores one row per leakage warning
func (s *Store) RecordLeakage(ctx context.Context, meta Meta, warnings []privacy.LeakageWarning) (*BatchResult, error) {
	if len(warnings) == 0 {
		return &BatchResult{}, nil
	}

	start := time.Now()
	const cols = 7
	valueStrings := make([]string, 0, len(warnings))
	valueArgs := make([]interface{}, 0, len(warnings)*cols)

	for i, w := range warnings {
		valueStrings = append(valueStrings, placeholders(i, cols))
		valueArgs = append(valueArgs,
			meta.RequestID,
			meta.SessionID,
			meta.Provider,
			string(w.Kind),
			string(w.Severity),
			string(w.Category),
			w.Description,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO leakage_events (request_id, session_id, provider, kind, severity, category, description)
		VALUES %s`, strings.Join(valueStrings, ","))

	return s.execBatch(ctx, "leakage", query, valueArgs, start)
}

func (s *Store) execBatch(ctx context.Context, table, query string, args []interface{}, start time.Time) (*BatchResult, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Audit insert failed", zap.String("table", table), zap.Error(err))
		return nil, fmt.Errorf("failed to record %s events: %w", table, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
	}

	result := &BatchResult{Inserted: inserted, Duration: time.Since(start)}
	s.logger.Debug("Audit events recorded",
		zap.String("table", table),
		zap.Int64("inserted", result.Inserted),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// RecentMasking returns the newest masking events
func (s *Store) RecentMasking(ctx context.Context, limit int) ([]MaskingEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []MaskingEvent
	query := `
		SELECT id, request_id, session_id, provider, category, placeholder, confidence, created_at
		FROM masking_events
		ORDER BY created_at DESC
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query masking events: %w", err)
	}
	return events, nil
}

// RecentLeakage returns the newest leakage events
func (s *Store) RecentLeakage(ctx context.Context, limit int) ([]LeakageEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []LeakageEvent
	query := `
		SELECT id, request_id, session_id, provider, kind, severity, category, description, created_at
		FROM leakage_events
		ORDER BY created_at DESC
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query leakage events: %w", err)
	}
	return events, nil
}

// Summarize aggregates events created at or after since
func (s *Store) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	summary := &Summary{Since: since}

	query := `
		SELECT
			(SELECT COUNT(*) FROM masking_events WHERE created_at >= $1) AS masked,
			(SELECT COUNT(*) FROM leakage_events WHERE created_at >= $1) AS leakage`
	if err := s.db.QueryRowContext(ctx, query, since).Scan(&summary.TotalMasked, &summary.TotalLeakage); err != nil {
		return nil, fmt.Errorf("failed to get audit totals: %w", err)
	}

	byCategory := `
		SELECT category, COUNT(*) AS count
		FROM masking_events
		WHERE created_at >= $1
		GROUP BY category
		ORDER BY count DESC, category`
	if err := s.db.SelectContext(ctx, &summary.ByCategory, byCategory, since); err != nil {
		return nil, fmt.Errorf("failed to get category counts: %w", err)
	}

	return summary, nil
}

// Purge deletes events older than before and returns the number removed
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"masking_events", "leakage_events"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < $1", before)
		if err != nil {
			return total, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Info("Purged audit events", zap.Int64("deleted", total), zap.Time("before", before))
	}
	return total, nil
}

// StartRetention purges events older than retention once an hour until ctx is done
func (s *Store) StartRetention(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			if _, err := s.Purge(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
				s.logger.Warn("Audit purge failed", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// placeholders renders ($n, ...) for row i of a multi-row insert
func placeholders(row, cols int) string {
	parts := make([]string, cols)
	for c := 0; c < cols; c++ {
		parts[c] = fmt.Sprintf("$%d", row*cols+c+1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	scheme := strings.Index(userPart, "://")
	colon := strings.LastIndex(userPart, ":")
	if colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
