package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"shoplist/internal/shared"
)

// ExecutionMetric records metadata for a single oracle call.
type ExecutionMetric struct {
	AgentName        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMS        int64
	Timestamp        time.Time
}

// Store persists metrics to the shared application database. The SQL sticks
// to the dialect-neutral subset; only the placeholder style differs between
// backends, handled by rebind.
type Store struct {
	db       *sql.DB
	postgres bool
}

// NewStore wraps an existing sqlite connection. The connection is owned by
// the caller; Store never closes it.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewPostgresStore wraps an existing Postgres connection.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{db: db, postgres: true}
}

// rebind converts ? placeholders to $1..$n for Postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record saves one metric row.
func (s *Store) Record(m ExecutionMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(context.Background(), s.rebind(`
		INSERT INTO execution_metrics (agent_name, model_name, prompt_tokens, completion_tokens, total_tokens, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		m.AgentName, m.Model, m.PromptTokens, m.CompletionTokens, m.TotalTokens, m.LatencyMS, ts)
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// RecordMeta records a metric directly from call metadata. Calls that never
// reached the oracle carry zero usage and are skipped.
func (s *Store) RecordMeta(meta shared.AgentMeta) error {
	if meta.Usage.PromptTokens == 0 && meta.Usage.CompletionTokens == 0 {
		return nil
	}
	return s.Record(ExecutionMetric{
		AgentName:        meta.AgentName,
		Model:            meta.Usage.Model,
		PromptTokens:     meta.Usage.PromptTokens,
		CompletionTokens: meta.Usage.CompletionTokens,
		TotalTokens:      meta.Usage.TotalTokens,
		LatencyMS:        meta.Latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	})
}

// DailyUsage is the token total for a single day.
type DailyUsage struct {
	Date            string
	TotalPrompt     int
	TotalCompletion int
	TotalExecution  int
}

// GetDailyUsage aggregates usage per day over the last N days.
func (s *Store) GetDailyUsage(days int) ([]DailyUsage, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(context.Background(), s.rebind(`
		SELECT date(created_at) AS day,
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COUNT(*)
		FROM execution_metrics
		WHERE created_at >= ?
		GROUP BY day
		ORDER BY day DESC`), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.TotalPrompt, &u.TotalCompletion, &u.TotalExecution); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// Cleanup removes metric rows older than the given number of days and
// reports how many were deleted.
func (s *Store) Cleanup(olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.ExecContext(context.Background(),
		s.rebind("DELETE FROM execution_metrics WHERE created_at < ?"), threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up metrics: %w", err)
	}
	return res.RowsAffected()
}
