// Package audit persists audit entries to Postgres: append-only inserts,
// filtered range queries, and the two retention operations (sweep, erase)
// GDPR-style data handling requires.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// db is the subset of pgxpool.Pool the store needs, so tests can substitute
// a fake without standing up a real connection.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the audit store client: insert, query, erase, sweep, stats.
type Store struct {
	DB db
}

// NewStore wraps a pgx-compatible pool.
func NewStore(pool db) *Store {
	return &Store{DB: pool}
}

var ErrNotFound = errors.New("audit: entry not found")

// Insert appends one audit row and returns its assigned id.
func (s *Store) Insert(ctx context.Context, e Entry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var id int64
	err := s.DB.QueryRow(ctx, `
		INSERT INTO audit_records
			(request_id, ts, method, path, caller_fingerprint, user_agent_fingerprint,
			 key_fingerprint, request_bytes, response_status, response_bytes, latency_ms,
			 is_blocked, block_reason, detected_issues_count, security_confidence,
			 llm_provider, llm_model, metadata, retention_until)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING id
	`,
		e.RequestID, e.Timestamp, e.Method, e.Path, e.CallerFingerprint, e.UserAgentFingerprint,
		nullableString(e.KeyFingerprint), e.RequestBytes, e.ResponseStatus, e.ResponseBytes, e.LatencyMillis,
		e.IsBlocked, string(e.BlockReason), e.DetectedIssuesCount, e.SecurityConfidence,
		e.LLMProvider, e.LLMModel, nullableJSON(e.Metadata), e.RetentionUntil,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("audit: insert: %w", err)
	}
	return id, nil
}

// Filter scopes a Query call. Limit is clamped to 1000.
type Filter struct {
	Since             time.Time
	Until             time.Time
	CallerFingerprint string
	IsBlocked         *bool
	ResponseStatus    *int
	Limit             int
	Offset            int
}

// Query returns entries matching filter, ordered by timestamp descending.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	conds := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "ts >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "ts <= "+arg(f.Until))
	}
	if f.CallerFingerprint != "" {
		conds = append(conds, "caller_fingerprint = "+arg(f.CallerFingerprint))
	}
	if f.IsBlocked != nil {
		conds = append(conds, "is_blocked = "+arg(*f.IsBlocked))
	}
	if f.ResponseStatus != nil {
		conds = append(conds, "response_status = "+arg(*f.ResponseStatus))
	}
	where := conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	query := fmt.Sprintf(`
		SELECT id, request_id, ts, method, path, caller_fingerprint, user_agent_fingerprint,
		       coalesce(key_fingerprint, ''), request_bytes, response_status, response_bytes, latency_ms,
		       is_blocked, block_reason, detected_issues_count, security_confidence,
		       llm_provider, llm_model, coalesce(metadata, '{}'::jsonb), retention_until
		FROM audit_records
		WHERE %s
		ORDER BY ts DESC
		LIMIT %s OFFSET %s
	`, where, arg(limit), arg(f.Offset))
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.Method, &e.Path, &e.CallerFingerprint,
			&e.UserAgentFingerprint, &e.KeyFingerprint, &e.RequestBytes, &e.ResponseStatus, &e.ResponseBytes,
			&e.LatencyMillis, &e.IsBlocked, &e.BlockReason, &e.DetectedIssuesCount, &e.SecurityConfidence,
			&e.LLMProvider, &e.LLMModel, &metadata, &e.RetentionUntil); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Metadata = json.RawMessage(metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EraseByCaller hard-deletes every row for a caller fingerprint, satisfying
// a data-subject erasure request.
func (s *Store) EraseByCaller(ctx context.Context, callerFingerprint string) (int64, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM audit_records WHERE caller_fingerprint = $1`, callerFingerprint)
	if err != nil {
		return 0, fmt.Errorf("audit: erase: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepExpired hard-deletes every row whose retention window has elapsed.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM audit_records WHERE retention_until < now()`)
	if err != nil {
		return 0, fmt.Errorf("audit: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats is the aggregate summary over a time range.
type Stats struct {
	TotalRequests   int64            `json:"total_requests"`
	BlockedRequests int64            `json:"blocked_requests"`
	BlockRate       float64          `json:"block_rate"`
	AvgLatencyMS    float64          `json:"avg_latency_ms"`
	UniqueCallers   int64            `json:"unique_callers"`
	CountsByStatus  map[string]int64 `json:"counts_by_status"`
}

// StatsOver computes Stats for [since, until) in a single pass: the status
// breakdown is produced by a GROUP BY in a CTE and merged with the totals
// via jsonb_object_agg, not a cross-join against the base table (see
// DESIGN.md for why a cross-join was rejected).
func (s *Store) StatsOver(ctx context.Context, since, until time.Time) (Stats, error) {
	row := s.DB.QueryRow(ctx, `
		WITH base AS (
			SELECT * FROM audit_records WHERE ts >= $1 AND ts < $2
		), by_status AS (
			SELECT response_status::text AS status, count(*) AS n
			FROM base
			GROUP BY response_status
		)
		SELECT
			count(*) FILTER (WHERE true) AS total,
			count(*) FILTER (WHERE is_blocked) AS blocked,
			coalesce(avg(latency_ms), 0) AS avg_latency,
			count(DISTINCT caller_fingerprint) AS unique_callers,
			coalesce((SELECT jsonb_object_agg(status, n) FROM by_status), '{}'::jsonb) AS counts_by_status
		FROM base
	`, since, until)
	var total, blocked, uniqueCallers int64
	var avgLatency float64
	var countsRaw []byte
	if err := row.Scan(&total, &blocked, &avgLatency, &uniqueCallers, &countsRaw); err != nil {
		return Stats{}, fmt.Errorf("audit: stats: %w", err)
	}
	counts := map[string]int64{}
	_ = json.Unmarshal(countsRaw, &counts)
	blockRate := 0.0
	if total > 0 {
		blockRate = float64(blocked) / float64(total)
	}
	return Stats{
		TotalRequests:   total,
		BlockedRequests: blocked,
		BlockRate:       blockRate,
		AvgLatencyMS:    avgLatency,
		UniqueCallers:   uniqueCallers,
		CountsByStatus:  counts,
	}, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
