package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	eplerrors "epl-engine/internal/errors"
	"epl-engine/internal/models"
)

// SQLiteAuditLog implements AuditLog using SQLite.
type SQLiteAuditLog struct {
	db *sql.DB
}

// NewSQLiteAuditLog opens or creates the audit database at the given
// path.
func NewSQLiteAuditLog(dbPath string) (*SQLiteAuditLog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteAuditLog{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the decisions table and indexes.
func (s *SQLiteAuditLog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		candidate_id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		decision TEXT NOT NULL,
		priority TEXT NOT NULL,
		score REAL NOT NULL,
		confidence REAL NOT NULL,
		ignore_reason TEXT,
		reasons TEXT,
		suggestions TEXT,
		execution TEXT,
		risk TEXT,
		latency_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON decisions(symbol);
	CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteAuditLog) Close() error {
	return s.db.Close()
}

// Append inserts one decision record. Records are idempotent by
// candidate ID: re-appending the same candidate is a no-op.
func (s *SQLiteAuditLog) Append(ctx context.Context, result *models.EPLDecisionResult) error {
	reasons, err := json.Marshal(result.Reasons)
	if err != nil {
		return fmt.Errorf("marshaling reasons: %w", err)
	}
	suggestions, err := json.Marshal(result.Suggestions)
	if err != nil {
		return fmt.Errorf("marshaling suggestions: %w", err)
	}

	var execution, riskJSON []byte
	if result.Execution != nil {
		if execution, err = json.Marshal(result.Execution); err != nil {
			return fmt.Errorf("marshaling execution params: %w", err)
		}
	}
	if result.Risk != nil {
		if riskJSON, err = json.Marshal(result.Risk); err != nil {
			return fmt.Errorf("marshaling risk assessment: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO decisions
		(candidate_id, timestamp, symbol, direction, decision, priority,
		 score, confidence, ignore_reason, reasons, suggestions, execution, risk, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.CandidateID,
		result.Timestamp,
		result.Symbol,
		string(result.Direction),
		string(result.Decision),
		string(result.Priority),
		result.Score,
		result.Confidence,
		string(result.IgnoreReason),
		string(reasons),
		string(suggestions),
		nullableJSON(execution),
		nullableJSON(riskJSON),
		result.Latency.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting decision record: %w", err)
	}
	return nil
}

// GetByCandidateID returns the record for one candidate.
func (s *SQLiteAuditLog) GetByCandidateID(ctx context.Context, candidateID string) (*models.EPLDecisionResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT candidate_id, timestamp, symbol, direction, decision, priority,
		       score, confidence, ignore_reason, reasons, suggestions, execution, risk, latency_ms
		FROM decisions WHERE candidate_id = ?`, candidateID)

	result, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, eplerrors.Wrapf(eplerrors.ErrDecisionNotFound,
			"no decision record for candidate %s", candidateID)
	}
	return result, err
}

// List returns decision records matching the filter, newest first.
func (s *SQLiteAuditLog) List(ctx context.Context, filter DecisionFilter) ([]models.EPLDecisionResult, error) {
	query := `
		SELECT candidate_id, timestamp, symbol, direction, decision, priority,
		       score, confidence, ignore_reason, reasons, suggestions, execution, risk, latency_ms
		FROM decisions WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Decision != "" {
		query += " AND decision = ?"
		args = append(args, string(filter.Decision))
	}
	if filter.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(filter.Priority))
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var results []models.EPLDecisionResult
	for rows.Next() {
		result, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

// Stats aggregates decision records over the date range.
func (s *SQLiteAuditLog) Stats(ctx context.Context, from, to time.Time) (*DecisionStats, error) {
	query := `
		SELECT decision, priority, ignore_reason, score, confidence, latency_ms
		FROM decisions WHERE 1=1`
	var args []interface{}
	if !from.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, from)
	}
	if !to.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, to)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decision stats: %w", err)
	}
	defer rows.Close()

	stats := &DecisionStats{
		ByDecision:   make(map[models.EPLDecision]int),
		ByIgnoreCode: make(map[models.IgnoreReason]int),
		ByPriority:   make(map[models.PriorityClass]int),
	}

	var sumScore, sumConfidence float64
	var sumLatencyMS int64
	for rows.Next() {
		var decision, priority, ignoreReason string
		var score, confidence float64
		var latencyMS int64
		if err := rows.Scan(&decision, &priority, &ignoreReason, &score, &confidence, &latencyMS); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.Total++
		stats.ByDecision[models.EPLDecision(decision)]++
		stats.ByPriority[models.PriorityClass(priority)]++
		if ignoreReason != "" {
			stats.ByIgnoreCode[models.IgnoreReason(ignoreReason)]++
		}
		sumScore += score
		sumConfidence += confidence
		sumLatencyMS += latencyMS
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.AvgScore = sumScore / float64(stats.Total)
		stats.AvgConfidence = sumConfidence / float64(stats.Total)
		stats.AvgLatency = time.Duration(sumLatencyMS/int64(stats.Total)) * time.Millisecond
	}
	return stats, nil
}

// scanner abstracts sql.Row and sql.Rows for scanDecision.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row scanner) (*models.EPLDecisionResult, error) {
	var (
		result                                 models.EPLDecisionResult
		direction, decision, priority, ignore string
		reasonsJSON, suggestionsJSON           string
		executionJSON, riskJSON                sql.NullString
		latencyMS                              int64
	)

	err := row.Scan(
		&result.CandidateID,
		&result.Timestamp,
		&result.Symbol,
		&direction,
		&decision,
		&priority,
		&result.Score,
		&result.Confidence,
		&ignore,
		&reasonsJSON,
		&suggestionsJSON,
		&executionJSON,
		&riskJSON,
		&latencyMS,
	)
	if err != nil {
		return nil, err
	}

	result.Direction = models.Direction(direction)
	result.Decision = models.EPLDecision(decision)
	result.Priority = models.PriorityClass(priority)
	result.IgnoreReason = models.IgnoreReason(ignore)
	result.Latency = time.Duration(latencyMS) * time.Millisecond

	if err := json.Unmarshal([]byte(reasonsJSON), &result.Reasons); err != nil {
		return nil, fmt.Errorf("unmarshaling reasons: %w", err)
	}
	if strings.TrimSpace(suggestionsJSON) != "" {
		if err := json.Unmarshal([]byte(suggestionsJSON), &result.Suggestions); err != nil {
			return nil, fmt.Errorf("unmarshaling suggestions: %w", err)
		}
	}
	if executionJSON.Valid && executionJSON.String != "" {
		result.Execution = &models.ExecutionParams{}
		if err := json.Unmarshal([]byte(executionJSON.String), result.Execution); err != nil {
			return nil, fmt.Errorf("unmarshaling execution params: %w", err)
		}
	}
	if riskJSON.Valid && riskJSON.String != "" {
		result.Risk = &models.RiskAssessment{}
		if err := json.Unmarshal([]byte(riskJSON.String), result.Risk); err != nil {
			return nil, fmt.Errorf("unmarshaling risk assessment: %w", err)
		}
	}

	return &result, nil
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
