package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cammy/sanctuary/internal/conductor"
	"github.com/cammy/sanctuary/pkg/types"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a decision id is unknown
	ErrNotFound = errors.New("not found")
	// ErrAlreadyLearned is returned when a decision already has an outcome
	ErrAlreadyLearned = errors.New("outcome already recorded")
)

// Several processes may share one ledger file. Write transactions take the
// lock up front and wait for each other instead of failing with SQLITE_BUSY.
const dsnOptions = "?_busy_timeout=5000&_txlock=immediate"

// Ledger manages the SQLite database for decisions, outcomes and pattern statistics
type Ledger struct {
	db   *sql.DB
	path string
}

var _ conductor.Persister = (*Ledger)(nil)

// Stats holds aggregated statistics from the ledger
type Stats struct {
	TotalDecisions int
	TotalOutcomes  int
	Successes      int
	SuccessRate    float64
	Sessions       int
	Patterns       int
	ByCategory     map[types.Category]int
	AvgComplexity  float64
}

// DecisionRecord is a stored decision with the request that produced it
type DecisionRecord struct {
	ID        string
	Session   string
	Request   string
	Decision  types.Decision
	CreatedAt time.Time
}

// Init creates a new ledger database with the schema
func Init(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Open opens an existing ledger database
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Path returns the database file path
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database connection
func (l *Ledger) Close() error {
	return l.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
	-- Decisions table
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		session TEXT NOT NULL DEFAULT '',
		request TEXT NOT NULL,
		category TEXT NOT NULL,
		confidence TEXT NOT NULL,
		complexity INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Outcomes table
	CREATE TABLE IF NOT EXISTS outcomes (
		id TEXT PRIMARY KEY,
		decision_id TEXT NOT NULL REFERENCES decisions(id),
		success INTEGER NOT NULL,
		duration_min REAL NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Pattern statistics, keyed by category:complexity
	CREATE TABLE IF NOT EXISTS patterns (
		key TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0,
		outcomes INTEGER NOT NULL DEFAULT 0,
		success_rate REAL NOT NULL DEFAULT 0.5,
		avg_duration REAL NOT NULL DEFAULT 0,
		workers TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session);
	CREATE INDEX IF NOT EXISTS idx_decisions_category ON decisions(category);
	CREATE INDEX IF NOT EXISTS idx_outcomes_decision ON outcomes(decision_id);

	-- Metadata table for settings
	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Insert version
	INSERT OR REPLACE INTO metadata (key, value, updated_at)
	VALUES ('schema_version', '1', CURRENT_TIMESTAMP);
	`

	_, err := db.Exec(schema)
	return err
}

// RecordDecision stores a decision and returns its new id
func (l *Ledger) RecordDecision(ctx context.Context, session, request string, d types.Decision) (string, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode decision: %w", err)
	}

	id := uuid.NewString()
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO decisions (id, session, request, category, confidence, complexity, duration, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, session, request, string(d.Category), d.Confidence.String(), d.Complexity, d.EstimatedDuration,
		string(payload), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to record decision: %w", err)
	}
	return id, nil
}

// GetDecision retrieves a decision by ID. Resource values come back in
// their JSON form, so numbers are float64.
func (l *Ledger) GetDecision(ctx context.Context, id string) (*DecisionRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, session, request, payload, created_at
		FROM decisions WHERE id = ?
	`, id)

	rec, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecentDecisions returns up to n decisions for a session, oldest first
func (l *Ledger) RecentDecisions(ctx context.Context, session string, n int) ([]DecisionRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session, request, payload, created_at
		FROM decisions WHERE session = ?
		ORDER BY rowid DESC LIMIT ?
	`, session, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(s scanner) (*DecisionRecord, error) {
	rec := &DecisionRecord{}
	var payload string
	if err := s.Scan(&rec.ID, &rec.Session, &rec.Request, &payload, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Decision); err != nil {
		return nil, fmt.Errorf("failed to decode decision %s: %w", rec.ID, err)
	}
	return rec, nil
}

// RecordOutcome stores the outcome of a previously recorded decision. Each
// decision takes one outcome; a second returns ErrAlreadyLearned.
func (l *Ledger) RecordOutcome(ctx context.Context, decisionID string, o types.Outcome) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions WHERE id = ?", decisionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up decision: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}

	var learned int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM outcomes WHERE decision_id = ?", decisionID).Scan(&learned)
	if err != nil {
		return fmt.Errorf("failed to look up outcomes: %w", err)
	}
	if learned > 0 {
		return fmt.Errorf("decision %s: %w", decisionID, ErrAlreadyLearned)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outcomes (id, decision_id, success, duration_min, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), decisionID, o.Success, o.Duration, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return tx.Commit()
}

// SessionSuccessRates replays a session's outcomes in order and returns the
// blended success rate per category
func (l *Ledger) SessionSuccessRates(ctx context.Context, session string) (map[string]float64, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT d.category, o.success
		FROM outcomes o JOIN decisions d ON o.decision_id = d.id
		WHERE d.session = ?
		ORDER BY o.rowid
	`, session)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var category string
		var success bool
		if err := rows.Scan(&category, &success); err != nil {
			return nil, err
		}
		old, ok := rates[category]
		if !ok {
			old = types.NewPatternStats().SuccessRate
		}
		rates[category] = conductor.BlendSuccessRate(old, success)
	}
	return rates, rows.Err()
}

// SavePatterns applies changes on top of the stored pattern rows in one
// transaction and returns the merged stats for every key it touched
func (l *Ledger) SavePatterns(ctx context.Context, changes []conductor.PatternChange) (map[string]types.PatternStats, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	merged := make(map[string]types.PatternStats)
	for _, c := range changes {
		ps, ok := merged[c.Key]
		if !ok {
			ps, err = readPattern(ctx, tx, c.Key)
			if err != nil {
				return nil, err
			}
		}
		c.Apply(&ps)
		merged[c.Key] = ps
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO patterns (key, count, outcomes, success_rate, avg_duration, workers, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare pattern upsert: %w", err)
	}
	defer stmt.Close()

	for key, ps := range merged {
		workers, err := json.Marshal(ps.Workers)
		if err != nil {
			return nil, fmt.Errorf("failed to encode workers for %s: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, key, ps.Count, ps.Outcomes, ps.SuccessRate, ps.AvgDuration,
			string(workers), ps.UpdatedAt.UTC()); err != nil {
			return nil, fmt.Errorf("failed to save pattern %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit patterns: %w", err)
	}
	return merged, nil
}

// readPattern returns the stored stats for key, or fresh stats if none exist
func readPattern(ctx context.Context, tx *sql.Tx, key string) (types.PatternStats, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT key, count, outcomes, success_rate, avg_duration, workers, updated_at
		FROM patterns WHERE key = ?
	`, key)

	_, ps, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewPatternStats(), nil
	}
	if err != nil {
		return types.PatternStats{}, fmt.Errorf("failed to read pattern %s: %w", key, err)
	}
	return ps, nil
}

// LoadPatterns reads all pattern statistics
func (l *Ledger) LoadPatterns(ctx context.Context) (map[string]types.PatternStats, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT key, count, outcomes, success_rate, avg_duration, workers, updated_at
		FROM patterns
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	patterns := make(map[string]types.PatternStats)
	for rows.Next() {
		key, ps, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns[key] = ps
	}
	return patterns, rows.Err()
}

func scanPattern(s scanner) (string, types.PatternStats, error) {
	var key, workers string
	ps := types.NewPatternStats()
	if err := s.Scan(&key, &ps.Count, &ps.Outcomes, &ps.SuccessRate, &ps.AvgDuration, &workers, &ps.UpdatedAt); err != nil {
		return "", ps, err
	}
	if err := json.Unmarshal([]byte(workers), &ps.Workers); err != nil {
		return "", ps, fmt.Errorf("failed to decode workers for %s: %w", key, err)
	}
	return key, ps, nil
}

// GetStats returns aggregated statistics
func (l *Ledger) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByCategory: make(map[types.Category]int)}

	// Decisions
	if err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT session), COALESCE(AVG(complexity), 0)
		FROM decisions
	`).Scan(&stats.TotalDecisions, &stats.Sessions, &stats.AvgComplexity); err != nil {
		return nil, err
	}

	// Outcomes
	if err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0) FROM outcomes
	`).Scan(&stats.TotalOutcomes, &stats.Successes); err != nil {
		return nil, err
	}
	if stats.TotalOutcomes > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.TotalOutcomes)
	}

	// Patterns
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patterns").Scan(&stats.Patterns); err != nil {
		return nil, err
	}

	// Per category
	rows, err := l.db.QueryContext(ctx, "SELECT category, COUNT(*) FROM decisions GROUP BY category")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		stats.ByCategory[types.Category(category)] = n
	}

	return stats, rows.Err()
}
