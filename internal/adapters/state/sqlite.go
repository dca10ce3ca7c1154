package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStateManager stores run snapshots in SQLite. The full snapshot is
// kept as a checksummed JSON column; the execution history is mirrored
// into agent_history for per-agent queries.
type SQLiteStateManager struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteStateManager opens (or creates) the database at dbPath.
func NewSQLiteStateManager(dbPath string) (*SQLiteStateManager, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	m := &SQLiteStateManager{dbPath: dbPath, db: db}

	if err := m.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return m, nil
}

// Close closes the database connection.
func (m *SQLiteStateManager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *SQLiteStateManager) migrate() error {
	var version int
	if err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		// Table doesn't exist yet.
		version = 0
	}
	if version < 1 {
		if _, err := m.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Save upserts the run row and rewrites its history in one transaction.
func (m *SQLiteStateManager) Save(ctx context.Context, snap *core.Snapshot) error {
	if snap == nil {
		return core.ErrValidation(core.CodeInvalidConfig, "nil snapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stateJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	checksum, err := snapshotChecksum(snap)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, request, status, reason, checksum, state,
			completed, failed, started_at, finished_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			checksum = excluded.checksum,
			state = excluded.state,
			completed = excluded.completed,
			failed = excluded.failed,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at
	`,
		string(snap.RequestID), snap.Request, string(snap.Status), nullableString(snap.Reason),
		checksum, string(stateJSON),
		len(snap.CompletedAgents), len(snap.PermanentlyFailedAgents),
		snap.StartedAt.UTC(), nullableTime(snap.FinishedAt), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM agent_history WHERE run_id = ?", string(snap.RequestID)); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	for i, h := range snap.History {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_history (run_id, seq, agent, outcome, attempt, error, recorded_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			string(snap.RequestID), i, string(h.Agent), string(h.Outcome), h.Attempt,
			nullableString(h.Error), h.Timestamp.UTC(), h.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting history entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Load returns the snapshot for id after verifying its checksum.
func (m *SQLiteStateManager) Load(ctx context.Context, id core.RunID) (*core.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var checksum, stateJSON string
	err := m.db.QueryRowContext(ctx,
		"SELECT checksum, state FROM runs WHERE id = ?", string(id),
	).Scan(&checksum, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("run", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	var snap core.Snapshot
	if err := json.Unmarshal([]byte(stateJSON), &snap); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "state column is not valid JSON").WithCause(err)
	}
	sum, err := snapshotChecksum(&snap)
	if err != nil {
		return nil, err
	}
	if sum != checksum {
		return nil, core.ErrState(core.CodeStateCorrupted, "checksum mismatch")
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// List returns run summaries from the indexed columns, newest first.
func (m *SQLiteStateManager) List(ctx context.Context) ([]core.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, request, status, completed, failed, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []core.RunSummary
	for rows.Next() {
		var (
			s        core.RunSummary
			id       string
			status   string
			finished sql.NullTime
		)
		if err := rows.Scan(&id, &s.Request, &status, &s.Completed, &s.Failed, &s.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		s.RunID = core.RunID(id)
		s.Status = core.WorkflowStatus(status)
		if finished.Valid {
			t := finished.Time
			s.FinishedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AgentHistory returns the recorded history entries of one agent across runs.
func (m *SQLiteStateManager) AgentHistory(ctx context.Context, agent core.AgentID, limit int) ([]core.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx, `
		SELECT outcome, attempt, error, recorded_at, duration_ms
		FROM agent_history WHERE agent = ?
		ORDER BY recorded_at DESC LIMIT ?
	`, string(agent), limit)
	if err != nil {
		return nil, fmt.Errorf("querying agent history: %w", err)
	}
	defer rows.Close()

	var out []core.HistoryEntry
	for rows.Next() {
		var (
			h       core.HistoryEntry
			outcome string
			errText sql.NullString
			ms      int64
		)
		if err := rows.Scan(&outcome, &h.Attempt, &errText, &h.Timestamp, &ms); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		h.Agent = agent
		h.Outcome = core.OutcomeKind(outcome)
		h.Error = errText.String
		h.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, h)
	}
	return out, rows.Err()
}

// Delete removes a run; its history goes with it through the foreign key.
func (m *SQLiteStateManager) Delete(ctx context.Context, id core.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("run", string(id))
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
