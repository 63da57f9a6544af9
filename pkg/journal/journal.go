// Package journal records pipeline runs and their step events in a local
// SQLite database. The journal is purely observational: provisioning never
// depends on it, and a missing or broken journal only costs history.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one recorded pipeline execution.
type Run struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Operation   string     `json:"operation"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepEvent is one recorded pipeline step within a run.
type StepEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal is the SQLite-backed run journal.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path and applies any
// pending migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(j.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// BeginRun records the start of a pipeline run and returns its ID.
func (j *Journal) BeginRun(ctx context.Context, project, operation string) (string, error) {
	id := uuid.New().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, project, operation, status, started_at)
		VALUES (?, ?, ?, 'running', ?)`,
		id, project, operation, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// RecordStep appends a step event to a run.
func (j *Journal) RecordStep(ctx context.Context, runID, step, status, message string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO step_events (run_id, step, status, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, step, status, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}
	return nil
}

// EndRun marks a run finished.
func (j *Journal) EndRun(ctx context.Context, runID, status, errMsg string) error {
	var errVal *string
	if errMsg != "" {
		errVal = &errMsg
	}
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, errVal, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, optionally filtered
// by project.
func (j *Journal) ListRuns(ctx context.Context, project string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, project, operation, status, error, started_at, completed_at
		FROM runs`
	args := []any{}
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Project, &r.Operation, &r.Status, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// ListSteps returns the step events of a run in execution order.
func (j *Journal) ListSteps(ctx context.Context, runID string) ([]*StepEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, run_id, step, status, message, created_at
		FROM step_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*StepEvent
	for rows.Next() {
		var s StepEvent
		if err := rows.Scan(&s.ID, &s.RunID, &s.Step, &s.Status, &s.Message, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}
