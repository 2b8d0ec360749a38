package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for automation persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Automation, error)
	List(ctx context.Context) ([]Automation, error)
	Create(ctx context.Context, a *Automation) error
	Update(ctx context.Context, a *Automation) error
	Delete(ctx context.Context, id string) error

	// Run logging
	RecordRun(ctx context.Context, rec RunRecord) error
	ListRuns(ctx context.Context, automationID string, limit int) ([]RunRecord, error)
}

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// SQLiteRepository implements Repository using SQLite.
//
// Automations are stored whole as a JSON document; id, name and enabled
// are duplicated into columns for querying.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves an automation by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Automation, error) {
	var doc, createdStr, updatedStr string
	err := r.db.QueryRowContext(ctx,
		`SELECT document, created_at, updated_at FROM automations WHERE id = ?`, id,
	).Scan(&doc, &createdStr, &updatedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAutomationNotFound
		}
		return nil, fmt.Errorf("querying automation by id: %w", err)
	}
	return decodeRow(doc, createdStr, updatedStr)
}

// List retrieves all automations ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Automation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document, created_at, updated_at FROM automations ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying automations: %w", err)
	}
	defer rows.Close()

	var out []Automation
	for rows.Next() {
		var doc, createdStr, updatedStr string
		if err := rows.Scan(&doc, &createdStr, &updatedStr); err != nil {
			return nil, fmt.Errorf("scanning automation: %w", err)
		}
		a, err := decodeRow(doc, createdStr, updatedStr)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automations: %w", err)
	}
	return out, nil
}

// Create inserts a new automation.
func (r *SQLiteRepository) Create(ctx context.Context, a *Automation) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	doc, err := encodeDocument(a)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO automations (id, name, enabled, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Name,
		boolToInt(a.IsEnabled()),
		doc,
		a.CreatedAt.Format(time.RFC3339),
		a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAutomationExists
		}
		return fmt.Errorf("inserting automation: %w", err)
	}
	return nil
}

// Update replaces an existing automation.
func (r *SQLiteRepository) Update(ctx context.Context, a *Automation) error {
	a.UpdatedAt = time.Now().UTC()

	doc, err := encodeDocument(a)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE automations SET name = ?, enabled = ?, document = ?, updated_at = ? WHERE id = ?`,
		a.Name,
		boolToInt(a.IsEnabled()),
		doc,
		a.UpdatedAt.Format(time.RFC3339),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating automation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

// Delete removes an automation by ID. Its run history is kept.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting automation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

// RecordRun inserts a run record. It implements RunRecorder, so the
// repository can be handed to the engine directly.
func (r *SQLiteRepository) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO automation_runs (
			id, automation_id, trigger_kind, device_id, status, error, steps, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.AutomationID,
		string(rec.TriggerKind),
		nullableString(rec.DeviceID),
		string(rec.Status),
		nullableString(rec.Error),
		rec.Steps,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting automation run: %w", err)
	}
	return nil
}

// ListRuns returns recent runs of an automation, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - automationID: Automation to list runs for
//   - limit: Maximum entries to return (default 50, max 500)
func (r *SQLiteRepository) ListRuns(ctx context.Context, automationID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, automation_id, trigger_kind, device_id, status, error, steps, started_at, finished_at
		 FROM automation_runs
		 WHERE automation_id = ?
		 ORDER BY started_at DESC
		 LIMIT ?`,
		automationID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying automation runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec                   RunRecord
			trigger, status       string
			deviceID, errMsg      sql.NullString
			startedStr, finishStr string
		)
		if err := rows.Scan(&rec.ID, &rec.AutomationID, &trigger, &deviceID, &status, &errMsg,
			&rec.Steps, &startedStr, &finishStr); err != nil {
			return nil, fmt.Errorf("scanning automation run: %w", err)
		}
		rec.TriggerKind = TriggerType(trigger)
		rec.Status = RunStatus(status)
		rec.DeviceID = deviceID.String
		rec.Error = errMsg.String

		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finishStr); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automation runs: %w", err)
	}
	return runs, nil
}

func encodeDocument(a *Automation) (string, error) {
	doc, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshalling automation: %w", err)
	}
	return string(doc), nil
}

func decodeRow(doc, createdStr, updatedStr string) (*Automation, error) {
	var a Automation
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, fmt.Errorf("unmarshalling automation: %w", err)
	}

	var err error
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
