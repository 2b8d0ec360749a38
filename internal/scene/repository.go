package scene

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists scenes. The registry is its only caller; tests use
// an in-memory implementation.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Scene, error)
	List(ctx context.Context) ([]Scene, error)
	Create(ctx context.Context, scene *Scene) error
	Update(ctx context.Context, scene *Scene) error

	// Delete removes all ids together or none of them.
	Delete(ctx context.Context, ids ...string) error
}

// sceneColumns matches the scan order of scanScene.
const sceneColumns = `id, name, steps, created_at, updated_at`

// SQLiteRepository stores scenes in the scenes table, steps as JSON.
//
// Steps are stored as a JSON document in the steps column.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an open database handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID returns ErrSceneNotFound when no row matches.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE id = ?`

	scene, err := scanScene(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSceneNotFound
		}
		return nil, fmt.Errorf("querying scene by id: %w", err)
	}
	return scene, nil
}

// List retrieves all scenes ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Scene, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sceneColumns+` FROM scenes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		scenes = append(scenes, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenes: %w", err)
	}
	return scenes, nil
}

// Create inserts a scene, stamping CreatedAt/UpdatedAt when unset.
func (r *SQLiteRepository) Create(ctx context.Context, scene *Scene) error {
	stepsJSON, err := json.Marshal(scene.Steps)
	if err != nil {
		return fmt.Errorf("marshalling steps: %w", err)
	}

	now := time.Now().UTC()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO scenes (id, name, steps, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		scene.ID,
		scene.Name,
		string(stepsJSON),
		scene.CreatedAt.Format(time.RFC3339),
		scene.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSceneExists
		}
		return fmt.Errorf("inserting scene: %w", err)
	}
	return nil
}

// Update rewrites name and steps; ErrSceneNotFound if the row is gone.
func (r *SQLiteRepository) Update(ctx context.Context, scene *Scene) error {
	stepsJSON, err := json.Marshal(scene.Steps)
	if err != nil {
		return fmt.Errorf("marshalling steps: %w", err)
	}

	scene.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE scenes SET name = ?, steps = ?, updated_at = ? WHERE id = ?`,
		scene.Name,
		string(stepsJSON),
		scene.UpdatedAt.Format(time.RFC3339),
		scene.ID,
	)
	if err != nil {
		return fmt.Errorf("updating scene: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSceneNotFound
	}
	return nil
}

// Delete removes scenes by ID in a single transaction. If any id does not
// exist nothing is removed and ErrSceneNotFound is returned.
func (r *SQLiteRepository) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for _, id := range ids {
		result, err := tx.ExecContext(ctx, "DELETE FROM scenes WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting scene: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %q", ErrSceneNotFound, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// rowScanner lets scanScene serve QueryRow and Query.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScene(scanner rowScanner) (*Scene, error) {
	var (
		s          Scene
		stepsJSON  string
		createdStr string
		updatedStr string
	)
	if err := scanner.Scan(&s.ID, &s.Name, &stepsJSON, &createdStr, &updatedStr); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stepsJSON), &s.Steps); err != nil {
		return nil, fmt.Errorf("unmarshalling steps: %w", err)
	}

	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339, createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &s, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
