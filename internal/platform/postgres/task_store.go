package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/store"
)

const taskColumns = `id, user_id, type, params, status, progress, result, error,
	created_at, updated_at, started_at, completed_at`

// TaskStore implements store.TaskStore on PostgreSQL.
type TaskStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db, now: time.Now}
}

// Create inserts a new task.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, user_id, type, params, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		string(task.Type),
		[]byte(task.Params),
		string(task.Status),
		task.Progress,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		return MapError(err, nil)
	}

	return nil
}

// Get returns a task by ID.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return getTask(ctx, s.db, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
}

// UpdateStatus locks the row, applies the transition in the domain model and
// writes the result back in one transaction.
func (s *TaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	update domain.TaskUpdate,
) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		task, err := getTask(ctx, tx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}

		if err := task.Apply(status, update, s.now()); err != nil {
			return err
		}

		query := `
			UPDATE tasks
			SET status = $2, progress = $3, result = $4, error = $5,
				updated_at = $6, started_at = $7, completed_at = $8
			WHERE id = $1
		`

		result, err := tx.ExecContext(ctx, query,
			task.ID,
			string(task.Status),
			task.Progress,
			nullableJSON(task.Result),
			nullableString(task.Error),
			task.UpdatedAt,
			task.StartedAt,
			task.CompletedAt,
		)
		if err != nil {
			return MapError(err, store.ErrTaskNotFound)
		}
		return CheckRowsAffected(result, store.ErrTaskNotFound)
	})
}

// Claim moves a pending task to processing. The status condition in the
// UPDATE makes concurrent claims from any number of processes exclusive.
func (s *TaskStore) Claim(ctx context.Context, id uuid.UUID, progress int) error {
	if progress < 0 || progress > 100 {
		return domain.ErrInvalidProgress
	}

	now := s.now().UTC()
	query := `
		UPDATE tasks
		SET status = 'processing', progress = $2, updated_at = $3,
			started_at = COALESCE(started_at, $3)
		WHERE id = $1 AND status = 'pending'
	`

	result, err := s.db.ExecContext(ctx, query, id, progress, now)
	if err != nil {
		return MapError(err, nil)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return MapError(err, store.ErrTaskNotFound)
	}
	return fmt.Errorf("%w (status %s)", domain.ErrAlreadyClaimed, status)
}

// ListByOwner returns one page of the user's tasks, newest first.
func (s *TaskStore) ListByOwner(ctx context.Context, userID uuid.UUID, page store.Page) ([]*domain.Task, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", MapError(err, nil))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	tasks, err := queryTasks(ctx, s.db, query, userID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// Delete removes a task.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return MapError(err, store.ErrTaskNotFound)
	}
	return CheckRowsAffected(result, store.ErrTaskNotFound)
}

// ListPending returns pending tasks created before olderThan, oldest first.
func (s *TaskStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	return queryTasks(ctx, s.db, query, olderThan, limit)
}

// ListProcessing returns processing tasks not updated since olderThan.
func (s *TaskStore) ListProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	return queryTasks(ctx, s.db, query, olderThan, limit)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getTask(ctx context.Context, db store.DBTX, query string, id uuid.UUID) (*domain.Task, error) {
	task, err := scanTask(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, MapError(err, store.ErrTaskNotFound)
	}
	return task, nil
}

func queryTasks(ctx context.Context, db store.DBTX, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", "error", err)
		return nil, fmt.Errorf("failed to query tasks: %w", MapError(err, nil))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", "error", err)
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task        domain.Task
		taskType    string
		status      string
		params      []byte
		result      []byte
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&taskType,
		&params,
		&status,
		&task.Progress,
		&result,
		&errMsg,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Type = domain.TaskType(taskType)
	task.Status = domain.TaskStatus(status)
	task.Params = json.RawMessage(params)
	if len(result) > 0 {
		task.Result = json.RawMessage(result)
	}
	task.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
