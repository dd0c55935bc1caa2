package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"taskManager/api/database"
	"taskManager/api/models"
)

const taskColumns = `id, file_name, file_size, file_type, file_hash, storage_path, status, progress,
	result_url, error_message, uploaded_at, started_at, completed_at, updated_at`

const uniqueViolation = "23505"

type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateTask(ctx context.Context, task *models.Task) error {
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	if task.UploadedAt.IsZero() {
		task.UploadedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tasks (id, file_name, file_size, file_type, file_hash, storage_path, status, progress, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		task.ID,
		task.FileName,
		task.FileSize,
		task.FileType,
		task.FileHash,
		task.StoragePath,
		string(task.Status),
		task.Progress,
		task.UploadedAt,
	).Scan(&task.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == database.FileHashIndex {
				return ErrDuplicateFile
			}
			return ErrDuplicateID
		}
		return err
	}

	return nil
}

func (r *PostgresRepo) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (r *PostgresRepo) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	if err := validatePatch(&patch); err != nil {
		return nil, err
	}
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = time.Now().UTC()
	}

	var (
		sets []string
		args []any
	)
	set := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.Status != nil {
		set("status = $%d", string(*patch.Status))
	}
	if patch.Progress != nil {
		set("progress = $%d", *patch.Progress)
	}
	switch {
	case patch.ResultURL != nil:
		set("result_url = $%d", *patch.ResultURL)
	case patch.ClearResult:
		sets = append(sets, "result_url = NULL")
	}
	switch {
	case patch.ErrorMessage != nil:
		set("error_message = $%d", *patch.ErrorMessage)
	case patch.ClearError:
		sets = append(sets, "error_message = NULL")
	}
	switch {
	case patch.StartedAtIfUnset != nil && patch.ClearStartedAt:
		set("started_at = $%d", *patch.StartedAtIfUnset)
	case patch.StartedAtIfUnset != nil:
		set("started_at = COALESCE(started_at, $%d)", *patch.StartedAtIfUnset)
	case patch.ClearStartedAt:
		sets = append(sets, "started_at = NULL")
	}
	switch {
	case patch.CompletedAt != nil:
		set("completed_at = $%d", *patch.CompletedAt)
	case patch.ClearCompletedAt:
		sets = append(sets, "completed_at = NULL")
	}
	set("updated_at = $%d", patch.UpdatedAt)

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	if len(patch.IfStatus) > 0 {
		statuses := make([]string, len(patch.IfStatus))
		for i, s := range patch.IfStatus {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	query += ` RETURNING ` + taskColumns

	task, err := scanTask(r.db.Pool.QueryRow(ctx, query, args...))
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	current, getErr := r.GetTask(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: task %s is %s", ErrStateConflict, id, current.Status)
}

func (r *PostgresRepo) DeleteTask(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepo) FindByHash(ctx context.Context, hash string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE file_hash = $1 AND file_hash <> '' LIMIT 1`
	task, err := scanTask(r.db.Pool.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

var sortColumns = map[SortField]string{
	SortByUploadedAt: "uploaded_at",
	SortByFileName:   "file_name",
	SortByStatus:     "status",
}

func (r *PostgresRepo) ListTasks(ctx context.Context, filter ListFilter) ([]*models.Task, int, error) {
	var (
		where string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = ` WHERE status = $1`
	}

	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = sortColumns[SortByUploadedAt]
	}
	direction := "ASC"
	if filter.Desc {
		direction = "DESC"
	}

	query := `SELECT ` + taskColumns + ` FROM tasks` + where +
		fmt.Sprintf(` ORDER BY %s %s, id %s`, column, direction, direction)
	if filter.PageSize > 0 {
		args = append(args, filter.PageSize, filter.offset())
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	tasks, err := r.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r *PostgresRepo) ListOverdueProcessing(ctx context.Context, deadline time.Time) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2
		ORDER BY started_at`
	return r.queryTasks(ctx, query, string(models.StatusProcessing), deadline)
}

func (r *PostgresRepo) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	var details any
	if entry.Details != nil {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal log details: %w", err)
		}
		details = string(data)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO task_logs (task_id, log_level, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		entry.TaskID,
		string(entry.Level),
		entry.Message,
		details,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrTaskNotFound
		}
		return err
	}
	return nil
}

func (r *PostgresRepo) ListLogs(ctx context.Context, taskID string) ([]*models.LogEntry, error) {
	if _, err := r.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, task_id, log_level, message, details, created_at
		FROM task_logs WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		var (
			entry models.LogEntry
			level string
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.TaskID, &level, &entry.Message, &raw, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Level = models.LogLevel(level)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode log details: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (r *PostgresRepo) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var (
		task   models.Task
		status string
	)
	err := row.Scan(
		&task.ID,
		&task.FileName,
		&task.FileSize,
		&task.FileType,
		&task.FileHash,
		&task.StoragePath,
		&status,
		&task.Progress,
		&task.ResultURL,
		&task.ErrorMessage,
		&task.UploadedAt,
		&task.StartedAt,
		&task.CompletedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	return &task, nil
}
