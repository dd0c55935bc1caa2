package repository

import (
	"context"
	"errors"
	"time"

	"taskManager/api/models"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrDuplicateID     = errors.New("task id already exists")
	ErrDuplicateFile   = errors.New("file has already been uploaded")
	ErrStateConflict   = errors.New("task state conflict")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)

type SortField string

const (
	SortByUploadedAt SortField = "uploaded_at"
	SortByFileName   SortField = "file_name"
	SortByStatus     SortField = "status"
)

type ListFilter struct {
	Status   *models.TaskStatus
	SortBy   SortField
	Desc     bool
	Page     int
	PageSize int
}

func (f ListFilter) offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

type Repository interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// UpdateTask applies patch atomically and returns the stored result.
	// A failed status guard yields ErrStateConflict and leaves the row untouched.
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	FindByHash(ctx context.Context, hash string) (*models.Task, error)
	ListTasks(ctx context.Context, filter ListFilter) ([]*models.Task, int, error)
	ListOverdueProcessing(ctx context.Context, deadline time.Time) ([]*models.Task, error)

	AppendLog(ctx context.Context, entry *models.LogEntry) error
	ListLogs(ctx context.Context, taskID string) ([]*models.LogEntry, error)
}

func validatePatch(patch *models.TaskPatch) error {
	if patch.Progress != nil && (*patch.Progress < 0 || *patch.Progress > 100) {
		return ErrInvalidProgress
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return ErrStateConflict
	}
	return nil
}
