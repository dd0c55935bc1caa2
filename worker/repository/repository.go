// Package repository is the worker's view of the task store. Both
// implementations in taskManager/api/repository satisfy it.
package repository

import (
	"context"
	"time"

	"taskManager/api/models"
	apirepo "taskManager/api/repository"
)

var (
	ErrTaskNotFound  = apirepo.ErrTaskNotFound
	ErrStateConflict = apirepo.ErrStateConflict
)

type Repository interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	AppendLog(ctx context.Context, entry *models.LogEntry) error
	ListOverdueProcessing(ctx context.Context, deadline time.Time) ([]*models.Task, error)
}
