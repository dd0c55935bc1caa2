package service

import (
	"context"
	"errors"

	"taskManager/api/dto"
	"taskManager/api/models"
	"taskManager/api/repository"
)

type TaskReader interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
}

// Snapshots reads the current state of a task for late subscribers.
type Snapshots struct {
	repo TaskReader
}

func NewSnapshots(repo TaskReader) *Snapshots {
	return &Snapshots{repo: repo}
}

// Snapshot returns nil without error when the task does not exist.
func (s *Snapshots) Snapshot(ctx context.Context, taskID string) (*dto.TaskUpdate, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, nil
		}
		return nil, err
	}
	update := dto.NewTaskUpdate(task)
	return &update, nil
}
