package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"taskManager/api/models"
)

// MemoryRepo keeps tasks in process memory. It hands out copies, so every
// mutation goes through UpdateTask.
type MemoryRepo struct {
	mu     sync.RWMutex
	tasks  map[string]*models.Task
	logs   map[string][]*models.LogEntry
	nextID int64
	now    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tasks: make(map[string]*models.Task),
		logs:  make(map[string][]*models.LogEntry),
		now:   time.Now,
	}
}

func (r *MemoryRepo) CreateTask(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		return ErrDuplicateID
	}
	if task.FileHash != "" {
		for _, other := range r.tasks {
			if other.FileHash == task.FileHash {
				return fmt.Errorf("%w: task %s", ErrDuplicateFile, other.ID)
			}
		}
	}
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	now := r.now().UTC()
	if task.UploadedAt.IsZero() {
		task.UploadedAt = now
	}
	task.UpdatedAt = now

	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *MemoryRepo) GetTask(ctx context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (r *MemoryRepo) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	if err := validatePatch(&patch); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if !patch.Allows(task.Status) {
		return nil, fmt.Errorf("%w: task %s is %s", ErrStateConflict, id, task.Status)
	}
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = r.now().UTC()
	}
	patch.Apply(task)
	return task.Clone(), nil
}

func (r *MemoryRepo) DeleteTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(r.tasks, id)
	delete(r.logs, id)
	return nil
}

func (r *MemoryRepo) FindByHash(ctx context.Context, hash string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, task := range r.tasks {
		if hash != "" && task.FileHash == hash {
			return task.Clone(), nil
		}
	}
	return nil, ErrTaskNotFound
}

func (r *MemoryRepo) ListTasks(ctx context.Context, filter ListFilter) ([]*models.Task, int, error) {
	r.mu.RLock()
	matched := make([]*models.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		matched = append(matched, task.Clone())
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		less := compareTasks(matched[i], matched[j], filter.SortBy)
		if filter.Desc {
			return less > 0
		}
		return less < 0
	})

	total := len(matched)
	start := filter.offset()
	if start >= total {
		return []*models.Task{}, total, nil
	}
	end := total
	if filter.PageSize > 0 && start+filter.PageSize < total {
		end = start + filter.PageSize
	}
	return matched[start:end], total, nil
}

func compareTasks(a, b *models.Task, field SortField) int {
	switch field {
	case SortByFileName:
		if c := strings.Compare(a.FileName, b.FileName); c != 0 {
			return c
		}
	case SortByStatus:
		if c := strings.Compare(string(a.Status), string(b.Status)); c != 0 {
			return c
		}
	default:
		if c := a.UploadedAt.Compare(b.UploadedAt); c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

func (r *MemoryRepo) ListOverdueProcessing(ctx context.Context, deadline time.Time) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var overdue []*models.Task
	for _, task := range r.tasks {
		if task.Status != models.StatusProcessing || task.StartedAt == nil {
			continue
		}
		if task.StartedAt.Before(deadline) {
			overdue = append(overdue, task.Clone())
		}
	}
	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].StartedAt.Before(*overdue[j].StartedAt)
	})
	return overdue, nil
}

func (r *MemoryRepo) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	if entry == nil {
		return fmt.Errorf("log entry is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[entry.TaskID]; !ok {
		return ErrTaskNotFound
	}
	r.nextID++
	entry.ID = r.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}

	stored := *entry
	stored.Details = maps.Clone(entry.Details)
	r.logs[entry.TaskID] = append(r.logs[entry.TaskID], &stored)
	return nil
}

func (r *MemoryRepo) ListLogs(ctx context.Context, taskID string) ([]*models.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.tasks[taskID]; !ok {
		return nil, ErrTaskNotFound
	}
	entries := r.logs[taskID]
	out := make([]*models.LogEntry, len(entries))
	for i, e := range entries {
		c := *e
		c.Details = maps.Clone(e.Details)
		out[i] = &c
	}
	return out, nil
}
