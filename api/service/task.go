package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskManager/api/dto"
	"taskManager/api/models"
	"taskManager/api/repository"
	"taskManager/api/storage"
	"taskManager/api/validation"
)

var ErrTaskProcessing = fmt.Errorf("%w: task is processing", repository.ErrStateConflict)

// Scheduler starts processing of a pending task in the background.
type Scheduler interface {
	Schedule(taskID string) error
}

type SchedulerFunc func(taskID string) error

func (f SchedulerFunc) Schedule(taskID string) error {
	return f(taskID)
}

// Resetter performs the retry transition.
type Resetter interface {
	Reset(ctx context.Context, taskID string) (*models.Task, error)
}

// StatusCache is an optional read-through cache of the latest task update.
type StatusCache interface {
	Get(ctx context.Context, taskID string) (*dto.TaskUpdate, error)
	Delete(ctx context.Context, taskID string) error
}

type TaskService struct {
	repo      repository.Repository
	storage   storage.Storage
	resetter  Resetter
	scheduler Scheduler
	cache     StatusCache
	rules     validation.UploadRules
	now       func() time.Time
	logger    *zap.Logger
}

type Deps struct {
	Repo      repository.Repository
	Storage   storage.Storage
	Resetter  Resetter
	Scheduler Scheduler
	// Cache may be nil.
	Cache  StatusCache
	Rules  validation.UploadRules
	Logger *zap.Logger
}

func NewTaskService(d Deps) *TaskService {
	return &TaskService{
		repo:      d.Repo,
		storage:   d.Storage,
		resetter:  d.Resetter,
		scheduler: d.Scheduler,
		cache:     d.Cache,
		rules:     d.Rules,
		now:       time.Now,
		logger:    d.Logger,
	}
}

// Upload validates and stores a file, creates a pending task for it and
// schedules processing.
func (s *TaskService) Upload(ctx context.Context, traceID, filename string, content []byte) (*dto.FileUploadResponse, error) {
	filename = filepath.Base(filename)

	fileType, err := validation.ValidateUpload(filename, content, s.rules)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	existing, err := s.repo.FindByHash(ctx, hash)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: task %s", repository.ErrDuplicateFile, existing.ID)
	case !errors.Is(err, repository.ErrTaskNotFound):
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	now := s.now().UTC()
	taskID := models.NewTaskID(now)
	ext := strings.ToLower(filepath.Ext(filename))

	location, err := s.storage.Save(ctx, taskID, ext, content)
	if err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}

	task := &models.Task{
		ID:          taskID,
		FileName:    filename,
		FileSize:    int64(len(content)),
		FileType:    fileType,
		FileHash:    hash,
		StoragePath: location,
		Status:      models.StatusPending,
		UploadedAt:  now,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		if delErr := s.storage.Delete(ctx, location); delErr != nil {
			s.logger.Warn("Failed to remove orphaned upload", zap.String("location", location), zap.Error(delErr))
		}
		return nil, fmt.Errorf("create task: %w", err)
	}

	if err := s.repo.AppendLog(ctx, &models.LogEntry{
		TaskID:  taskID,
		Level:   models.LogInfo,
		Message: "Task created",
		Details: map[string]any{
			"file_name": filename,
			"file_size": task.FileSize,
			"file_type": fileType,
			"trace_id":  traceID,
		},
		CreatedAt: now,
	}); err != nil {
		s.logger.Error("Failed to append task log", zap.String("task_id", taskID), zap.Error(err))
	}

	message := "File uploaded successfully, processing started"
	if err := s.scheduler.Schedule(taskID); err != nil {
		s.logger.Error("Failed to schedule task", zap.String("task_id", taskID), zap.Error(err))
		message = "File uploaded, processing not scheduled"
	}

	s.logger.Info("Task created",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID),
		zap.String("file_name", filename),
		zap.Int64("file_size", task.FileSize),
	)

	return &dto.FileUploadResponse{
		TaskID:   taskID,
		FileName: filename,
		FileSize: task.FileSize,
		Status:   string(task.Status),
		Message:  message,
	}, nil
}

func (s *TaskService) GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	if err := validation.ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return dto.NewTaskResponse(task), nil
}

func (s *TaskService) ListTasks(ctx context.Context, filter repository.ListFilter) (*dto.TaskListResponse, error) {
	tasks, total, err := s.repo.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}

	resp := &dto.TaskListResponse{
		Tasks:    make([]*dto.TaskResponse, 0, len(tasks)),
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, dto.NewTaskResponse(task))
	}
	return resp, nil
}

// GetTaskStatus answers from the status cache when it has the task and
// falls back to the store.
func (s *TaskService) GetTaskStatus(ctx context.Context, taskID string) (*dto.TaskUpdate, error) {
	if err := validation.ValidateTaskID(taskID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, taskID)
		if err != nil {
			s.logger.Warn("Status cache read failed", zap.String("task_id", taskID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	update := dto.NewTaskUpdate(task)
	return &update, nil
}

func (s *TaskService) GetTaskLogs(ctx context.Context, taskID string) ([]*dto.LogEntryResponse, error) {
	if err := validation.ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListLogs(ctx, taskID)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.LogEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.NewLogEntryResponse(e))
	}
	return out, nil
}

// RetryTask resets a completed or failed task and schedules it again.
func (s *TaskService) RetryTask(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	if err := validation.ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	task, err := s.resetter.Reset(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.scheduler.Schedule(taskID); err != nil {
		s.logger.Error("Failed to schedule retried task", zap.String("task_id", taskID), zap.Error(err))
	}
	return dto.NewTaskResponse(task), nil
}

// DeleteTask removes a task, its logs and its stored file. Tasks that are
// still processing cannot be deleted.
func (s *TaskService) DeleteTask(ctx context.Context, taskID string) error {
	if err := validation.ValidateTaskID(taskID); err != nil {
		return err
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == models.StatusProcessing {
		return ErrTaskProcessing
	}

	if err := s.repo.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	if task.StoragePath != "" {
		if err := s.storage.Delete(ctx, task.StoragePath); err != nil {
			s.logger.Warn("Failed to remove stored file", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, taskID); err != nil {
			s.logger.Warn("Failed to evict cached status", zap.String("task_id", taskID), zap.Error(err))
		}
	}

	s.logger.Info("Task deleted", zap.String("task_id", taskID))
	return nil
}
