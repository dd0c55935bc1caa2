package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"taskManager/api/dto"
	"taskManager/api/models"
	"taskManager/api/repository"
	"taskManager/api/storage"
	"taskManager/api/validation"
	worker "taskManager/worker/service"
)

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []string
	err       error
}

func (s *recordingScheduler) Schedule(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, taskID)
	return s.err
}

type stubCache struct {
	entries map[string]*dto.TaskUpdate
	deleted []string
}

func (c *stubCache) Get(ctx context.Context, taskID string) (*dto.TaskUpdate, error) {
	return c.entries[taskID], nil
}

func (c *stubCache) Delete(ctx context.Context, taskID string) error {
	c.deleted = append(c.deleted, taskID)
	return nil
}

type discard struct{}

func (discard) Notify(ctx context.Context, update dto.TaskUpdate) error { return nil }

type testEnv struct {
	svc       *TaskService
	repo      *repository.MemoryRepo
	scheduler *recordingScheduler
	cache     *stubCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repo := repository.NewMemoryRepo()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	scheduler := &recordingScheduler{}
	cache := &stubCache{entries: map[string]*dto.TaskUpdate{}}

	svc := NewTaskService(Deps{
		Repo:      repo,
		Storage:   store,
		Resetter:  worker.NewLifecycle(repo, discard{}, logger),
		Scheduler: scheduler,
		Cache:     cache,
		Rules: validation.UploadRules{
			MaxSize:           1 << 20,
			AllowedExtensions: []string{".txt", ".md"},
		},
		Logger: logger,
	})
	return &testEnv{svc: svc, repo: repo, scheduler: scheduler, cache: cache}
}

func (e *testEnv) upload(t *testing.T, name, content string) *dto.FileUploadResponse {
	t.Helper()
	resp, err := e.svc.Upload(context.Background(), "trace-1", name, []byte(content))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	return resp
}

func (e *testEnv) setStatus(t *testing.T, id string, status models.TaskStatus) {
	t.Helper()
	if _, err := e.repo.UpdateTask(context.Background(), id, models.TaskPatch{Status: &status}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
}

func TestTaskService_Upload_Success(t *testing.T) {
	env := newTestEnv(t)

	resp := env.upload(t, "../../notes.txt", "hello world\n")

	if !models.ValidTaskID(resp.TaskID) {
		t.Errorf("Expected an issued task id, got %s", resp.TaskID)
	}
	if resp.FileName != "notes.txt" || resp.FileSize != 12 || resp.Status != "pending" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	task, err := env.repo.GetTask(context.Background(), resp.TaskID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != models.StatusPending || task.Progress != 0 || task.FileHash == "" {
		t.Errorf("Unexpected stored task: %+v", task)
	}
	if data, err := os.ReadFile(task.StoragePath); err != nil || string(data) != "hello world\n" {
		t.Errorf("Expected stored file, got %q: %v", data, err)
	}

	logs, _ := env.repo.ListLogs(context.Background(), resp.TaskID)
	if len(logs) != 1 || logs[0].Message != "Task created" || logs[0].Details["trace_id"] != "trace-1" {
		t.Errorf("Expected creation log, got %+v", logs)
	}
	if len(env.scheduler.scheduled) != 1 || env.scheduler.scheduled[0] != resp.TaskID {
		t.Errorf("Expected task to be scheduled, got %v", env.scheduler.scheduled)
	}
}

func TestTaskService_Upload_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "a.txt", "same content")

	_, err := env.svc.Upload(context.Background(), "trace-2", "b.md", []byte("same content"))
	if !errors.Is(err, repository.ErrDuplicateFile) {
		t.Errorf("Expected ErrDuplicateFile, got %v", err)
	}
	if len(env.scheduler.scheduled) != 1 {
		t.Errorf("Expected only the first upload scheduled, got %v", env.scheduler.scheduled)
	}
}

func TestTaskService_Upload_ConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t)

	const uploads = 8
	errs := make(chan error, uploads)
	var wg sync.WaitGroup
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Upload(context.Background(), "trace", "same.txt", []byte("identical body"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, repository.ErrDuplicateFile):
			t.Errorf("Expected ErrDuplicateFile, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("Expected exactly one accepted upload, got %d", succeeded)
	}
	if _, total, _ := env.repo.ListTasks(context.Background(), repository.ListFilter{}); total != 1 {
		t.Errorf("Expected one stored task, got %d", total)
	}
}

func TestTaskService_Upload_Invalid(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Upload(context.Background(), "trace-1", "photo.jpg", []byte("not really"))
	if !errors.Is(err, validation.ErrInvalidFileType) {
		t.Errorf("Expected ErrInvalidFileType, got %v", err)
	}
	if len(env.scheduler.scheduled) != 0 {
		t.Error("Expected nothing scheduled")
	}
}

func TestTaskService_Upload_ScheduleFailureKeepsTask(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.err = errors.New("pool closed")

	resp := env.upload(t, "a.txt", "content")
	if _, err := env.repo.GetTask(context.Background(), resp.TaskID); err != nil {
		t.Errorf("Expected task to exist, got %v", err)
	}
}

func TestTaskService_GetTask_RejectsMalformedID(t *testing.T) {
	env := newTestEnv(t)

	for _, id := range []string{"", "1754556928", "task-1754556928", "task-1754556928-12a41dbecXX"} {
		if _, err := env.svc.GetTask(context.Background(), id); !errors.Is(err, validation.ErrInvalidTaskID) {
			t.Errorf("GetTask(%q): expected ErrInvalidTaskID, got %v", id, err)
		}
	}
	if _, err := env.svc.GetTask(context.Background(), "task-1754556928-12a41dbec"); !errors.Is(err, repository.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestTaskService_GetTaskStatus_CacheFirst(t *testing.T) {
	env := newTestEnv(t)
	resp := env.upload(t, "a.txt", "content")

	got, err := env.svc.GetTaskStatus(context.Background(), resp.TaskID)
	if err != nil || got.Status != "pending" {
		t.Fatalf("Expected store fallback pending, got %+v, %v", got, err)
	}

	env.cache.entries[resp.TaskID] = &dto.TaskUpdate{TaskID: resp.TaskID, Status: "processing", Progress: 40}
	got, _ = env.svc.GetTaskStatus(context.Background(), resp.TaskID)
	if got.Status != "processing" || got.Progress != 40 {
		t.Errorf("Expected cached status, got %+v", got)
	}
}

func TestTaskService_RetryTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	resp := env.upload(t, "a.txt", "content")

	if _, err := env.svc.RetryTask(ctx, resp.TaskID); !errors.Is(err, repository.ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict retrying a pending task, got %v", err)
	}

	env.setStatus(t, resp.TaskID, models.StatusFailed)
	task, err := env.svc.RetryTask(ctx, resp.TaskID)
	if err != nil {
		t.Fatalf("RetryTask failed: %v", err)
	}
	if task.Status != "pending" || task.ErrorMessage != nil {
		t.Errorf("Expected pending task, got %+v", task)
	}
	if len(env.scheduler.scheduled) != 2 {
		t.Errorf("Expected retry to be scheduled, got %v", env.scheduler.scheduled)
	}
}

func TestTaskService_DeleteTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	resp := env.upload(t, "a.txt", "content")
	stored, _ := env.repo.GetTask(ctx, resp.TaskID)

	env.setStatus(t, resp.TaskID, models.StatusProcessing)
	if err := env.svc.DeleteTask(ctx, resp.TaskID); !errors.Is(err, ErrTaskProcessing) {
		t.Errorf("Expected ErrTaskProcessing, got %v", err)
	}

	env.setStatus(t, resp.TaskID, models.StatusCompleted)
	if err := env.svc.DeleteTask(ctx, resp.TaskID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if _, err := env.repo.GetTask(ctx, resp.TaskID); !errors.Is(err, repository.ErrTaskNotFound) {
		t.Errorf("Expected task to be gone, got %v", err)
	}
	if _, err := os.Stat(stored.StoragePath); !os.IsNotExist(err) {
		t.Error("Expected stored file to be removed")
	}
	if len(env.cache.deleted) != 1 {
		t.Error("Expected cached status to be evicted")
	}
}

func TestSnapshots_Snapshot(t *testing.T) {
	env := newTestEnv(t)
	snapshots := NewSnapshots(env.repo)

	got, err := snapshots.Snapshot(context.Background(), "task-1-abcdef012")
	if err != nil || got != nil {
		t.Errorf("Expected nil snapshot for unknown task, got %+v, %v", got, err)
	}

	resp := env.upload(t, "a.txt", "content")
	got, _ = snapshots.Snapshot(context.Background(), resp.TaskID)
	if got == nil || got.Type != dto.MessageTaskUpdate || got.Status != "pending" || got.ResultURL != nil {
		t.Errorf("Unexpected snapshot: %+v", got)
	}
}
