package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskManager/api/models"
)

func seed(t *testing.T, r *MemoryRepo, id, name string, status models.TaskStatus, uploaded time.Time) {
	t.Helper()
	err := r.CreateTask(context.Background(), &models.Task{
		ID:         id,
		FileName:   name,
		FileHash:   "hash-" + id,
		Status:     status,
		UploadedAt: uploaded,
	})
	if err != nil {
		t.Fatalf("CreateTask(%s) failed: %v", id, err)
	}
}

func TestMemoryRepo_CreateAndGet(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	seed(t, r, "a", "a.txt", "", time.Unix(10, 0))

	got, err := r.GetTask(ctx, "a")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Expected default pending status, got %s", got.Status)
	}

	got.FileName = "mutated"
	again, _ := r.GetTask(ctx, "a")
	if again.FileName != "a.txt" {
		t.Error("Returned task aliases stored state")
	}

	if err := r.CreateTask(ctx, &models.Task{ID: "a"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected ErrDuplicateID, got %v", err)
	}
	if _, err := r.GetTask(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestMemoryRepo_UpdateTask_Guard(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	seed(t, r, "a", "a.txt", models.StatusPending, time.Unix(10, 0))

	processing := models.StatusProcessing
	completed := models.StatusCompleted

	_, err := r.UpdateTask(ctx, "a", models.TaskPatch{
		IfStatus: []models.TaskStatus{models.StatusProcessing},
		Status:   &completed,
	})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict, got %v", err)
	}
	got, _ := r.GetTask(ctx, "a")
	if got.Status != models.StatusPending {
		t.Errorf("Rejected patch modified the task: %s", got.Status)
	}

	got, err = r.UpdateTask(ctx, "a", models.TaskPatch{
		IfStatus: []models.TaskStatus{models.StatusPending},
		Status:   &processing,
	})
	if err != nil || got.Status != models.StatusProcessing {
		t.Fatalf("Guarded update failed: %+v, %v", got, err)
	}

	bad := 101
	if _, err := r.UpdateTask(ctx, "a", models.TaskPatch{Progress: &bad}); !errors.Is(err, ErrInvalidProgress) {
		t.Errorf("Expected ErrInvalidProgress, got %v", err)
	}
	if _, err := r.UpdateTask(ctx, "missing", models.TaskPatch{}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestMemoryRepo_ListTasks(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	seed(t, r, "a", "c.txt", models.StatusPending, time.Unix(30, 0))
	seed(t, r, "b", "a.txt", models.StatusFailed, time.Unix(10, 0))
	seed(t, r, "c", "b.txt", models.StatusPending, time.Unix(20, 0))

	tasks, total, err := r.ListTasks(ctx, ListFilter{SortBy: SortByUploadedAt, Desc: true, Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if total != 3 || len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "c" {
		t.Errorf("Unexpected first page: total=%d %v", total, ids(tasks))
	}

	tasks, _, _ = r.ListTasks(ctx, ListFilter{SortBy: SortByUploadedAt, Desc: true, Page: 2, PageSize: 2})
	if len(tasks) != 1 || tasks[0].ID != "b" {
		t.Errorf("Unexpected second page: %v", ids(tasks))
	}

	tasks, _, _ = r.ListTasks(ctx, ListFilter{SortBy: SortByUploadedAt, Page: 5, PageSize: 2})
	if len(tasks) != 0 {
		t.Errorf("Expected empty page past the end, got %v", ids(tasks))
	}

	pending := models.StatusPending
	tasks, total, _ = r.ListTasks(ctx, ListFilter{Status: &pending, SortBy: SortByFileName, Page: 1, PageSize: 10})
	if total != 2 || tasks[0].ID != "c" || tasks[1].ID != "a" {
		t.Errorf("Unexpected filtered list: total=%d %v", total, ids(tasks))
	}
}

func TestMemoryRepo_ListOverdueProcessing(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	base := time.Unix(1000, 0)

	for i, id := range []string{"late", "later", "fresh", "idle"} {
		seed(t, r, id, id+".txt", models.StatusPending, base)
		if id == "idle" {
			continue
		}
		started := base.Add(time.Duration(i) * 100 * time.Second)
		processing := models.StatusProcessing
		if _, err := r.UpdateTask(ctx, id, models.TaskPatch{Status: &processing, StartedAtIfUnset: &started}); err != nil {
			t.Fatalf("UpdateTask failed: %v", err)
		}
	}

	overdue, err := r.ListOverdueProcessing(ctx, base.Add(150*time.Second))
	if err != nil {
		t.Fatalf("ListOverdueProcessing failed: %v", err)
	}
	if got := ids(overdue); len(got) != 2 || got[0] != "late" || got[1] != "later" {
		t.Errorf("Unexpected overdue tasks: %v", got)
	}
}

func TestMemoryRepo_Logs(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	seed(t, r, "a", "a.txt", models.StatusPending, time.Unix(10, 0))

	for _, msg := range []string{"first", "second"} {
		if err := r.AppendLog(ctx, &models.LogEntry{TaskID: "a", Level: models.LogInfo, Message: msg, Details: map[string]any{"k": msg}}); err != nil {
			t.Fatalf("AppendLog failed: %v", err)
		}
	}
	if err := r.AppendLog(ctx, &models.LogEntry{TaskID: "missing"}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}

	logs, err := r.ListLogs(ctx, "a")
	if err != nil {
		t.Fatalf("ListLogs failed: %v", err)
	}
	if len(logs) != 2 || logs[0].Message != "first" || logs[1].ID <= logs[0].ID {
		t.Errorf("Unexpected logs: %+v", logs)
	}

	if err := r.DeleteTask(ctx, "a"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if _, err := r.ListLogs(ctx, "a"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected logs to go with the task, got %v", err)
	}
}

func TestMemoryRepo_CreateTask_DuplicateHash(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	seed(t, r, "a", "a.txt", models.StatusPending, time.Unix(10, 0))

	err := r.CreateTask(ctx, &models.Task{ID: "b", FileName: "b.txt", FileHash: "hash-a"})
	if !errors.Is(err, ErrDuplicateFile) {
		t.Fatalf("Expected ErrDuplicateFile, got %v", err)
	}
	if _, err := r.GetTask(ctx, "b"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Rejected task was stored: %v", err)
	}
	if err := r.CreateTask(ctx, &models.Task{ID: "c", FileName: "c.txt"}); err != nil {
		t.Errorf("Empty hash should not collide: %v", err)
	}
	if err := r.CreateTask(ctx, &models.Task{ID: "d", FileName: "d.txt"}); err != nil {
		t.Errorf("Empty hash should not collide: %v", err)
	}
}

func TestMemoryRepo_FindByHash(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "a", "a.txt", models.StatusPending, time.Unix(10, 0))

	got, err := r.FindByHash(context.Background(), "hash-a")
	if err != nil || got.ID != "a" {
		t.Errorf("Expected task a, got %+v, %v", got, err)
	}
	if _, err := r.FindByHash(context.Background(), ""); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected empty hash to miss, got %v", err)
	}
}

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
