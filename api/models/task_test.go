package models

import (
	"testing"
	"time"
)

func TestNewTaskID(t *testing.T) {
	now := time.Unix(1754556928, 0)
	id := NewTaskID(now)

	if !ValidTaskID(id) {
		t.Fatalf("Issued id %q does not validate", id)
	}
	if id[:16] != "task-1754556928-" {
		t.Errorf("Expected timestamp prefix, got %q", id)
	}
	if other := NewTaskID(now); other == id {
		t.Errorf("Expected unique ids within the same second, got %q twice", id)
	}
}

func TestValidTaskID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"task-1754556928-12a41dbec", true},
		{"task-1754556928", false},
		{"task-1754556928-12a41dbe", false},
		{"task-1754556928-12A41DBEC", false},
		{"job-1754556928-12a41dbec", false},
		{"", false},
		{"task-1754556928-12a41dbec/..", false},
	}

	for _, tt := range tests {
		if got := ValidTaskID(tt.id); got != tt.want {
			t.Errorf("ValidTaskID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestTaskStatus(t *testing.T) {
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("Non-terminal status reported terminal")
	}
	if !StatusCompleted.CanRetry() || !StatusFailed.CanRetry() || StatusProcessing.CanRetry() {
		t.Error("Unexpected retry eligibility")
	}
	if TaskStatus("cancelled").Valid() {
		t.Error("Unknown status reported valid")
	}
}

func TestTask_Clone(t *testing.T) {
	url := "/results/x"
	started := time.Now()
	orig := &Task{ID: "x", ResultURL: &url, StartedAt: &started}

	c := orig.Clone()
	*c.ResultURL = "changed"
	*c.StartedAt = started.Add(time.Hour)

	if *orig.ResultURL != "/results/x" || !orig.StartedAt.Equal(started) {
		t.Error("Clone shares pointers with the source task")
	}
	if (*Task)(nil).Clone() != nil {
		t.Error("Expected nil clone of nil task")
	}
}

func TestTaskPatch_Apply(t *testing.T) {
	started := time.Unix(100, 0)
	later := time.Unix(200, 0)
	msg := "boom"
	url := "/results/x"
	task := &Task{Status: StatusProcessing, ResultURL: &url, StartedAt: &started}

	failed := StatusFailed
	patch := TaskPatch{
		IfStatus:         []TaskStatus{StatusProcessing},
		Status:           &failed,
		ErrorMessage:     &msg,
		ClearResult:      true,
		StartedAtIfUnset: &later,
		CompletedAt:      &later,
		UpdatedAt:        later,
	}
	if !patch.Allows(task.Status) || patch.Allows(StatusPending) {
		t.Fatal("Unexpected guard result")
	}
	patch.Apply(task)

	if task.Status != StatusFailed || task.ResultURL != nil || *task.ErrorMessage != "boom" {
		t.Errorf("Unexpected task after apply: %+v", task)
	}
	if !task.StartedAt.Equal(started) {
		t.Errorf("StartedAtIfUnset overwrote an existing value: %v", task.StartedAt)
	}
	if !task.CompletedAt.Equal(later) || !task.UpdatedAt.Equal(later) {
		t.Errorf("Timestamps not applied: %+v", task)
	}

	reset := TaskPatch{ClearError: true, ClearStartedAt: true, ClearCompletedAt: true}
	reset.Apply(task)
	if task.ErrorMessage != nil || task.StartedAt != nil || task.CompletedAt != nil {
		t.Errorf("Clear flags not applied: %+v", task)
	}
	if !(&TaskPatch{}).Allows(StatusCompleted) {
		t.Error("Empty guard should admit any status")
	}
}
