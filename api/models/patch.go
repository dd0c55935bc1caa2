package models

import (
	"slices"
	"time"
)

// TaskPatch is a partial update of a task record. Nil fields are left
// untouched. When IfStatus is non-empty the patch applies only if the
// stored status is one of the listed values.
type TaskPatch struct {
	IfStatus []TaskStatus

	Status       *TaskStatus
	Progress     *int
	ResultURL    *string
	ErrorMessage *string

	// StartedAtIfUnset sets started_at only when it is still empty.
	StartedAtIfUnset *time.Time
	CompletedAt      *time.Time

	ClearResult      bool
	ClearError       bool
	ClearStartedAt   bool
	ClearCompletedAt bool

	UpdatedAt time.Time
}

// Allows reports whether the guard admits a task in status s.
func (p *TaskPatch) Allows(s TaskStatus) bool {
	return len(p.IfStatus) == 0 || slices.Contains(p.IfStatus, s)
}

// Apply mutates t in place. The caller is responsible for checking Allows.
func (p *TaskPatch) Apply(t *Task) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.ClearResult {
		t.ResultURL = nil
	}
	if p.ResultURL != nil {
		t.ResultURL = cloneString(p.ResultURL)
	}
	if p.ClearError {
		t.ErrorMessage = nil
	}
	if p.ErrorMessage != nil {
		t.ErrorMessage = cloneString(p.ErrorMessage)
	}
	if p.ClearStartedAt {
		t.StartedAt = nil
	}
	if p.StartedAtIfUnset != nil && t.StartedAt == nil {
		t.StartedAt = cloneTime(p.StartedAtIfUnset)
	}
	if p.ClearCompletedAt {
		t.CompletedAt = nil
	}
	if p.CompletedAt != nil {
		t.CompletedAt = cloneTime(p.CompletedAt)
	}
	if !p.UpdatedAt.IsZero() {
		t.UpdatedAt = p.UpdatedAt
	}
}
