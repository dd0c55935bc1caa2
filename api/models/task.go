package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanRetry reports whether a task in this status may be reset to pending.
func (s TaskStatus) CanRetry() bool {
	return s.IsTerminal()
}

type Task struct {
	ID           string
	FileName     string
	FileSize     int64
	FileType     string
	FileHash     string
	StoragePath  string
	Status       TaskStatus
	Progress     int
	ResultURL    *string
	ErrorMessage *string
	UploadedAt   time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy so callers never share pointers with a store.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.ResultURL = cloneString(t.ResultURL)
	c.ErrorMessage = cloneString(t.ErrorMessage)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

var taskIDPattern = regexp.MustCompile(`^task-[0-9]+-[0-9a-f]{9}$`)

// NewTaskID issues an identifier of the form task-<unix seconds>-<9 hex chars>.
func NewTaskID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	return fmt.Sprintf("task-%d-%s", now.Unix(), suffix)
}

// ValidTaskID reports whether id has the shape of an issued identifier.
// Partial ids (e.g. only the timestamp) are rejected, never completed.
func ValidTaskID(id string) bool {
	return taskIDPattern.MatchString(id)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
