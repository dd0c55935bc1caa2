package models

import "time"

type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is an append-only audit record attached to a task.
type LogEntry struct {
	ID        int64
	TaskID    string
	Level     LogLevel
	Message   string
	Details   map[string]any
	CreatedAt time.Time
}
