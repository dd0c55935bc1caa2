package dto

import (
	"time"

	"taskManager/api/models"
)

const timeLayout = "2006-01-02T15:04:05Z"

type FileUploadResponse struct {
	TaskID   string `json:"task_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

type TaskResponse struct {
	ID           string  `json:"id"`
	FileName     string  `json:"file_name"`
	FileSize     int64   `json:"file_size"`
	FileType     string  `json:"file_type"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	ResultURL    *string `json:"result_url"`
	ErrorMessage *string `json:"error_message"`
	UploadedAt   string  `json:"uploaded_at"`
	StartedAt    *string `json:"started_at"`
	CompletedAt  *string `json:"completed_at"`
}

type TaskListResponse struct {
	Tasks    []*TaskResponse `json:"tasks"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

type LogEntryResponse struct {
	TaskID    string         `json:"task_id"`
	Level     string         `json:"log_level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func NewTaskResponse(task *models.Task) *TaskResponse {
	return &TaskResponse{
		ID:           task.ID,
		FileName:     task.FileName,
		FileSize:     task.FileSize,
		FileType:     task.FileType,
		Status:       string(task.Status),
		Progress:     task.Progress,
		ResultURL:    task.ResultURL,
		ErrorMessage: task.ErrorMessage,
		UploadedAt:   task.UploadedAt.UTC().Format(timeLayout),
		StartedAt:    formatTime(task.StartedAt),
		CompletedAt:  formatTime(task.CompletedAt),
	}
}

func NewLogEntryResponse(entry *models.LogEntry) *LogEntryResponse {
	return &LogEntryResponse{
		TaskID:    entry.TaskID,
		Level:     string(entry.Level),
		Message:   entry.Message,
		Details:   entry.Details,
		CreatedAt: entry.CreatedAt.UTC().Format(timeLayout),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(timeLayout)
	return &formatted
}
