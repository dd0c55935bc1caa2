package dto

import "taskManager/api/models"

const (
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessagePing        = "ping"
	MessagePong        = "pong"
	MessageTaskUpdate  = "task_update"
	MessageError       = "error"
)

// InboundMessage is what a client sends over its connection.
type InboundMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
}

// TaskUpdate is the notification pushed to subscribers. ResultURL and
// ErrorMessage encode as null unless the status carries them.
type TaskUpdate struct {
	Type         string  `json:"type"`
	TaskID       string  `json:"task_id"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	ResultURL    *string `json:"result_url"`
	ErrorMessage *string `json:"error_message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewTaskUpdate(task *models.Task) TaskUpdate {
	update := TaskUpdate{
		Type:     MessageTaskUpdate,
		TaskID:   task.ID,
		Status:   string(task.Status),
		Progress: task.Progress,
	}
	switch task.Status {
	case models.StatusCompleted:
		update.ResultURL = task.ResultURL
	case models.StatusFailed:
		update.ErrorMessage = task.ErrorMessage
	}
	return update
}
