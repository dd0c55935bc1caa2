package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskManager/api/dto"
	"taskManager/api/middleware"
	"taskManager/api/models"
	"taskManager/api/repository"
	"taskManager/api/validation"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type TaskService interface {
	Upload(ctx context.Context, traceID, filename string, content []byte) (*dto.FileUploadResponse, error)
	GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error)
	ListTasks(ctx context.Context, filter repository.ListFilter) (*dto.TaskListResponse, error)
	GetTaskStatus(ctx context.Context, taskID string) (*dto.TaskUpdate, error)
	GetTaskLogs(ctx context.Context, taskID string) ([]*dto.LogEntryResponse, error)
	RetryTask(ctx context.Context, taskID string) (*dto.TaskResponse, error)
	DeleteTask(ctx context.Context, taskID string) error
}

type TaskHandler struct {
	service     TaskService
	maxFileSize int64
	logger      *zap.Logger
}

func NewTaskHandler(service TaskService, maxFileSize int64, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

func (h *TaskHandler) Register(rg *gin.RouterGroup) {
	tasks := rg.Group("/tasks")
	tasks.POST("/upload", h.Upload)
	tasks.GET("", h.List)
	tasks.GET("/:id", h.Get)
	tasks.GET("/:id/status", h.Status)
	tasks.GET("/:id/logs", h.Logs)
	tasks.POST("/:id/retry", h.Retry)
	tasks.DELETE("/:id", h.Delete)
}

func (h *TaskHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		h.handleError(c, "Failed to get file", err, http.StatusBadRequest)
		return
	}
	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		err := fmt.Errorf("%w: maximum size: %d bytes", validation.ErrFileTooLarge, h.maxFileSize)
		h.handleError(c, "Invalid file", err, http.StatusBadRequest)
		return
	}

	file, err := header.Open()
	if err != nil {
		h.handleError(c, "Failed to open file", err, http.StatusBadRequest)
		return
	}
	defer file.Close()

	reader := io.Reader(file)
	if h.maxFileSize > 0 {
		reader = io.LimitReader(file, h.maxFileSize+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		h.handleError(c, "Failed to read file", err, http.StatusBadRequest)
		return
	}

	resp, err := h.service.Upload(c.Request.Context(), middleware.TraceIDFrom(c), header.Filename, content)
	if err != nil {
		h.handleError(c, "Failed to upload file", err, statusFor(err))
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *TaskHandler) List(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		h.handleError(c, "Invalid query", err, http.StatusBadRequest)
		return
	}

	resp, err := h.service.ListTasks(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, "Failed to list tasks", err, statusFor(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TaskHandler) Get(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}
	resp, err := h.service.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, "Failed to get task", err, statusFor(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TaskHandler) Status(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}
	resp, err := h.service.GetTaskStatus(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, "Failed to get task status", err, statusFor(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TaskHandler) Logs(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}
	resp, err := h.service.GetTaskLogs(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, "Failed to get task logs", err, statusFor(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TaskHandler) Retry(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}
	resp, err := h.service.RetryTask(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, "Failed to retry task", err, statusFor(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TaskHandler) Delete(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteTask(c.Request.Context(), taskID); err != nil {
		h.handleError(c, "Failed to delete task", err, statusFor(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted", "task_id": taskID})
}

// taskID rejects anything that is not a complete issued id.
func (h *TaskHandler) taskID(c *gin.Context) (string, bool) {
	taskID := c.Param("id")
	if err := validation.ValidateTaskID(taskID); err != nil {
		h.handleError(c, "Invalid task id", err, http.StatusBadRequest)
		return "", false
	}
	return taskID, true
}

func parseListFilter(c *gin.Context) (repository.ListFilter, error) {
	filter := repository.ListFilter{
		SortBy:   repository.SortByUploadedAt,
		Desc:     true,
		Page:     1,
		PageSize: defaultPageSize,
	}

	if v := c.Query("status"); v != "" {
		status := models.TaskStatus(strings.ToLower(v))
		if !status.Valid() {
			return filter, fmt.Errorf("unknown status %q", v)
		}
		filter.Status = &status
	}

	switch sortBy := repository.SortField(c.DefaultQuery("sort_by", string(repository.SortByUploadedAt))); sortBy {
	case repository.SortByUploadedAt, repository.SortByFileName, repository.SortByStatus:
		filter.SortBy = sortBy
	default:
		return filter, fmt.Errorf("unknown sort field %q", sortBy)
	}

	switch order := strings.ToLower(c.DefaultQuery("order", "desc")); order {
	case "asc":
		filter.Desc = false
	case "desc":
	default:
		return filter, fmt.Errorf("unknown order %q", order)
	}

	var err error
	if filter.Page, err = positiveInt(c, "page", 1); err != nil {
		return filter, err
	}
	if filter.PageSize, err = positiveInt(c, "page_size", defaultPageSize); err != nil {
		return filter, err
	}
	filter.PageSize = min(filter.PageSize, maxPageSize)
	return filter, nil
}

func positiveInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicateFile),
		errors.Is(err, validation.ErrInvalidFileType),
		errors.Is(err, validation.ErrFileTooLarge),
		errors.Is(err, validation.ErrEmptyFile),
		errors.Is(err, validation.ErrInvalidTaskID):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrStateConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *TaskHandler) handleError(c *gin.Context, message string, err error, status int) {
	traceID := middleware.TraceIDFrom(c)
	fields := []zap.Field{
		zap.String("trace_id", traceID),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, fields...)
	} else {
		h.logger.Warn(message, fields...)
	}

	body := dto.ErrorResponse{Error: message, TraceID: traceID}
	if status < http.StatusInternalServerError && err != nil {
		body.Error = message + ": " + err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}
