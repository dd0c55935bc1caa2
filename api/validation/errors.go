package validation

import "errors"

var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrFileTooLarge    = errors.New("file size exceeds limit")
	ErrEmptyFile       = errors.New("file is empty")
	ErrInvalidTaskID   = errors.New("invalid task id")
	ErrInvalidMessage  = errors.New("invalid message")
)
