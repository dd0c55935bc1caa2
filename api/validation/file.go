package validation

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"taskManager/api/models"
)

type UploadRules struct {
	MaxSize           int64
	AllowedExtensions []string
}

// DetectFileType sniffs the content and returns its MIME type. Only text
// content is accepted since every allowed extension is a text format.
func DetectFileType(content []byte) (string, error) {
	mtype := mimetype.Detect(content)
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return mtype.String(), nil
		}
	}
	return "", fmt.Errorf("%w: detected %s", ErrInvalidFileType, mtype.String())
}

func IsAllowedExtension(filename string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext != "" && slices.Contains(allowed, ext)
}

// ValidateUpload checks name, size and content of an uploaded file and
// returns the detected content type.
func ValidateUpload(filename string, content []byte, rules UploadRules) (string, error) {
	if !IsAllowedExtension(filename, rules.AllowedExtensions) {
		return "", fmt.Errorf("%w: allowed types: %s", ErrInvalidFileType, strings.Join(rules.AllowedExtensions, ", "))
	}
	if len(content) == 0 {
		return "", ErrEmptyFile
	}
	if rules.MaxSize > 0 && int64(len(content)) > rules.MaxSize {
		return "", fmt.Errorf("%w: maximum size: %d bytes", ErrFileTooLarge, rules.MaxSize)
	}
	return DetectFileType(content)
}

func ValidateTaskID(id string) error {
	if !models.ValidTaskID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return nil
}
