package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Local struct {
	root string
	now  func() time.Time
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{root: root, now: time.Now}, nil
}

func (l *Local) Save(ctx context.Context, taskID, ext string, content []byte) (string, error) {
	path := filepath.Join(l.root, filepath.FromSlash(objectName(l.now(), taskID, ext)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create day dir: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

// Delete removes a previously saved file. Missing files are not an error.
func (l *Local) Delete(ctx context.Context, location string) error {
	rel, err := filepath.Rel(l.root, location)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("location %q is outside upload dir", location)
	}
	if err := os.Remove(location); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
