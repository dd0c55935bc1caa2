// Package storage persists uploaded files.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Storage saves upload content and returns the location it was written to.
type Storage interface {
	Save(ctx context.Context, taskID, ext string, content []byte) (string, error)
	Delete(ctx context.Context, location string) error
}

// objectName lays files out by upload day: YYYYMMDD/<task id><ext>.
func objectName(now time.Time, taskID, ext string) string {
	return fmt.Sprintf("%s/%s%s", now.UTC().Format("20060102"), taskID, ext)
}
