package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var fixedDay = time.Date(2025, 8, 7, 9, 30, 0, 0, time.UTC)

func TestLocal_SaveAndDelete(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	l.now = func() time.Time { return fixedDay }

	path, err := l.Save(ctx, "task-1-abcdef012", ".txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	want := filepath.Join(root, "20250807", "task-1-abcdef012.txt")
	if path != want {
		t.Errorf("Expected path %s, got %s", want, path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("Unexpected file content %q: %v", data, err)
	}

	if err := l.Delete(ctx, path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be removed")
	}
	if err := l.Delete(ctx, path); err != nil {
		t.Errorf("Expected deleting a missing file to succeed, got %v", err)
	}
}

func TestLocal_Delete_OutsideRoot(t *testing.T) {
	l, _ := NewLocal(t.TempDir())
	if err := l.Delete(context.Background(), "/etc/passwd"); err == nil {
		t.Error("Expected error for path outside upload dir")
	}
}

type fakeObjects struct {
	putKey    string
	putBody   []byte
	deleteKey string
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putKey = *in.Key
	buf := make([]byte, *in.ContentLength)
	_, _ = in.Body.Read(buf)
	f.putBody = buf
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleteKey = *in.Key
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3_SaveAndDelete(t *testing.T) {
	ctx := context.Background()
	objects := &fakeObjects{}
	s := &S3{client: objects, bucket: "uploads", now: func() time.Time { return fixedDay }}

	key, err := s.Save(ctx, "task-1-abcdef012", ".md", []byte("# title"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if key != "uploads/20250807/task-1-abcdef012.md" {
		t.Errorf("Unexpected key %s", key)
	}
	if objects.putKey != key || string(objects.putBody) != "# title" {
		t.Errorf("Unexpected put: key=%s body=%q", objects.putKey, objects.putBody)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if objects.deleteKey != key {
		t.Errorf("Expected delete of %s, got %s", key, objects.deleteKey)
	}
}
