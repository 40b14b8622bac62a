package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalStoreSave(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "/generated/")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }

	url, err := s.Save(context.Background(), []byte("img"), "image/jpeg")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(url, "/generated/2026/03/09/") || !strings.HasSuffix(url, ".jpg") {
		t.Fatalf("url = %s", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/generated/")))
	if err != nil || string(data) != "img" {
		t.Fatalf("stored file = %q, %v", data, err)
	}
}

func TestLocalStoreRejectsEmpty(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "/generated")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := s.Save(context.Background(), nil, "image/png"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestObjectKeyUsesPrefix(t *testing.T) {
	key := objectKey("/generated/", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "image/png")
	if !strings.HasPrefix(key, "generated/2026/01/02/") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("key = %s", key)
	}
}

func TestNewS3StoreValidates(t *testing.T) {
	if _, err := NewS3Store(S3Config{Region: "us-east-1"}); err == nil {
		t.Fatalf("NewS3Store without bucket: want error")
	}
	s, err := NewS3Store(S3Config{Bucket: "b", Region: "r", AccessKey: "a", SecretKey: "s", PublicBaseURL: "https://cdn"})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	if s.cfg.Prefix != "generated" {
		t.Fatalf("prefix = %s, want generated", s.cfg.Prefix)
	}
}
