package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var _ TranscriptStore = (*FilesystemTranscriptStore)(nil)

// TranscriptStore keeps uploaded grade report images.
type TranscriptStore interface {
	// Save writes data and returns a store-relative path.
	Save(ctx context.Context, contentType string, data []byte) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, path string) error
}

// FilesystemTranscriptStore stores transcripts under root/transcripts/YYYY/MM/DD.
type FilesystemTranscriptStore struct {
	root string
	now  func() time.Time
}

// NewFilesystemTranscriptStore creates dir if needed and stores files beneath it.
func NewFilesystemTranscriptStore(dir string) (*FilesystemTranscriptStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("transcript store: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("transcript store: ensure root directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("transcript store: resolve root: %w", err)
	}
	return &FilesystemTranscriptStore{root: abs, now: time.Now}, nil
}

func (s *FilesystemTranscriptStore) Save(_ context.Context, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("transcript store: empty file")
	}

	day := s.now().UTC()
	dir := filepath.Join(s.root, "transcripts", day.Format("2006"), day.Format("01"), day.Format("02"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("transcript store: mkdir %s: %w", dir, err)
	}

	fullPath := filepath.Join(dir, uuid.NewString()+transcriptExtension(contentType))
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("transcript store: write file: %w", err)
	}
	return s.relative(fullPath), nil
}

func (s *FilesystemTranscriptStore) Read(_ context.Context, path string) ([]byte, error) {
	fullPath, err := s.absolute(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("transcript store: read file: %w", err)
	}
	return data, nil
}

func (s *FilesystemTranscriptStore) Delete(_ context.Context, path string) error {
	fullPath, err := s.absolute(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("transcript store: delete file: %w", err)
	}
	return nil
}

// absolute resolves a stored path and refuses anything outside the root.
func (s *FilesystemTranscriptStore) absolute(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("transcript store: invalid path %q", path)
	}
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if rel, err := filepath.Rel(s.root, full); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("transcript store: invalid path %q", path)
	}
	return full, nil
}

func (s *FilesystemTranscriptStore) relative(fullPath string) string {
	rel, err := filepath.Rel(s.root, fullPath)
	if err != nil {
		return fullPath
	}
	return filepath.ToSlash(rel)
}

func transcriptExtension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".img"
	}
}
