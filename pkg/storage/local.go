package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStorage implements Storage using the local filesystem. Each run gets
// a directory; metadata lives next to the files under .meta.
type LocalStorage struct {
	basePath string
	now      func() time.Time
}

// NewLocalStorage creates a new local filesystem storage
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: basePath, now: time.Now}, nil
}

// Upload stores a file and returns its metadata
func (s *LocalStorage) Upload(ctx context.Context, runID uuid.UUID, filename string, contentType string, r io.Reader) (*FileInfo, error) {
	fileID := uuid.New()

	runDir := s.runDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	storedFilename := fmt.Sprintf("%s_%s", fileID.String()[:8], sanitizeFilename(filename))
	filePath := filepath.Join(runDir, storedFilename)

	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	info := &FileInfo{
		ID:          fileID,
		RunID:       runID,
		Name:        filename,
		Size:        size,
		ContentType: contentType,
		Path:        storedFilename,
		CreatedAt:   s.now(),
	}

	if err := s.saveMetadata(runID, fileID, info); err != nil {
		os.Remove(filePath)
		return nil, err
	}

	return info, nil
}

// Download retrieves a file by its ID
func (s *LocalStorage) Download(ctx context.Context, runID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error) {
	info, err := s.GetInfo(ctx, runID, fileID)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.runDir(runID), info.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}

	return f, info, nil
}

// Delete removes a file by its ID
func (s *LocalStorage) Delete(ctx context.Context, runID uuid.UUID, fileID uuid.UUID) error {
	info, err := s.GetInfo(ctx, runID, fileID)
	if err != nil {
		return err
	}

	filePath := filepath.Join(s.runDir(runID), info.Path)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	os.Remove(s.metaPath(runID, fileID))
	s.removeIfEmpty(runID)

	return nil
}

// DeleteRun removes the run directory with everything in it
func (s *LocalStorage) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	if err := os.RemoveAll(s.runDir(runID)); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	return nil
}

// List returns all files for a run
func (s *LocalStorage) List(ctx context.Context, runID uuid.UUID) ([]*FileInfo, error) {
	metaDir := filepath.Join(s.runDir(runID), ".meta")
	entries, err := os.ReadDir(metaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*FileInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	files := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id, err := uuid.Parse(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		info, err := s.GetInfo(ctx, runID, id)
		if err != nil {
			continue
		}
		files = append(files, info)
	}

	return files, nil
}

// GetInfo returns metadata for a file without downloading
func (s *LocalStorage) GetInfo(ctx context.Context, runID uuid.UUID, fileID uuid.UUID) (*FileInfo, error) {
	data, err := os.ReadFile(s.metaPath(runID, fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var info FileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &info, nil
}

// GetReader returns a reader for a file
func (s *LocalStorage) GetReader(ctx context.Context, runID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, error) {
	r, _, err := s.Download(ctx, runID, fileID)
	return r, err
}

// Purge deletes files created before olderThan across all runs. Runs left
// without files are removed.
func (s *LocalStorage) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to list runs: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() {
			continue
		}
		runID, err := uuid.Parse(entry.Name())
		if err != nil {
			continue
		}

		files, err := s.List(ctx, runID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, f := range files {
			if !f.CreatedAt.Before(olderThan) {
				continue
			}
			if err := s.Delete(ctx, runID, f.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}

	return removed, errors.Join(errs...)
}

func (s *LocalStorage) runDir(runID uuid.UUID) string {
	return filepath.Join(s.basePath, runID.String())
}

func (s *LocalStorage) metaPath(runID, fileID uuid.UUID) string {
	return filepath.Join(s.runDir(runID), ".meta", fileID.String()+".json")
}

// removeIfEmpty drops the run directory once its last file is gone.
func (s *LocalStorage) removeIfEmpty(runID uuid.UUID) {
	metaDir := filepath.Join(s.runDir(runID), ".meta")
	if entries, err := os.ReadDir(metaDir); err == nil && len(entries) == 0 {
		os.RemoveAll(s.runDir(runID))
	}
}

// saveMetadata saves file metadata to a JSON file
func (s *LocalStorage) saveMetadata(runID, fileID uuid.UUID, info *FileInfo) error {
	metaDir := filepath.Join(s.runDir(runID), ".meta")
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(s.metaPath(runID, fileID), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}
