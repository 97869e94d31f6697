package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/semmidev/custodian/internal/domain"
)

type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) Upload(ctx context.Context, in domain.UploadInput) (string, error) {
	destPath := filepath.Join(l.basePath, in.Filename)

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, in.Body); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("failed to copy: %w", err)
	}
	if err := dest.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync: %w", err)
	}

	return destPath, nil
}

func (l *LocalStorage) Download(ctx context.Context, remoteName, localPath string, onProgress func(done, total int64)) error {
	source, err := os.Open(filepath.Join(l.basePath, remoteName))
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	dest, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if err := copyWithProgress(dest, source, info.Size(), onProgress); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to copy: %w", err)
	}

	return nil
}

func (l *LocalStorage) ListFiles(ctx context.Context, prefix string) ([]domain.FileInfo, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []domain.FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}
		files = append(files, domain.FileInfo{
			Name:         entry.Name(),
			LastModified: info.ModTime(),
			Size:         info.Size(),
		})
	}

	return files, nil
}

func (l *LocalStorage) DeleteFile(ctx context.Context, remoteName string) error {
	if err := os.Remove(filepath.Join(l.basePath, remoteName)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// copyWithProgress copies src to dst reporting cumulative progress. The
// callback may be nil.
func copyWithProgress(dst io.Writer, src io.Reader, total int64, onProgress func(done, total int64)) error {
	buf := make([]byte, 128*1024)
	var done int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			done += int64(n)
			if onProgress != nil {
				onProgress(done, total)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
