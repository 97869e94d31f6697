package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	appconfig "github.com/semmidev/custodian/internal/config"
	"github.com/semmidev/custodian/internal/domain"
)

type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

func NewGDrive(cfg appconfig.StorageTarget) (*GDriveStorage, error) {
	service, err := drive.NewService(context.Background(), option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func (g *GDriveStorage) Upload(ctx context.Context, in domain.UploadInput) (string, error) {
	fileMetadata := &drive.File{
		Name:    in.Filename,
		Parents: []string{g.folderID},
	}

	created, err := g.service.Files.Create(fileMetadata).
		Media(in.Body).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return created.Id, nil
}

func (g *GDriveStorage) Download(ctx context.Context, remoteName, localPath string, onProgress func(done, total int64)) error {
	file, err := g.findByName(ctx, remoteName)
	if err != nil {
		return err
	}

	resp, err := g.service.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("failed to download from gdrive: %w", err)
	}
	defer resp.Body.Close()

	dest, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if err := copyWithProgress(dest, resp.Body, file.Size, onProgress); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to download from gdrive: %w", err)
	}

	return nil
}

// ListFiles filters on the client side; Drive's query language has no
// starts-with operator for names.
func (g *GDriveStorage) ListFiles(ctx context.Context, prefix string) ([]domain.FileInfo, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", g.folderID)

	var files []domain.FileInfo
	pageToken := ""
	for {
		call := g.service.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, size, modifiedTime)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		fileList, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}

		for _, file := range fileList.Files {
			if !strings.HasPrefix(file.Name, prefix) {
				continue
			}
			modified, _ := time.Parse(time.RFC3339, file.ModifiedTime)
			files = append(files, domain.FileInfo{
				Name:         file.Name,
				LastModified: modified,
				Size:         file.Size,
			})
		}

		if fileList.NextPageToken == "" {
			return files, nil
		}
		pageToken = fileList.NextPageToken
	}
}

func (g *GDriveStorage) DeleteFile(ctx context.Context, remoteName string) error {
	file, err := g.findByName(ctx, remoteName)
	if err != nil {
		return err
	}

	if err := g.service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func (g *GDriveStorage) findByName(ctx context.Context, remoteName string) (*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false",
		g.folderID, strings.ReplaceAll(remoteName, "'", `\'`))

	fileList, err := g.service.Files.List().
		Q(query).
		Fields("files(id, name, size)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to find file: %w", err)
	}

	if len(fileList.Files) == 0 {
		return nil, fmt.Errorf("file not found: %s", remoteName)
	}

	return fileList.Files[0], nil
}
