package domain

import (
	"context"
	"io"
)

// UploadInput carries one object to a storage backend as a stream; Size is
// advisory for backends that want it up front.
type UploadInput struct {
	Filename    string
	Body        io.Reader
	Size        int64
	ContentType string
}

type Storage interface {
	// Upload stores the object and returns the stored path or key.
	Upload(ctx context.Context, in UploadInput) (string, error)
	// Download fetches a remote object into localPath. onProgress may be nil.
	Download(ctx context.Context, remoteName, localPath string, onProgress func(done, total int64)) error
	ListFiles(ctx context.Context, prefix string) ([]FileInfo, error)
	DeleteFile(ctx context.Context, remoteName string) error
}
