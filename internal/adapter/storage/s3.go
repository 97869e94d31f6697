package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/semmidev/custodian/internal/config"
	"github.com/semmidev/custodian/internal/domain"
)

type S3Storage struct {
	client   *s3.Client
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

func NewS3(cfg appconfig.StorageTarget) (*S3Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return &S3Storage{
		client:   client,
		uploader: s3manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

func (s *S3Storage) key(remoteName string) string {
	return path.Join(s.prefix, remoteName)
}

// Upload streams the body straight to S3; the manager handles multipart
// splitting for large dumps.
func (s *S3Storage) Upload(ctx context.Context, in domain.UploadInput) (string, error) {
	key := s.key(in.Filename)

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        in.Body,
		ContentType: &in.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return key, nil
}

func (s *S3Storage) Download(ctx context.Context, remoteName, localPath string, onProgress func(done, total int64)) error {
	key := s.key(remoteName)

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to get S3 object: %w", err)
	}
	defer resp.Body.Close()

	var total int64
	if resp.ContentLength != nil {
		total = *resp.ContentLength
	}

	dest, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if err := copyWithProgress(dest, resp.Body, total, onProgress); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to download from S3: %w", err)
	}

	return nil
}

func (s *S3Storage) ListFiles(ctx context.Context, prefix string) ([]domain.FileInfo, error) {
	fullPrefix := s.key(prefix)

	trim := s.key("")
	if trim != "" {
		trim += "/"
	}

	var files []domain.FileInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &fullPrefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(*obj.Key, trim)
			if name == "" {
				continue
			}
			f := domain.FileInfo{Name: name}
			if obj.LastModified != nil {
				f.LastModified = *obj.LastModified
			}
			if obj.Size != nil {
				f.Size = *obj.Size
			}
			files = append(files, f)
		}
	}

	return files, nil
}

func (s *S3Storage) DeleteFile(ctx context.Context, remoteName string) error {
	key := s.key(remoteName)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	return nil
}
