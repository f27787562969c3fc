package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/naperu/estatebot/internal/domain"
)

// Storage keeps lead media in a MinIO bucket. Returned paths are relative
// to the bucket and prefix so records survive a storage move.
type Storage struct {
	client *minio.Client
	bucket string
	prefix string
}

// Config holds MinIO configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// New creates a new Storage instance
func New(ctx context.Context, cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := &Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureBucket creates the bucket if it doesn't exist. Media stays private.
func (s *Storage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func (s *Storage) objectKey(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return path.Join(s.prefix, rel)
}

// Save uploads data under dir/filename and returns the relative path.
func (s *Storage) Save(ctx context.Context, dir domain.MediaDir, filename string, data []byte, contentType string) (string, error) {
	rel, err := RelativePath(dir, filename)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.objectKey(rel), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return rel, nil
}

// Open reads a file previously returned by Save.
func (s *Storage) Open(ctx context.Context, rel string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, s.objectKey(rel), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("media %s: %w", rel, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// Delete removes a file from storage
func (s *Storage) Delete(ctx context.Context, rel string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(rel), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// RelativePath validates a media location and joins it.
func RelativePath(dir domain.MediaDir, filename string) (string, error) {
	switch dir {
	case domain.MediaImports, domain.MediaScreenshots:
	default:
		return "", fmt.Errorf("unknown media directory %q: %w", dir, domain.ErrInvalidInput)
	}
	if filename == "" || strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
		return "", fmt.Errorf("bad media filename %q: %w", filename, domain.ErrInvalidInput)
	}
	return path.Join(string(dir), filename), nil
}

var _ domain.MediaStore = (*Storage)(nil)
