package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store persists one finalized segment under a key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
}

// S3Store uploads segments to an S3 bucket.
type S3Store struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3Store resolves credentials from the default AWS chain and prepares
// an uploader for bucket in region.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	if bucket == "" || region == "" {
		return nil, errors.New("s3 bucket and region are required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Store{
		bucket:   bucket,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// LocalStore writes segments under a base directory, for runs without
// cloud credentials.
type LocalStore struct {
	BasePath string
}

func NewLocalStore(basePath string) *LocalStore {
	return &LocalStore{BasePath: filepath.Clean(basePath)}
}

func (l *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	if l.BasePath == "" {
		return errors.New("local store base path is required")
	}

	dest, err := containedPath(l.BasePath, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create segment directory: %w", err)
	}
	return os.WriteFile(dest, data, 0o644)
}

// containedPath ensures that the resolved path stays within basePath.
// Returns the safe absolute path or an error if path traversal is detected.
func containedPath(basePath, untrustedPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	joined := filepath.Join(absBase, filepath.FromSlash(untrustedPath))
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) && absJoined != absBase {
		return "", fmt.Errorf("path traversal detected: %q resolves outside base %q", untrustedPath, absBase)
	}
	return absJoined, nil
}
