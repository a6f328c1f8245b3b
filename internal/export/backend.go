package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wonny/charlie/backend/pkg/config"
)

// Backend stores export objects under slash-separated keys
type Backend interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Name() string
}

// NewBackend selects the backend named by STORAGE_BACKEND
func NewBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBackend(cfg.DataRoot), nil
	case "s3":
		return NewS3Backend(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// LocalBackend writes under a root directory
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a filesystem backend rooted at root
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: root}
}

// Name returns "local"
func (b *LocalBackend) Name() string { return "local" }

// Put writes body to root/key through a temp file and rename
func (b *LocalBackend) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := filepath.Join(b.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename %s: %w", key, err)
	}
	return dst, nil
}

// S3Backend uploads with the s3 transfer manager
type S3Backend struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Backend builds an S3 client from static credentials when given, the default chain otherwise.
// A custom endpoint (MinIO, R2) switches to path-style addressing.
func NewS3Backend(ctx context.Context, cfg config.StorageConfig) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Backend{
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   strings.Trim(cfg.S3Prefix, "/"),
	}, nil
}

// Name returns "s3"
func (b *S3Backend) Name() string { return "s3" }

// Put uploads body to s3://bucket/prefix/key
func (b *S3Backend) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	objectKey := key
	if b.prefix != "" {
		objectKey = path.Join(b.prefix, key)
	}

	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", b.bucket, objectKey, err)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, objectKey), nil
}
