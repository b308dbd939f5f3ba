// Package storage keeps printed carrier labels.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/petportre/orders-service/internal/config"
	"github.com/petportre/orders-service/internal/logger"
)

// LabelStore persists a label blob and returns a reference to it.
type LabelStore interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

type S3LabelStore struct {
	client *s3.Client
	bucket string
	prefix string
}

type S3Option func(*s3.Options)

// WithEndpoint points the client at an S3 compatible endpoint (MinIO, RustFS).
func WithEndpoint(endpoint string) S3Option {
	return func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}
}

func WithPathStyle(enabled bool) S3Option {
	return func(o *s3.Options) {
		o.UsePathStyle = enabled
	}
}

func NewS3LabelStore(ctx context.Context, cfg config.S3Config, opts ...S3Option) (*S3LabelStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("label bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	opts = append([]S3Option{WithEndpoint(cfg.Endpoint), WithPathStyle(cfg.UsePathStyle)}, opts...)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// S3 compatible servers often reject trailing checksums
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		for _, opt := range opts {
			opt(o)
		}
	})

	return &S3LabelStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3LabelStore) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := objectKey(s.prefix, name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put label %s: %w", key, err)
	}
	logger.Info("label stored", "bucket", s.bucket, "key", key, "bytes", len(data))
	return "s3://" + s.bucket + "/" + key, nil
}

func objectKey(prefix, name string) string {
	name = strings.TrimLeft(path.Clean("/"+name), "/")
	if prefix == "" {
		return name
	}
	return strings.TrimRight(prefix, "/") + "/" + name
}

// MemoryLabelStore keeps labels in process. Used when no bucket is configured.
type MemoryLabelStore struct {
	mu     sync.RWMutex
	labels map[string][]byte
}

func NewMemoryLabelStore() *MemoryLabelStore {
	return &MemoryLabelStore{labels: make(map[string][]byte)}
}

func (m *MemoryLabelStore) Save(_ context.Context, name string, data []byte, _ string) (string, error) {
	key := objectKey("", name)
	m.mu.Lock()
	m.labels[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return "mem://" + key, nil
}

// Load returns a stored label by the reference Save produced.
func (m *MemoryLabelStore) Load(ref string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.labels[strings.TrimPrefix(ref, "mem://")]
	return b, ok
}
