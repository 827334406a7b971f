package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/crypto/blake2b"

	"github.com/reelscout/backend/internal/config"
	"github.com/reelscout/backend/internal/models"
)

// Uploader is the subset of manager.Uploader used by S3Storage.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Storage archives analysis results in an S3-compatible bucket.
type S3Storage struct {
	uploader Uploader
	bucket   string
	prefix   string
	baseURL  string

	// Now stamps archived documents.
	Now func() time.Time
}

// NewS3Storage configures an uploader targeting the provided object store.
func NewS3Storage(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if strings.TrimSpace(cfg.Endpoint) != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return NewS3StorageWithUploader(uploader, cfg), nil
}

// NewS3StorageWithUploader builds an S3Storage around an existing uploader.
func NewS3StorageWithUploader(uploader Uploader, cfg config.ObjectStoreConfig) *S3Storage {
	return &S3Storage{
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		baseURL:  strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		Now:      time.Now,
	}
}

// Save uploads the provided content to the configured bucket and returns its location.
func (s *S3Storage) Save(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	key := strings.TrimLeft(name, "/")
	if key == "" {
		return "", fmt.Errorf("s3 storage: empty key")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   manager.ReadSeekCloser(r),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("s3 storage upload %s: %w", key, err)
	}

	if s.baseURL == "" {
		return key, nil
	}

	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

type archivedAnalysis struct {
	SourceURL  string                `json:"sourceUrl"`
	ArchivedAt time.Time             `json:"archivedAt"`
	Result     models.AnalysisResult `json:"result"`
}

// Archive stores result as JSON under a key derived from sourceURL, so
// repeated runs for the same video overwrite one object.
func (s *S3Storage) Archive(ctx context.Context, sourceURL string, result models.AnalysisResult) (string, error) {
	body, err := json.Marshal(archivedAnalysis{
		SourceURL:  sourceURL,
		ArchivedAt: s.Now().UTC(),
		Result:     result,
	})
	if err != nil {
		return "", fmt.Errorf("encode analysis: %w", err)
	}
	return s.Save(ctx, ArchiveKey(s.prefix, sourceURL), bytes.NewReader(body), "application/json")
}

// ArchiveKey returns the object key for the analysis of sourceURL.
func ArchiveKey(prefix, sourceURL string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(sourceURL)))
	return path.Join(prefix, hex.EncodeToString(sum[:16])+".json")
}
