package coldstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/common"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/logging"
)

// S3Config holds connection settings for the S3-compatible backend
// (MinIO in development).
type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	RootUser     string
	RootPassword string
}

// s3API is the subset of the S3 client the store uses; a fake implements
// it in tests.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Store implements ObjectStore over an S3-compatible bucket.
type S3Store struct {
	api    s3API
	bucket string
	logger logging.Logger
}

// NewS3Store builds the S3 client from cfg and returns a store bound to
// the configured bucket.
func NewS3Store(ctx context.Context, cfg S3Config, logger logging.Logger) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.RootUser,
			cfg.RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		o.UsePathStyle = true
	})

	return &S3Store{api: client, bucket: cfg.Bucket, logger: logger.With("module", "coldstore")}, nil
}

// imageKey builds the per-user, per-record object key. The uuid suffix
// makes re-uploads after a failed sync distinct objects, so a stale
// reference can never point at a newer payload.
func imageKey(scopeKey, id string) string {
	return fmt.Sprintf("users/%s/records/%s/%v", scopeKey, id, uuid.New())
}

// archiveKey is deterministic so re-running the archival job overwrites
// instead of duplicating.
func archiveKey(scopeKey, id string) string {
	return fmt.Sprintf("archive/%s/%s.json", scopeKey, id)
}

func (s *S3Store) reference(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// parseReference splits an "s3://bucket/key" reference.
func parseReference(reference string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(reference, "s3://")
	if !ok {
		return "", "", common.ErrInvalidReference
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", common.ErrInvalidReference
	}
	return bucket, key, nil
}

// Upload stores payload and returns its reference.
func (s *S3Store) Upload(ctx context.Context, scopeKey, id string, payload []byte) (string, error) {
	key := imageKey(scopeKey, id)

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}

	return s.reference(key), nil
}

// Delete removes the object the reference points at.
func (s *S3Store) Delete(ctx context.Context, reference string) error {
	bucket, key, err := parseReference(reference)
	if err != nil {
		return err
	}

	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Archive stores a serialized record copy under the deterministic archive
// path.
func (s *S3Store) Archive(ctx context.Context, scopeKey, id string, serialized []byte) error {
	key := archiveKey(scopeKey, id)

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(serialized),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive record: %w", err)
	}
	return nil
}
