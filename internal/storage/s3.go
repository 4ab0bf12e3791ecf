package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// defaultS3Attempts is the SDK retry budget per request.
const defaultS3Attempts = 4

// S3Storage deletes, checks and lists data files in one S3 (or S3-compatible) bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
}

// S3Config holds connection settings for S3Storage.
type S3Config struct {
	Region string
	// Endpoint overrides the AWS endpoint (MinIO, LocalStack).
	Endpoint string
	// UsePathStyle addresses the bucket in the path instead of the host.
	UsePathStyle bool
	// MaxAttempts is the SDK retry budget; zero means defaultS3Attempts.
	MaxAttempts int
}

// NewS3Storage loads the default AWS credential chain and builds a client
// for bucket.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultS3Attempts
	}
	loadOpts = append(loadOpts, config.WithRetryMaxAttempts(attempts))

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket), nil
}

// NewS3StorageWithClient wraps an existing client.
func NewS3StorageWithClient(client *s3.Client, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket}
}

// Delete removes the object. S3 treats a missing key as success.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	key, err := s3Key(s.bucket, objectPath)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("%w: s3://%s/%s: %v", ErrDeleteFailed, s.bucket, key, err)
	}
	return nil
}

// Exists reports whether the object is present.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	key, err := s3Key(s.bucket, objectPath)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, fmt.Errorf("head s3://%s/%s: %w", s.bucket, key, err)
}

// ListObjects returns the keys under prefix in listing order.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	key, err := s3Key(s.bucket, prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, key, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func isMissing(err error) bool {
	var notFound *types.NotFound
	var noKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noKey)
}

// s3Key maps a data file path to a key in bucket. Keys without a scheme are
// taken as bucket-relative; URIs naming another bucket or scheme are foreign.
func s3Key(bucket, objectPath string) (string, error) {
	if !strings.Contains(objectPath, "://") {
		return strings.TrimPrefix(objectPath, "/"), nil
	}
	u, err := url.Parse(objectPath)
	if err != nil {
		return "", fmt.Errorf("invalid object path %q: %w", objectPath, err)
	}
	switch u.Scheme {
	case "s3", "s3a", "s3n":
	default:
		return "", fmt.Errorf("%w: %s", ErrForeignObject, objectPath)
	}
	if u.Host != bucket {
		return "", fmt.Errorf("%w: %s is not in bucket %s", ErrForeignObject, objectPath, bucket)
	}
	return strings.TrimPrefix(u.Path, "/"), nil
}
