// Package s3 implements a Target backed by Amazon S3 or an S3-compatible
// service.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

const (
	minPartSize     = 5 * 1024 * 1024
	maxPartSize     = 5 * 1024 * 1024 * 1024
	defaultPartSize = 10 * 1024 * 1024
)

// S3Target stores migrated files as S3 objects.
//
// Key Layout:
// Objects use the application's own layout so it can serve them after the
// metadata rewrite:
//
//	[<keyPrefix>]<uniqueID>/Uploads/<roomID>/<userID>/<fileID>
//
// Upload Strategy:
//   - Objects that fit in one part are sent with a single PutObject
//   - Larger objects are streamed as a multipart upload, one part buffered
//     at a time; any failure aborts the upload so no partial object appears
//
// Thread Safety:
// Safe for concurrent use by multiple goroutines.
type S3Target struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	uniqueID  string
	partSize  int64
	metrics   S3Metrics
}

var _ target.Target = (*S3Target)(nil)

// S3TargetConfig contains configuration for the S3 target.
type S3TargetConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix prepended to every key
	KeyPrefix string

	// UniqueID is the installation id that namespaces upload keys
	UniqueID string

	// PartSize is the multipart part size (default: 10MB, 5MB to 5GB)
	PartSize int64

	// Metrics is optional; nil disables S3 metrics
	Metrics S3Metrics
}

// NewS3Target creates a new S3 target.
//
// The bucket must already exist: this function verifies access with
// HeadBucket but never creates it.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//
// Returns:
//   - *S3Target: Initialized target
//   - error: Returns error if configuration is invalid, bucket access fails or
//     the context is cancelled
func NewS3Target(ctx context.Context, cfg S3TargetConfig) (*S3Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.UniqueID == "" {
		return nil, fmt.Errorf("unique id is required for the S3 key layout")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	var m S3Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	logger.Info("S3 target ready: bucket=%s prefix=%q unique_id=%s", cfg.Bucket, cfg.KeyPrefix, cfg.UniqueID)

	return &S3Target{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		uniqueID:  cfg.UniqueID,
		partSize:  partSize,
		metrics:   m,
	}, nil
}

func (s *S3Target) Kind() target.Kind {
	return target.KindS3
}

// uploadsPrefix is the key prefix every upload of this installation shares.
func (s *S3Target) uploadsPrefix() string {
	return s.keyPrefix + s.uniqueID + "/Uploads/"
}

func (s *S3Target) Key(rec *source.FileRecord) string {
	return s.uploadsPrefix() + rec.RoomID + "/" + rec.UserID + "/" + rec.ID
}

func (s *S3Target) Pointer(rec *source.FileRecord, key string) source.StoragePointer {
	p := target.UploadsPointer(target.KindS3, rec)
	p.ObjectKey = key
	return p
}

// Verify issues a HEAD request for key.
func (s *S3Target) Verify(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	start := time.Now()
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			s.metrics.ObserveOperation("HeadObject", time.Since(start), nil)
			return 0, false, nil
		}
		s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
		return 0, false, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	s.metrics.ObserveOperation("HeadObject", time.Since(start), nil)

	if result.ContentLength == nil {
		return 0, true, fmt.Errorf("content length not available for %s", key)
	}
	return *result.ContentLength, true, nil
}

// isNotFound classifies missing-object errors. HeadObject reports a bare
// "NotFound" code since HEAD responses have no body.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// ListKeys lists every object under this installation's uploads prefix.
func (s *S3Target) ListKeys(ctx context.Context, fn func(key string, size int64) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.uploadsPrefix()),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			if err := fn(key, aws.ToInt64(obj.Size)); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *S3Target) Close() error {
	return nil
}
