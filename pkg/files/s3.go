package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/warden/pkg/config"
)

var tracer = otel.Tracer("github.com/platinummonkey/warden/pkg/files")

// S3Backend stores files in an S3 bucket. Any S3 compatible endpoint
// (MinIO, R2) works when S3Endpoint is set.
type S3Backend struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucket     string
	presignTTL time.Duration
}

// NewS3Backend creates an S3 backend. With a custom endpoint the bucket is
// created when missing, which is what local MinIO setups expect.
func NewS3Backend(ctx context.Context, cfg config.StorageConfig) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	if cfg.S3Endpoint != "" {
		if err := ensureBucket(ctx, client, cfg.S3Bucket); err != nil {
			return nil, err
		}
	}

	ttl := cfg.S3PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &S3Backend{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucket:     cfg.S3Bucket,
		presignTTL: ttl,
	}, nil
}

// Name returns the provider name stored on file rows
func (b *S3Backend) Name() string {
	return config.ProviderS3
}

func (b *S3Backend) span(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "S3."+op, trace.WithAttributes(
		attribute.String("s3.operation", op),
		attribute.String("s3.bucket", b.bucket),
		attribute.String("s3.key", key),
	))
}

func fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return fmt.Errorf("%s: %w", msg, err)
}

// Upload puts body under key. The original filename is kept as object
// metadata so downloads can restore it.
func (b *S3Backend) Upload(ctx context.Context, key, filename, contentType string, body io.Reader, size int64) (string, error) {
	ctx, span := b.span(ctx, "PutObject", key)
	defer span.End()
	span.SetAttributes(attribute.String("content.type", contentType), attribute.Int64("content.size", size))

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata:      map[string]string{"original-filename": filename},
	})
	if err != nil {
		return "", fail(span, err, "failed to upload to s3")
	}

	span.SetStatus(codes.Ok, "object uploaded")
	return key, nil
}

// Delete removes the object
func (b *S3Backend) Delete(ctx context.Context, storageKey string) error {
	ctx, span := b.span(ctx, "DeleteObject", storageKey)
	defer span.End()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		return fail(span, err, "failed to delete object")
	}
	return nil
}

// DownloadURL returns a presigned GET URL valid for the configured TTL
func (b *S3Backend) DownloadURL(ctx context.Context, storageKey string) (string, error) {
	ctx, span := b.span(ctx, "PresignGetObject", storageKey)
	defer span.End()

	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(storageKey),
	}, s3.WithPresignExpires(b.presignTTL))
	if err != nil {
		return "", fail(span, err, "failed to presign download")
	}
	return req.URL, nil
}

// Exists reports whether the object is present
func (b *S3Backend) Exists(ctx context.Context, storageKey string) (bool, error) {
	ctx, span := b.span(ctx, "HeadObject", storageKey)
	defer span.End()

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fail(span, err, "failed to check object existence")
	}
	return true, nil
}

// HealthCheck verifies the bucket is reachable
func (b *S3Backend) HealthCheck(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !isBucketOwned(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func isBucketOwned(err error) bool {
	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	return errors.As(err, &exists) || errors.As(err, &owned)
}
