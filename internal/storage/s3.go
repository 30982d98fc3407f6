package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/docworker/ingestworker/pkg/resilience"
)

// S3Backend implements Backend against an S3-compatible endpoint
// (AWS S3 or MinIO).
type S3Backend struct {
	client  *s3.Client
	policy  Policy
	breaker *resilience.Breaker
	limiter *resilience.Limiter
}

// S3Option configures an S3Backend at construction.
type S3Option func(*S3Backend)

// WithS3Breaker wraps every S3 call through a circuit breaker.
func WithS3Breaker(b *resilience.Breaker) S3Option {
	return func(s *S3Backend) { s.breaker = b }
}

// WithS3Limiter throttles every S3 call through a token-bucket limiter,
// waiting for a token rather than failing fast.
func WithS3Limiter(l *resilience.Limiter) S3Option {
	return func(s *S3Backend) { s.limiter = l }
}

// NewS3Backend dials an S3-compatible endpoint. endpoint is typically a
// MinIO host:port; accessKey/secretKey are static credentials.
func NewS3Backend(ctx context.Context, endpoint, region, accessKey, secretKey string, pathStyle bool, policy Policy, opts ...S3Option) (*S3Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	backend := &S3Backend{client: client, policy: policy}
	for _, opt := range opts {
		opt(backend)
	}
	return backend, nil
}

func (s *S3Backend) call(ctx context.Context, f func(context.Context) error) error {
	do := f
	if s.limiter != nil {
		inner := do
		do = func(ctx context.Context) error { return s.limiter.CallWait(ctx, inner) }
	}
	if s.breaker != nil {
		inner := do
		do = func(ctx context.Context) error { return s.breaker.Call(ctx, inner) }
	}
	return do(ctx)
}

// Upload puts localPath's contents at objectName in the resolved bucket.
func (s *S3Backend) Upload(ctx context.Context, localPath, objectName, bucket string) error {
	b := s.policy.ResolveUpload(bucket)
	return s.call(ctx, func(ctx context.Context) error {
		f, err := os.Open(localPath)
		if err != nil {
			return &IOError{Op: "upload", Bucket: b, Key: objectName, Err: err}
		}
		defer f.Close()

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b),
			Key:    aws.String(objectName),
			Body:   f,
		})
		if err != nil {
			return &IOError{Op: "upload", Bucket: b, Key: objectName, Err: err}
		}
		return nil
	})
}

// Download fetches objectName from the resolved bucket into localPath.
func (s *S3Backend) Download(ctx context.Context, objectName, localPath, bucket string) (string, error) {
	b := s.policy.ResolveDownload(objectName, bucket)
	err := s.call(ctx, func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b),
			Key:    aws.String(objectName),
		})
		if err != nil {
			if isNotFound(err) {
				return &IOError{Op: "download", Bucket: b, Key: objectName, Err: ErrNotFound}
			}
			return &IOError{Op: "download", Bucket: b, Key: objectName, Err: err}
		}
		defer out.Body.Close()

		f, err := os.Create(localPath)
		if err != nil {
			return &IOError{Op: "download", Bucket: b, Key: objectName, Err: err}
		}
		defer f.Close()

		if _, err := f.ReadFrom(out.Body); err != nil {
			return &IOError{Op: "download", Bucket: b, Key: objectName, Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return localPath, nil
}

// Exists reports whether objectName is present in the resolved bucket.
// A NotFound response is a normal negative result, never an error.
func (s *S3Backend) Exists(ctx context.Context, objectName, bucket string) (bool, error) {
	b := s.policy.ResolveExists(bucket)
	var found bool
	err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b),
			Key:    aws.String(objectName),
		})
		if err != nil {
			if isNotFound(err) {
				found = false
				return nil
			}
			return &IOError{Op: "exists", Bucket: b, Key: objectName, Err: err}
		}
		found = true
		return nil
	})
	return found, err
}

func isNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}
