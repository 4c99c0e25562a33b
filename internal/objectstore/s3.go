package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/atharvarekhawar/DropIt/internal/domain"
)

// S3Store serves objects from an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// S3Options configures bucket access. Endpoint and PathStyle support
// S3-compatible local stacks.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// NewS3Store builds an S3-backed store using the default credential chain.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

// Get fetches an object. Missing keys surface as domain.ErrNotFound so the
// proxy can normalize them to 404 without leaking storage details.
func (s *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(err)
	}
	obj := &Object{Body: out.Body, ContentType: aws.ToString(out.ContentType)}
	if out.ContentLength != nil {
		obj.ContentLength = *out.ContentLength
	}
	return obj, nil
}

// Put uploads an object under the given key.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: put %s: %v", domain.ErrUpstreamFetch, key, err)
	}
	return nil
}

func classifyS3Error(err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return domain.ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamFetch, err)
}
