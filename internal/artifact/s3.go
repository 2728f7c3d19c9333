package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client the backend uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Backend stores artifacts in an S3 bucket under an optional prefix.
// URIs are s3://bucket/key.
type S3Backend struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Backend loads the default AWS configuration and targets bucket.
func NewS3Backend(ctx context.Context, bucket, prefix string) (*S3Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Name implements Backend.
func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

// Put implements Backend.
func (b *S3Backend) Put(ctx context.Context, key string, data []byte) (string, error) {
	objKey := b.objectKey(key)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &b.bucket,
		Key:    &objKey,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", objKey, err)
	}
	return "s3://" + b.bucket + "/" + objKey, nil
}

// Get implements Backend.
func (b *S3Backend) Get(ctx context.Context, uri string) ([]byte, error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	bucket, objKey, ok := strings.Cut(trimmed, "/")
	if !ok {
		return nil, fmt.Errorf("malformed s3 uri %q", uri)
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &objKey})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", objKey, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
