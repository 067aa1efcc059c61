package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for the S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. MinIO, Cloudflare R2). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// s3API is the subset of the S3 client used by S3Store. Tests inject fakes.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store is an S3-backed Store.
type S3Store struct {
	client s3API
	config S3Config
}

// NewS3Store creates an S3 store using the AWS SDK default credential
// chain (env vars, shared config, IAM role).
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsConfig, s3Opts...),
		config: cfg,
	}, nil
}

// NewS3StoreWithClient creates an S3 store with an injected client.
// Use for testing.
func NewS3StoreWithClient(client s3API, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &S3Store{client: client, config: cfg}, nil
}

// Put implements Store. The returned URI has the form s3://bucket/key.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	fullKey := s.fullKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.config.Bucket,
		Key:    &fullKey,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", WrapWriteError(err, fullKey)
	}
	return fmt.Sprintf("s3://%s/%s", s.config.Bucket, fullKey), nil
}

// Get implements Store. Accepts URIs in the form s3://bucket/key.
func (s *S3Store) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, WrapReadError(err, uri)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, WrapReadError(err, uri)
	}
	return data, nil
}

// Close implements Store.
func (s *S3Store) Close() error { return nil }

// fullKey prepends the configured prefix, if any.
func (s *S3Store) fullKey(key string) string {
	if s.config.Prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.config.Prefix, "/") + "/" + key
}

// parseS3URI splits s3://bucket/key into bucket and key.
func parseS3URI(uri string) (bucket, key string, err error) {
	trimmed, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %s", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed s3 URI: %s", uri)
	}
	return parts[0], parts[1], nil
}

// Verify S3Store implements Store.
var _ Store = (*S3Store)(nil)
