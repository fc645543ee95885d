package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Options configures the S3 fetcher
type S3Options struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	MaxRetries      int    `yaml:"max_retries"`
	UseDualStack    bool   `yaml:"use_dual_stack"`
}

// S3API is the subset of the S3 client the fetcher needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher retrieves s3://bucket/key URLs.
type S3Fetcher struct {
	client S3API
	logger *slog.Logger
}

// NewS3Fetcher loads the AWS configuration and builds an S3 client.
func NewS3Fetcher(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Fetcher, error) {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	// the loader owns retries; keep the SDK from multiplying them unless asked
	if opts.MaxRetries > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(opts.MaxRetries))
	} else {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(1))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
		if opts.UseDualStack {
			o.EndpointOptions.UseDualStackEndpoint = aws.DualStackEndpointStateEnabled
		}
	})

	return NewS3FetcherFromClient(client, logger), nil
}

// NewS3FetcherFromClient wraps an existing client.
func NewS3FetcherFromClient(client S3API, logger *slog.Logger) *S3Fetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &S3Fetcher{client: client, logger: logger}
}

// Fetch downloads the whole object.
func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, key, err := splitObjectURL(rawURL, "s3")
	if err != nil {
		return nil, err
	}

	result, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translateS3Error(err, rawURL)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	f.logger.Debug("Fetched from S3", "bucket", bucket, "key", key, "bytes", len(data))
	return data, nil
}

func translateS3Error(err error, rawURL string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NoSuchBucket](err):
		return fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() >= 400 {
		return &StatusError{URL: rawURL, StatusCode: statusErr.HTTPStatusCode()}
	}

	return fmt.Errorf("GetObject failed for %s: %w", rawURL, err)
}

// splitObjectURL parses scheme://bucket/key.
func splitObjectURL(rawURL, scheme string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s url %q: %w", ErrInvalidURL, scheme, rawURL, err)
	}
	if u.Scheme != scheme {
		return "", "", fmt.Errorf("%w: %s url %q: scheme %q", ErrInvalidURL, scheme, rawURL, u.Scheme)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %s url %q: want %s://bucket/key", ErrInvalidURL, scheme, rawURL, scheme)
	}
	return bucket, key, nil
}

func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
