package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOOptions configures the MinIO fetcher
type MinIOOptions struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MinIOFetcher retrieves minio://bucket/key URLs from MinIO or any
// S3-compatible store.
type MinIOFetcher struct {
	client *minio.Client
	logger *slog.Logger
}

// NewMinIOFetcher creates a MinIO client for opts.Endpoint.
func NewMinIOFetcher(opts MinIOOptions, logger *slog.Logger) (*MinIOFetcher, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint cannot be empty")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return NewMinIOFetcherFromClient(client, logger), nil
}

// NewMinIOFetcherFromClient wraps an existing client.
func NewMinIOFetcherFromClient(client *minio.Client, logger *slog.Logger) *MinIOFetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MinIOFetcher{client: client, logger: logger}
}

// Fetch downloads the whole object.
func (f *MinIOFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, key, err := splitObjectURL(rawURL, "minio")
	if err != nil {
		return nil, err
	}

	obj, err := f.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinIOError(err, rawURL)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateMinIOError(err, rawURL)
	}

	f.logger.Debug("Fetched from MinIO", "bucket", bucket, "key", key, "bytes", len(data))
	return data, nil
}

func translateMinIOError(err error, rawURL string) error {
	errResp := minio.ToErrorResponse(err)
	switch errResp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if errResp.StatusCode >= 400 {
		return &StatusError{URL: rawURL, StatusCode: errResp.StatusCode}
	}
	return fmt.Errorf("GetObject failed for %s: %w", rawURL, err)
}
