package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetpipe/assetpipe/internal/circuit"
	"github.com/assetpipe/assetpipe/pkg/types"
)

func TestHTTPFetcher(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/ok.json":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/big":
			_, _ = w.Write(bytes.Repeat([]byte("x"), 100))
		case "/boom":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(nil, HTTPOptions{MaxBytes: 50}, nil)
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		data, err := f.Fetch(ctx, srv.URL+"/ok.json")
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, string(data))
		assert.Equal(t, "assetpipe/1.0", gotUA)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.Fetch(ctx, srv.URL+"/missing.png")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
	})

	t.Run("server error", func(t *testing.T) {
		_, err := f.Fetch(ctx, srv.URL+"/boom")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	})

	t.Run("body limit", func(t *testing.T) {
		_, err := f.Fetch(ctx, srv.URL+"/big")
		assert.ErrorIs(t, err, ErrTooLarge)
		assert.ErrorContains(t, err, "exceeds 50 bytes")
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := f.Fetch(ctx, "http://bad host/a.png")
		assert.ErrorIs(t, err, ErrInvalidURL)
	})
}

func TestHTTPFetcher_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewHTTPFetcher(nil, HTTPOptions{}, nil).Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileFetcher(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "img", "a.png"), []byte("png"), 0o644))

	f := NewFileFetcher(root)
	ctx := context.Background()

	for _, url := range []string{"img/a.png", "/img/a.png", "file://img/a.png"} {
		data, err := f.Fetch(ctx, url)
		require.NoError(t, err, url)
		assert.Equal(t, "png", string(data))
	}

	_, err := f.Fetch(ctx, "img/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, "../outside.png")
	assert.ErrorIs(t, err, ErrNotFound)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.Fetch(canceled, "img/a.png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileFetcher_NoRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	data, err := NewFileFetcher("").Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

type fakeS3 struct {
	objects map[string]string
	err     error
	input   *s3.GetObjectInput
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[*params.Bucket+"/"+*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func TestS3Fetcher(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"assets/maps/city.json": `{"v":1}`}}
	f := NewS3FetcherFromClient(client, nil)
	ctx := context.Background()

	data, err := f.Fetch(ctx, "s3://assets/maps/city.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))
	assert.Equal(t, "maps/city.json", *client.input.Key)

	_, err = f.Fetch(ctx, "s3://assets/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, "s3://assets")
	assert.ErrorContains(t, err, "want s3://bucket/key")
}

func TestTranslateS3Error(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"no such key", &s3types.NoSuchKey{}, true},
		{"no such bucket", &s3types.NoSuchBucket{}, true},
		{"generic not found", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain", errors.New("dial tcp: refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateS3Error(tt.err, "s3://b/k")
			assert.Equal(t, tt.notFound, errors.Is(err, ErrNotFound))
		})
	}
}

func TestTranslateMinIOError(t *testing.T) {
	err := translateMinIOError(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, "minio://b/k")
	assert.ErrorIs(t, err, ErrNotFound)

	err = translateMinIOError(minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}, "minio://b/k")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.StatusCode)

	err = translateMinIOError(errors.New("reset"), "minio://b/k")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSplitObjectURL(t *testing.T) {
	bucket, key, err := splitObjectURL("minio://game/audio/theme.ogg", "minio")
	require.NoError(t, err)
	assert.Equal(t, "game", bucket)
	assert.Equal(t, "audio/theme.ogg", key)

	_, _, err = splitObjectURL("s3://game/a", "minio")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, _, err = splitObjectURL("minio://game", "minio")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestNewMinIOFetcher_RequiresEndpoint(t *testing.T) {
	_, err := NewMinIOFetcher(MinIOOptions{}, nil)
	assert.Error(t, err)

	f, err := NewMinIOFetcher(MinIOOptions{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestRouter(t *testing.T) {
	var calls atomic.Int32
	mem := types.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		calls.Add(1)
		return []byte(url), nil
	})

	r := NewRouter()
	r.Register(mem, "http", "HTTPS", "file")
	assert.Equal(t, []string{"file", "http", "https"}, r.Schemes())

	ctx := context.Background()
	for _, url := range []string{"https://cdn/a.png", "assets/a.png", "/abs/a.png", "file:///abs/a.png"} {
		data, err := r.Fetch(ctx, url)
		require.NoError(t, err, url)
		assert.Equal(t, url, string(data))
	}
	assert.Equal(t, int32(4), calls.Load())

	_, err := r.Fetch(ctx, "ftp://host/a.png")
	assert.ErrorIs(t, err, ErrNoFetcher)
	assert.Nil(t, r.BreakerStats())
	assert.NoError(t, r.HealthCheck())
}

func TestRouter_CircuitBreaker(t *testing.T) {
	down := types.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		return nil, &StatusError{URL: url, StatusCode: 502}
	})
	missing := types.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		return nil, ErrNotFound
	})

	r := NewRouter(WithCircuitBreaker(circuit.Config{FailureThreshold: 2, Timeout: time.Hour}))
	r.Register(down, "https")
	r.Register(missing, "http")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = r.Fetch(ctx, "http://origin/a.png")
	}
	_, err := r.Fetch(ctx, "http://origin/a.png")
	assert.ErrorIs(t, err, ErrNotFound, "missing objects should not open the breaker")

	_, _ = r.Fetch(ctx, "https://cdn/a.png")
	_, _ = r.Fetch(ctx, "https://cdn/a.png")
	_, err = r.Fetch(ctx, "https://cdn/b.png")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, circuit.ErrOpenState)
	assert.Error(t, r.HealthCheck())

	stats := r.BreakerStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "http://origin", stats[0].Host)
	assert.Equal(t, circuit.StateOpen, stats[1].State)

	r.ResetBreakers()
	assert.NoError(t, r.HealthCheck())
}

func TestHostHealthy(t *testing.T) {
	assert.True(t, hostHealthy(nil))
	assert.True(t, hostHealthy(ErrNotFound))
	assert.True(t, hostHealthy(ErrTooLarge))
	assert.True(t, hostHealthy(ErrInvalidURL))
	assert.True(t, hostHealthy(&StatusError{StatusCode: 404}))
	assert.False(t, hostHealthy(&StatusError{StatusCode: 429}))
	assert.False(t, hostHealthy(&StatusError{StatusCode: 500}))
	assert.False(t, hostHealthy(errors.New("dial")))
}
