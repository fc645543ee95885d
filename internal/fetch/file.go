package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher reads assets from the local filesystem. URLs may be bare
// paths or file:// URLs. When Root is set, paths resolve beneath it and may
// not escape it.
type FileFetcher struct {
	root string
}

// NewFileFetcher creates a file fetcher rooted at root ("" for none).
func NewFileFetcher(root string) *FileFetcher {
	return &FileFetcher{root: root}
}

// Fetch reads the whole file.
func (f *FileFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := f.resolve(url)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (f *FileFetcher) resolve(url string) (string, error) {
	p := strings.TrimPrefix(url, "file://")
	if f.root == "" {
		return filepath.Clean(p), nil
	}

	rel := filepath.Clean(strings.TrimPrefix(filepath.FromSlash(p), string(filepath.Separator)))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s escapes asset root", ErrNotFound, url)
	}
	return filepath.Join(f.root, rel), nil
}
