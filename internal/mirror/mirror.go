// Package mirror copies retrieved files into a blob bucket.
package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// Mirror uploads files under "<subfolder>/<name>" keys.
type Mirror struct {
	bucket *blob.Bucket
	prefix string
}

// Open opens the bucket at url, e.g. "file:///srv/datasets" or "mem://".
func Open(ctx context.Context, url string) (*Mirror, error) {
	bkt, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return &Mirror{bucket: bkt}, nil
}

// New wraps an already open bucket. Keys are prefixed with prefix.
func New(bucket *blob.Bucket, prefix string) *Mirror {
	return &Mirror{bucket: bucket, prefix: prefix}
}

// Key returns the object key for a file of a subfolder.
func (m *Mirror) Key(subfolder, file string) string {
	return path.Join(m.prefix, filepath.ToSlash(subfolder), filepath.Base(file))
}

// Upload copies the local file into the bucket and returns its key.
func (m *Mirror) Upload(ctx context.Context, subfolder, file string) (string, error) {
	key := m.Key(subfolder, file)

	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w, err := m.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", key, err)
	}

	slog.Debug("mirrored", "file", file, "key", key)
	return key, nil
}

// Close closes the underlying bucket.
func (m *Mirror) Close() error {
	return m.bucket.Close()
}
