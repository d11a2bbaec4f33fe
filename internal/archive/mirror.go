package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/jhamman/ingestor/pkg/ecmwf"
)

// Mirror fulfils requests from a bucket pre-populated with archive output,
// keyed by the basename of each request's target. It is useful for replaying
// a previous download or for sites that stage ECMWF data in object storage.
type Mirror struct {
	bucket *blob.Bucket
	prefix string
}

var _ ecmwf.Retriever = (*Mirror)(nil)

// NewMirror returns a Mirror reading objects "<prefix><basename>" from bucket.
func NewMirror(bucket *blob.Bucket, prefix string) *Mirror {
	return &Mirror{bucket: bucket, prefix: prefix}
}

// OpenMirror opens the bucket at bucketURL, e.g. "s3://era5?region=us-east-1"
// or "file:///srv/era5". The caller must Close the Mirror.
func OpenMirror(ctx context.Context, bucketURL, prefix string) (*Mirror, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("archive: open bucket: %w", err)
	}
	return NewMirror(bucket, prefix), nil
}

// Key returns the object key a request is read from.
func (m *Mirror) Key(req ecmwf.Request) string {
	return m.prefix + filepath.Base(req.Target())
}

// Retrieve copies the object for req to req.Target() via a temporary file.
func (m *Mirror) Retrieve(ctx context.Context, req ecmwf.Request) error {
	target := req.Target()
	if target == "" {
		return fmt.Errorf("archive: request has no %s", ecmwf.KeyTarget)
	}
	key := m.Key(req)

	r, err := m.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("archive: open %s: %w", key, err)
	}
	defer r.Close()

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.part")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("archive: copy %s: %w", key, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("archive: rename to %s: %w", target, err)
	}
	return nil
}

// Close closes the underlying bucket.
func (m *Mirror) Close() error {
	return m.bucket.Close()
}
