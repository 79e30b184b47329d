package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/trybake/bake/internal/hash"
)

// GCSStore is the Google Cloud Storage remote tier (spec.md §4.2), analogous
// to S3Store but authenticating through Application Default Credentials,
// which resolve to Workload Identity Federation when running in GCP or
// configured via GOOGLE_APPLICATION_CREDENTIALS otherwise.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore builds a GCSStore using Application Default Credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *GCSStore) object(h hash.BlobHash) string {
	p, rest := h.Shard()
	parts := []string{string(h.Algo), p, rest}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (s *GCSStore) Put(ctx context.Context, r io.Reader) (hash.BlobHash, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return hash.BlobHash{}, fmt.Errorf("blobstore: read content for GCS put: %w", err)
	}
	return encodeAndStore(ctx, s, hash.Default, buf)
}

func (s *GCSStore) Get(ctx context.Context, h hash.BlobHash) (io.ReadCloser, error) {
	return fetchAndDecode(ctx, s, h)
}

func (s *GCSStore) rawPut(ctx context.Context, h hash.BlobHash, tag byte, payload []byte) error {
	w := s.client.Bucket(s.bucket).Object(s.object(h)).NewWriter(ctx)
	if _, err := w.Write([]byte{tag}); err != nil {
		_ = w.Close()
		return fmt.Errorf("blobstore: GCS put %s: %w", h, err)
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("blobstore: GCS put %s: %w", h, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("blobstore: GCS put %s: close: %w", h, err)
	}
	return nil
}

func (s *GCSStore) rawGet(ctx context.Context, h hash.BlobHash) (byte, io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object(h)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, fmt.Errorf("blobstore: GCS get %s: %w", h, err)
	}
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		r.Close()
		return 0, nil, fmt.Errorf("blobstore: read blob tag %s: %w", h, err)
	}
	return tagBuf[0], r, nil
}

func (s *GCSStore) rawContains(ctx context.Context, h hash.BlobHash) (bool, error) {
	return s.Contains(ctx, h)
}

func (s *GCSStore) Contains(ctx context.Context, h hash.BlobHash) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.object(h)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("blobstore: GCS stat %s: %w", h, err)
}

func (s *GCSStore) Delete(ctx context.Context, h hash.BlobHash) error {
	err := s.client.Bucket(s.bucket).Object(s.object(h)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("blobstore: GCS delete %s: %w", h, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context) ([]hash.BlobHash, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []hash.BlobHash
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("blobstore: GCS list: %w", err)
		}
		key := strings.TrimPrefix(attrs.Name, prefix)
		segs := strings.SplitN(key, "/", 3)
		if len(segs) != 3 {
			continue
		}
		h, err := hash.Parse(segs[0] + ":" + segs[1] + segs[2])
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}
