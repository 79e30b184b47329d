package actioncache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"cloud.google.com/go/storage"
)

// ErrNotFound is returned by ManifestStore.Get when no manifest is recorded
// under the given action key.
var ErrNotFound = errors.New("actioncache: manifest not found")

// ManifestStore puts and fetches signed manifest envelopes keyed by action
// key rather than by content hash, matching spec.md §4.5/§6's ac/<key>.json
// namespace (distinct from the content-addressed blobs/ namespace, though
// both namespaces exist in every tier so a remote cache works end-to-end).
type ManifestStore interface {
	Put(ctx context.Context, actionKey string, envelope []byte) error
	Get(ctx context.Context, actionKey string) ([]byte, error)
}

// LocalManifestStore persists manifests under <root>/ac/<action_key>.json
// using the same temp-file-then-rename idiom as the blob store, so a crash
// never leaves a half-written manifest visible.
type LocalManifestStore struct {
	Root string
}

func NewLocalManifestStore(root string) *LocalManifestStore {
	return &LocalManifestStore{Root: root}
}

func (s *LocalManifestStore) path(actionKey string) string {
	return filepath.Join(s.Root, "ac", sanitizeKey(actionKey)+".json")
}

func (s *LocalManifestStore) Put(ctx context.Context, actionKey string, envelope []byte) error {
	dest := s.path(actionKey)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("actioncache: create manifest dir: %w", err)
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, envelope, 0644); err != nil {
		return fmt.Errorf("actioncache: write manifest: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("actioncache: rename manifest into place: %w", err)
	}
	return nil
}

func (s *LocalManifestStore) Get(ctx context.Context, actionKey string) ([]byte, error) {
	data, err := os.ReadFile(s.path(actionKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("actioncache: read manifest: %w", err)
	}
	return data, nil
}

func sanitizeKey(actionKey string) string {
	return strings.ReplaceAll(actionKey, ":", "_")
}

// S3ManifestStore mirrors the ac/ namespace to an S3 bucket, following the
// same object-key shape as blobstore.S3Store.
type S3ManifestStore struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3ManifestStore(client *s3.Client, bucket, prefix string) *S3ManifestStore {
	return &S3ManifestStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3ManifestStore) key(actionKey string) string {
	parts := []string{"ac", sanitizeKey(actionKey) + ".json"}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (s *S3ManifestStore) Put(ctx context.Context, actionKey string, envelope []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(actionKey)),
		Body:   bytes.NewReader(envelope),
	})
	if err != nil {
		return fmt.Errorf("actioncache: S3 put manifest %s: %w", actionKey, err)
	}
	return nil
}

func (s *S3ManifestStore) Get(ctx context.Context, actionKey string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(actionKey)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("actioncache: S3 get manifest %s: %w", actionKey, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// GCSManifestStore mirrors the ac/ namespace to a GCS bucket.
type GCSManifestStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSManifestStore(client *storage.Client, bucket, prefix string) *GCSManifestStore {
	return &GCSManifestStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *GCSManifestStore) object(actionKey string) string {
	parts := []string{"ac", sanitizeKey(actionKey) + ".json"}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (s *GCSManifestStore) Put(ctx context.Context, actionKey string, envelope []byte) error {
	w := s.client.Bucket(s.bucket).Object(s.object(actionKey)).NewWriter(ctx)
	if _, err := w.Write(envelope); err != nil {
		_ = w.Close()
		return fmt.Errorf("actioncache: GCS put manifest %s: %w", actionKey, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("actioncache: GCS put manifest %s: close: %w", actionKey, err)
	}
	return nil
}

func (s *GCSManifestStore) Get(ctx context.Context, actionKey string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object(actionKey)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("actioncache: GCS get manifest %s: %w", actionKey, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
