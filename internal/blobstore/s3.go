package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/trybake/bake/internal/hash"
)

// S3Store is the S3-backed remote tier (spec.md §4.2). Object keys are
// <prefix>/<algo>/<aa>/<hex>. It never sets an explicit ACL so the bucket's
// own bucket-owner-enforced policy controls access, and it distinguishes
// "not found" using the SDK's typed NoSuchKey/NotFound errors rather than
// string-matching error text.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store builds an S3Store using the default AWS credential chain
// (environment, shared config, IAM role, or web identity federation).
func NewS3Store(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load AWS config: %w", err)
	}
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *S3Store) key(h hash.BlobHash) string {
	p, rest := h.Shard()
	parts := []string{string(h.Algo), p, rest}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (s *S3Store) Put(ctx context.Context, r io.Reader) (hash.BlobHash, error) {
	// Buffer to compute the hash before the object key is known; blobs at or
	// above chunkThreshold are split into content-defined chunks by
	// encodeAndStore so no single PUT body grows unbounded.
	buf, err := io.ReadAll(r)
	if err != nil {
		return hash.BlobHash{}, fmt.Errorf("blobstore: read content for S3 put: %w", err)
	}
	return encodeAndStore(ctx, s, hash.Default, buf)
}

func (s *S3Store) Get(ctx context.Context, h hash.BlobHash) (io.ReadCloser, error) {
	return fetchAndDecode(ctx, s, h)
}

func (s *S3Store) rawPut(ctx context.Context, h hash.BlobHash, tag byte, payload []byte) error {
	body := append([]byte{tag}, payload...)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(h)),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("blobstore: S3 put %s: %w", h, err)
	}
	return nil
}

func (s *S3Store) rawGet(ctx context.Context, h hash.BlobHash) (byte, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(h)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return 0, nil, ErrNotFound
		}
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, fmt.Errorf("blobstore: S3 get %s: %w", h, err)
	}
	var tagBuf [1]byte
	if _, err := io.ReadFull(out.Body, tagBuf[:]); err != nil {
		out.Body.Close()
		return 0, nil, fmt.Errorf("blobstore: read blob tag %s: %w", h, err)
	}
	return tagBuf[0], out.Body, nil
}

func (s *S3Store) rawContains(ctx context.Context, h hash.BlobHash) (bool, error) {
	return s.Contains(ctx, h)
}

func (s *S3Store) Contains(ctx context.Context, h hash.BlobHash) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(h)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("blobstore: S3 head %s: %w", h, err)
}

func (s *S3Store) Delete(ctx context.Context, h hash.BlobHash) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(h)),
	})
	if err != nil {
		return fmt.Errorf("blobstore: S3 delete %s: %w", h, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]hash.BlobHash, error) {
	var out []hash.BlobHash
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("blobstore: S3 list: %w", err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
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
	}
	return out, nil
}
