// Package s3store implements objectstore.Store against an S3-compatible
// bucket using the AWS SDK v2, grounded in the same client-construction and
// object-key conventions as the pack's memory-service S3 attachment store.
//
// Compare-and-swap is emulated with conditional headers (If-Match /
// If-None-Match) using the object's ETag as the opaque Revision. Not every
// S3-compatible provider honors conditional writes (AWS S3 itself only
// added full If-Match support in 2024; some on-prem/minio deployments are
// older). Put has no fallback path: where the backend rejects the
// precondition header, the PutObject error is returned; where the backend
// ignores the header, the write is applied unconditionally and no conflict
// is reported. Delete checks the revision with a HeadObject call before
// deleting, so a write landing between the two calls is not detected.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/axiomvault/vault/internal/objectstore"
)

// Config describes how to reach the bucket. Endpoint and UsePathStyle are
// typically only set for S3-compatible non-AWS providers (MinIO, R2, etc).
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// Store is an objectstore.Store backed by an S3-compatible bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New loads AWS credentials and region configuration from the environment
// (the standard SDK credential chain) and returns a bucket-scoped Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3store: bucket is required")
	}
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func etagRevision(etag *string) objectstore.Revision {
	if etag == nil {
		return objectstore.Revision{}
	}
	return objectstore.NewRevision(strings.Trim(*etag, `"`))
}

// Put implements objectstore.Store.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, expected *objectstore.Revision) (objectstore.Revision, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(string(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if expected != nil {
		if expected.IsZero() {
			in.IfNoneMatch = aws.String("*")
		} else {
			in.IfMatch = aws.String(expected.Tag())
		}
	}
	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		if isPreconditionFailure(err) {
			return objectstore.Revision{}, objectstore.PreconditionFailedError("put", key)
		}
		if isAccessDenied(err) {
			return objectstore.Revision{}, objectstore.UnauthorizedError("put", key, err)
		}
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	return etagRevision(out.ETag), nil
}

// Get implements objectstore.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, objectstore.Revision, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, objectstore.Revision{}, objectstore.NotFoundError("get", key)
		}
		if isAccessDenied(err) {
			return nil, objectstore.Revision{}, objectstore.UnauthorizedError("get", key, err)
		}
		return nil, objectstore.Revision{}, objectstore.TransportError("get", key, err)
	}
	return out.Body, etagRevision(out.ETag), nil
}

// Head implements objectstore.Store.
func (s *Store) Head(ctx context.Context, key string) (objectstore.Revision, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return objectstore.Revision{}, objectstore.NotFoundError("head", key)
		}
		if isAccessDenied(err) {
			return objectstore.Revision{}, objectstore.UnauthorizedError("head", key, err)
		}
		return objectstore.Revision{}, objectstore.TransportError("head", key, err)
	}
	return etagRevision(out.ETag), nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(ctx context.Context, key string, expected *objectstore.Revision) error {
	if expected != nil {
		cur, err := s.Head(ctx, key)
		if err != nil {
			return err
		}
		if cur.Tag() != expected.Tag() {
			return objectstore.PreconditionFailedError("delete", key)
		}
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAccessDenied(err) {
			return objectstore.UnauthorizedError("delete", key, err)
		}
		return objectstore.TransportError("delete", key, err)
	}
	return nil
}

// List implements objectstore.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isAccessDenied(err) {
				return nil, objectstore.UnauthorizedError("list", prefix, err)
			}
			return nil, objectstore.TransportError("list", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

func isAccessDenied(err error) bool {
	return strings.Contains(err.Error(), "AccessDenied") || strings.Contains(err.Error(), "Forbidden")
}

func isPreconditionFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "PreconditionFailed") || strings.Contains(msg, "ConditionalRequestConflict") || strings.Contains(msg, "412")
}

var _ objectstore.Store = (*Store)(nil)
