package backend

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kvbench/kvbench/internal/errors"
)

// S3 implements Backend on an S3-compatible object store. Record values
// live under kv/<keyspace>/<id>; secondary-index membership is modeled as
// zero-byte marker objects under idx/<keyspace>/<field>/<value>/<id>, so
// an index query is a prefix listing. Create-only writes use the
// If-None-Match precondition.
type S3 struct {
	client     *s3.Client
	bucket     string
	maxRetries int
}

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	// Region is the AWS region for the bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
}

// NewS3 creates an S3 backend for the given bucket.
func NewS3(ctx context.Context, bucket string, cfg S3Config) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "failed to load AWS config", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3WithClient(s3.NewFromConfig(awsCfg, s3Opts...), bucket), nil
}

// NewS3WithClient creates an S3 backend with a pre-configured client.
func NewS3WithClient(client *s3.Client, bucket string) *S3 {
	return &S3{client: client, bucket: bucket, maxRetries: 3}
}

func valueKey(keyspace, id string) string {
	return path.Join("kv", keyspace, id)
}

func indexKey(keyspace, field, value, id string) string {
	return path.Join("idx", keyspace, field, value, id)
}

// Put stores data with create-or-update semantics. The previous version's
// index markers are removed before the new markers are written.
func (s *S3) Put(ctx context.Context, keyspace, id string, data []byte, index IndexMap) error {
	// Read-modify-write: drop stale index markers from any prior version.
	stale, err := s.listPrefix(ctx, path.Join("idx", keyspace)+"/")
	if err != nil {
		return err
	}
	for _, key := range stale {
		if strings.HasSuffix(key, "/"+id) {
			if err := s.deleteObject(ctx, key); err != nil {
				return err
			}
		}
	}

	if err := s.putObject(ctx, valueKey(keyspace, id), data, false); err != nil {
		return err
	}
	for field, value := range index {
		if err := s.putObject(ctx, indexKey(keyspace, field, value, id), nil, false); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the stored bytes for keyspace/id.
func (s *S3) Get(ctx context.Context, keyspace, id string) ([]byte, error) {
	var data []byte
	err := s.retryWithBackoff(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(valueKey(keyspace, id)),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if stderrors.As(err, &noSuchKey) {
			return nil, ErrKeyNotFound.WithDetails(map[string]interface{}{
				"keyspace": keyspace, "id": id,
			})
		}
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "get failed", err)
	}
	return data, nil
}

// QueryIndexSet lists the marker objects under the index prefix.
func (s *S3) QueryIndexSet(ctx context.Context, keyspace, field, value string) ([]string, error) {
	prefix := path.Join("idx", keyspace, field, value) + "/"
	keys, err := s.listPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, prefix))
	}
	return ids, nil
}

// Count counts the value objects in a keyspace.
func (s *S3) Count(ctx context.Context, keyspace string) (int64, error) {
	keys, err := s.listPrefix(ctx, path.Join("kv", keyspace)+"/")
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Pipeline opens a pipelined connection. S3 has no wire-level pipelining;
// the connection still gives callers the queue-then-flush contract with
// issuance-order execution on the single underlying client.
func (s *S3) Pipeline() Conn {
	return &s3Conn{backend: s}
}

// Close is a no-op; the S3 client holds no persistent connection state.
func (s *S3) Close() error { return nil }

func (s *S3) putObject(ctx context.Context, key string, data []byte, createOnly bool) error {
	err := s.retryWithBackoff(ctx, func() error {
		input := &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		}
		if createOnly {
			input.IfNoneMatch = aws.String("*")
		}
		_, err := s.client.PutObject(ctx, input)
		return err
	})
	if err != nil {
		if createOnly && isPreconditionFailed(err) {
			// Key already present: create-only leaves it untouched.
			return nil
		}
		return errors.NewBackendError(errors.CodeWriteRejected, "put failed", err)
	}
	return nil
}

func (s *S3) deleteObject(ctx context.Context, key string) error {
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return errors.NewBackendError(errors.CodeWriteRejected, "delete failed", err)
	}
	return nil
}

func (s *S3) listPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewBackendError(errors.CodeConnectionFailed, "list failed", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// isPreconditionFailed checks for the If-None-Match rejection.
func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "PreconditionFailed") || strings.Contains(msg, "412")
}

// retryWithBackoff executes the operation with exponential backoff retry
// on transient failures.
func (s *S3) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		// Missing keys and failed preconditions are definitive answers.
		var noSuchKey *types.NoSuchKey
		if stderrors.As(lastErr, &noSuchKey) || isPreconditionFailed(lastErr) {
			return lastErr
		}

		if attempt < s.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

// s3Conn queues commands and executes them sequentially on Flush over the
// single client. Not safe for concurrent use.
type s3Conn struct {
	backend *S3
	queue   []pipeCommand
	flushed bool
}

func (c *s3Conn) PutCreateOnly(keyspace, id string, data []byte, index IndexMap) {
	c.queue = append(c.queue, pipeCommand{
		write: true, keyspace: keyspace, id: id, data: data, index: index,
	})
}

func (c *s3Conn) QueryIndexSet(keyspace, field, value string) {
	c.queue = append(c.queue, pipeCommand{
		keyspace: keyspace, field: field, value: value,
	})
}

func (c *s3Conn) Flush(ctx context.Context) ([]Result, error) {
	if c.flushed {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed,
			"pipelined connection already flushed", nil)
	}
	c.flushed = true

	results := make([]Result, 0, len(c.queue))
	for i, cmd := range c.queue {
		if cmd.write {
			if err := c.backend.putObject(ctx, valueKey(cmd.keyspace, cmd.id), cmd.data, true); err != nil {
				return nil, c.abortErr(i, err)
			}
			for field, value := range cmd.index {
				if err := c.backend.putObject(ctx, indexKey(cmd.keyspace, field, value, cmd.id), nil, true); err != nil {
					return nil, c.abortErr(i, err)
				}
			}
			results = append(results, Result{})
			continue
		}

		ids, err := c.backend.QueryIndexSet(ctx, cmd.keyspace, cmd.field, cmd.value)
		if err != nil {
			return nil, c.abortErr(i, err)
		}
		results = append(results, Result{Members: ids})
	}
	return results, nil
}

func (c *s3Conn) abortErr(i int, cause error) error {
	return errors.NewBackendError(errors.CodeConnectionFailed,
		fmt.Sprintf("pipeline aborted at command %d of %d", i+1, len(c.queue)), cause)
}
