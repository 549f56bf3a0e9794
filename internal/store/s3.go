package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// metaFilenameKey/metaUploadedAtKey are the S3 user-metadata keys the relay
// stores Meta under. S3 lower-cases and exposes these as
// "x-amz-meta-filename" / "x-amz-meta-uploaded-at" on GetObject.
const (
	metaFilenameKey    = "filename"
	metaContentTypeKey = "content-type"
	metaUploadedAtKey  = "uploaded-at"
)

// s3API is the subset of *s3.Client the store needs — narrowed for testing
// with a fake, the way dittofs's S3ContentStore takes a client interface.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 implements Blob against an S3-compatible bucket. Grounded on
// marmos91-dittofs's pkg/content/store/s3 package: same client-interface
// seam and isNotFoundError classification, trimmed to the relay's simpler
// single-attempt put/get/delete/list (the relay's own retry policy is "let
// the caller see the error and abort/retry at the HTTP layer", unlike
// dittofs's internal exponential backoff).
type S3 struct {
	client s3API
	bucket string
}

// NewS3 wraps an existing S3 client (typically built via config.LoadDefaultConfig
// in store.New) bound to bucket.
func NewS3(client *s3.Client, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

func (s *S3) Put(ctx context.Context, key string, r io.Reader, meta Meta) (int64, error) {
	counter := &countingReader{r: r}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   counter,
		Metadata: map[string]string{
			metaFilenameKey:    meta.Filename,
			metaContentTypeKey: meta.ContentType,
			metaUploadedAtKey:  strconv.FormatInt(meta.UploadedAt, 10),
		},
		ContentType: aws.String(meta.ContentType),
	})
	if err != nil {
		return 0, fmt.Errorf("s3 put %q: %w", key, err)
	}
	return counter.n, nil
}

func (s *S3) Get(ctx context.Context, key string) (rc io.ReadCloser, meta Meta, size int64, err error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, Meta{}, 0, ErrNotFound
		}
		return nil, Meta{}, 0, fmt.Errorf("s3 get %q: %w", key, err)
	}

	meta = Meta{
		Filename:    out.Metadata[metaFilenameKey],
		ContentType: out.Metadata[metaContentTypeKey],
	}
	if v, ok := out.Metadata[metaUploadedAtKey]; ok {
		meta.UploadedAt, _ = strconv.ParseInt(v, 10, 64)
	}

	sz := int64(0)
	if out.ContentLength != nil {
		sz = *out.ContentLength
	}
	return out.Body, meta, sz, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			size := int64(0)
			if obj.Size != nil {
				size = *obj.Size
			}
			out = append(out, Object{Key: aws.ToString(obj.Key), Size: size})
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

// countingReader wraps an io.Reader to track bytes read, since S3's
// PutObjectInput.Body does not report back how much it consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// isNotFoundError classifies an S3 error as "object does not exist", the
// same three-layer check (typed error, API error code, message substring)
// dittofs's s3_read.go uses.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}
