// Package archive keeps a copy of every raw inbound message in object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/valyala/gozstd"
)

type Archiver interface {
	// Store saves raw and returns the object key it was written under.
	Store(ctx context.Context, raw []byte) (string, error)
}

// S3Client is the subset of *s3.S3 used here.
type S3Client interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// S3 writes raw messages under time-based keys, optionally zstd compressed.
type S3 struct {
	client   S3Client
	bucket   string
	compress bool
	now      func() time.Time
}

func NewS3(client S3Client, bucket string, compress bool) *S3 {
	return &S3{client: client, bucket: bucket, compress: compress, now: time.Now}
}

func (a *S3) Store(ctx context.Context, raw []byte) (string, error) {
	key := ObjectKey(a.now())
	body := raw
	contentType := "message/rfc822"

	if a.compress {
		key += ".zstd"
		body = gozstd.Compress(nil, raw)
		contentType = "application/zstd"
	} else {
		key += ".eml"
	}

	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive message to s3://%s/%s: %w", a.bucket, key, err)
	}

	return key, nil
}

// ObjectKey returns YYYY/MM/DD/HH/mm/ss/<uuid> for t in UTC.
func ObjectKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%02d/%02d/%02d/%s",
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
		uuid.New().String())
}
