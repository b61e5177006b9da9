package server

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/gostones/cloudattach/internal"
)

// Backend stores uploaded content.
type Backend interface {
	// CreateMultipart starts a multipart upload for key.
	CreateMultipart(ctx context.Context, key string) (string, error)
	// PartURL returns a presigned URL the client PUTs part n to.
	PartURL(ctx context.Context, key, multipartID string, n int64) (string, error)
	CompleteMultipart(ctx context.Context, key, multipartID string, parts []Part) error
	// PutObject stores small objects in one request.
	PutObject(ctx context.Context, key string, body []byte) error
}

// PresignExpiry bounds how long a part URL stays valid.
const PresignExpiry = 15 * time.Minute

// S3Backend keeps objects in one S3 bucket.
type S3Backend struct {
	svc    s3iface.S3API
	bucket string
	expiry time.Duration
}

func NewS3Backend(svc s3iface.S3API, bucket string) *S3Backend {
	return &S3Backend{svc: svc, bucket: bucket, expiry: PresignExpiry}
}

func (b *S3Backend) CreateMultipart(ctx context.Context, key string) (string, error) {
	out, err := b.svc.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(internal.ContentType(key)),
	})
	if err != nil {
		return "", fmt.Errorf("can't obtain upload id: %w", err)
	}
	return aws.StringValue(out.UploadId), nil
}

func (b *S3Backend) PartURL(ctx context.Context, key, multipartID string, n int64) (string, error) {
	req, _ := b.svc.UploadPartRequest(&s3.UploadPartInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(multipartID),
		PartNumber: aws.Int64(n),
	})
	req.SetContext(ctx)
	u, err := req.Presign(b.expiry)
	if err != nil {
		return "", fmt.Errorf("can't presign part %d: %w", n, err)
	}
	return u, nil
}

func (b *S3Backend) CompleteMultipart(ctx context.Context, key, multipartID string, parts []Part) error {
	completed := make([]*s3.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, &s3.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int64(p.Number),
		})
	}
	_, err := b.svc.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(multipartID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("can't complete upload: %w", err)
	}
	return nil
}

func (b *S3Backend) PutObject(ctx context.Context, key string, body []byte) error {
	_, err := b.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(internal.ContentType(key)),
	})
	if err != nil {
		return fmt.Errorf("can't put object: %w", err)
	}
	return nil
}
