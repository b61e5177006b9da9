package transfer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/gostones/cloudattach/internal/retry"
)

// BucketConfig describes an S3 compatible bucket owned by the user.
type BucketConfig struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	ForcePathStyle bool
}

func (c BucketConfig) awsConfig() *aws.Config {
	endpoint := c.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	cfg := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(c.AccessKey, c.SecretKey, ""),
		Region:           aws.String(c.Region),
		S3ForcePathStyle: aws.Bool(c.ForcePathStyle),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	return cfg
}

// Bucket writes whole objects to a user supplied bucket.
type Bucket struct {
	svc    s3iface.S3API
	bucket string
	policy retry.Policy
	log    *slog.Logger
}

// NewS3Client returns an S3 client for the endpoint and credentials in cfg.
func NewS3Client(cfg BucketConfig) (*s3.S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	sess, err := session.NewSession(cfg.awsConfig())
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	return s3.New(sess), nil
}

func NewBucket(cfg BucketConfig, opts ...Option) (*Bucket, error) {
	svc, err := NewS3Client(cfg)
	if err != nil {
		return nil, err
	}
	return NewBucketWithClient(svc, cfg.Bucket, opts...), nil
}

func NewBucketWithClient(svc s3iface.S3API, bucket string, opts ...Option) *Bucket {
	o := newOptions(opts)
	return &Bucket{
		svc:    svc,
		bucket: bucket,
		policy: o.policy,
		log:    o.log,
	}
}

// Put stores body under key in a single request, retrying the whole write.
func (b *Bucket) Put(ctx context.Context, key string, body []byte, contentType string) error {
	op := func() error {
		_, err := b.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
			ContentType:   aws.String(contentType),
		})
		return err
	}
	notify := func(err error, attempt int, delay time.Duration) {
		b.log.Warn("object upload failed, retrying", "key", key, "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, b.policy, op, notify); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Check verifies that the bucket is reachable with the configured
// credentials by listing at most one object.
func (b *Bucket) Check(ctx context.Context) error {
	_, err := b.svc.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return fmt.Errorf("list bucket %s: %w", b.bucket, err)
	}
	return nil
}

func (b *Bucket) Name() string {
	return b.bucket
}
