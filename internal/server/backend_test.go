package server

import (
	"context"
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API

	created   *s3.CreateMultipartUploadInput
	completed *s3.CompleteMultipartUploadInput
	put       *s3.PutObjectInput
}

func (f *fakeS3) CreateMultipartUploadWithContext(_ aws.Context, in *s3.CreateMultipartUploadInput, _ ...request.Option) (*s3.CreateMultipartUploadOutput, error) {
	f.created = in
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("mp-1")}, nil
}

func (f *fakeS3) CompleteMultipartUploadWithContext(_ aws.Context, in *s3.CompleteMultipartUploadInput, _ ...request.Option) (*s3.CompleteMultipartUploadOutput, error) {
	f.completed = in
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.put = in
	return &s3.PutObjectOutput{}, nil
}

func TestS3BackendMultipart(t *testing.T) {
	svc := &fakeS3{}
	b := NewS3Backend(svc, "uploads")
	ctx := context.Background()

	id, err := b.CreateMultipart(ctx, "f1/s1/photo.png")
	require.NoError(t, err)
	assert.Equal(t, "mp-1", id)
	assert.Equal(t, "uploads", aws.StringValue(svc.created.Bucket))
	assert.Equal(t, "image/png", aws.StringValue(svc.created.ContentType))

	err = b.CompleteMultipart(ctx, "f1/s1/photo.png", id, []Part{{1, `"a"`}, {2, `"b"`}})
	require.NoError(t, err)
	parts := svc.completed.MultipartUpload.Parts
	require.Len(t, parts, 2)
	assert.Equal(t, int64(2), aws.Int64Value(parts[1].PartNumber))
	assert.Equal(t, `"b"`, aws.StringValue(parts[1].ETag))
	assert.Equal(t, "mp-1", aws.StringValue(svc.completed.UploadId))

	require.NoError(t, b.PutObject(ctx, "f1/s2/empty.txt", nil))
	assert.Equal(t, int64(0), aws.Int64Value(svc.put.ContentLength))
}

func TestS3BackendPresignsParts(t *testing.T) {
	sess := session.Must(session.NewSession(&aws.Config{
		Region:           aws.String("us-west-2"),
		Endpoint:         aws.String("http://s3.example.com"),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials("id", "secret", ""),
	}))
	b := NewS3Backend(s3.New(sess), "uploads")

	raw, err := b.PartURL(context.Background(), "f1/s1/photo.png", "mp-1", 3)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com", u.Host)
	assert.Equal(t, "/uploads/f1/s1/photo.png", u.Path)
	q := u.Query()
	assert.Equal(t, "3", q.Get("partNumber"))
	assert.Equal(t, "mp-1", q.Get("uploadId"))
	assert.NotEmpty(t, q.Get("X-Amz-Signature"))
	assert.Equal(t, "900", q.Get("X-Amz-Expires"))
}
