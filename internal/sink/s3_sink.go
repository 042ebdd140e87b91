package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/lychee-technology/projection"
	"go.uber.org/zap"
)

type bucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink buffers records as JSON lines and uploads them as one object per
// run when closed.
type S3Sink struct {
	client   bucketAPI
	uploader objectUploader
	bucket   string
	key      string

	buf     bytes.Buffer
	enc     *json.Encoder
	written int
}

// NewS3Sink creates a sink that uploads to <prefix>/<runID>.jsonl in bucket.
func NewS3Sink(client bucketAPI, uploader objectUploader, bucket, prefix string, runID uuid.UUID) *S3Sink {
	s := &S3Sink{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		key:      path.Join(prefix, runID.String()+".jsonl"),
	}
	s.enc = json.NewEncoder(&s.buf)
	return s
}

// NewS3SinkFromClient wires a sink to an s3.Client with the default uploader.
func NewS3SinkFromClient(client *s3.Client, bucket, prefix string, runID uuid.UUID) *S3Sink {
	return NewS3Sink(client, manager.NewUploader(client), bucket, prefix, runID)
}

// Key returns the object key the sink uploads to.
func (s *S3Sink) Key() string {
	return s.key
}

// Write implements projection.RecordSink.
func (s *S3Sink) Write(ctx context.Context, record *projection.Record) error {
	if err := s.enc.Encode(record); err != nil {
		return projection.NewProjectionError(projection.ErrorTypeIO, projection.ErrCodeSinkFailed, "encode record").WithCause(err)
	}
	s.written++
	return nil
}

// Close implements projection.RecordSink.
func (s *S3Sink) Close(ctx context.Context) error {
	if s.written == 0 {
		zap.S().Infow("s3 sink has no records, skipping upload", "bucket", s.bucket, "key", s.key)
		return nil
	}
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(s.buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return projection.NewProjectionError(projection.ErrorTypeIO, projection.ErrCodeSinkFailed,
			fmt.Sprintf("upload s3://%s/%s", s.bucket, s.key)).WithCause(err)
	}
	zap.S().Infow("uploaded projected records", "bucket", s.bucket, "key", s.key, "records", s.written, "bytes", s.buf.Len())
	return nil
}

func (s *S3Sink) ensureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			code := apiErr.ErrorCode()
			if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				return nil
			}
		}
		return projection.NewProjectionError(projection.ErrorTypeIO, projection.ErrCodeSinkFailed,
			fmt.Sprintf("create bucket %s", s.bucket)).WithCause(err)
	}
	return nil
}
