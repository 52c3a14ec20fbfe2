package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	// DefaultPartSize is the multipart upload part size used by S3.
	DefaultPartSize int64 = 8 << 20

	// MinPartSize is the smallest part size S3 accepts for non-final parts.
	MinPartSize int64 = 5 << 20
)

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string // Optional key prefix
	PartSize int64
}

// s3API is the subset of the S3 client used by the backend.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3 stores objects in an S3 bucket. Reads stream the object body; writes
// are buffered into parts and sent as a multipart upload, or as a single
// PutObject when the object fits in one part.
type S3 struct {
	client   s3API
	bucket   string
	prefix   string
	partSize int64
	handles  handleTable[*s3Object]
}

type s3Object struct {
	key  string
	mode OpenMode

	body io.ReadCloser

	buf      bytes.Buffer
	uploadID *string
	parts    []types.CompletedPart
	failed   bool
}

// NewS3 creates an S3 backend from the default AWS configuration chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3WithClient(client, cfg), nil
}

func newS3WithClient(client s3API, cfg S3Config) *S3 {
	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	partSize = max(partSize, MinPartSize)
	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, partSize: partSize}
}

func (b *S3) Open(ctx context.Context, name string, mode OpenMode) (Handle, error) {
	key, err := cleanName(name)
	if err != nil {
		return 0, err
	}
	key = b.prefix + key

	obj := &s3Object{key: key, mode: mode}
	switch mode {
	case OpenRead:
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) {
				return 0, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, b.bucket, key)
			}
			return 0, fmt.Errorf("s3 get failed for %s: %w", key, err)
		}
		obj.body = out.Body
	case OpenWrite:
	default:
		return 0, fmt.Errorf("unsupported open mode %s", mode)
	}
	return b.handles.add(obj), nil
}

func (b *S3) Read(_ context.Context, h Handle, p []byte) (int, error) {
	obj, err := b.handles.get(h)
	if err != nil {
		return 0, err
	}
	if obj.mode != OpenRead {
		return 0, fmt.Errorf("%w: %d is not open for reading", ErrBadHandle, h)
	}
	return obj.body.Read(p)
}

func (b *S3) Write(ctx context.Context, h Handle, p []byte) (int, error) {
	obj, err := b.handles.get(h)
	if err != nil {
		return 0, err
	}
	if obj.mode != OpenWrite {
		return 0, fmt.Errorf("%w: %d is not open for writing", ErrBadHandle, h)
	}
	if obj.failed {
		return 0, fmt.Errorf("s3 upload of %s already failed", obj.key)
	}
	obj.buf.Write(p)
	for int64(obj.buf.Len()) >= b.partSize {
		if err := b.uploadPart(ctx, obj, obj.buf.Next(int(b.partSize))); err != nil {
			obj.failed = true
			return 0, err
		}
	}
	return len(p), nil
}

// uploadPart sends one part, starting the multipart upload on first use.
func (b *S3) uploadPart(ctx context.Context, obj *s3Object, part []byte) error {
	if obj.uploadID == nil {
		out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(obj.key),
			ContentType: aws.String("application/octet-stream"),
		})
		if err != nil {
			return fmt.Errorf("s3 create multipart upload failed for %s: %w", obj.key, err)
		}
		obj.uploadID = out.UploadId
	}

	number := int32(len(obj.parts) + 1)
	out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(obj.key),
		UploadId:      obj.uploadID,
		PartNumber:    aws.Int32(number),
		Body:          bytes.NewReader(part),
		ContentLength: aws.Int64(int64(len(part))),
	})
	if err != nil {
		return fmt.Errorf("s3 upload part %d failed for %s: %w", number, obj.key, err)
	}
	obj.parts = append(obj.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
	return nil
}

// Close finishes the object. A write handle whose upload failed is aborted
// instead of completed.
func (b *S3) Close(ctx context.Context, h Handle) error {
	obj, err := b.handles.remove(h)
	if err != nil {
		return err
	}
	if obj.mode == OpenRead {
		return obj.body.Close()
	}

	if obj.uploadID == nil && !obj.failed {
		data := obj.buf.Bytes()
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(obj.key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/octet-stream"),
		})
		if err != nil {
			return fmt.Errorf("s3 put failed for %s: %w", obj.key, err)
		}
		return nil
	}

	if !obj.failed && obj.buf.Len() > 0 {
		if err := b.uploadPart(ctx, obj, obj.buf.Bytes()); err != nil {
			obj.failed = true
		}
	}
	if obj.failed {
		return b.abort(ctx, obj)
	}
	_, err = b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(obj.key),
		UploadId:        obj.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: obj.parts},
	})
	if err != nil {
		return errors.Join(fmt.Errorf("s3 complete multipart upload failed for %s: %w", obj.key, err), b.abort(ctx, obj))
	}
	return nil
}

func (b *S3) abort(ctx context.Context, obj *s3Object) error {
	failure := fmt.Errorf("s3 upload of %s aborted", obj.key)
	if obj.uploadID == nil {
		return failure
	}
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(obj.key),
		UploadId: obj.uploadID,
	})
	if err != nil {
		return errors.Join(failure, fmt.Errorf("s3 abort multipart upload failed for %s: %w", obj.key, err))
	}
	return failure
}

// Release is a no-op; the SDK client holds no resources that need closing.
func (b *S3) Release() error {
	return nil
}
