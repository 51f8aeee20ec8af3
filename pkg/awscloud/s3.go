package awscloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// maxDeleteBatch is the S3 limit on keys per DeleteObjects call.
const maxDeleteBatch = 1000

// S3API is the subset of the S3 client used by the adapter.
type S3API interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3 implements engine.ObjectStore.
type S3 struct {
	api    S3API
	region string
}

var _ engine.ObjectStore = (*S3)(nil)

// NewS3 wraps an S3 client. region decides the bucket location constraint.
func NewS3(api S3API, region string) *S3 {
	return &S3{api: api, region: region}
}

func (s *S3) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	if isMissingBucket(err) {
		return false, nil
	}
	return false, translateError("head-bucket", bucket, err)
}

// isMissingBucket reports whether err says the bucket does not exist. HEAD
// responses carry no body, so a missing bucket there surfaces as NotFound.
func isMissingBucket(err error) bool {
	var notFound *s3types.NotFound
	var noSuchBucket *s3types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchBucket")
}

func (s *S3) CreateBucket(ctx context.Context, bucket string) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if s.region != "" && s.region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.region),
		}
	}
	_, err := s.api.CreateBucket(ctx, in)
	return translateError("create-bucket", bucket, err)
}

func (s *S3) PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, meta engine.ObjectMetadata) error {
	in := &s3.PutObjectInput{
		Bucket:             aws.String(bucket),
		Key:                aws.String(key),
		Body:               body,
		ContentLength:      aws.Int64(size),
		ContentType:        optionalString(meta.ContentType),
		CacheControl:       optionalString(meta.CacheControl),
		ContentEncoding:    optionalString(meta.ContentEncoding),
		ContentDisposition: optionalString(meta.ContentDisposition),
	}
	if len(meta.Extra) > 0 {
		in.Metadata = meta.Extra
	}
	_, err := s.api.PutObject(ctx, in)
	return translateError("put-object", bucket+"/"+key, err)
}

func (s *S3) ListObjects(ctx context.Context, bucket, prefix string) ([]engine.ObjectInfo, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	var out []engine.ObjectInfo
	p := s3.NewListObjectsV2Paginator(s.api, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if isMissingBucket(err) {
			return nil, fmt.Errorf("list-objects %s: %w", bucket, engine.ErrBucketNotFound)
		}
		if err != nil {
			return nil, translateError("list-objects", bucket, err)
		}
		for _, o := range page.Contents {
			out = append(out, engine.ObjectInfo{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	return out, nil
}

func (s *S3) DeleteObjects(ctx context.Context, bucket string, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		ids := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, s3types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return translateError("delete-objects", bucket, err)
		}
		if len(out.Errors) > 0 {
			msgs := make([]string, 0, len(out.Errors))
			for _, e := range out.Errors {
				msgs = append(msgs, fmt.Sprintf("%s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
			}
			return fmt.Errorf("delete-objects %s: %d keys failed: %s", bucket, len(out.Errors), strings.Join(msgs, "; "))
		}
	}
	return nil
}
