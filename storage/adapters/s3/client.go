// Package s3 stores archived bodies in an S3 (or S3-compatible) bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"netfetch/config"
	"netfetch/observability"
	"netfetch/storage/types"
)

// API is the subset of *s3.Client the adapter calls.
type API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Client implements types.ObjectStorage on S3.
type Client struct {
	api     API
	bucket  string
	region  string
	logger  observability.Logger
	metrics observability.Metrics
}

var _ types.ObjectStorage = (*Client)(nil)

// NewClient builds an S3 client from cfg and makes sure the default bucket
// exists, creating it if needed.
func NewClient(ctx context.Context, cfg config.StorageConfig, logger observability.Logger, metrics observability.Metrics) (*Client, error) {
	if cfg.BucketOrPath == "" {
		return nil, fmt.Errorf("invalid S3 configuration: bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})

	c := New(api, cfg.BucketOrPath, cfg.S3.Region, logger, metrics)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.ensureBucketExists(checkCtx); err != nil {
		return nil, fmt.Errorf("failed to verify bucket existence: %w", err)
	}
	return c, nil
}

// New wraps an existing API client.
func New(api API, bucket, region string, logger observability.Logger, metrics observability.Metrics) *Client {
	return &Client{
		api:     api,
		bucket:  bucket,
		region:  region,
		logger:  logger.WithFields(observability.Fields{"storage": "s3", "bucket": bucket}),
		metrics: metrics,
	}
}

func (c *Client) bucketOr(bucket string) string {
	if bucket == "" {
		return c.bucket
	}
	return bucket
}

func (c *Client) observe(op string, start time.Time, err error) {
	c.metrics.RecordDuration("s3_"+op, time.Since(start).Seconds())
	switch {
	case err == nil:
		c.metrics.RecordSuccess("s3_" + op)
	case errors.Is(err, types.ErrObjectNotFound):
		c.metrics.RecordError("s3_"+op, "not_found")
	default:
		c.metrics.RecordError("s3_"+op, "s3_error")
	}
}

func (c *Client) Put(ctx context.Context, bucket, key string, reader io.Reader, metadata types.ObjectMetadata) (err error) {
	start := time.Now()
	defer func() { c.observe("put", start, err) }()

	if key == "" {
		return types.ErrInvalidKey
	}
	bucket = c.bucketOr(bucket)

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, reader); err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
	}
	if metadata.ContentType != "" {
		input.ContentType = aws.String(metadata.ContentType)
	}
	if metadata.ContentEncoding != "" {
		input.ContentEncoding = aws.String(metadata.ContentEncoding)
	}
	if metadata.CacheControl != "" {
		input.CacheControl = aws.String(metadata.CacheControl)
	}
	if len(metadata.UserMetadata) > 0 {
		input.Metadata = metadata.UserMetadata
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		c.logger.Error(ctx, "failed to put object", err, observability.Fields{"key": key})
		return fmt.Errorf("failed to put object: %w", err)
	}

	c.metrics.RecordFileSize("archive", int64(buf.Len()))
	c.logger.Debug(ctx, "object stored", observability.Fields{"key": key, "size": buf.Len()})
	return nil
}

func (c *Client) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	body, _, err := c.GetWithMetadata(ctx, bucket, key)
	return body, err
}

func (c *Client) GetWithMetadata(ctx context.Context, bucket, key string) (_ io.ReadCloser, _ *types.ObjectMetadata, err error) {
	start := time.Now()
	defer func() { c.observe("get", start, err) }()

	result, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketOr(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil, types.ErrObjectNotFound
		}
		c.logger.Error(ctx, "failed to get object", err, observability.Fields{"key": key})
		return nil, nil, fmt.Errorf("failed to get object: %w", err)
	}

	return result.Body, &types.ObjectMetadata{
		ContentType:     aws.ToString(result.ContentType),
		ContentLength:   aws.ToInt64(result.ContentLength),
		ContentEncoding: aws.ToString(result.ContentEncoding),
		CacheControl:    aws.ToString(result.CacheControl),
		LastModified:    aws.ToTime(result.LastModified),
		ETag:            aws.ToString(result.ETag),
		UserMetadata:    result.Metadata,
	}, nil
}

func (c *Client) Delete(ctx context.Context, bucket, key string) (err error) {
	start := time.Now()
	defer func() { c.observe("delete", start, err) }()

	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketOr(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		c.logger.Error(ctx, "failed to delete object", err, observability.Fields{"key": key})
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucketOr(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

func (c *Client) List(ctx context.Context, bucket, prefix string) ([]types.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucketOr(bucket))}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []types.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}
	}
	return objects, nil
}

func (c *Client) ensureBucketExists(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}

	var nf *s3types.NotFound
	if !errors.As(err, &nf) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	c.logger.Info(ctx, "bucket does not exist, creating it", nil)
	input := &s3.CreateBucketInput{Bucket: aws.String(c.bucket)}
	if c.region != "" && c.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(c.region),
		}
	}

	if _, err := c.api.CreateBucket(ctx, input); err != nil {
		var exists *s3types.BucketAlreadyExists
		var owned *s3types.BucketAlreadyOwnedByYou
		if errors.As(err, &exists) || errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func buildAWSConfig(ctx context.Context, cfg config.StorageConfig) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error

	if cfg.S3.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.S3.Region))
	}
	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
		))
	}
	if cfg.Timeout > 0 {
		optFns = append(optFns, awsconfig.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

func isNotFoundError(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
