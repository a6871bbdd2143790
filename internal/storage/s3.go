package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	awshttp "github.com/aws/smithy-go/transport/http"
)

// S3Config holds the configuration for the remote store.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// Compile-time check that S3Remote implements Remote.
var _ Remote = (*S3Remote)(nil)

// S3Remote implements Remote against an S3-compatible bucket.
// Transient failures (5xx, throttling) are retried by the SDK's standard
// retryer with exponential backoff and jitter; classified permanent
// failures surface immediately.
type S3Remote struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewS3Remote creates a remote store client for the configured bucket.
func NewS3Remote(cfg S3Config) (*S3Remote, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Remote{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
	}, nil
}

// Put uploads data under the given key with optional metadata tags.
func (r *S3Remote) Put(ctx context.Context, key string, data io.Reader, tags map[string]string) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(r.bucket),
		Key:      aws.String(key),
		Body:     data,
		Metadata: tags,
	})
	if err != nil {
		return classify(key, err)
	}
	return nil
}

// Get returns a reader over the object and its size.
func (r *S3Remote) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, classify(key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Delete removes the object.
func (r *S3Remote) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(key, err)
	}
	return nil
}

// Exists reports whether the object is present.
func (r *S3Remote) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		classified := classify(key, err)
		if IsNotFound(classified) {
			return false, nil
		}
		return false, classified
	}
	return true, nil
}

// Presign returns a time-bounded fetch URL for the object.
func (r *S3Remote) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(key, err)
	}
	return req.URL, nil
}

// classify maps vendor errors onto the closed RemoteError taxonomy so no
// caller ever pattern-matches S3 error codes directly.
func classify(key string, err error) *RemoteError {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return &RemoteError{Kind: KindNotFound, Key: key, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return &RemoteError{Kind: KindNotFound, Key: key, Err: err}
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return &RemoteError{Kind: KindAccessDenied, Key: key, Err: err}
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequests":
			return &RemoteError{Kind: KindRateLimited, Key: key, Err: err}
		case "InternalError", "ServiceUnavailable":
			return &RemoteError{Kind: KindServerError, Key: key, Err: err}
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch {
		case status == 404:
			return &RemoteError{Kind: KindNotFound, Key: key, Err: err}
		case status == 403:
			return &RemoteError{Kind: KindAccessDenied, Key: key, Err: err}
		case status == 429:
			return &RemoteError{Kind: KindRateLimited, Key: key, Err: err}
		case status >= 500:
			return &RemoteError{Kind: KindServerError, Key: key, Err: err}
		}
	}

	return &RemoteError{Kind: KindUnknown, Key: key, Err: err}
}
