// Package s3blob is the cold end of the event log: settled market
// histories are serialized to JSONL and parked on an S3-compatible
// object store (AWS S3, MinIO, iDrive e2, R2) once their residuals have
// been swept.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// uploadPartSize sizes multipart chunks for archive uploads. Most
// archives fit one part; busy markets spill into more.
const uploadPartSize = 8 * 1024 * 1024

// ClientConfig holds the connection parameters for the archive bucket.
// Endpoint is only needed for non-AWS providers; ForcePathStyle is
// required by most of them (bucket in the path, not the subdomain).
type ClientConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
}

// Client holds the SDK client, the multipart uploader and the archive
// bucket name. The Archiver drives it; nothing else in the daemon
// touches object storage.
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// New builds a Client for the configured bucket, wiring static
// credentials, the optional custom endpoint and path-style addressing
// so both AWS and compatible providers work.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := withScheme(cfg.Endpoint, cfg.UseSSL)
		opts = append(opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(endpoint) })
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	sdk := s3.NewFromConfig(awsCfg, opts...)
	return &Client{
		s3:       sdk,
		uploader: manager.NewUploader(sdk, func(u *manager.Uploader) { u.PartSize = uploadPartSize }),
		bucket:   cfg.Bucket,
	}, nil
}

// upload stores body under key in the archive bucket, splitting into
// multipart chunks as needed.
func (c *Client) upload(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return nil
}

// download returns the object at key; the caller closes the reader.
// A missing object maps to domain.ErrNotFound.
func (c *Client) download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if objectMissing(err) {
			return nil, fmt.Errorf("s3blob: download %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: download %s: %w", key, err)
	}
	return out.Body, nil
}

// Health heads the bucket to verify connectivity and permissions.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: bucket %s unreachable: %w", c.bucket, err)
	}
	return nil
}

// Close is a no-op kept for symmetry with the other wired backends; the
// SDK's HTTP client needs no teardown.
func (c *Client) Close() error {
	return nil
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// withScheme prepends http(s):// when the endpoint lacks a scheme.
func withScheme(endpoint string, useSSL bool) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// objectMissing reports whether the error means the object does not
// exist. GetObject fails with NoSuchKey while HeadObject yields a bare
// 404, and some compatible providers only set the status code.
func objectMissing(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	type statusError interface{ HTTPStatusCode() int }
	var se statusError
	return errors.As(err, &se) && se.HTTPStatusCode() == 404
}
