package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config describes the object store s3:// sources are read from.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// MinioProvider reads s3://bucket/key sources through the MinIO client.
// Objects are seekable, so they are decoded without buffering.
type MinioProvider struct {
	client *minio.Client
}

func NewMinioProvider(cfg S3Config) (*MinioProvider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		// A fixed region avoids a bucket location lookup per request.
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioProvider{client: client}, nil
}

func (p *MinioProvider) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	obj, err := p.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapS3Error(uri, err)
	}

	// GetObject is lazy; Stat issues the request so a missing object is
	// reported here rather than on the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapS3Error(uri, err)
	}

	return obj, nil
}

func parseS3URI(uri string) (bucket string, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse source uri %q: %w", uri, err)
	}

	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("source uri %q must be s3://bucket/key: %w", uri, fs.ErrInvalid)
	}
	return bucket, key, nil
}

func mapS3Error(uri string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("open %q: %w: %w", uri, fs.ErrNotExist, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("open %q: %w: %w", uri, fs.ErrPermission, err)
	default:
		return fmt.Errorf("open %q: %w", uri, err)
	}
}
