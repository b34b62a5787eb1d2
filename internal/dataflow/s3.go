package dataflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// defaultRegion satisfies the SDK when talking to MinIO, which ignores it.
const defaultRegion = "us-east-1"

// S3Config configures an S3 or MinIO bucket.
type S3Config struct {
	Endpoint        string // host:port or URL; empty means AWS S3
	Bucket          string
	Region          string
	AccessKeyID     string // empty uses the default AWS credential chain
	SecretAccessKey string
	UseSSL          bool   // scheme for an Endpoint given without one
	PathPrefix      string // prepended to every key
}

// S3Backend stores artifacts as objects in one bucket.
type S3Backend struct {
	api    *s3.Client
	bucket string
	prefix string
}

func NewS3Backend(ctx context.Context, cfg *S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(static))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint == "" {
			return
		}
		o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
		o.UsePathStyle = true
	})
	return &S3Backend{api: api, bucket: cfg.Bucket, prefix: strings.Trim(cfg.PathPrefix, "/")}, nil
}

func endpointURL(endpoint string, useSSL bool) string {
	switch {
	case strings.Contains(endpoint, "://"):
		return endpoint
	case useSSL:
		return "https://" + endpoint
	default:
		return "http://" + endpoint
	}
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) fullPath(path string) string {
	if b.prefix == "" {
		return path
	}
	return b.prefix + "/" + path
}

func (b *S3Backend) Put(ctx context.Context, path string, data []byte, contentType string) (*ArtifactRef, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := b.fullPath(path)
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &b.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentType:   &contentType,
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("put s3://%s/%s: %w", b.bucket, key, err)
	}
	return newRef("s3://"+b.bucket+"/"+key, contentType, data), nil
}

func (b *S3Backend) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	key, err := b.extractKey(uri)
	if err != nil {
		return nil, err
	}
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &key})
	var missing *s3types.NoSuchKey
	switch {
	case errors.As(err, &missing):
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, uri)
	case err != nil:
		return nil, fmt.Errorf("get %s: %w", uri, err)
	}
	return out.Body, nil
}

// extractKey returns the object key of an s3:// URI in this bucket.
func (b *S3Backend) extractKey(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket != b.bucket || key == "" {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, uri)
	}
	return key, nil
}
