// Package storage keeps archived statistics batches in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ sales.ColdStorage = (*ColdStorage)(nil)

const (
	defaultRegion = "us-east-1"
	batchMIME     = "application/json"
)

// ColdStorage writes archive batches as JSON objects. Works against AWS S3,
// MinIO and other S3-compatible stores.
type ColdStorage struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewColdStorage builds a client from static credentials. A bare host in
// cfg.Endpoint is treated as https.
func NewColdStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*ColdStorage, error) {
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("storage bucket is required")
	case cfg.AccessKeyID == "" || cfg.SecretAccessKey == "":
		return nil, errors.New("storage access key and secret key are required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ColdStorage{
		client: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.Named("cold_storage"),
	}, nil
}

func (s *ColdStorage) Bucket() string { return s.bucket }

// EnsureBucket creates the bucket when HeadBucket reports it missing.
func (s *ColdStorage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noBucket) {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}

	s.logger.Info("Creating archive bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads one batch under the configured prefix. Callers delete the
// archived rows only after Put returns nil.
func (s *ColdStorage) Put(ctx context.Context, key string, body []byte) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(batchMIME),
	}); err != nil {
		return fmt.Errorf("upload archive batch %s: %w", key, err)
	}
	s.logger.Debug("Archive batch uploaded", zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}
