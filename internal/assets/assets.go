// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package assets deletes externally stored files (profile images, resumes,
// listing photos) referenced by deleted accounts.
package assets

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/cascade"
)

// s3Client is the subset of *s3.Client the remover uses.
type s3Client interface {
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds S3-compatible storage configuration.
type Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Enabled reports whether a bucket and credentials are configured.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// NewS3Client builds a client from static credentials.
func NewS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// S3Remover deletes objects from one bucket.
type S3Remover struct {
	client s3Client
	bucket string
	logger *slog.Logger
}

var _ cascade.AssetRemover = (*S3Remover)(nil)

// NewS3Remover creates a remover for cfg.Bucket.
func NewS3Remover(cfg Config, logger *slog.Logger) (*S3Remover, error) {
	if !cfg.Enabled() {
		return nil, oops.Code("ASSETS_INVALID_CONFIG").Errorf("bucket and credentials are required")
	}
	return newS3Remover(NewS3Client(cfg), cfg.Bucket, logger), nil
}

func newS3Remover(client s3Client, bucket string, logger *slog.Logger) *S3Remover {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Remover{client: client, bucket: bucket, logger: logger}
}

// Remove deletes the object at key. Deleting a missing object succeeds.
func (r *S3Remover) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if _, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return oops.Code("ASSET_DELETE_FAILED").
			With("bucket", r.bucket).
			With("key", key).
			Wrap(err)
	}
	r.logger.DebugContext(ctx, "asset deleted", "bucket", r.bucket, "key", key)
	return nil
}

// Noop records asset keys without deleting anything. Used when no bucket
// is configured.
type Noop struct {
	logger *slog.Logger
}

var _ cascade.AssetRemover = Noop{}

// NewNoop creates a Noop remover.
func NewNoop(logger *slog.Logger) Noop {
	if logger == nil {
		logger = slog.Default()
	}
	return Noop{logger: logger}
}

// Remove logs key and returns nil.
func (n Noop) Remove(ctx context.Context, key string) error {
	n.logger.InfoContext(ctx, "asset removal skipped, no bucket configured", "key", key)
	return nil
}

// New returns an S3Remover when cfg is enabled and a Noop otherwise.
func New(cfg Config, logger *slog.Logger) (cascade.AssetRemover, error) {
	if !cfg.Enabled() {
		return NewNoop(logger), nil
	}
	return NewS3Remover(cfg, logger)
}
