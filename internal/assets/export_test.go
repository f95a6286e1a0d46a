// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package assets

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API exposes the client seam to external tests.
type S3API interface {
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3RemoverWithClient builds a remover around a fake client.
func NewS3RemoverWithClient(client S3API, bucket string) *S3Remover {
	return newS3Remover(client, bucket, slog.Default())
}
