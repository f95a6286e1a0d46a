// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package assets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyhold/internal/assets"
	"github.com/holomush/keyhold/pkg/errutil"
)

type fakeS3 struct {
	deleted []string
	bucket  string
	err     error
}

func (f *fakeS3) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = *input.Bucket
	f.deleted = append(f.deleted, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Remover_Remove(t *testing.T) {
	t.Run("deletes key from bucket", func(t *testing.T) {
		fake := &fakeS3{}
		r := assets.NewS3RemoverWithClient(fake, "uploads")
		require.NoError(t, r.Remove(context.Background(), "avatars/a.png"))
		assert.Equal(t, "uploads", fake.bucket)
		assert.Equal(t, []string{"avatars/a.png"}, fake.deleted)
	})

	t.Run("empty key is ignored", func(t *testing.T) {
		fake := &fakeS3{}
		require.NoError(t, assets.NewS3RemoverWithClient(fake, "uploads").Remove(context.Background(), ""))
		assert.Empty(t, fake.deleted)
	})

	t.Run("client failure", func(t *testing.T) {
		fake := &fakeS3{err: errors.New("AccessDenied")}
		err := assets.NewS3RemoverWithClient(fake, "uploads").Remove(context.Background(), "resumes/a.pdf")
		errutil.AssertErrorCode(t, err, "ASSET_DELETE_FAILED")
		errutil.AssertErrorContext(t, err, "key", "resumes/a.pdf")
	})
}

func TestNew(t *testing.T) {
	r, err := assets.New(assets.Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, assets.Noop{}, r)
	require.NoError(t, r.Remove(context.Background(), "anything"))

	r, err = assets.New(assets.Config{Bucket: "b", AccessKey: "k", SecretKey: "s", Region: "us-east-1"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &assets.S3Remover{}, r)

	_, err = assets.NewS3Remover(assets.Config{Bucket: "b"}, nil)
	errutil.AssertErrorCode(t, err, "ASSETS_INVALID_CONFIG")
}
