package objectstore

import (
	"context"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pkgerrors "echovault-backend/pkg/errors"
)

// fakePresigner records the inputs it was asked to sign and returns stub URLs.
type fakePresigner struct {
	lastPut *s3.PutObjectInput
	lastGet *s3.GetObjectInput
	err     error
}

func (f *fakePresigner) PresignPutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastPut = params
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.example/" + *params.Key + "?X-Amz-Signature=put"}, nil
}

func (f *fakePresigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastGet = params
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.example/" + *params.Key + "?X-Amz-Signature=get"}, nil
}

type fakeDeleter struct {
	deletedKeys []string
	err         error
}

func (f *fakeDeleter) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deletedKeys = append(f.deletedKeys, *params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func newTestStore(presigner *fakePresigner, deleter *fakeDeleter) *MediaStore {
	return NewMediaStore(presigner, deleter, Options{
		Bucket:      "echovault-audio",
		UploadTTL:   15 * time.Minute,
		DownloadTTL: time.Hour,
		MaxBytes:    25 << 20,
	}, zap.NewNop())
}

func TestPresignUpload(t *testing.T) {
	presigner := &fakePresigner{}
	store := newTestStore(presigner, &fakeDeleter{})

	url, locator, err := store.PresignUpload(context.Background(), "u1", "audio/mp4", 1024)
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.True(t, strings.HasPrefix(locator, "u1/"))
	assert.True(t, strings.HasSuffix(locator, ".m4a"))

	require.NotNil(t, presigner.lastPut)
	assert.Equal(t, "echovault-audio", *presigner.lastPut.Bucket)
	assert.Equal(t, "audio/mp4", *presigner.lastPut.ContentType)
	assert.Equal(t, int64(1024), *presigner.lastPut.ContentLength)
	assert.Equal(t, types.ServerSideEncryptionAes256, presigner.lastPut.ServerSideEncryption,
		"encryption is pinned into the signed request")
}

func TestPresignUpload_Validation(t *testing.T) {
	store := newTestStore(&fakePresigner{}, &fakeDeleter{})
	ctx := context.Background()

	_, _, err := store.PresignUpload(ctx, "u1", "video/mp4", 1024)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))

	_, _, err = store.PresignUpload(ctx, "u1", "audio/mp4", 0)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))

	_, _, err = store.PresignUpload(ctx, "u1", "audio/mp4", (25<<20)+1)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))

	_, _, err = store.PresignUpload(ctx, "", "audio/mp4", 1024)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnauthorized))
}

func TestPresignDownload_LocatorScoping(t *testing.T) {
	store := newTestStore(&fakePresigner{}, &fakeDeleter{})
	ctx := context.Background()

	url, err := store.PresignDownload(ctx, "u1", "u1/clip.m4a")
	require.NoError(t, err)
	assert.Contains(t, url, "u1/clip.m4a")

	// A foreign locator yields an authorization failure, never a URL.
	_, err = store.PresignDownload(ctx, "u1", "u2/clip.m4a")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeForbidden))

	_, err = store.PresignDownload(ctx, "u1", "u1/../u2/clip.m4a")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))

	_, err = store.PresignDownload(ctx, "u1", "")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeValidation))

	_, err = store.PresignDownload(ctx, "", "u1/clip.m4a")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnauthorized))
}

func TestDelete(t *testing.T) {
	deleter := &fakeDeleter{}
	store := newTestStore(&fakePresigner{}, deleter)
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "u1", "u1/clip.m4a"))
	assert.Equal(t, []string{"u1/clip.m4a"}, deleter.deletedKeys)

	err := store.Delete(ctx, "u1", "u2/clip.m4a")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeForbidden))
	assert.Len(t, deleter.deletedKeys, 1, "the foreign object is untouched")
}

func TestStoreOutage(t *testing.T) {
	presigner := &fakePresigner{err: assert.AnError}
	store := newTestStore(presigner, &fakeDeleter{err: assert.AnError})
	ctx := context.Background()

	_, _, err := store.PresignUpload(ctx, "u1", "audio/mp4", 1024)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))

	_, err = store.PresignDownload(ctx, "u1", "u1/clip.m4a")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))

	err = store.Delete(ctx, "u1", "u1/clip.m4a")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
}

func TestOptionsDefaults(t *testing.T) {
	store := NewMediaStore(&fakePresigner{}, &fakeDeleter{}, Options{Bucket: "b"}, zap.NewNop())
	assert.Equal(t, 15*time.Minute, store.uploadTTL)
	assert.Equal(t, time.Hour, store.downloadTTL)
	assert.Equal(t, int64(25<<20), store.maxBytes)

	// Upload TTLs above the cap fall back to the default.
	store = NewMediaStore(&fakePresigner{}, &fakeDeleter{}, Options{Bucket: "b", UploadTTL: 2 * time.Hour}, zap.NewNop())
	assert.Equal(t, 15*time.Minute, store.uploadTTL)
}
