// Package objectstore is the gateway to the audio blob store. It mints
// short-lived presigned URLs and enforces the owner-prefix rule on every
// locator it touches.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"echovault-backend/application/ports"
	pkgerrors "echovault-backend/pkg/errors"
)

// allowedAudioTypes maps accepted upload content types to the stored file
// extension. Anything else is rejected before a URL is issued.
var allowedAudioTypes = map[string]string{
	"audio/mp4":  ".m4a",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/aac":  ".aac",
	"audio/webm": ".webm",
}

// Presigner is the subset of the S3 presign client the store uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Deleter is the subset of the S3 client the store uses for object removal.
type Deleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// MediaStore implements ports.MediaStore on S3 presigned URLs.
type MediaStore struct {
	presigner   Presigner
	client      Deleter
	bucket      string
	uploadTTL   time.Duration
	downloadTTL time.Duration
	maxBytes    int64
	sse         types.ServerSideEncryption
	logger      *zap.Logger
}

var _ ports.MediaStore = (*MediaStore)(nil)

// Options configure a MediaStore.
type Options struct {
	Bucket      string
	UploadTTL   time.Duration
	DownloadTTL time.Duration
	MaxBytes    int64
}

// NewMediaStore creates a media store for the given bucket. Uploads are
// always presigned with AES-256 server-side encryption; expiry enforcement is
// the object store's job, never a silent refresh here.
func NewMediaStore(presigner Presigner, client Deleter, opts Options, logger *zap.Logger) *MediaStore {
	if opts.UploadTTL <= 0 || opts.UploadTTL > 30*time.Minute {
		opts.UploadTTL = 15 * time.Minute
	}
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = time.Hour
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 25 << 20
	}
	return &MediaStore{
		presigner:   presigner,
		client:      client,
		bucket:      opts.Bucket,
		uploadTTL:   opts.UploadTTL,
		downloadTTL: opts.DownloadTTL,
		maxBytes:    opts.MaxBytes,
		sse:         types.ServerSideEncryptionAes256,
		logger:      logger,
	}
}

// PresignUpload validates content type and declared size, then mints an
// upload URL tied to the owner's prefix. The signed request pins content
// type, length and encryption, so an upload that strays from any of them is
// refused by the store itself.
func (m *MediaStore) PresignUpload(ctx context.Context, ownerID, contentType string, sizeBytes int64) (string, string, error) {
	if ownerID == "" {
		return "", "", pkgerrors.NewUnauthorizedError("missing owner identity")
	}
	ext, ok := allowedAudioTypes[strings.ToLower(contentType)]
	if !ok {
		return "", "", pkgerrors.NewValidationError("unsupported audio format").WithDetails(map[string]interface{}{
			"field": "file_type",
			"value": contentType,
		})
	}
	if sizeBytes <= 0 || sizeBytes > m.maxBytes {
		return "", "", pkgerrors.NewValidationError(fmt.Sprintf("file size must be between 1 and %d bytes", m.maxBytes))
	}
	if m.sse == "" {
		// Encryption at rest is mandatory; refuse before issuing a URL
		// rather than discovering unencrypted objects later.
		return "", "", pkgerrors.NewInternalError("server-side encryption not configured")
	}

	locator := ownerID + "/" + uuid.New().String() + ext
	req, err := m.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(m.bucket),
		Key:                  aws.String(locator),
		ContentType:          aws.String(contentType),
		ContentLength:        aws.Int64(sizeBytes),
		ServerSideEncryption: m.sse,
	}, s3.WithPresignExpires(m.uploadTTL))
	if err != nil {
		return "", "", pkgerrors.NewUnavailableError("object store unavailable").WithCause(err)
	}

	m.logger.Debug("upload URL minted",
		zap.String("ownerID", ownerID),
		zap.String("locator", locator),
	)
	return req.URL, locator, nil
}

// PresignDownload mints a playback URL for a locator under the caller's
// prefix.
func (m *MediaStore) PresignDownload(ctx context.Context, ownerID, locator string) (string, error) {
	if err := m.checkOwnership(ownerID, locator); err != nil {
		return "", err
	}

	req, err := m.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(locator),
	}, s3.WithPresignExpires(m.downloadTTL))
	if err != nil {
		return "", pkgerrors.NewUnavailableError("object store unavailable").WithCause(err)
	}
	return req.URL, nil
}

// Delete removes the audio object behind a locator under the caller's prefix.
func (m *MediaStore) Delete(ctx context.Context, ownerID, locator string) error {
	if err := m.checkOwnership(ownerID, locator); err != nil {
		return err
	}

	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		return pkgerrors.NewUnavailableError("object store unavailable").WithCause(err)
	}
	return nil
}

// checkOwnership enforces the owner-prefix rule. A well-formed locator
// belonging to someone else is an authorization failure, not a generic one.
func (m *MediaStore) checkOwnership(ownerID, locator string) error {
	if ownerID == "" {
		return pkgerrors.NewUnauthorizedError("missing owner identity")
	}
	if locator == "" || strings.HasPrefix(locator, "/") || strings.Contains(locator, "..") {
		return pkgerrors.NewValidationError("malformed audio locator")
	}
	if !strings.HasPrefix(locator, ownerID+"/") {
		return pkgerrors.NewForbiddenError("locator does not belong to caller")
	}
	return nil
}
