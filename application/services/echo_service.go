package services

import (
	"context"

	"go.uber.org/zap"

	"echovault-backend/application/ports"
	"echovault-backend/domain"
	"echovault-backend/pkg/common"
	pkgerrors "echovault-backend/pkg/errors"
)

// EchoService orchestrates record-store access, playback-URL minting and the
// asynchronous cleanup side effects behind the echo endpoints.
type EchoService struct {
	repo   ports.EchoRepository
	media  ports.MediaStore
	tasks  TaskRunner
	logger *zap.Logger
}

// NewEchoService creates a new echo service
func NewEchoService(repo ports.EchoRepository, media ports.MediaStore, tasks TaskRunner, logger *zap.Logger) *EchoService {
	return &EchoService{
		repo:   repo,
		media:  media,
		tasks:  tasks,
		logger: logger,
	}
}

// EchoWithURL is an echo plus a freshly minted, time-limited playback URL.
// The raw audio locator never leaves the service.
type EchoWithURL struct {
	*domain.Echo
	PlaybackURL string `json:"playback_url,omitempty"`
}

// ListResult is one page of echoes with playback URLs attached.
type ListResult struct {
	Echoes    []*EchoWithURL `json:"echoes"`
	NextToken string         `json:"next_token,omitempty"`
}

// CreateEchoInput carries the metadata recorded after a completed upload.
type CreateEchoInput struct {
	Emotion      string
	AudioLocator string
	Tags         []string
	Transcript   string
}

// CreateEcho registers a new echo for the owner. The audio object is assumed
// to already exist under the supplied locator; the locator must belong to the
// owner's prefix or creation is rejected.
func (s *EchoService) CreateEcho(ctx context.Context, ownerID string, in CreateEchoInput) (*domain.Echo, error) {
	echo, err := domain.NewEcho(ownerID, in.Emotion, in.AudioLocator)
	if err != nil {
		return nil, err
	}
	echo.Tags = in.Tags
	echo.Transcript = in.Transcript

	// The locator is caller-supplied on create; the same ownership rule the
	// media store applies on reads applies here.
	if _, err := s.media.PresignDownload(ctx, ownerID, in.AudioLocator); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, echo); err != nil {
		return nil, err
	}

	s.logger.Info("echo created",
		zap.String("ownerID", ownerID),
		zap.String("echoID", echo.EchoID),
		zap.String("emotion", string(echo.Emotion)),
	)
	return echo, nil
}

// GetEcho fetches a single echo by ID and attaches a playback URL. Direct
// fetches never touch the play counter.
func (s *EchoService) GetEcho(ctx context.Context, ownerID, echoID string) (*EchoWithURL, error) {
	echo, err := s.repo.Get(ctx, ownerID, echoID)
	if err != nil {
		return nil, err
	}
	return s.withPlaybackURL(ctx, echo), nil
}

// ListEchoes returns one page of the owner's echoes, newest first, optionally
// filtered by emotion.
func (s *EchoService) ListEchoes(ctx context.Context, ownerID, emotion string, pageSize int, token string) (*ListResult, error) {
	size, err := common.ValidatePageSize(pageSize)
	if err != nil {
		return nil, err
	}

	var parsed domain.Emotion
	if emotion != "" {
		parsed, err = domain.ParseEmotion(emotion)
		if err != nil {
			return nil, err
		}
	}

	page, err := s.repo.List(ctx, ports.ListQuery{
		OwnerID:  ownerID,
		Emotion:  parsed,
		PageSize: size,
		Token:    token,
	})
	if err != nil {
		return nil, err
	}

	result := &ListResult{
		Echoes:    make([]*EchoWithURL, 0, len(page.Echoes)),
		NextToken: page.NextToken,
	}
	for _, echo := range page.Echoes {
		result.Echoes = append(result.Echoes, s.withPlaybackURL(ctx, echo))
	}
	return result, nil
}

// UpdateEchoInput carries the user-editable fields of a partial update.
type UpdateEchoInput struct {
	Tags       *[]string
	Transcript *string
}

// UpdateEcho applies a partial edit to an existing echo.
func (s *EchoService) UpdateEcho(ctx context.Context, ownerID, echoID string, in UpdateEchoInput) (*domain.Echo, error) {
	if in.Tags == nil && in.Transcript == nil {
		return nil, pkgerrors.NewValidationError("no updatable fields provided")
	}
	return s.repo.Update(ctx, ownerID, echoID, ports.EchoUpdate{
		Tags:       in.Tags,
		Transcript: in.Transcript,
	})
}

// DeleteEcho soft-deletes the record and removes the backing audio object in
// a detached task. The metadata row persists; the listing and selection paths
// exclude it from the moment the soft delete lands.
func (s *EchoService) DeleteEcho(ctx context.Context, ownerID, echoID string) error {
	echo, err := s.repo.Get(ctx, ownerID, echoID)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, ownerID, echoID); err != nil {
		return err
	}

	locator := echo.AudioLocator
	s.tasks.Go("delete-audio-object", func(taskCtx context.Context) error {
		return s.media.Delete(taskCtx, ownerID, locator)
	})

	s.logger.Info("echo deleted",
		zap.String("ownerID", ownerID),
		zap.String("echoID", echoID),
	)
	return nil
}

// UploadTarget is a minted upload URL and the locator the created echo record
// should reference.
type UploadTarget struct {
	UploadURL    string `json:"upload_url"`
	AudioLocator string `json:"audio_locator"`
}

// MintUploadURL issues a short-lived upload URL for a new audio object.
func (s *EchoService) MintUploadURL(ctx context.Context, ownerID, contentType string, sizeBytes int64) (*UploadTarget, error) {
	url, locator, err := s.media.PresignUpload(ctx, ownerID, contentType, sizeBytes)
	if err != nil {
		return nil, err
	}
	return &UploadTarget{UploadURL: url, AudioLocator: locator}, nil
}

// withPlaybackURL mints a playback URL for the echo. Minting is independent
// of record state; a failure degrades the item to metadata-only rather than
// failing the whole listing.
func (s *EchoService) withPlaybackURL(ctx context.Context, echo *domain.Echo) *EchoWithURL {
	url, err := s.media.PresignDownload(ctx, echo.OwnerID, echo.AudioLocator)
	if err != nil {
		s.logger.Warn("failed to mint playback URL",
			zap.String("echoID", echo.EchoID),
			zap.Error(err),
		)
		url = ""
	}
	return &EchoWithURL{Echo: echo, PlaybackURL: url}
}
