package services

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"echovault-backend/application/ports"
	"echovault-backend/domain"
	pkgerrors "echovault-backend/pkg/errors"
)

// WeightParams tune the rediscovery bias toward older, less-played echoes.
// The defaults are tuning values, not contract; they are configurable.
type WeightParams struct {
	// AgePerDay is the weight gained per day of age.
	AgePerDay float64
	// AgeCap bounds the age weight so very old items don't dominate
	// indefinitely.
	AgeCap float64
	// PlayPenalty is the weight lost per prior play.
	PlayPenalty float64
	// PlayFloor keeps heavily-played items reachable.
	PlayFloor float64
}

// DefaultWeightParams returns the stock tuning.
func DefaultWeightParams() WeightParams {
	return WeightParams{
		AgePerDay:   0.1,
		AgeCap:      5,
		PlayPenalty: 0.1,
		PlayFloor:   0.1,
	}
}

// Weight computes the selection weight for one candidate:
// min(ageDays*AgePerDay + 1, AgeCap) * max(1 - playCount*PlayPenalty, PlayFloor).
func (p WeightParams) Weight(ageDays float64, playCount int) float64 {
	ageWeight := math.Min(ageDays*p.AgePerDay+1, p.AgeCap)
	playWeight := math.Max(1-float64(playCount)*p.PlayPenalty, p.PlayFloor)
	return ageWeight * playWeight
}

// RandSource supplies the uniform draw for selection. Injected so tests can
// fix the draw and assert the exact pick.
type RandSource interface {
	Float64() float64
}

// systemRand draws from math/rand's shared, lock-protected source.
type systemRand struct{}

func (systemRand) Float64() float64 { return rand.Float64() }

// DefaultCandidatePoolSize bounds how much of a user's history one pick
// considers. Selection never loads the entire history.
const DefaultCandidatePoolSize = 100

// RediscoveryService picks one past echo to resurface, weighted toward older
// and less-played items.
type RediscoveryService struct {
	repo     ports.EchoRepository
	media    ports.MediaStore
	tasks    TaskRunner
	logger   *zap.Logger
	params   WeightParams
	poolSize int
	rng      RandSource
	now      func() time.Time
}

// RediscoveryOption customizes a RediscoveryService.
type RediscoveryOption func(*RediscoveryService)

// WithWeightParams overrides the weighting tuning.
func WithWeightParams(p WeightParams) RediscoveryOption {
	return func(s *RediscoveryService) { s.params = p }
}

// WithCandidatePoolSize overrides the candidate pool bound.
func WithCandidatePoolSize(n int) RediscoveryOption {
	return func(s *RediscoveryService) {
		if n > 0 && n <= DefaultCandidatePoolSize {
			s.poolSize = n
		}
	}
}

// WithRandSource replaces the random source, for deterministic tests.
func WithRandSource(r RandSource) RediscoveryOption {
	return func(s *RediscoveryService) { s.rng = r }
}

// WithClock replaces the time source, for deterministic tests.
func WithClock(now func() time.Time) RediscoveryOption {
	return func(s *RediscoveryService) { s.now = now }
}

// NewRediscoveryService creates a new rediscovery service
func NewRediscoveryService(repo ports.EchoRepository, media ports.MediaStore, tasks TaskRunner, logger *zap.Logger, opts ...RediscoveryOption) *RediscoveryService {
	s := &RediscoveryService{
		repo:     repo,
		media:    media,
		tasks:    tasks,
		logger:   logger,
		params:   DefaultWeightParams(),
		poolSize: DefaultCandidatePoolSize,
		rng:      systemRand{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectedEcho is the rediscovery result: the picked echo with its play count
// already reflecting this play, plus a fresh playback URL.
type SelectedEcho struct {
	*domain.Echo
	PlaybackURL string `json:"playback_url"`
}

// Pick selects one echo for the owner, optionally filtered by emotion.
//
// The play-count increment is issued as a detached best-effort task after the
// selection is determined: its failure is logged and absorbed, the caller
// still gets their echo.
func (s *RediscoveryService) Pick(ctx context.Context, ownerID, emotion string) (*SelectedEcho, error) {
	var parsed domain.Emotion
	if emotion != "" {
		var err error
		parsed, err = domain.ParseEmotion(emotion)
		if err != nil {
			return nil, err
		}
	}

	page, err := s.repo.List(ctx, ports.ListQuery{
		OwnerID:  ownerID,
		Emotion:  parsed,
		PageSize: s.poolSize,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Echoes) == 0 {
		return nil, pkgerrors.NewNotFoundError("echo").WithDetails(map[string]interface{}{
			"emotion": emotion,
		})
	}

	selected := s.selectWeighted(page.Echoes)

	url, err := s.media.PresignDownload(ctx, ownerID, selected.AudioLocator)
	if err != nil {
		return nil, err
	}

	playedAt := s.now().UTC()
	echoID := selected.EchoID
	s.tasks.Go("increment-play-count", func(taskCtx context.Context) error {
		return s.repo.IncrementPlayCount(taskCtx, ownerID, echoID, playedAt)
	})

	// The response reflects the play that was just issued; the stored
	// counter catches up via the detached increment.
	result := *selected
	result.PlayCount++
	result.LastPlayedAt = &playedAt

	s.logger.Info("echo rediscovered",
		zap.String("ownerID", ownerID),
		zap.String("echoID", echoID),
		zap.Int("poolSize", len(page.Echoes)),
	)
	return &SelectedEcho{Echo: &result, PlaybackURL: url}, nil
}

// selectWeighted performs a single-draw weighted sample: a uniform draw in
// [0, total) resolved by cumulative-weight scan.
func (s *RediscoveryService) selectWeighted(candidates []*domain.Echo) *domain.Echo {
	now := s.now()

	weights := make([]float64, len(candidates))
	total := 0.0
	for i, echo := range candidates {
		weights[i] = s.params.Weight(echo.AgeDays(now), echo.PlayCount)
		total += weights[i]
	}

	draw := s.rng.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if draw < cumulative {
			return candidates[i]
		}
	}
	// Floating-point edge: the draw landed on the accumulated rounding gap.
	return candidates[len(candidates)-1]
}
