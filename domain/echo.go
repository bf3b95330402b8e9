package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "echovault-backend/pkg/errors"
)

// Emotion is the single mood tag attached to an echo. The vocabulary is
// closed: unknown values are rejected at write time, never stored.
type Emotion string

const (
	EmotionCalm      Emotion = "calm"
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionExcited   Emotion = "excited"
	EmotionAnxious   Emotion = "anxious"
	EmotionNostalgic Emotion = "nostalgic"
	EmotionAngry     Emotion = "angry"
	EmotionPeaceful  Emotion = "peaceful"
)

var validEmotions = map[Emotion]struct{}{
	EmotionCalm:      {},
	EmotionHappy:     {},
	EmotionSad:       {},
	EmotionExcited:   {},
	EmotionAnxious:   {},
	EmotionNostalgic: {},
	EmotionAngry:     {},
	EmotionPeaceful:  {},
}

// ParseEmotion normalizes and validates an emotion tag.
func ParseEmotion(s string) (Emotion, error) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validEmotions[e]; !ok {
		return "", pkgerrors.NewValidationError("unknown emotion").WithDetails(map[string]interface{}{
			"field": "emotion",
			"value": s,
		})
	}
	return e, nil
}

// Echo is one recorded audio clip plus its metadata. OwnerID partitions all
// access: an echo is only ever visible to the owner that created it.
type Echo struct {
	OwnerID      string     `json:"owner_id"`
	EchoID       string     `json:"echo_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Emotion      Emotion    `json:"emotion"`
	AudioLocator string     `json:"-"` // never exposed directly; clients get presigned URLs
	Tags         []string   `json:"tags,omitempty"`
	Transcript   string     `json:"transcript,omitempty"`
	DetectedMood string     `json:"detected_mood,omitempty"`
	PlayCount    int        `json:"play_count"`
	LastPlayedAt *time.Time `json:"last_played_at,omitempty"`
	IsActive     bool       `json:"is_active"`
	Version      int        `json:"version"`
}

// NewEcho creates an echo from the verified owner identity and an already
// uploaded audio object. CreatedAt is set once here and never changes; it is
// both the listing sort key and the recency basis for rediscovery weighting.
func NewEcho(ownerID, emotion, audioLocator string) (*Echo, error) {
	if ownerID == "" {
		return nil, pkgerrors.NewValidationError("owner id cannot be empty")
	}
	if audioLocator == "" {
		return nil, pkgerrors.NewValidationError("audio locator cannot be empty")
	}
	parsed, err := ParseEmotion(emotion)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Echo{
		OwnerID:      ownerID,
		EchoID:       uuid.New().String(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Emotion:      parsed,
		AudioLocator: audioLocator,
		IsActive:     true,
		Version:      1,
	}, nil
}

// AgeDays returns the echo's age in fractional days at the given instant.
func (e *Echo) AgeDays(now time.Time) float64 {
	return now.Sub(e.CreatedAt).Hours() / 24
}
