// Package memory provides an in-memory ports.EchoRepository with the same
// visibility, conflict and pagination semantics as the DynamoDB
// implementation. It backs local development and the test suites.
package memory

import (
	"context"
	"sync"
	"time"

	"echovault-backend/application/ports"
	"echovault-backend/domain"
	"echovault-backend/pkg/common"
	pkgerrors "echovault-backend/pkg/errors"
)

type echoKey struct {
	ownerID string
	echoID  string
}

// EchoRepository is a mutex-guarded map keyed by (owner, echo).
type EchoRepository struct {
	mu     sync.RWMutex
	echoes map[echoKey]*domain.Echo
}

var _ ports.EchoRepository = (*EchoRepository)(nil)

// NewEchoRepository creates an empty in-memory repository.
func NewEchoRepository() *EchoRepository {
	return &EchoRepository{echoes: make(map[echoKey]*domain.Echo)}
}

func clone(e *domain.Echo) *domain.Echo {
	c := *e
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	if e.LastPlayedAt != nil {
		t := *e.LastPlayedAt
		c.LastPlayedAt = &t
	}
	return &c
}

// Create stores a new echo, rejecting duplicates with a conflict.
func (r *EchoRepository) Create(_ context.Context, echo *domain.Echo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := echoKey{echo.OwnerID, echo.EchoID}
	if _, exists := r.echoes[key]; exists {
		return pkgerrors.NewConflictError("echo already exists")
	}
	r.echoes[key] = clone(echo)
	return nil
}

// Get returns one active echo, or not-found for missing, foreign-owner and
// soft-deleted items alike.
func (r *EchoRepository) Get(_ context.Context, ownerID, echoID string) (*domain.Echo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	echo, ok := r.echoes[echoKey{ownerID, echoID}]
	if !ok || !echo.IsActive {
		return nil, pkgerrors.NewNotFoundError("echo")
	}
	return clone(echo), nil
}

// Update applies a partial update, bumping version and updated_at.
func (r *EchoRepository) Update(_ context.Context, ownerID, echoID string, upd ports.EchoUpdate) (*domain.Echo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	echo, ok := r.echoes[echoKey{ownerID, echoID}]
	if !ok || !echo.IsActive {
		return nil, pkgerrors.NewNotFoundError("echo")
	}
	if upd.Tags != nil {
		echo.Tags = append([]string(nil), (*upd.Tags)...)
	}
	if upd.Transcript != nil {
		echo.Transcript = *upd.Transcript
	}
	echo.Version++
	echo.UpdatedAt = time.Now().UTC()
	return clone(echo), nil
}

// SoftDelete marks an echo inactive; a second delete reports not-found.
func (r *EchoRepository) SoftDelete(_ context.Context, ownerID, echoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	echo, ok := r.echoes[echoKey{ownerID, echoID}]
	if !ok || !echo.IsActive {
		return pkgerrors.NewNotFoundError("echo")
	}
	echo.IsActive = false
	echo.Version++
	echo.UpdatedAt = time.Now().UTC()
	return nil
}

// List pages through the owner's active echoes newest first, using the same
// canonical continuation cursor as the DynamoDB store.
func (r *EchoRepository) List(_ context.Context, q ports.ListQuery) (*ports.ListPage, error) {
	cursor, err := common.DecodeToken(q.Token)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	var matches []*domain.Echo
	for key, echo := range r.echoes {
		if key.ownerID != q.OwnerID || !echo.IsActive {
			continue
		}
		if q.Emotion != "" && echo.Emotion != q.Emotion {
			continue
		}
		matches = append(matches, clone(echo))
	}
	r.mu.RUnlock()

	common.SortEchoesDesc(matches)
	pageEchoes, nextToken, err := common.PageAfterCursor(matches, q.PageSize, cursor)
	if err != nil {
		return nil, err
	}
	return &ports.ListPage{Echoes: pageEchoes, NextToken: nextToken}, nil
}

// IncrementPlayCount bumps the counter under the lock, mirroring the store's
// atomic ADD.
func (r *EchoRepository) IncrementPlayCount(_ context.Context, ownerID, echoID string, playedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	echo, ok := r.echoes[echoKey{ownerID, echoID}]
	if !ok {
		return pkgerrors.NewNotFoundError("echo")
	}
	echo.PlayCount++
	echo.Version++
	playedAt = playedAt.UTC()
	echo.LastPlayedAt = &playedAt
	echo.UpdatedAt = playedAt
	return nil
}
