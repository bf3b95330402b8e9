package ports

import (
	"context"
	"time"

	"echovault-backend/domain"
)

// ListQuery describes one page of a filtered listing.
type ListQuery struct {
	OwnerID string
	// Emotion filters via the secondary index when set; empty means the
	// whole owner partition.
	Emotion domain.Emotion
	// PageSize is the caller-visible page size, already validated.
	PageSize int
	// Token is the opaque continuation token from the previous page, or
	// empty for the first page.
	Token string
}

// ListPage is one page of results, newest first. NextToken is empty on the
// final page. Pages are read-committed: writes between two continuations may
// surface on, or be missed by, a later page.
type ListPage struct {
	Echoes    []*domain.Echo
	NextToken string
}

// EchoUpdate is a partial update of the user-editable fields. Nil fields are
// left untouched. Every applied update bumps the item version and refreshes
// its updated_at timestamp.
type EchoUpdate struct {
	Tags       *[]string
	Transcript *string
}

// EchoRepository is the port to the partitioned record store. Every operation
// is scoped by owner; an item belonging to another owner is reported as
// not found, indistinguishable from absence.
type EchoRepository interface {
	// Create persists a new echo, failing with a conflict if the
	// (owner, echo) pair already exists. No silent overwrites.
	Create(ctx context.Context, echo *domain.Echo) error

	// Get fetches one active echo by ID. Soft-deleted items are not found.
	Get(ctx context.Context, ownerID, echoID string) (*domain.Echo, error)

	// Update applies a partial update to an existing echo. It never
	// creates the item.
	Update(ctx context.Context, ownerID, echoID string, upd EchoUpdate) (*domain.Echo, error)

	// SoftDelete marks an echo inactive. The record persists but is never
	// again returned by Get, List or selection.
	SoftDelete(ctx context.Context, ownerID, echoID string) error

	// List returns one page of active echoes ordered by created_at
	// descending, using the emotion index when a filter is present and
	// falling back to a partition query when it is not usable.
	List(ctx context.Context, q ListQuery) (*ListPage, error)

	// IncrementPlayCount atomically bumps the play counter and records the
	// play time. Atomic at the store, never read-modify-write, so
	// concurrent rediscoveries cannot lose updates.
	IncrementPlayCount(ctx context.Context, ownerID, echoID string, playedAt time.Time) error
}

// MediaStore is the port to the audio object store. Locators are always
// prefixed by the owning user; operations on a foreign locator fail with an
// authorization error, never a URL.
type MediaStore interface {
	// PresignUpload validates the requested content type and declared size,
	// then mints a short-lived, encryption-enforcing upload URL plus the
	// locator the echo record should carry.
	PresignUpload(ctx context.Context, ownerID, contentType string, sizeBytes int64) (url, locator string, err error)

	// PresignDownload mints a short-lived playback URL for a locator owned
	// by the caller.
	PresignDownload(ctx context.Context, ownerID, locator string) (string, error)

	// Delete removes the backing audio object for a locator owned by the
	// caller.
	Delete(ctx context.Context, ownerID, locator string) error
}
