package common

import (
	"encoding/base64"
	"encoding/json"
	"sort"
	"time"

	"echovault-backend/domain"
	pkgerrors "echovault-backend/pkg/errors"
)

// Listing limits. Requests above MaxPageSize are validation errors, not
// silent clamps.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// tokenVersion guards the continuation-token encoding. A store-layer change
// that alters the cursor shape must bump this so stale tokens are rejected
// instead of misread.
const tokenVersion = 1

// maxTokenLength bounds decode input; anything larger is garbage.
const maxTokenLength = 2048

// Cursor is the decoded form of a continuation token: the last evaluated key
// of the previous page, as flat string attributes. Passing it back resumes
// exactly where that page ended.
type Cursor map[string]string

type tokenPayload struct {
	Version int    `json:"v"`
	Key     Cursor `json:"k"`
}

// EncodeToken encodes a cursor into an opaque continuation token.
func EncodeToken(c Cursor) (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(tokenPayload{Version: tokenVersion, Key: c})
	if err != nil {
		return "", pkgerrors.NewInternalError("failed to encode continuation token").WithCause(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken decodes an opaque continuation token back into a cursor.
// Corrupted, truncated or wrong-version tokens are validation errors; a
// bad token never silently resets the listing to page one.
func DecodeToken(token string) (Cursor, error) {
	if token == "" {
		return nil, nil
	}
	if len(token) > maxTokenLength {
		return nil, pkgerrors.NewValidationError("continuation token too long")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, pkgerrors.NewValidationError("malformed continuation token").WithCause(err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, pkgerrors.NewValidationError("malformed continuation token").WithCause(err)
	}
	if payload.Version != tokenVersion {
		return nil, pkgerrors.NewValidationError("unsupported continuation token version")
	}
	if len(payload.Key) == 0 {
		return nil, pkgerrors.NewValidationError("empty continuation token")
	}
	return payload.Key, nil
}

// Canonical cursor fields. Tokens carry a store-independent position
// (created_at + echo id) rather than a raw store key, so a listing begun on
// one query strategy can continue on another.
const (
	CursorCreatedAt = "CreatedAt"
	CursorEchoID    = "EchoID"
)

// CursorFor builds the canonical cursor pointing just past the given echo.
func CursorFor(e *domain.Echo) Cursor {
	return Cursor{
		CursorCreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		CursorEchoID:    e.EchoID,
	}
}

// ParseCursor extracts the position from a decoded cursor.
func ParseCursor(c Cursor) (createdAt time.Time, echoID string, err error) {
	echoID = c[CursorEchoID]
	createdAt, parseErr := time.Parse(time.RFC3339Nano, c[CursorCreatedAt])
	if parseErr != nil || echoID == "" {
		return time.Time{}, "", pkgerrors.NewValidationError("malformed continuation token")
	}
	return createdAt, echoID, nil
}

// SortEchoesDesc orders echoes newest first, echo id as the tie-break so the
// order is total and cursors are unambiguous.
func SortEchoesDesc(echoes []*domain.Echo) {
	sort.Slice(echoes, func(i, j int) bool {
		if !echoes[i].CreatedAt.Equal(echoes[j].CreatedAt) {
			return echoes[i].CreatedAt.After(echoes[j].CreatedAt)
		}
		return echoes[i].EchoID > echoes[j].EchoID
	})
}

// PageAfterCursor slices one page out of a desc-sorted candidate list,
// resuming just past the cursor position. Returns the page and the next
// token (empty on the final page).
func PageAfterCursor(sorted []*domain.Echo, pageSize int, cursor Cursor) ([]*domain.Echo, string, error) {
	start := 0
	if cursor != nil {
		createdAt, echoID, err := ParseCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		start = len(sorted)
		for i, e := range sorted {
			if e.CreatedAt.Before(createdAt) ||
				(e.CreatedAt.Equal(createdAt) && e.EchoID < echoID) {
				start = i
				break
			}
		}
	}

	end := start + pageSize
	if end > len(sorted) {
		end = len(sorted)
	}
	page := sorted[start:end]
	if end >= len(sorted) || len(page) == 0 {
		return page, "", nil
	}
	token, err := EncodeToken(CursorFor(page[len(page)-1]))
	if err != nil {
		return nil, "", err
	}
	return page, token, nil
}

// ValidatePageSize applies the default and enforces the upper bound.
func ValidatePageSize(size int) (int, error) {
	if size == 0 {
		return DefaultPageSize, nil
	}
	if size < 0 || size > MaxPageSize {
		return 0, pkgerrors.NewValidationError("page_size must be between 1 and 100")
	}
	return size, nil
}
