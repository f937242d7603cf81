// Package store persists live-session records. The realtime hub treats it as
// an opaque collaborator reached through Get/Update.
package store

import (
	"context"
	"errors"

	"github.com/edlive/livehub/internal/domain"
)

var ErrNotFound = errors.New("session not found")

type SessionStore interface {
	Create(ctx context.Context, s *domain.LiveSession) error
	Get(ctx context.Context, id domain.SessionID) (*domain.LiveSession, error)
	// Update persists the full record. The store serializes writes per record.
	Update(ctx context.Context, s *domain.LiveSession) error
	// ListForUser returns sessions the user hosts or is enrolled in.
	ListForUser(ctx context.Context, userID domain.UserID) ([]*domain.LiveSession, error)
	Close() error
}
