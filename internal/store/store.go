package store

import (
	"context"
	"errors"

	"beratung.org/internal/principal"
)

var (
	ErrNotFound   = errors.New("store: not found")
	ErrConstraint = errors.New("store: constraint violation")
)

// Store persists principals, room bindings and participant grants.
type Store interface {
	// SavePrincipal inserts the principal and assigns its local id.
	SavePrincipal(ctx context.Context, p *principal.Principal) error
	// DeletePrincipal removes the record. Used only as a rollback
	// compensation for a failed provisioning attempt.
	DeletePrincipal(ctx context.Context, id string) error
	FindPrincipal(ctx context.Context, id string) (principal.Principal, error)
	// SetMessagingID heals a principal left without a messaging identity.
	SetMessagingID(ctx context.Context, id, messagingID string) error
	// ListWithoutMessagingID returns principals still lacking a messaging
	// identity, oldest first, up to limit.
	ListWithoutMessagingID(ctx context.Context, limit int) ([]principal.Principal, error)

	// SaveBinding inserts a new room binding. Returns ErrConstraint when the
	// case already has one.
	SaveBinding(ctx context.Context, b RoomBinding) error
	FindBinding(ctx context.Context, caseID string) (RoomBinding, error)
	// AssignBinding flips a binding to assigned. Returns ErrConstraint when
	// the binding is already assigned.
	AssignBinding(ctx context.Context, caseID, principalID string) error
	// ReplaceBinding overwrites a case's binding with a fresh room. Used by
	// the fallback path when the holding room could not be handed off.
	ReplaceBinding(ctx context.Context, b RoomBinding) error

	SaveGrant(ctx context.Context, g *ParticipantGrant) error
	RevokeGrant(ctx context.Context, id string) error
	ActiveGrant(ctx context.Context, roomID, principalID string) (ParticipantGrant, error)
	ActiveGrants(ctx context.Context, roomID string) ([]ParticipantGrant, error)
}
