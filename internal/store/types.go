package store

import "time"

// BindingState describes who owns a case's conversation room.
type BindingState string

const (
	// BindingHolding marks a room pre-created by an agency service account.
	BindingHolding BindingState = "holding"
	// BindingAssigned marks a room owned by a human principal.
	BindingAssigned BindingState = "assigned"
)

// RoomBinding maps a case to its messaging-system room. A case has at most
// one active binding; holding transitions to assigned exactly once and is not
// reversible by normal flow.
type RoomBinding struct {
	CaseID         string
	RoomID         string
	State          BindingState
	HoldingAccount string
	AssignedTo     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ParticipantGrant records that a principal was invited to a room at a
// specific permission level. Revoking a grant removes the participant but
// never deletes room history.
type ParticipantGrant struct {
	ID          string
	RoomID      string
	PrincipalID string
	Level       int
	Active      bool
	GrantedAt   time.Time
	RevokedAt   time.Time
}
