package room

import (
	"context"
	"errors"

	"beratung.org/internal/messaging"
	"beratung.org/internal/principal"
)

// Permission levels inside a conversation room. Anything at or above
// writeThreshold can post; observers stay strictly below it.
const (
	LevelObserver = 10
	LevelMember   = 0
	LevelOwner    = 100

	writeThreshold = 50
)

var (
	ErrNoBinding     = errors.New("room: case has no room binding")
	ErrNotAssigned   = errors.New("room: binding is not assigned")
	ErrNotSupervisor = errors.New("room: observer lacks supervisory capability")
	ErrNoRoom        = errors.New("room: no usable room could be created")
)

// Case identifies one advice case and the agency responsible for it.
type Case struct {
	ID       string
	AgencyID string
}

// Contact holds the advice seeker's messaging credentials. A contact may
// exist without messaging credentials; room operations then skip the steps
// that need them.
type Contact struct {
	Credentials messaging.Credentials
}

func (c Contact) complete() bool {
	return c.Credentials.UserID != "" && c.Credentials.Secret != ""
}

// Participant pairs a stored principal with its messaging credentials for
// operations that act on the messaging system on the principal's behalf.
type Participant struct {
	Principal   principal.Principal
	Credentials messaging.Credentials
}

// CredentialSource resolves the messaging service account of an agency.
// Agencies without a service account are a normal condition, not an error.
type CredentialSource interface {
	AgencyAccount(ctx context.Context, agencyID string) (messaging.Credentials, bool, error)
}
