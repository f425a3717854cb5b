package principal

import "time"

// LegacyChatUnknown is the sentinel id stored when the legacy chat system
// could not create an account. The legacy system is being phased out, so a
// missing account must never block provisioning.
const LegacyChatUnknown = "unknown"

// Roles assignable during provisioning.
const (
	RoleConsultant          = "consultant"
	RoleGroupChatConsultant = "group-chat-consultant"
	RoleSupervisor          = "supervisor"
)

// Principal is a provisioned human identity spanning the identity provider,
// the relational store, the legacy chat system and the messaging system.
type Principal struct {
	ID          string
	ProviderID  string
	MessagingID string
	LegacyID    string
	Username    string
	FirstName   string
	LastName    string
	Email       string
	Roles       []string
	Supervisor  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DisplayName is the human-readable name sent to the messaging system.
func (p Principal) DisplayName() string {
	switch {
	case p.FirstName == "" && p.LastName == "":
		return p.Username
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// HasMessagingID reports whether the principal has a messaging identity.
func (p Principal) HasMessagingID() bool { return p.MessagingID != "" }

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Input carries everything needed to provision a principal. Credential is
// plain-text material captured at the request boundary, used once during
// provisioning and never persisted. It is threaded explicitly through the
// call chain, never stashed in ambient per-request state.
type Input struct {
	Username     string
	FirstName    string
	LastName     string
	Email        string
	Credential   string
	Roles        []string
	Supervisor   bool
	Appointments bool
}
