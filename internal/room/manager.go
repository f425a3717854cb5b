package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"beratung.org/internal/audit"
	"beratung.org/internal/ids"
	"beratung.org/internal/messaging"
	"beratung.org/internal/obs"
	"beratung.org/internal/store"
)

// Messenger is the slice of the messaging client the room manager drives.
type Messenger interface {
	Login(ctx context.Context, name, secret string) (string, error)
	CreateRoom(ctx context.Context, name, alias, ownerToken string) (string, error)
	Invite(ctx context.Context, roomID, userID, actorToken string) error
	Join(ctx context.Context, roomID, userToken string) error
	SetPermissionLevel(ctx context.Context, roomID, userID string, level int, actorToken string) error
	RemoveParticipant(ctx context.Context, roomID, userID, actorToken string) error
}

// Manager owns the lifecycle of case conversation rooms: a case starts
// without a room, may get a holding room pre-created by the agency's service
// account, and ends with a room owned by the assigned principal. Rooms are
// never deleted here; participants are removed, history stays.
type Manager struct {
	msg    Messenger
	store  store.Store
	creds  CredentialSource
	system messaging.Credentials
}

// NewManager constructs a Manager. The system credentials belong to the
// moderation account used for observer attachment after handoff.
func NewManager(msg Messenger, st store.Store, creds CredentialSource, system messaging.Credentials) *Manager {
	return &Manager{msg: msg, store: st, creds: creds, system: system}
}

// EnsureHoldingRoom pre-creates a room for the case under the agency's
// service account so the contact can write before a principal is assigned.
// Idempotent: an existing binding, a missing agency account or incomplete
// contact credentials all make this a no-op.
func (m *Manager) EnsureHoldingRoom(ctx context.Context, c Case, contact Contact) error {
	if _, err := m.store.FindBinding(ctx, c.ID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	agency, ok, err := m.creds.AgencyAccount(ctx, c.AgencyID)
	if err != nil {
		return err
	}
	if !ok || agency.UserID == "" || agency.Secret == "" {
		obs.Info("agency has no service account, skipping holding room", map[string]any{
			"case_id":   c.ID,
			"agency_id": c.AgencyID,
		})
		return nil
	}
	if !contact.complete() {
		obs.Info("contact credentials incomplete, skipping holding room", map[string]any{
			"case_id": c.ID,
		})
		return nil
	}

	agencyToken, err := m.msg.Login(ctx, messaging.LocalPart(agency.UserID), agency.Secret)
	if err != nil {
		return fmt.Errorf("agency login: %w", err)
	}
	roomID, err := m.msg.CreateRoom(ctx, "case "+c.ID, holdingAlias(c.ID), agencyToken)
	if err != nil {
		return fmt.Errorf("create holding room: %w", err)
	}
	if err := m.msg.Invite(ctx, roomID, contact.Credentials.UserID, agencyToken); err != nil {
		return fmt.Errorf("invite contact: %w", err)
	}
	m.autoJoin(ctx, roomID, contact.Credentials, "contact")

	if err := m.store.SaveBinding(ctx, store.RoomBinding{
		CaseID:         c.ID,
		RoomID:         roomID,
		State:          store.BindingHolding,
		HoldingAccount: agency.UserID,
	}); err != nil {
		return err
	}
	obs.CountRoomTransition("noroom_holding", "direct")
	return nil
}

// AssignRoom gives the case a room owned by the assigned principal. The
// preferred path hands the existing holding room off without changing its
// room id; when the handoff cannot complete, a fresh principal-owned room
// replaces it. Only the inability to create even the fresh room is an error.
func (m *Manager) AssignRoom(ctx context.Context, c Case, member Participant, contact Contact) (store.RoomBinding, error) {
	binding, err := m.store.FindBinding(ctx, c.ID)
	switch {
	case err == nil && binding.State == store.BindingAssigned:
		return store.RoomBinding{}, fmt.Errorf("case %s: %w", c.ID, store.ErrConstraint)
	case err == nil:
		handed, hErr := m.handOff(ctx, c, binding, member)
		if hErr == nil {
			return handed, nil
		}
		obs.Warn("holding room handoff failed, creating fresh room", map[string]any{
			"case_id": c.ID,
			"room_id": binding.RoomID,
			"error":   hErr.Error(),
		})
		return m.fallback(ctx, c, member, contact, true)
	case errors.Is(err, store.ErrNotFound):
		return m.fallback(ctx, c, member, contact, false)
	default:
		return store.RoomBinding{}, err
	}
}

// handOff moves the holding room to the principal: invite, promote to owner,
// join, then remove the holding account. Level grant and holding-account
// removal are tolerated failures; invite and join are not.
func (m *Manager) handOff(ctx context.Context, c Case, binding store.RoomBinding, member Participant) (store.RoomBinding, error) {
	agency, ok, err := m.creds.AgencyAccount(ctx, c.AgencyID)
	if err != nil {
		return store.RoomBinding{}, fmt.Errorf("agency account lookup: %w", err)
	}
	if !ok {
		return store.RoomBinding{}, errors.New("agency has no service account")
	}
	agencyToken, err := m.msg.Login(ctx, messaging.LocalPart(agency.UserID), agency.Secret)
	if err != nil {
		return store.RoomBinding{}, fmt.Errorf("agency login: %w", err)
	}
	if err := m.msg.Invite(ctx, binding.RoomID, member.Credentials.UserID, agencyToken); err != nil {
		return store.RoomBinding{}, fmt.Errorf("invite principal: %w", err)
	}
	if err := m.msg.SetPermissionLevel(ctx, binding.RoomID, member.Credentials.UserID, LevelOwner, agencyToken); err != nil {
		obs.Warn("owner level grant failed, principal joins as member", map[string]any{
			"case_id": c.ID,
			"room_id": binding.RoomID,
			"error":   err.Error(),
		})
	}
	memberToken, err := m.msg.Login(ctx, messaging.LocalPart(member.Credentials.UserID), member.Credentials.Secret)
	if err != nil {
		return store.RoomBinding{}, fmt.Errorf("principal login: %w", err)
	}
	if err := m.msg.Join(ctx, binding.RoomID, memberToken); err != nil {
		return store.RoomBinding{}, fmt.Errorf("principal join: %w", err)
	}
	if err := m.msg.RemoveParticipant(ctx, binding.RoomID, binding.HoldingAccount, agencyToken); err != nil {
		obs.Warn("holding account removal failed, account stays in room", map[string]any{
			"case_id": c.ID,
			"room_id": binding.RoomID,
			"error":   err.Error(),
		})
	}

	if err := m.store.AssignBinding(ctx, c.ID, member.Principal.ID); err != nil {
		return store.RoomBinding{}, err
	}
	obs.CountRoomTransition("holding_assigned", "handoff")

	binding.State = store.BindingAssigned
	binding.AssignedTo = member.Principal.ID
	binding.HoldingAccount = ""
	return binding, nil
}

// fallback creates a fresh room owned by the principal. replacing reports
// whether a holding binding exists that the fresh room supersedes.
func (m *Manager) fallback(ctx context.Context, c Case, member Participant, contact Contact, replacing bool) (store.RoomBinding, error) {
	memberToken, err := m.msg.Login(ctx, messaging.LocalPart(member.Credentials.UserID), member.Credentials.Secret)
	if err != nil {
		return store.RoomBinding{}, fmt.Errorf("%w: principal login: %v", ErrNoRoom, err)
	}
	roomID, err := m.msg.CreateRoom(ctx, "case "+c.ID, assignedAlias(c.ID), memberToken)
	if err != nil {
		return store.RoomBinding{}, fmt.Errorf("%w: %v", ErrNoRoom, err)
	}
	if contact.complete() {
		if err := m.msg.Invite(ctx, roomID, contact.Credentials.UserID, memberToken); err != nil {
			obs.Warn("contact invite into fresh room failed", map[string]any{
				"case_id": c.ID,
				"room_id": roomID,
				"error":   err.Error(),
			})
		} else {
			m.autoJoin(ctx, roomID, contact.Credentials, "contact")
		}
	}

	binding := store.RoomBinding{
		CaseID:     c.ID,
		RoomID:     roomID,
		State:      store.BindingAssigned,
		AssignedTo: member.Principal.ID,
	}
	if replacing {
		err = m.store.ReplaceBinding(ctx, binding)
	} else {
		err = m.store.SaveBinding(ctx, binding)
	}
	if err != nil {
		return store.RoomBinding{}, err
	}

	if replacing {
		_ = audit.LogEvent(ctx, "room.fallback", map[string]any{
			"case_id": c.ID,
			"room_id": roomID,
		})
		obs.CountRoomTransition("holding_assigned", "fallback")
	} else {
		obs.CountRoomTransition("noroom_assigned", "direct")
	}
	return binding, nil
}

// AttachObserver invites a supervising principal into the case's room at the
// observer level. Observers can read but never write.
func (m *Manager) AttachObserver(ctx context.Context, c Case, observer Participant) (store.ParticipantGrant, error) {
	binding, err := m.store.FindBinding(ctx, c.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ParticipantGrant{}, ErrNoBinding
		}
		return store.ParticipantGrant{}, err
	}
	if binding.State != store.BindingAssigned {
		return store.ParticipantGrant{}, ErrNotAssigned
	}
	if !observer.Principal.Supervisor {
		return store.ParticipantGrant{}, ErrNotSupervisor
	}

	systemToken, err := m.msg.Login(ctx, messaging.LocalPart(m.system.UserID), m.system.Secret)
	if err != nil {
		return store.ParticipantGrant{}, fmt.Errorf("system login: %w", err)
	}
	if err := m.msg.Invite(ctx, binding.RoomID, observer.Credentials.UserID, systemToken); err != nil {
		return store.ParticipantGrant{}, fmt.Errorf("invite observer: %w", err)
	}
	if err := m.msg.SetPermissionLevel(ctx, binding.RoomID, observer.Credentials.UserID, clampObserver(LevelObserver), systemToken); err != nil {
		// the default member level is already below the write threshold
		obs.Warn("observer level grant failed, observer joins at default level", map[string]any{
			"case_id": c.ID,
			"room_id": binding.RoomID,
			"error":   err.Error(),
		})
	}
	m.autoJoin(ctx, binding.RoomID, observer.Credentials, "observer")

	grant := store.ParticipantGrant{
		ID:          ids.New(),
		RoomID:      binding.RoomID,
		PrincipalID: observer.Principal.ID,
		Level:       clampObserver(LevelObserver),
		Active:      true,
	}
	if err := m.store.SaveGrant(ctx, &grant); err != nil {
		return store.ParticipantGrant{}, err
	}
	_ = audit.LogEvent(ctx, "observer.attached", map[string]any{
		"case_id":      c.ID,
		"room_id":      binding.RoomID,
		"principal_id": observer.Principal.ID,
		"level":        grant.Level,
	})
	return grant, nil
}

// DetachObserver revokes the observer's grant and removes the participant
// from the room. The room and its history are untouched.
func (m *Manager) DetachObserver(ctx context.Context, c Case, observer Participant) error {
	binding, err := m.store.FindBinding(ctx, c.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoBinding
		}
		return err
	}
	grant, err := m.store.ActiveGrant(ctx, binding.RoomID, observer.Principal.ID)
	if err != nil {
		return err
	}
	if err := m.store.RevokeGrant(ctx, grant.ID); err != nil {
		return err
	}

	systemToken, err := m.msg.Login(ctx, messaging.LocalPart(m.system.UserID), m.system.Secret)
	if err != nil {
		return fmt.Errorf("system login: %w", err)
	}
	if err := m.msg.RemoveParticipant(ctx, binding.RoomID, observer.Credentials.UserID, systemToken); err != nil {
		return fmt.Errorf("remove observer: %w", err)
	}
	_ = audit.LogEvent(ctx, "observer.detached", map[string]any{
		"case_id":      c.ID,
		"room_id":      binding.RoomID,
		"principal_id": observer.Principal.ID,
	})
	return nil
}

// autoJoin logs the participant in and accepts the pending invite. Join
// failures are tolerated: the invite stays pending and the participant can
// accept it later.
func (m *Manager) autoJoin(ctx context.Context, roomID string, creds messaging.Credentials, who string) {
	token, err := m.msg.Login(ctx, messaging.LocalPart(creds.UserID), creds.Secret)
	if err == nil {
		err = m.msg.Join(ctx, roomID, token)
	}
	if err != nil {
		obs.Warn("auto-join failed, invite stays pending", map[string]any{
			"room_id":     roomID,
			"participant": who,
			"error":       err.Error(),
		})
	}
}

// clampObserver keeps observer grants strictly below the write threshold.
func clampObserver(level int) int {
	if level >= writeThreshold {
		return writeThreshold - 1
	}
	return level
}

func holdingAlias(caseID string) string {
	return fmt.Sprintf("agency_hold_%s_%s", caseID, aliasSuffix())
}

func assignedAlias(caseID string) string {
	return fmt.Sprintf("case_%s_%s", caseID, aliasSuffix())
}

func aliasSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
