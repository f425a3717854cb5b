package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"beratung.org/internal/audit"
	"beratung.org/internal/identity"
	"beratung.org/internal/obs"
	"beratung.org/internal/principal"
)

const opCreateConsultant = "create-consultant"

// IdentityProvider is the slice of the identity-provider client the saga
// drives.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, p identity.Profile) (string, error)
	SetCredential(ctx context.Context, id, secret string) error
	AssignRole(ctx context.Context, id, role string) error
	DeleteIdentity(ctx context.Context, id string) error
}

// MessagingAccounts creates accounts in the real-time messaging system.
type MessagingAccounts interface {
	CreateAccount(ctx context.Context, name, secret, displayName string) (string, error)
}

// LegacyAccounts creates and deletes accounts in the legacy chat system.
type LegacyAccounts interface {
	CreateAccount(ctx context.Context, name, secret, email, displayName string) (string, error)
	DeleteAccount(ctx context.Context, id string) error
}

// AppointmentService registers principals with the external scheduling
// system. Optional: only principal classes that require scheduling use it.
type AppointmentService interface {
	RegisterConsultant(ctx context.Context, p principal.Principal) error
}

// Store persists the principal record.
type Store interface {
	SavePrincipal(ctx context.Context, p *principal.Principal) error
	DeletePrincipal(ctx context.Context, id string) error
}

// Saga provisions a principal across the identity provider, the messaging
// system, the legacy chat system and the relational store. Steps run in
// strict order on the caller's goroutine; on a terminal failure the rollback
// executor runs synchronously before the error is returned, so callers never
// observe a half-created principal as success.
type Saga struct {
	identity     IdentityProvider
	messaging    MessagingAccounts
	legacy       LegacyAccounts
	store        Store
	appointments AppointmentService
	rollback     *RollbackExecutor
}

// Option configures a Saga.
type Option func(*Saga)

// WithAppointments enables the scheduling registration step for principals
// that request it.
func WithAppointments(svc AppointmentService) Option {
	return func(s *Saga) { s.appointments = svc }
}

// New constructs a Saga.
func New(idp IdentityProvider, msg MessagingAccounts, legacy LegacyAccounts, st Store, opts ...Option) *Saga {
	s := &Saga{
		identity:  idp,
		messaging: msg,
		legacy:    legacy,
		store:     st,
		rollback:  NewRollbackExecutor(idp, legacy, st),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision creates the principal everywhere or rolls it back everywhere.
// The plain-text credential in the input is used against each backing system
// and dropped; it is never persisted.
func (s *Saga) Provision(ctx context.Context, in principal.Input) (principal.Principal, error) {
	if err := validate(in); err != nil {
		obs.CountProvisioning("invalid")
		return principal.Principal{}, err
	}

	ledger := NewLedger()
	partial := principal.Principal{
		Username:   in.Username,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Email:      in.Email,
		Roles:      append([]string(nil), in.Roles...),
		Supervisor: in.Supervisor,
	}

	// Step 1: identity. Nothing to compensate on failure; a duplicate name
	// surfaces verbatim so the caller retries with another identifier.
	providerID, err := s.identity.CreateIdentity(ctx, identity.Profile{
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	})
	if err != nil {
		if errors.Is(err, identity.ErrConflict) {
			obs.CountProvisioning("conflict")
			return principal.Principal{}, fmt.Errorf("%w: %v", principal.ErrConflict, err)
		}
		return principal.Principal{}, s.fail(ctx, ledger, partial, StepCreateIdentity, err)
	}
	partial.ProviderID = providerID
	mustComplete(ledger, StepCreateIdentity)

	// Step 2: credential.
	if err := s.identity.SetCredential(ctx, providerID, in.Credential); err != nil {
		return principal.Principal{}, s.fail(ctx, ledger, partial, StepSetCredential, err)
	}
	mustComplete(ledger, StepSetCredential)

	// Step 3: roles.
	for _, role := range in.Roles {
		if err := s.identity.AssignRole(ctx, providerID, role); err != nil {
			return principal.Principal{}, s.fail(ctx, ledger, partial, StepAssignRoles, err)
		}
	}
	mustComplete(ledger, StepAssignRoles)

	// Step 4: messaging account. The plain username goes out as-is; any
	// encoding applied for storage must not reach the wire. The failure
	// policy decides whether an error aborts or degrades.
	degraded := false
	messagingID, err := s.messaging.CreateAccount(ctx, in.Username, in.Credential, partial.DisplayName())
	switch {
	case err == nil:
		partial.MessagingID = messagingID
		mustComplete(ledger, StepCreateMessagingAccount)
	case PolicyFor(StepCreateMessagingAccount) == OutcomeDegraded:
		degraded = true
		obs.CountStepFailure(string(StepCreateMessagingAccount))
		obs.Warn("messaging account creation failed, continuing without messaging identity", map[string]any{
			"username": in.Username,
			"error":    err.Error(),
		})
	default:
		return principal.Principal{}, s.fail(ctx, ledger, partial, StepCreateMessagingAccount, err)
	}

	// Step 5: legacy chat account.
	legacyID, err := s.legacy.CreateAccount(ctx, in.Username, in.Credential, in.Email, partial.DisplayName())
	switch {
	case err == nil:
		partial.LegacyID = legacyID
		mustComplete(ledger, StepCreateLegacyAccount)
	case PolicyFor(StepCreateLegacyAccount) == OutcomeSentinel:
		partial.LegacyID = principal.LegacyChatUnknown
		obs.CountStepFailure(string(StepCreateLegacyAccount))
		obs.Warn("legacy chat account creation failed, using sentinel id", map[string]any{
			"username": in.Username,
			"error":    err.Error(),
		})
	default:
		return principal.Principal{}, s.fail(ctx, ledger, partial, StepCreateLegacyAccount, err)
	}

	// Step 6: durable record, with all ids gathered so far.
	if err := s.store.SavePrincipal(ctx, &partial); err != nil {
		return principal.Principal{}, s.fail(ctx, ledger, partial, StepCreateStoreRecord, err)
	}
	mustComplete(ledger, StepCreateStoreRecord)

	// Step 7: scheduling registration, go/no-go for principals that need it.
	// Failure compensates the entire chain including the store record.
	if in.Appointments && s.appointments != nil {
		if err := s.appointments.RegisterConsultant(ctx, partial); err != nil {
			return principal.Principal{}, s.fail(ctx, ledger, partial, StepRegisterAppointments, err)
		}
		mustComplete(ledger, StepRegisterAppointments)
	}

	if degraded {
		obs.CountProvisioning("degraded")
	} else {
		obs.CountProvisioning("ok")
	}
	return partial, nil
}

// fail records the failure, rolls back completed steps synchronously and
// returns the saga error built from the ledger snapshot.
func (s *Saga) fail(ctx context.Context, ledger *Ledger, partial principal.Principal, failed Step, cause error) error {
	obs.CountStepFailure(string(failed))
	obs.CountProvisioning("failed")

	sagaErr := newError(opCreateConsultant, ledger, failed, cause)
	_ = audit.LogEvent(ctx, "provisioning.failed", map[string]any{
		"op":          sagaErr.Op,
		"failed_step": string(failed),
		"completed":   stepNames(sagaErr.Completed),
		"provider_id": partial.ProviderID,
	})

	if ledger.Len() > 0 {
		_ = audit.LogEvent(ctx, "provisioning.rollback", map[string]any{
			"provider_id": partial.ProviderID,
			"steps":       stepNames(sagaErr.Completed),
		})
		s.rollback.Rollback(ctx, partial, ledger)
	}
	return sagaErr
}

func validate(in principal.Input) error {
	var missing []string
	if strings.TrimSpace(in.Username) == "" {
		missing = append(missing, "username")
	}
	if in.Credential == "" {
		missing = append(missing, "credential")
	}
	if len(in.Roles) == 0 {
		missing = append(missing, "roles")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", principal.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// mustComplete appends a step the saga just executed. Order is guaranteed by
// construction; a violation is a programming error.
func mustComplete(l *Ledger, s Step) {
	if err := l.Complete(s); err != nil {
		panic(err)
	}
}

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = string(s)
	}
	return names
}
