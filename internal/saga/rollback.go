package saga

import (
	"context"

	"beratung.org/internal/obs"
	"beratung.org/internal/principal"
)

// RollbackExecutor issues compensating deletes for a partially provisioned
// principal. It is best-effort and never returns an error: a failed
// compensation is logged and does not prevent the next one. This is the only
// place that deletes provider-side state outside explicit user-initiated
// deactivation.
type RollbackExecutor struct {
	identity IdentityProvider
	legacy   LegacyAccounts
	store    Store
}

// NewRollbackExecutor constructs a RollbackExecutor.
func NewRollbackExecutor(identity IdentityProvider, legacy LegacyAccounts, store Store) *RollbackExecutor {
	return &RollbackExecutor{identity: identity, legacy: legacy, store: store}
}

// Rollback walks the completed steps in reverse and compensates each one
// that has a compensating action. The ledger decides what runs; the partial
// principal supplies the identifiers.
func (r *RollbackExecutor) Rollback(ctx context.Context, partial principal.Principal, ledger *Ledger) {
	completed := ledger.Completed()
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if !compensable(step) {
			continue
		}
		if err := r.compensate(ctx, step, partial); err != nil {
			obs.CountCompensation(string(step), "failed")
			obs.Error("compensation failed", map[string]any{
				"step":        string(step),
				"provider_id": partial.ProviderID,
				"error":       err.Error(),
			})
			continue
		}
		obs.CountCompensation(string(step), "ok")
	}
}

func (r *RollbackExecutor) compensate(ctx context.Context, step Step, partial principal.Principal) error {
	switch step {
	case StepCreateStoreRecord:
		if partial.ID == "" {
			return nil
		}
		return r.store.DeletePrincipal(ctx, partial.ID)
	case StepCreateLegacyAccount:
		if partial.LegacyID == "" || partial.LegacyID == principal.LegacyChatUnknown {
			return nil
		}
		return r.legacy.DeleteAccount(ctx, partial.LegacyID)
	case StepCreateIdentity:
		return r.identity.DeleteIdentity(ctx, partial.ProviderID)
	}
	return nil
}
