package reconcile

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"beratung.org/internal/ids"
	"beratung.org/internal/obs"
	"beratung.org/internal/principal"
)

const (
	defaultInterval  = 5 * time.Minute
	defaultBatchSize = 50
	defaultRate      = rate.Limit(2) // account registrations per second
)

// Store is the slice of the persistence layer the reconciler needs.
type Store interface {
	ListWithoutMessagingID(ctx context.Context, limit int) ([]principal.Principal, error)
	SetMessagingID(ctx context.Context, id, messagingID string) error
}

// Accounts creates messaging accounts.
type Accounts interface {
	CreateAccount(ctx context.Context, name, secret, displayName string) (string, error)
}

// Reconciler heals principals provisioned while the messaging system was
// down: it periodically registers the missing accounts and persists the new
// identity. The account gets a generated secret; the owner resets it through
// the usual credential flow before first use.
type Reconciler struct {
	store    Store
	accounts Accounts
	interval time.Duration
	batch    int
	limiter  *rate.Limiter
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithInterval overrides the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize overrides how many principals one sweep processes.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batch = n
		}
	}
}

// New constructs a Reconciler.
func New(st Store, accounts Accounts, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    st,
		accounts: accounts,
		interval: defaultInterval,
		batch:    defaultBatchSize,
		limiter:  rate.NewLimiter(defaultRate, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps until the context is cancelled. One sweep runs immediately.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		healed, failed := r.Sweep(ctx)
		if healed > 0 || failed > 0 {
			obs.Info("messaging reconciliation sweep finished", map[string]any{
				"healed": healed,
				"failed": failed,
			})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep processes one batch and reports how many principals were healed and
// how many attempts failed. Failures are retried on the next sweep.
func (r *Reconciler) Sweep(ctx context.Context) (healed, failed int) {
	principals, err := r.store.ListWithoutMessagingID(ctx, r.batch)
	if err != nil {
		obs.Error("listing principals without messaging identity failed", map[string]any{
			"error": err.Error(),
		})
		return 0, 0
	}

	for _, p := range principals {
		if err := r.limiter.Wait(ctx); err != nil {
			return healed, failed
		}
		if err := r.heal(ctx, p); err != nil {
			failed++
			obs.Warn("healing messaging identity failed", map[string]any{
				"principal_id": p.ID,
				"username":     p.Username,
				"error":        err.Error(),
			})
			continue
		}
		healed++
	}
	return healed, failed
}

func (r *Reconciler) heal(ctx context.Context, p principal.Principal) error {
	messagingID, err := r.accounts.CreateAccount(ctx, p.Username, ids.NewLower(), p.DisplayName())
	if err != nil {
		return err
	}
	return r.store.SetMessagingID(ctx, p.ID, messagingID)
}
