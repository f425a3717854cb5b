package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"beratung.org/internal/ids"
	"beratung.org/internal/principal"
	"beratung.org/internal/store"
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool. Used by tests and cmd wiring.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const uniqueViolation = "23505"

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConstraint
	}
	return err
}

// Principals ---------------------------------------------------------------

func (s *Store) SavePrincipal(ctx context.Context, p *principal.Principal) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into principals(id, provider_id, messaging_id, legacy_id, username,
			first_name, last_name, email, roles, supervisor, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, p.ID, p.ProviderID, nullable(p.MessagingID), nullable(p.LegacyID), p.Username,
		p.FirstName, p.LastName, p.Email, rolesToCSV(p.Roles), p.Supervisor, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (s *Store) DeletePrincipal(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from principals where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindPrincipal(ctx context.Context, id string) (principal.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, provider_id, coalesce(messaging_id,''), coalesce(legacy_id,''), username,
			first_name, last_name, email, roles, supervisor, created_at, updated_at
		from principals where id=$1
	`, id)
	return scanPrincipal(row)
}

func (s *Store) SetMessagingID(ctx context.Context, id, messagingID string) error {
	res, err := s.db.ExecContext(ctx, `
		update principals set messaging_id=$2, updated_at=now() where id=$1
	`, id, messagingID)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListWithoutMessagingID(ctx context.Context, limit int) ([]principal.Principal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, provider_id, coalesce(messaging_id,''), coalesce(legacy_id,''), username,
			first_name, last_name, email, roles, supervisor, created_at, updated_at
		from principals
		where messaging_id is null or messaging_id = ''
		order by created_at asc
		limit $1
	`, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var res []principal.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Room bindings ------------------------------------------------------------

func (s *Store) SaveBinding(ctx context.Context, b store.RoomBinding) error {
	_, err := s.db.ExecContext(ctx, `
		insert into room_bindings(case_id, room_id, state, holding_account, assigned_to, created_at, updated_at)
		values ($1,$2,$3,$4,$5,now(),now())
	`, b.CaseID, b.RoomID, string(b.State), nullable(b.HoldingAccount), nullable(b.AssignedTo))
	return mapErr(err)
}

func (s *Store) FindBinding(ctx context.Context, caseID string) (store.RoomBinding, error) {
	var (
		b     store.RoomBinding
		state string
	)
	err := s.db.QueryRowContext(ctx, `
		select case_id, room_id, state, coalesce(holding_account,''), coalesce(assigned_to,''), created_at, updated_at
		from room_bindings where case_id=$1
	`, caseID).Scan(&b.CaseID, &b.RoomID, &state, &b.HoldingAccount, &b.AssignedTo, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return store.RoomBinding{}, mapErr(err)
	}
	b.State = store.BindingState(state)
	return b, nil
}

func (s *Store) AssignBinding(ctx context.Context, caseID, principalID string) error {
	res, err := s.db.ExecContext(ctx, `
		update room_bindings
		set state=$3, assigned_to=$2, holding_account=null, updated_at=now()
		where case_id=$1 and state=$4
	`, caseID, principalID, string(store.BindingAssigned), string(store.BindingHolding))
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// distinguish missing binding from already-assigned one
		if _, ferr := s.FindBinding(ctx, caseID); ferr != nil {
			return ferr
		}
		return store.ErrConstraint
	}
	return nil
}

func (s *Store) ReplaceBinding(ctx context.Context, b store.RoomBinding) error {
	_, err := s.db.ExecContext(ctx, `
		insert into room_bindings(case_id, room_id, state, holding_account, assigned_to, created_at, updated_at)
		values ($1,$2,$3,$4,$5,now(),now())
		on conflict (case_id) do update
		set room_id=excluded.room_id, state=excluded.state,
			holding_account=excluded.holding_account, assigned_to=excluded.assigned_to,
			updated_at=now()
	`, b.CaseID, b.RoomID, string(b.State), nullable(b.HoldingAccount), nullable(b.AssignedTo))
	return mapErr(err)
}

// Participant grants -------------------------------------------------------

func (s *Store) SaveGrant(ctx context.Context, g *store.ParticipantGrant) error {
	if g.ID == "" {
		g.ID = ids.New()
	}
	g.Active = true
	g.GrantedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into participant_grants(id, room_id, principal_id, level, active, granted_at)
		values ($1,$2,$3,$4,true,$5)
	`, g.ID, g.RoomID, g.PrincipalID, g.Level, g.GrantedAt)
	return mapErr(err)
}

func (s *Store) RevokeGrant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update participant_grants set active=false, revoked_at=now() where id=$1 and active
	`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ActiveGrant(ctx context.Context, roomID, principalID string) (store.ParticipantGrant, error) {
	var g store.ParticipantGrant
	var revoked sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select id, room_id, principal_id, level, active, granted_at, revoked_at
		from participant_grants
		where room_id=$1 and principal_id=$2 and active
	`, roomID, principalID).Scan(&g.ID, &g.RoomID, &g.PrincipalID, &g.Level, &g.Active, &g.GrantedAt, &revoked)
	if err != nil {
		return store.ParticipantGrant{}, mapErr(err)
	}
	if revoked.Valid {
		g.RevokedAt = revoked.Time
	}
	return g, nil
}

func (s *Store) ActiveGrants(ctx context.Context, roomID string) ([]store.ParticipantGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, room_id, principal_id, level, active, granted_at, revoked_at
		from participant_grants
		where room_id=$1 and active
		order by granted_at asc
	`, roomID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var res []store.ParticipantGrant
	for rows.Next() {
		var g store.ParticipantGrant
		var revoked sql.NullTime
		if err := rows.Scan(&g.ID, &g.RoomID, &g.PrincipalID, &g.Level, &g.Active, &g.GrantedAt, &revoked); err != nil {
			return nil, err
		}
		if revoked.Valid {
			g.RevokedAt = revoked.Time
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// Helpers ------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (principal.Principal, error) {
	var (
		p     principal.Principal
		roles string
	)
	err := row.Scan(&p.ID, &p.ProviderID, &p.MessagingID, &p.LegacyID, &p.Username,
		&p.FirstName, &p.LastName, &p.Email, &roles, &p.Supervisor, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return principal.Principal{}, mapErr(err)
	}
	p.Roles = rolesFromCSV(roles)
	return p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
