package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"beratung.org/internal/ids"
	"beratung.org/internal/principal"
)

// InMemory implements Store with in-process concurrency safety. Used by unit
// tests and local runs without a database.
type InMemory struct {
	mu         sync.RWMutex
	principals map[string]principal.Principal
	bindings   map[string]RoomBinding
	grants     map[string]ParticipantGrant
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		principals: make(map[string]principal.Principal),
		bindings:   make(map[string]RoomBinding),
		grants:     make(map[string]ParticipantGrant),
	}
}

func (s *InMemory) SavePrincipal(ctx context.Context, p *principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	if _, ok := s.principals[p.ID]; ok {
		return ErrConstraint
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.principals[p.ID] = clonePrincipal(*p)
	return nil
}

func (s *InMemory) DeletePrincipal(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[id]; !ok {
		return ErrNotFound
	}
	delete(s.principals, id)
	return nil
}

func (s *InMemory) FindPrincipal(ctx context.Context, id string) (principal.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return principal.Principal{}, ErrNotFound
	}
	return clonePrincipal(p), nil
}

func (s *InMemory) SetMessagingID(ctx context.Context, id, messagingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.MessagingID = messagingID
	p.UpdatedAt = time.Now().UTC()
	s.principals[id] = p
	return nil
}

func (s *InMemory) ListWithoutMessagingID(ctx context.Context, limit int) ([]principal.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []principal.Principal
	for _, p := range s.principals {
		if p.MessagingID == "" {
			res = append(res, clonePrincipal(p))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *InMemory) SaveBinding(ctx context.Context, b RoomBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[b.CaseID]; ok {
		return ErrConstraint
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	s.bindings[b.CaseID] = b
	return nil
}

func (s *InMemory) FindBinding(ctx context.Context, caseID string) (RoomBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[caseID]
	if !ok {
		return RoomBinding{}, ErrNotFound
	}
	return b, nil
}

func (s *InMemory) AssignBinding(ctx context.Context, caseID, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[caseID]
	if !ok {
		return ErrNotFound
	}
	if b.State == BindingAssigned {
		return ErrConstraint
	}
	b.State = BindingAssigned
	b.AssignedTo = principalID
	b.HoldingAccount = ""
	b.UpdatedAt = time.Now().UTC()
	s.bindings[caseID] = b
	return nil
}

func (s *InMemory) ReplaceBinding(ctx context.Context, b RoomBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if old, ok := s.bindings[b.CaseID]; ok {
		b.CreatedAt = old.CreatedAt
	} else {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	s.bindings[b.CaseID] = b
	return nil
}

func (s *InMemory) SaveGrant(ctx context.Context, g *ParticipantGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = ids.New()
	}
	for _, existing := range s.grants {
		if existing.Active && existing.RoomID == g.RoomID && existing.PrincipalID == g.PrincipalID {
			return ErrConstraint
		}
	}
	g.Active = true
	g.GrantedAt = time.Now().UTC()
	s.grants[g.ID] = *g
	return nil
}

func (s *InMemory) RevokeGrant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok || !g.Active {
		return ErrNotFound
	}
	g.Active = false
	g.RevokedAt = time.Now().UTC()
	s.grants[id] = g
	return nil
}

func (s *InMemory) ActiveGrant(ctx context.Context, roomID, principalID string) (ParticipantGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants {
		if g.Active && g.RoomID == roomID && g.PrincipalID == principalID {
			return g, nil
		}
	}
	return ParticipantGrant{}, ErrNotFound
}

func (s *InMemory) ActiveGrants(ctx context.Context, roomID string) ([]ParticipantGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []ParticipantGrant
	for _, g := range s.grants {
		if g.Active && g.RoomID == roomID {
			res = append(res, g)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].GrantedAt.Before(res[j].GrantedAt) })
	return res, nil
}

func clonePrincipal(p principal.Principal) principal.Principal {
	out := p
	out.Roles = append([]string(nil), p.Roles...)
	return out
}
