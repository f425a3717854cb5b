package store

import (
	"context"
	"testing"

	"beratung.org/internal/principal"
)

func TestSavePrincipalAssignsID(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	p := principal.Principal{Username: "mweber", ProviderID: "prov-1"}
	if err := s.SavePrincipal(ctx, &p); err != nil {
		t.Fatalf("SavePrincipal: %v", err)
	}
	if p.ID == "" {
		t.Fatalf("expected local id to be assigned")
	}

	got, err := s.FindPrincipal(ctx, p.ID)
	if err != nil {
		t.Fatalf("FindPrincipal: %v", err)
	}
	if got.Username != "mweber" || got.ProviderID != "prov-1" {
		t.Fatalf("unexpected principal: %+v", got)
	}
}

func TestSetMessagingIDAndList(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	a := principal.Principal{Username: "a"}
	b := principal.Principal{Username: "b", MessagingID: "@b:srv"}
	if err := s.SavePrincipal(ctx, &a); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePrincipal(ctx, &b); err != nil {
		t.Fatal(err)
	}

	missing, err := s.ListWithoutMessagingID(ctx, 10)
	if err != nil {
		t.Fatalf("ListWithoutMessagingID: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != a.ID {
		t.Fatalf("expected only %s in list, got %+v", a.ID, missing)
	}

	if err := s.SetMessagingID(ctx, a.ID, "@a:srv"); err != nil {
		t.Fatalf("SetMessagingID: %v", err)
	}
	missing, _ = s.ListWithoutMessagingID(ctx, 10)
	if len(missing) != 0 {
		t.Fatalf("expected empty list after healing, got %+v", missing)
	}
}

func TestBindingLifecycle(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	b := RoomBinding{CaseID: "case-1", RoomID: "!room:srv", State: BindingHolding, HoldingAccount: "@agency:srv"}
	if err := s.SaveBinding(ctx, b); err != nil {
		t.Fatalf("SaveBinding: %v", err)
	}
	if err := s.SaveBinding(ctx, b); err != ErrConstraint {
		t.Fatalf("expected ErrConstraint on duplicate binding, got %v", err)
	}

	if err := s.AssignBinding(ctx, "case-1", "cons-1"); err != nil {
		t.Fatalf("AssignBinding: %v", err)
	}
	got, _ := s.FindBinding(ctx, "case-1")
	if got.State != BindingAssigned || got.AssignedTo != "cons-1" || got.HoldingAccount != "" {
		t.Fatalf("unexpected binding after assignment: %+v", got)
	}

	// assignment happens exactly once
	if err := s.AssignBinding(ctx, "case-1", "cons-2"); err != ErrConstraint {
		t.Fatalf("expected ErrConstraint on second assignment, got %v", err)
	}

	// room id must be unchanged by assignment
	if got.RoomID != "!room:srv" {
		t.Fatalf("room id changed during assignment: %s", got.RoomID)
	}
}

func TestReplaceBindingKeepsCreatedAt(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if err := s.SaveBinding(ctx, RoomBinding{CaseID: "case-2", RoomID: "!old:srv", State: BindingHolding}); err != nil {
		t.Fatal(err)
	}
	old, _ := s.FindBinding(ctx, "case-2")

	if err := s.ReplaceBinding(ctx, RoomBinding{CaseID: "case-2", RoomID: "!new:srv", State: BindingAssigned, AssignedTo: "cons-1"}); err != nil {
		t.Fatalf("ReplaceBinding: %v", err)
	}
	got, _ := s.FindBinding(ctx, "case-2")
	if got.RoomID != "!new:srv" || got.State != BindingAssigned {
		t.Fatalf("unexpected binding: %+v", got)
	}
	if !got.CreatedAt.Equal(old.CreatedAt) {
		t.Fatalf("replace must keep original CreatedAt")
	}
}

func TestGrantLifecycle(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	g := ParticipantGrant{RoomID: "!room:srv", PrincipalID: "sup-1", Level: 10}
	if err := s.SaveGrant(ctx, &g); err != nil {
		t.Fatalf("SaveGrant: %v", err)
	}
	if g.ID == "" || !g.Active {
		t.Fatalf("grant not initialised: %+v", g)
	}

	dup := ParticipantGrant{RoomID: "!room:srv", PrincipalID: "sup-1", Level: 10}
	if err := s.SaveGrant(ctx, &dup); err != ErrConstraint {
		t.Fatalf("expected ErrConstraint on duplicate active grant, got %v", err)
	}

	if err := s.RevokeGrant(ctx, g.ID); err != nil {
		t.Fatalf("RevokeGrant: %v", err)
	}
	if _, err := s.ActiveGrant(ctx, "!room:srv", "sup-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
	if err := s.RevokeGrant(ctx, g.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on double revoke, got %v", err)
	}
}
