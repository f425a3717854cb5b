package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "admin",
	})
	s, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newTestServer(t *testing.T, logins *int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/realms/master/protocol/openid-connect/token" {
			if logins != nil {
				atomic.AddInt32(logins, 1)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"access_token": signedToken(t, time.Now().Add(time.Hour)),
			})
			return
		}
		handler(w, r)
	}))
}

func TestCreateIdentity(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/admin/realms/online/users" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") == "" {
			t.Fatalf("missing admin token")
		}
		w.Header().Set("Location", "http://"+r.Host+"/admin/realms/online/users/prov-123")
		w.WriteHeader(http.StatusCreated)
	})
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Realm: "online", AdminUser: "admin", AdminSecret: "pw"})
	id, err := c.CreateIdentity(context.Background(), Profile{Username: "mweber", Email: "m@example.org"})
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if id != "prov-123" {
		t.Fatalf("unexpected provider id: %s", id)
	}
}

func TestCreateIdentityConflict(t *testing.T) {
	s := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"errorMessage":"User exists with same username"}`))
	})
	defer s.Close()

	c := NewClient(Config{BaseURL: s.URL, Realm: "online"})
	if _, err := c.CreateIdentity(context.Background(), Profile{Username: "dup"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAdminTokenCached(t *testing.T) {
	var logins int32
	s := newTestServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	defer s.Close()

	c := NewClient(Config{BaseURL: s.URL, Realm: "online"})
	for i := 0; i < 3; i++ {
		if err := c.SetCredential(context.Background(), "prov-1", "secret"); err != nil {
			t.Fatalf("SetCredential: %v", err)
		}
	}
	if n := atomic.LoadInt32(&logins); n != 1 {
		t.Fatalf("expected one admin login, got %d", n)
	}
}

func TestAssignRoleFetchesRepresentation(t *testing.T) {
	var assigned []map[string]any
	s := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/realms/online/roles/consultant":
			json.NewEncoder(w).Encode(map[string]string{"id": "role-9", "name": "consultant"})
		case "/admin/realms/online/users/prov-1/role-mappings/realm":
			json.NewDecoder(r.Body).Decode(&assigned)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	})
	defer s.Close()

	c := NewClient(Config{BaseURL: s.URL, Realm: "online"})
	if err := c.AssignRole(context.Background(), "prov-1", "consultant"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if len(assigned) != 1 || assigned[0]["id"] != "role-9" {
		t.Fatalf("role representation not posted: %v", assigned)
	}
}

func TestDeleteIdentityNotFound(t *testing.T) {
	s := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer s.Close()

	c := NewClient(Config{BaseURL: s.URL, Realm: "online"})
	if err := c.DeleteIdentity(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
