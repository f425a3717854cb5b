package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCreateAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != endpointRegister {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]string{"nonce": "n-1"})
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["nonce"] != "n-1" || body["username"] != "mweber" {
			t.Fatalf("unexpected register body: %v", body)
		}
		if body["mac"] != registrationMAC("reg-secret", "n-1", "mweber", "pw") {
			t.Fatalf("bad mac: %v", body["mac"])
		}
		json.NewEncoder(w).Encode(map[string]string{"user_id": "@mweber:beratung"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RegistrationSecret: "reg-secret"}, nil)
	id, err := c.CreateAccount(context.Background(), "mweber", "pw", "Maria Weber")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if id != "@mweber:beratung" {
		t.Fatalf("unexpected user id: %s", id)
	}
}

func TestCreateAccountConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]string{"nonce": "n-1"})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errcode":"M_USER_IN_USE"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	if _, err := c.CreateAccount(context.Background(), "dup", "pw", "Dup"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestLoginUsesCache(t *testing.T) {
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, NewTokenCache(time.Minute))
	for i := 0; i < 3; i++ {
		token, err := c.Login(context.Background(), "agency", "pw")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if token != "tok-1" {
			t.Fatalf("unexpected token: %s", token)
		}
	}
	if n := atomic.LoadInt32(&logins); n != 1 {
		t.Fatalf("expected one wire login, got %d", n)
	}
}

func TestLoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	if _, err := c.Login(context.Background(), "agency", "wrong"); !errors.Is(err, ErrLogin) {
		t.Fatalf("expected ErrLogin, got %v", err)
	}
}

func TestCreateRoomAndInvite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == endpointCreateRoom:
			if got := r.Header.Get("Authorization"); got != "Bearer owner-tok" {
				t.Fatalf("missing owner token: %q", got)
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["preset"] != "private_chat" || body["room_alias_name"] != "case_7" {
				t.Fatalf("unexpected create body: %v", body)
			}
			json.NewEncoder(w).Encode(map[string]string{"room_id": "!r1:beratung"})
		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	roomID, err := c.CreateRoom(context.Background(), "Case 7", "case_7", "owner-tok")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if roomID != "!r1:beratung" {
		t.Fatalf("unexpected room id: %s", roomID)
	}
	if err := c.Invite(context.Background(), roomID, "@mweber:beratung", "owner-tok"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
}

func TestSetPermissionLevelPreservesOtherUsers(t *testing.T) {
	var put map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"users": map[string]any{"@owner:srv": 100},
			})
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&put)
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	if err := c.SetPermissionLevel(context.Background(), "!r1:srv", "@sup:srv", 10, "tok"); err != nil {
		t.Fatalf("SetPermissionLevel: %v", err)
	}
	users := put["users"].(map[string]any)
	if users["@owner:srv"] != float64(100) {
		t.Fatalf("existing power level lost: %v", users)
	}
	if users["@sup:srv"] != float64(10) {
		t.Fatalf("new power level missing: %v", users)
	}
}

func TestSyncParsesTimeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("since"); got != "s-1" {
			t.Fatalf("unexpected since: %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"next_batch": "s-2",
			"rooms": map[string]any{
				"join": map[string]any{
					"!r1:srv": map[string]any{
						"timeline": map[string]any{
							"events": []map[string]any{{
								"event_id":         "$e1",
								"sender":           "@mweber:srv",
								"type":             "m.room.message",
								"origin_server_ts": 1700000000000,
								"content":          map[string]any{"body": "hello"},
							}},
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, SyncTimeout: time.Second}, nil)
	res, err := c.Sync(context.Background(), "tok", "s-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.NextBatch != "s-2" || len(res.Events) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	ev := res.Events[0]
	if ev.RoomID != "!r1:srv" || ev.Body != "hello" || ev.Sender != "@mweber:srv" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestLocalPart(t *testing.T) {
	cases := map[string]string{
		"@mweber:beratung.org": "mweber",
		"mweber":               "mweber",
		"@plain":               "plain",
	}
	for in, want := range cases {
		if got := LocalPart(in); got != want {
			t.Fatalf("LocalPart(%q) = %q, want %q", in, got, want)
		}
	}
}
