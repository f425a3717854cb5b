package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"beratung.org/internal/principal"
)

func TestRegisterConsultant(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/consultants" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatalf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok"})
	p := principal.Principal{ID: "local-1", Email: "m@example.org", FirstName: "Maria", LastName: "Weber"}
	if err := c.RegisterConsultant(context.Background(), p); err != nil {
		t.Fatalf("RegisterConsultant: %v", err)
	}
	if got["consultantId"] != "local-1" || got["email"] != "m@example.org" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestRegisterConsultantFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "calendar backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	err := c.RegisterConsultant(context.Background(), principal.Principal{ID: "local-1"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
