package profileclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestClient_GetUserByPrincipal(t *testing.T) {
	id := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Internal-API-Key") != "internal" {
			t.Errorf("expected internal api key header")
		}
		switch r.URL.Path {
		case "/internal/users/by-principal/known":
			_ = json.NewEncoder(w).Encode(UserProfile{ID: id, PrincipalID: "known", Username: "alice", Role: "scanner"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "internal")
	profile, err := client.GetUserByPrincipal(context.Background(), "known")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if profile.ID != id || profile.Role != "scanner" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if _, err := client.GetUserByPrincipal(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestClient_GetUserByPrincipalServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").GetUserByPrincipal(context.Background(), "p")
	if err == nil || errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected a generic error, got %v", err)
	}
}
