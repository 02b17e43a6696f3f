package account

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acmevault/acmevault/directory"
	"github.com/acmevault/acmevault/jose"
	"github.com/acmevault/acmevault/transport"
)

func testManager(t *testing.T, dir string, srv *httptest.Server) *Manager {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	client := transport.New(jose.NewSigner(key), nil)
	return &Manager{
		Dir:       dir,
		CAURL:     srv.URL,
		AccountID: "default",
		Client:    client,
		Directory: &directory.Directory{
			NewAccount:     srv.URL + "/new-reg",
			Account:        srv.URL + "/reg/",
			TermsOfService: srv.URL + "/terms/v1",
		},
	}
}

func TestEnsureRegisteredCreatesFresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Replay-Nonce", "n1")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	m := testManager(t, t.TempDir(), srv)
	cfg, err := m.EnsureRegistered([]string{"mailto:ops@example.com"}, false)
	if err != nil {
		t.Fatalf("EnsureRegistered: %s", err)
	}
	if cfg.ID != "1" {
		t.Errorf("ID = %s, want 1", cfg.ID)
	}
	if cfg.Agreement != m.Directory.TermsOfService {
		t.Errorf("Agreement = %s, want %s", cfg.Agreement, m.Directory.TermsOfService)
	}
}

func TestEnsureRegisteredUpdatesOnContactChange(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Replay-Nonce", "n1")
			return
		}
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := testManager(t, dir, srv)
	if _, err := m.EnsureRegistered([]string{"mailto:a@example.com"}, false); err != nil {
		t.Fatalf("create: %s", err)
	}
	if _, err := m.EnsureRegistered([]string{"mailto:b@example.com"}, false); err != nil {
		t.Fatalf("update: %s", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls (create + update), got %d", calls)
	}
}

func TestEnsureRegisteredSkipsUpdateWhenContactUnchanged(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Replay-Nonce", "n1")
			return
		}
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	m := testManager(t, t.TempDir(), srv)
	contact := []string{"mailto:a@example.com", "mailto:b@example.com"}
	if _, err := m.EnsureRegistered(contact, false); err != nil {
		t.Fatalf("create: %s", err)
	}
	reordered := []string{"mailto:b@example.com", "mailto:a@example.com"}
	if _, err := m.EnsureRegistered(reordered, false); err != nil {
		t.Fatalf("second call: %s", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call (bag-equal contact should skip update), got %d", calls)
	}
}

func TestEnsureTermsAcceptedFailsWithoutFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := testManager(t, t.TempDir(), srv)
	cfg := &Config{ID: "1", Agreement: "https://old-terms"}
	if _, err := m.EnsureTermsAccepted(cfg, false); err == nil {
		t.Fatal("expected TermsNotAccepted")
	}
}
