package keystore

import (
	"bytes"
	"testing"
)

func TestFileStoreOpenOrCreateRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %s", err)
	}

	h1, err := store.OpenOrCreate("account", RSA, 2048)
	if err != nil {
		t.Fatalf("OpenOrCreate (create): %s", err)
	}
	if h1.Algorithm() != RSA || h1.Bits() != 2048 {
		t.Errorf("got alg=%s bits=%d, want RSA/2048", h1.Algorithm(), h1.Bits())
	}

	h2, err := store.OpenOrCreate("account", RSA, 2048)
	if err != nil {
		t.Fatalf("OpenOrCreate (reopen): %s", err)
	}
	if h2.Algorithm() != RSA || h2.Bits() != 2048 {
		t.Errorf("reopened alg=%s bits=%d, want RSA/2048", h2.Algorithm(), h2.Bits())
	}

	exported, err := store.Export(h2)
	if err != nil {
		t.Fatalf("Export: %s", err)
	}
	if exported == nil {
		t.Fatal("Export returned nil signer")
	}
}

func TestFileStoreECDSA(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %s", err)
	}

	h, err := store.OpenOrCreate("ec-account", ECDSAP384, 0)
	if err != nil {
		t.Fatalf("OpenOrCreate: %s", err)
	}
	if h.Algorithm() != ECDSAP384 || h.Bits() != 384 {
		t.Errorf("got alg=%s bits=%d, want ECDSA-P384/384", h.Algorithm(), h.Bits())
	}

	reopened, err := store.OpenOrCreate("ec-account", ECDSAP384, 0)
	if err != nil {
		t.Fatalf("reopen: %s", err)
	}
	if reopened.Algorithm() != ECDSAP384 {
		t.Errorf("reopened alg = %s, want ECDSA-P384", reopened.Algorithm())
	}
}

func TestFileStoreDeleteIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %s", err)
	}
	if _, err := store.OpenOrCreate("throwaway", RSA, 2048); err != nil {
		t.Fatalf("OpenOrCreate: %s", err)
	}
	if err := store.Delete("throwaway"); err != nil {
		t.Fatalf("Delete: %s", err)
	}
	if err := store.Delete("throwaway"); err != nil {
		t.Fatalf("Delete of already-deleted key should be nil, got %s", err)
	}
}

func TestFileStoreRejectsBadRSASize(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %s", err)
	}
	if _, err := store.OpenOrCreate("bad", RSA, 1024); err == nil {
		t.Fatal("expected error for undersized RSA key, got nil")
	}
}

func TestParsePEMKeyRejectsGarbage(t *testing.T) {
	if _, _, _, err := parsePEMKey([]byte("not a pem file")); err == nil {
		t.Fatal("expected error parsing non-PEM data")
	}
	if _, _, _, err := parsePEMKey(bytes.Repeat([]byte{0}, 16)); err == nil {
		t.Fatal("expected error parsing non-PEM data")
	}
}
