package acmeclient

import (
	"os"
	"path/filepath"
	"testing"
)

// New itself dials a real ACME directory and is not exercised here; these
// tests cover only the account persistence round trip, the one piece of
// this package that doesn't need network access.

func TestLoadOrCreateUserCreatesNewAccount(t *testing.T) {
	dir := t.TempDir()

	u, err := loadOrCreateUser(dir, "ops@example.com")
	if err != nil {
		t.Fatalf("loadOrCreateUser: %v", err)
	}
	if u.Email != "ops@example.com" {
		t.Fatalf("got email %q, want ops@example.com", u.Email)
	}
	if u.key == nil {
		t.Fatalf("expected a generated private key")
	}
	if u.Registration != nil {
		t.Fatalf("a freshly created account must not be registered yet")
	}
}

func TestSaveUserThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()

	u, err := loadOrCreateUser(dir, "ops@example.com")
	if err != nil {
		t.Fatalf("loadOrCreateUser: %v", err)
	}
	if err := saveUser(dir, u); err != nil {
		t.Fatalf("saveUser: %v", err)
	}

	reloaded, err := loadOrCreateUser(dir, "ignored@example.com")
	if err != nil {
		t.Fatalf("loadOrCreateUser (reload): %v", err)
	}
	if reloaded.Email != "ops@example.com" {
		t.Fatalf("reload lost persisted email: got %q", reloaded.Email)
	}
	if reloaded.key == nil {
		t.Fatalf("reload must parse the persisted private key")
	}
	if !reloaded.key.Equal(u.key) {
		t.Fatalf("reloaded private key does not match the saved one")
	}
}

func TestLoadOrCreateUserRecoversFromCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "account.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	u, err := loadOrCreateUser(dir, "ops@example.com")
	if err != nil {
		t.Fatalf("loadOrCreateUser: %v", err)
	}
	if u.key == nil {
		t.Fatalf("expected a freshly generated key after falling back")
	}
}
