package creds_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dantte-lp/natcore/internal/creds"
)

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "creds.yaml")
	contents := "alice: supersecret\nbob: anothersecret\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := creds.NewRegistry()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	key, ok := r.LocalKey("alice")
	if !ok {
		t.Fatal("alice not found after LoadFile")
	}
	if string(key) != "supersecret" {
		t.Fatalf("LocalKey(alice) = %q, want %q", key, "supersecret")
	}

	if !r.CheckLocalUsername("bob") {
		t.Fatal("bob not recognized after LoadFile")
	}
	if r.CheckLocalUsername("carol") {
		t.Fatal("carol unexpectedly recognized")
	}
}

func TestLoadFileReloadReplacesEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "creds.yaml")
	r := creds.NewRegistry()

	if err := os.WriteFile(path, []byte("alice: key1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if err := os.WriteFile(path, []byte("bob: key2\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("second LoadFile: %v", err)
	}

	if r.CheckLocalUsername("alice") {
		t.Fatal("alice survived reload, want replaced")
	}
	if !r.CheckLocalUsername("bob") {
		t.Fatal("bob missing after reload")
	}
}

func TestLoadFileMissing(t *testing.T) {
	t.Parallel()

	r := creds.NewRegistry()
	if err := r.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFile on missing file returned nil error")
	}
}

func TestLoadFileMalformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := creds.NewRegistry()
	if err := r.LoadFile(path); err == nil {
		t.Fatal("LoadFile on malformed YAML returned nil error")
	}
}

func TestShortTermPrecedesLongTerm(t *testing.T) {
	t.Parallel()

	r := creds.NewRegistry()

	dir := t.TempDir()
	path := filepath.Join(dir, "creds.yaml")
	if err := os.WriteFile(path, []byte("alice: long-term-key\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	r.AddShortTerm("alice", []byte("short-term-key"))

	key, ok := r.LocalKey("alice")
	if !ok {
		t.Fatal("alice not found")
	}
	if string(key) != "short-term-key" {
		t.Fatalf("LocalKey(alice) = %q, want short-term key to take precedence", key)
	}

	r.RemoveShortTerm("alice")

	key, ok = r.LocalKey("alice")
	if !ok {
		t.Fatal("alice not found after RemoveShortTerm")
	}
	if string(key) != "long-term-key" {
		t.Fatalf("LocalKey(alice) = %q, want fall-through to long-term key", key)
	}
}

func TestNewShortTermMintsUniqueUsernames(t *testing.T) {
	t.Parallel()

	r := creds.NewRegistry()
	key := []byte("ephemeral-key")

	u1 := r.NewShortTerm(key)
	u2 := r.NewShortTerm(key)

	if u1 == u2 {
		t.Fatalf("NewShortTerm minted the same username twice: %q", u1)
	}

	for _, u := range []string{u1, u2} {
		got, ok := r.LocalKey(u)
		if !ok {
			t.Fatalf("LocalKey(%q) not found", u)
		}
		if string(got) != string(key) {
			t.Fatalf("LocalKey(%q) = %q, want %q", u, got, key)
		}
	}
}

func TestCheckLocalUsernameUnknown(t *testing.T) {
	t.Parallel()

	r := creds.NewRegistry()
	if r.CheckLocalUsername("nobody") {
		t.Fatal("empty registry recognized an unknown username")
	}
}
