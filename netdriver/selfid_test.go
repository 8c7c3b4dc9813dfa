package netdriver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSelfIdentifyHonorsExplicitNodeID(t *testing.T) {
	id, err := selfIdentify(Config{NodeID: 42})
	if err != nil {
		t.Fatalf("selfIdentify: %v", err)
	}
	if id != 42 {
		t.Fatalf("selfIdentify = %d, want 42", id)
	}
}

func TestSelfIdentifyPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	first, err := selfIdentify(Config{NodeIDDir: dir})
	if err != nil {
		t.Fatalf("selfIdentify (first init): %v", err)
	}
	if first == 0 {
		t.Fatalf("selfIdentify returned the zero sentinel")
	}

	second, err := selfIdentify(Config{NodeIDDir: dir})
	if err != nil {
		t.Fatalf("selfIdentify (second init): %v", err)
	}
	if second != first {
		t.Fatalf("selfIdentify across restarts = %d, want %d (persisted)", second, first)
	}
}

func TestReadPersistedNodeIDRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_id")
	if err := os.WriteFile(path, []byte("not-a-number\n"), 0o644); err != nil {
		t.Fatalf("write garbage node_id: %v", err)
	}

	if _, ok := readPersistedNodeID(dir); ok {
		t.Fatalf("expected readPersistedNodeID to reject a non-numeric file")
	}
}

func TestRollingHashDeterministic(t *testing.T) {
	a := rollingHash([]byte("stable-input"))
	b := rollingHash([]byte("stable-input"))
	if a != b {
		t.Fatalf("rollingHash not deterministic: %d != %d", a, b)
	}
}
