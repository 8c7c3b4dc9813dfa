package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"listen_port":29900,"target":"127.0.0.1:4000","key":"secret","remote_node":"20","remote_addr":"127.0.0.1","remote_port":29901,"qpp":true,"qpp_count":61}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if cfg.ListenPort != 29900 || cfg.Target != "127.0.0.1:4000" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}

	if cfg.Key != "secret" {
		t.Fatalf("expected key to be populated")
	}

	if cfg.RemoteNode != "20" || cfg.RemoteAddr != "127.0.0.1" || cfg.RemotePort != 29901 {
		t.Fatalf("unexpected remote peer fields: %+v", cfg)
	}

	if !cfg.QPP || cfg.QPPCount != 61 {
		t.Fatalf("unexpected QPP fields: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
