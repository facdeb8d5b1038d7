package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	want := Default()
	want.DefaultSession = "u-123"
	want.Store.Driver = "memory"
	want.Events.Brokers = []string{"localhost:9092"}

	if err := Save(path, want); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.DefaultSession != "u-123" || got.Store.Driver != "memory" {
		t.Errorf("loaded = %+v", got)
	}
	if len(got.Events.Brokers) != 1 || got.Events.Brokers[0] != "localhost:9092" {
		t.Errorf("brokers = %v", got.Events.Brokers)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_session = \"u-1\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultSession != "u-1" {
		t.Errorf("default_session = %q", cfg.DefaultSession)
	}
	if cfg.Store.Driver != "mongo" || cfg.Store.URI == "" || cfg.Store.Database == "" {
		t.Errorf("store defaults missing: %+v", cfg.Store)
	}
	if cfg.HTTP.Addr == "" {
		t.Error("http addr default missing")
	}
	if cfg.Events.Topic == "" {
		t.Error("events topic default missing")
	}
	if len(cfg.Events.Brokers) != 0 {
		t.Errorf("brokers should default empty, got %v", cfg.Events.Brokers)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing file did not error")
	}
}

func TestSaveFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no unix permissions on windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("perm = %o, want 0600", perm)
	}
}
