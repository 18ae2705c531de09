package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("/library", "/base")

	if cfg.LibraryRoot != "/library" {
		t.Errorf("LibraryRoot = %q, want /library", cfg.LibraryRoot)
	}
	if cfg.DataDir != filepath.Join("/base", "db") {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.ListenAddr != "127.0.0.1:8480" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Scan.IntervalSeconds != 3600 || cfg.Scan.FreshnessSeconds != 300 ||
		cfg.Scan.LockTTLSeconds != 600 || cfg.Scan.Workers != 3 {
		t.Errorf("unexpected scan defaults: %+v", cfg.Scan)
	}
}

func TestManager_RoundTrip(t *testing.T) {
	m := &Manager{}
	cfg := NewConfig("/library", "/base")
	cfg.Scan.Workers = 5

	var buf bytes.Buffer
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if *got != *cfg {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, cfg)
	}
}

func TestManager_Read_Invalid(t *testing.T) {
	m := &Manager{}
	if _, err := m.Read(strings.NewReader("library_root = [broken")); err == nil {
		t.Error("expected an error for malformed input")
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mb.toml")
	cfg := NewConfig("/library", "/base")

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if *got != *cfg {
		t.Errorf("ReadFromFile() = %+v, want %+v", got, cfg)
	}

	if err := Init(path, cfg); err == nil {
		t.Error("Init() should refuse to overwrite an existing config")
	}
}

func TestReadFromFile_Missing(t *testing.T) {
	if _, err := ReadFromFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
