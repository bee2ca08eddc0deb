package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.URL != "http://localhost:8000" || cfg.Server.Timeout != 10*time.Second {
		t.Fatalf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Push.Path != "/ws" || cfg.State.Dir != ".truckdash" {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Push, cfg.State)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  url: https://dock.example.com
filter:
  from: 2024-01-01
  to: 2024-01-31
  timezone: UTC
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.URL != "https://dock.example.com" {
		t.Fatalf("url %q", cfg.Server.URL)
	}
	if cfg.Server.Timeout != 10*time.Second || cfg.Push.Path != "/ws" {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("location %v %v", loc, err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"scheme":   "server:\n  url: ftp://x\n",
		"range":    "filter:\n  from: 2024-02-01\n  to: 2024-01-01\n",
		"date":     "filter:\n  from: 01/02/2024\n",
		"push":     "push:\n  path: ws\n",
		"timezone": "filter:\n  timezone: Mars/Olympus\n",
		"log":      "log:\n  format: xml\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadAndLoadOptional(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg.Server.URL != Default().Server.URL {
		t.Fatalf("optional load: %+v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("server:\n  url: http://10.0.0.5:8000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.URL != "http://10.0.0.5:8000" {
		t.Fatalf("url %q", cfg.Server.URL)
	}
	if got := cfg.StateDir(dir); got != filepath.Join(dir, ".truckdash") {
		t.Fatalf("state dir %q", got)
	}
}
