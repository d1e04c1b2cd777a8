package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_EmptyPathDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Server.Listen != "0.0.0.0:25500" || cfg.Ruleset.CacheTTL != 24*time.Hour || !cfg.Target.FakeIP {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	p := writeConfig(t, `server:
  listen: 127.0.0.1:8080
  public_base_url: https://conv.example.com
fetch:
  timeout: 5s
ruleset:
  cache_ttl: 1h
target:
  fakeip: false
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:8080" || cfg.Server.PublicBaseURL != "https://conv.example.com" {
		t.Fatalf("server=%+v", cfg.Server)
	}
	if cfg.Fetch.Timeout != 5*time.Second || cfg.Ruleset.CacheTTL != time.Hour {
		t.Fatalf("fetch=%+v ruleset=%+v", cfg.Fetch, cfg.Ruleset)
	}
	if cfg.Target.FakeIP {
		t.Fatalf("fakeip should be overridden")
	}
	if cfg.Server.ConvertTimeout != 60*time.Second || cfg.Ruleset.CacheMaxEntries != 512 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("err=%v", err)
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("err=%v", err)
	}
	if _, err := Load(writeConfig(t, "server:\n  listen: \"\"\n")); err == nil {
		t.Fatalf("empty listen should be rejected")
	}
}
