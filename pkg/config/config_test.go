package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePeriod(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"36h", 36 * time.Hour, false},
		{"2d", 48 * time.Hour, false},
		{"0.5d", 12 * time.Hour, false},
		{"30d", 720 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"", 0, true},
		{"soon", 0, true},
		{"xd", 0, true},
	}
	for _, c := range cases {
		got, err := ParsePeriod(c.in)
		if c.err {
			if err == nil {
				t.Fatalf("%q: expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("%q: got %v want %v", c.in, got, c.want)
		}
	}
}

func TestFeedBufferSize(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"256", 256},
		{"4k", 4000},
		{"junk", 0},
	}
	for _, c := range cases {
		f := FeedConfig{Buffer: c.in}
		if got := f.BufferSize(); got != c.want {
			t.Fatalf("%q: got %d want %d", c.in, got, c.want)
		}
	}
}

func TestAddr(t *testing.T) {
	c := &Config{}
	c.Server.Address = "127.0.0.1"
	c.Server.Port = 9001
	if got := c.Addr(); got != "127.0.0.1:9001" {
		t.Fatalf("got %q", got)
	}
	c.Server.Port = 0
	if got := c.Addr(); got != "127.0.0.1" {
		t.Fatalf("got %q", got)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	body := `
server:
  address: "0.0.0.0"
  port: 8080
  db_path: "/var/lib/commshub"
security:
  api_keys:
    backend: ["bk1", "bk2"]
  signing_keys: ["sk1"]
feed:
  buffer: "128"
directory:
  members:
    - id: u_1
      name: Ana
housekeeping:
  enabled: true
  cron: "0 3 * * *"
  abandoned_after: "2d"
  purge_after: "30d"
`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.DBPath != "/var/lib/commshub" || cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("server block wrong: %+v", cfg.Server)
	}
	if len(cfg.Security.APIKeys.Backend) != 2 || len(cfg.Security.SigningKeys) != 1 {
		t.Fatalf("security block wrong: %+v", cfg.Security)
	}
	if cfg.Feed.BufferSize() != 128 {
		t.Fatalf("feed block wrong: %+v", cfg.Feed)
	}
	if len(cfg.Directory.Members) != 1 || cfg.Directory.Members[0].Name != "Ana" {
		t.Fatalf("directory block wrong: %+v", cfg.Directory)
	}
	if !cfg.Housekeeping.Enabled || cfg.Housekeeping.AbandonedAfter != "2d" {
		t.Fatalf("housekeeping block wrong: %+v", cfg.Housekeeping)
	}
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("COMMSHUB_ADDR", "127.0.0.1:9000")
	t.Setenv("COMMSHUB_DB_PATH", "/tmp/ch")
	t.Setenv("COMMSHUB_API_BACKEND_KEYS", "bk1, bk2")
	t.Setenv("COMMSHUB_SIGNING_KEYS", "sk1")
	t.Setenv("COMMSHUB_FEED_BUFFER", "512")

	cfg, res := ParseConfigEnvs()
	if !res.EnvUsed {
		t.Fatalf("EnvUsed not set")
	}
	if cfg.Addr() != "127.0.0.1:9000" || cfg.Server.DBPath != "/tmp/ch" {
		t.Fatalf("server env wrong: %+v", cfg.Server)
	}
	if _, ok := res.BackendKeys["bk2"]; !ok {
		t.Fatalf("backend keys wrong: %v", res.BackendKeys)
	}
	// backend keys double as signing keys
	if _, ok := res.SigningKeys["bk1"]; !ok {
		t.Fatalf("backend key not promoted to signing key")
	}
	if _, ok := res.SigningKeys["sk1"]; !ok {
		t.Fatalf("signing keys wrong: %v", res.SigningKeys)
	}
	if cfg.Feed.BufferSize() != 512 {
		t.Fatalf("feed env wrong: %+v", cfg.Feed)
	}
}

func TestLoadEffectiveConfigPrecedence(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Address = "10.0.0.1"
	fileCfg.Server.Port = 8081
	fileCfg.Server.DBPath = "/from/file"
	fileCfg.Security.SigningKeys = []string{"sk1"}

	envCfg := &Config{}
	envCfg.Server.Address = "10.0.0.2"
	envCfg.Server.Port = 8082
	envCfg.Server.DBPath = "/from/env"

	// explicit --config wins and requires the file to exist
	flags := Flags{Config: "x.yaml", Set: map[string]bool{"config": true}}
	eff, err := LoadEffectiveConfig(flags, fileCfg, true, envCfg, EnvResult{EnvUsed: true})
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	if eff.Source != "config" || eff.DBPath != "/from/file" {
		t.Fatalf("config precedence wrong: %+v", eff)
	}
	if _, err := LoadEffectiveConfig(flags, &Config{}, false, envCfg, EnvResult{}); err == nil {
		t.Fatalf("missing explicit config file must fail")
	}

	// explicit flags win over both, and carry the file's security block
	flags = Flags{Addr: ":7000", DB: "/from/flag", Set: map[string]bool{"addr": true, "db": true}}
	eff, err = LoadEffectiveConfig(flags, fileCfg, true, envCfg, EnvResult{EnvUsed: true})
	if err != nil {
		t.Fatalf("flags source: %v", err)
	}
	if eff.Source != "flags" || eff.Addr != ":7000" || eff.DBPath != "/from/flag" {
		t.Fatalf("flags precedence wrong: %+v", eff)
	}
	if len(eff.Config.Security.SigningKeys) != 1 {
		t.Fatalf("flags source dropped file security block")
	}

	// no flags: file beats env
	flags = Flags{Set: map[string]bool{}}
	eff, _ = LoadEffectiveConfig(flags, fileCfg, true, envCfg, EnvResult{EnvUsed: true})
	if eff.Source != "config" || eff.Addr != "10.0.0.1:8081" {
		t.Fatalf("file-over-env wrong: %+v", eff)
	}

	// nothing else: env
	eff, _ = LoadEffectiveConfig(flags, &Config{}, false, envCfg, EnvResult{EnvUsed: true})
	if eff.Source != "env" || eff.DBPath != "/from/env" {
		t.Fatalf("env fallback wrong: %+v", eff)
	}
}

func TestRuntimeKeyAccessors(t *testing.T) {
	SetRuntime(&RuntimeConfig{
		BackendKeys: map[string]struct{}{"bk1": {}},
		SigningKeys: map[string]struct{}{"bk1": {}, "sk1": {}},
	})
	t.Cleanup(func() { SetRuntime(nil) })

	if _, ok := GetBackendKeys()["bk1"]; !ok {
		t.Fatalf("backend key missing")
	}
	if len(GetSigningKeys()) != 2 {
		t.Fatalf("signing keys wrong: %v", GetSigningKeys())
	}
	// returned maps are copies
	GetBackendKeys()["injected"] = struct{}{}
	if _, ok := GetBackendKeys()["injected"]; ok {
		t.Fatalf("accessor leaked internal map")
	}
}
