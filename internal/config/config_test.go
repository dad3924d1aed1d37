package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Default("/data")
	cfg.ClientID = "client-1"
	return cfg
}

func TestDefault_IsValidOnceClientIDSet(t *testing.T) {
	cfg := Default("/data")
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "client_id") {
		t.Errorf("expected client_id error, got %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if cfg.Sync.BatchCap != 0 {
		t.Errorf("default batch cap = %d, want unlimited", cfg.Sync.BatchCap)
	}
	if cfg.Store.Path != filepath.Join("/data", "state.db") {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
}

func TestDemo_SkipsClientChecks(t *testing.T) {
	cfg := Default("/data")
	cfg.Demo = true
	cfg.BackendURL = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.Provider = "dropbox" }, "provider"},
		{"unknown store", func(c *Config) { c.Store.Type = "redis" }, "store.type"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"dynamodb without table", func(c *Config) { c.Store.Type = "dynamodb" }, "store.table"},
		{"kms without key", func(c *Config) { c.Encryption.Type = "kms" }, "kms_key_id"},
		{"lock table", func(c *Config) { c.Lock.Type = "dynamodb" }, "lock.table"},
		{"relative backend", func(c *Config) { c.BackendURL = "/api" }, "backend_url"},
		{"redirect without port", func(c *Config) { c.RedirectURI = "http://127.0.0.1/callback" }, "redirect_uri"},
		{"negative cap", func(c *Config) { c.Sync.BatchCap = -1 }, "batch_cap"},
		{"negative rate", func(c *Config) { c.Graph.RatePerSecond = -1 }, "rate_per_second"},
		{"s3 without bucket", func(c *Config) { c.Sync.Sink = "s3" }, "s3_bucket"},
		{"dir sink without dir", func(c *Config) { c.Sync.Dir = "" }, "sync.dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestReadWrite_RoundTrip(t *testing.T) {
	original := validConfig()
	original.Provider = "googledrive"
	original.Store = StoreConfig{Type: "dynamodb", Table: "ConnectorState"}
	original.Encryption = EncryptionConfig{Type: "kms", KMSKeyID: "alias/gophsync"}
	original.Sync.BatchCap = 25
	original.Sync.Sink = "s3"
	original.Sync.S3Bucket = "inbox"
	original.Sync.S3Prefix = "scans"

	var buf bytes.Buffer
	if err := Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := Read(&buf, "/other")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Provider != "googledrive" || got.ClientID != "client-1" {
		t.Errorf("top level = %q/%q", got.Provider, got.ClientID)
	}
	if got.Store != original.Store {
		t.Errorf("Store = %+v, want %+v", got.Store, original.Store)
	}
	if got.Encryption.KMSKeyID != "alias/gophsync" {
		t.Errorf("Encryption = %+v", got.Encryption)
	}
	if got.Sync != original.Sync {
		t.Errorf("Sync = %+v, want %+v", got.Sync, original.Sync)
	}
}

func TestRead_StorePathFollowsType(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  StoreConfig
	}{
		{"dynamodb drops sqlite path", "[store]\ntype = \"dynamodb\"\ntable = \"T\"\n", StoreConfig{Type: "dynamodb", Table: "T"}},
		{"memory drops sqlite path", "[store]\ntype = \"memory\"\n", StoreConfig{Type: "memory"}},
		{"sqlite keeps default path", "[store]\ntype = \"sqlite\"\n", StoreConfig{Type: "sqlite", Path: filepath.Join("/data", "state.db")}},
		{"sqlite keeps explicit path", "[store]\ntype = \"sqlite\"\npath = \"/x.db\"\n", StoreConfig{Type: "sqlite", Path: "/x.db"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Read(strings.NewReader(tt.input), "/data")
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if cfg.Store != tt.want {
				t.Errorf("Store = %+v, want %+v", cfg.Store, tt.want)
			}
		})
	}
}

func TestRead_FillsDefaults(t *testing.T) {
	cfg, err := Read(strings.NewReader("client_id = \"abc\"\n[sync]\nbatch_cap = 10\n"), "/data")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.ClientID != "abc" || cfg.Sync.BatchCap != 10 {
		t.Errorf("explicit values lost: %+v", cfg)
	}
	if cfg.Sync.Retries != 3 || cfg.Store.Type != "sqlite" || cfg.Provider != "onedrive" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestRead_Invalid(t *testing.T) {
	if _, err := Read(strings.NewReader("provider = "), "/data"); err == nil {
		t.Error("expected decode error")
	}
}

func TestLoadSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "gophsync.toml")

	cfg, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load() of missing file error = %v", err)
	}
	if cfg.Store.Path != filepath.Join(dir, "state.db") {
		t.Errorf("missing file should yield defaults, got %+v", cfg.Store)
	}

	cfg.ClientID = "client-2"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ClientID != "client-2" {
		t.Errorf("ClientID = %q", loaded.ClientID)
	}
}

func TestSet(t *testing.T) {
	cfg := validConfig()
	tests := []struct {
		key, value string
		check      func() bool
	}{
		{"sync.batch_cap", "10", func() bool { return cfg.Sync.BatchCap == 10 }},
		{"sync.retries", "0", func() bool { return cfg.Sync.Retries == 0 }},
		{"graph.rate_per_second", "2.5", func() bool { return cfg.Graph.RatePerSecond == 2.5 }},
		{"demo", "true", func() bool { return cfg.Demo }},
		{"store.type", "memory", func() bool { return cfg.Store.Type == "memory" }},
		{"encryption.identity_path", "/k", func() bool { return cfg.Encryption.IdentityPath == "/k" }},
	}
	for _, tt := range tests {
		if err := cfg.Set(tt.key, tt.value); err != nil {
			t.Errorf("Set(%q) error = %v", tt.key, err)
			continue
		}
		if !tt.check() {
			t.Errorf("Set(%q, %q) not applied", tt.key, tt.value)
		}
	}

	if err := cfg.Set("sync.batch_cap", "ten"); err == nil {
		t.Error("expected parse error")
	}
	if err := cfg.Set("nope", "1"); err == nil {
		t.Error("expected unknown key error")
	}
	if len(Keys()) != len(setters) {
		t.Error("Keys() incomplete")
	}
}

func TestPaths(t *testing.T) {
	t.Setenv("GOPHSYNC_CONFIG", "/etc/gophsync.toml")
	t.Setenv("GOPHSYNC_HOME", "/var/lib/gophsync")

	cfgPath, base, err := Paths()
	if err != nil {
		t.Fatalf("Paths() error = %v", err)
	}
	if cfgPath != "/etc/gophsync.toml" || base != "/var/lib/gophsync" {
		t.Errorf("Paths() = %q, %q", cfgPath, base)
	}
}
