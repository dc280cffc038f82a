package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("port = %d, want 8000", cfg.Server.Port)
	}
	if len(cfg.Jobs.AllowedHosts) != 1 || cfg.Jobs.AllowedHosts[0] != "bilibili.com" {
		t.Fatalf("unexpected allowed hosts: %v", cfg.Jobs.AllowedHosts)
	}
	if cfg.Bailian.DefaultModel != "qwen3-asr-flash-filetrans" {
		t.Fatalf("unexpected bailian model: %q", cfg.Bailian.DefaultModel)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
server:
  port: 9090
workers:
  count: 2
jobs:
  allowed_hosts: ["Bilibili.com.", "b23.tv"]
  default_provider: Bailian
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Workers.Count != 2 {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Workers.QueueSize != 100 {
		t.Fatalf("defaults should survive partial files, queue_size=%d", cfg.Workers.QueueSize)
	}
	if cfg.Jobs.DefaultProvider != "bailian" {
		t.Fatalf("provider not normalized: %q", cfg.Jobs.DefaultProvider)
	}
	if cfg.Jobs.AllowedHosts[0] != "bilibili.com" || cfg.Jobs.AllowedHosts[1] != "b23.tv" {
		t.Fatalf("hosts not normalized: %v", cfg.Jobs.AllowedHosts)
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"DASHSCOPE_API_KEY":      "dash",
		"S3_BUCKET":              "audio",
		"S3_SIGN_EXPIRE_SECONDS": "120",
		"CORS_ORIGINS":           "https://a.example, https://b.example",
		"AUDIO_CACHE_DIR":        "/srv/cache",
	}
	cfg.applyEnv(func(k string) string { return env[k] })

	if cfg.Bailian.APIKey != "dash" || cfg.ObjectStorage.Bucket != "audio" {
		t.Fatalf("secrets not applied: %+v", cfg.ObjectStorage)
	}
	if cfg.ObjectStorage.SignExpireSeconds != 120 {
		t.Fatalf("expire = %d, want 120", cfg.ObjectStorage.SignExpireSeconds)
	}
	if len(cfg.CORS.AllowOrigins) != 2 || cfg.CORS.AllowOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORS.AllowOrigins)
	}
	if cfg.Storage.CacheDir != "/srv/cache" {
		t.Fatalf("cache dir = %q", cfg.Storage.CacheDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"port":     func(c *Config) { c.Server.Port = 0 },
		"workers":  func(c *Config) { c.Workers.Count = 0 },
		"hosts":    func(c *Config) { c.Jobs.AllowedHosts = nil },
		"provider": func(c *Config) { c.Jobs.DefaultProvider = "whisper" },
		"format":   func(c *Config) { c.Logging.Format = "xml" },
		"buffer":   func(c *Config) { c.Progress.SubscriberBuffer = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
