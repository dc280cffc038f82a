package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "config/config.yaml"

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Dir    string `yaml:"dir"`
	} `yaml:"logging"`

	CORS struct {
		AllowOrigins []string `yaml:"allow_origins"`
	} `yaml:"cors"`

	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`

	Progress struct {
		SubscriberBuffer int `yaml:"subscriber_buffer"`
	} `yaml:"progress"`

	Storage struct {
		Database   string `yaml:"database"`
		CacheDir   string `yaml:"cache_dir"`
		ScratchDir string `yaml:"scratch_dir"`
		OutputDir  string `yaml:"output_dir"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Jobs struct {
		AllowedHosts    []string `yaml:"allowed_hosts"`
		DefaultProvider string   `yaml:"default_provider"`
		ListLimit       int      `yaml:"list_limit"`
	} `yaml:"jobs"`

	Downloader struct {
		Binary       string `yaml:"binary"`
		Format       string `yaml:"format"`
		AudioFormat  string `yaml:"audio_format"`
		AudioQuality string `yaml:"audio_quality"`
	} `yaml:"downloader"`

	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"openai"`

	Bailian struct {
		APIKey              string `yaml:"api_key"`
		BaseURL             string `yaml:"base_url"`
		DefaultModel        string `yaml:"default_model"`
		Language            string `yaml:"language"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		TimeoutSeconds      int    `yaml:"timeout_seconds"`
	} `yaml:"bailian"`

	Formatter struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"formatter"`

	ObjectStorage struct {
		Endpoint          string `yaml:"endpoint"`
		PublicEndpoint    string `yaml:"public_endpoint"`
		Region            string `yaml:"region"`
		Bucket            string `yaml:"bucket"`
		AccessKeyID       string `yaml:"access_key_id"`
		SecretAccessKey   string `yaml:"secret_access_key"`
		SignExpireSeconds int    `yaml:"sign_expire_seconds"`
	} `yaml:"object_storage"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`
}

// Load reads path (if it exists) over the defaults, applies environment
// overrides and validates the result. An empty path uses DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults + environment only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates the directories the service writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Storage.CacheDir, c.Storage.ScratchDir}
	if c.Storage.OutputDir != "" {
		dirs = append(dirs, c.Storage.OutputDir)
	}
	if dbDir := filepath.Dir(c.Storage.Database); dbDir != "" && dbDir != "." {
		dirs = append(dirs, dbDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
