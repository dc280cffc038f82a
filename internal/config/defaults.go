package config

import (
	"strconv"
	"strings"
)

// Default returns a configuration populated with built-in defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "auto"

	cfg.CORS.AllowOrigins = []string{"*"}

	cfg.Workers.Count = 4
	cfg.Workers.QueueSize = 100

	cfg.Progress.SubscriberBuffer = 1024

	cfg.Storage.Database = "data/jobs.db"
	cfg.Storage.CacheDir = "cache"
	cfg.Storage.ScratchDir = "temp"

	cfg.Cleanup.IntervalMinutes = 60
	cfg.Cleanup.MaxAgeHours = 24

	cfg.Jobs.AllowedHosts = []string{"bilibili.com"}
	cfg.Jobs.DefaultProvider = "openai"
	cfg.Jobs.ListLimit = 50

	cfg.Downloader.Binary = "yt-dlp"
	cfg.Downloader.Format = "worstaudio/worst"
	cfg.Downloader.AudioFormat = "mp3"
	cfg.Downloader.AudioQuality = "192K"

	cfg.OpenAI.Model = "gpt-4o-mini-transcribe"

	cfg.Bailian.BaseURL = "https://dashscope.aliyuncs.com/api/v1"
	cfg.Bailian.DefaultModel = "qwen3-asr-flash-filetrans"
	cfg.Bailian.Language = "zh"
	cfg.Bailian.PollIntervalSeconds = 2
	cfg.Bailian.TimeoutSeconds = 60

	cfg.Formatter.BaseURL = "https://api.deepseek.com"
	cfg.Formatter.Model = "deepseek-chat"

	cfg.ObjectStorage.Region = "garage"
	cfg.ObjectStorage.SignExpireSeconds = 3600

	cfg.GoogleDrive.FolderName = "Transcripts"
	return cfg
}

// applyEnv overlays environment variables, mostly secrets, on top of the file.
func (c *Config) applyEnv(getenv func(string) string) {
	str := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	list := func(dst *[]string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = splitList(v)
		}
	}

	num(&c.Server.Port, "PORT")
	str(&c.Logging.Level, "LOG_LEVEL")
	str(&c.Logging.Format, "LOG_FORMAT")
	list(&c.CORS.AllowOrigins, "CORS_ORIGINS")

	str(&c.Storage.Database, "DATABASE_PATH")
	str(&c.Storage.CacheDir, "AUDIO_CACHE_DIR")
	str(&c.Jobs.DefaultProvider, "DEFAULT_PROVIDER")
	list(&c.Jobs.AllowedHosts, "ALLOWED_HOSTS")

	str(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	str(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")

	str(&c.Bailian.APIKey, "DASHSCOPE_API_KEY")

	str(&c.Formatter.APIKey, "DEEPSEEK_API_KEY")
	str(&c.Formatter.BaseURL, "DEEPSEEK_BASE_URL")
	str(&c.Formatter.Model, "DEEPSEEK_MODEL")

	str(&c.ObjectStorage.AccessKeyID, "AWS_ACCESS_KEY_ID")
	str(&c.ObjectStorage.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	str(&c.ObjectStorage.Endpoint, "S3_ENDPOINT")
	str(&c.ObjectStorage.Region, "S3_REGION")
	str(&c.ObjectStorage.Bucket, "S3_BUCKET")
	str(&c.ObjectStorage.PublicEndpoint, "S3_PUBLIC_ENDPOINT")
	num(&c.ObjectStorage.SignExpireSeconds, "S3_SIGN_EXPIRE_SECONDS")
}

func (c *Config) normalize() {
	c.Jobs.DefaultProvider = strings.ToLower(strings.TrimSpace(c.Jobs.DefaultProvider))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	hosts := make([]string, 0, len(c.Jobs.AllowedHosts))
	for _, h := range c.Jobs.AllowedHosts {
		h = strings.ToLower(strings.Trim(strings.TrimSpace(h), "."))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	c.Jobs.AllowedHosts = hosts
	c.Bailian.BaseURL = strings.TrimRight(strings.TrimSpace(c.Bailian.BaseURL), "/")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
