package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	DB        DBConfig
	Media     MediaConfig
	ASR       ASRConfig
	Isolation IsolationConfig
	LLM       LLMConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DBConfig struct {
	Path string
}

type MediaConfig struct {
	CacheDir   string // cache directory, relative to the data root
	TempDir    string // scratch directory for downloads and uploads
	HistoryCap int    // finished-job history kept in memory
}

type ASRConfig struct {
	// Workers maps engine name to base URL of a self-hosted ASR worker.
	Workers map[string]string
	// HealthInterval is the probe period in seconds.
	HealthInterval int
	// HealthTimeout is the per-probe timeout in seconds.
	HealthTimeout int
	Cloud         CloudASRConfig
}

type CloudASRConfig struct {
	Name    string // engine name as it appears in the priority list
	APIKey  string
	BaseURL string
	Model   string
}

type IsolationConfig struct {
	// Command is the vocal isolation executable; empty disables the stage.
	Command string
	// KillGrace is the seconds to wait after SIGTERM before SIGKILL.
	KillGrace int
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type RateLimitConfig struct {
	TranscribePerHour int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("CLOUD_ASR_API_KEY")
	readSecret("LLM_API_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("db.path", "DB_PATH")
	_ = viper.BindEnv("media.cache_dir", "MEDIA_CACHE_DIR")
	_ = viper.BindEnv("media.temp_dir", "MEDIA_TEMP_DIR")
	_ = viper.BindEnv("asr.health_interval", "ASR_HEALTH_INTERVAL")
	_ = viper.BindEnv("asr.cloud.api_key", "CLOUD_ASR_API_KEY")
	_ = viper.BindEnv("asr.cloud.base_url", "CLOUD_ASR_BASE_URL")
	_ = viper.BindEnv("asr.cloud.model", "CLOUD_ASR_MODEL")
	_ = viper.BindEnv("isolation.command", "ISOLATION_COMMAND")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = viper.BindEnv("llm.model", "LLM_MODEL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("db.path", "data/app.db")
	viper.SetDefault("media.cache_dir", "data/media_cache")
	viper.SetDefault("media.temp_dir", "data/temp")
	viper.SetDefault("media.history_cap", 20)
	viper.SetDefault("asr.workers", map[string]string{})
	viper.SetDefault("asr.health_interval", 30)
	viper.SetDefault("asr.health_timeout", 2)
	viper.SetDefault("asr.cloud.name", "cloud")
	viper.SetDefault("asr.cloud.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("asr.cloud.model", "whisper-large-v3")
	viper.SetDefault("isolation.command", "")
	viper.SetDefault("isolation.kill_grace", 2)
	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")
	viper.SetDefault("ratelimit.transcribe_per_hour", 30)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		DB: DBConfig{
			Path: viper.GetString("db.path"),
		},
		Media: MediaConfig{
			CacheDir:   viper.GetString("media.cache_dir"),
			TempDir:    viper.GetString("media.temp_dir"),
			HistoryCap: viper.GetInt("media.history_cap"),
		},
		ASR: ASRConfig{
			Workers:        viper.GetStringMapString("asr.workers"),
			HealthInterval: viper.GetInt("asr.health_interval"),
			HealthTimeout:  viper.GetInt("asr.health_timeout"),
			Cloud: CloudASRConfig{
				Name:    viper.GetString("asr.cloud.name"),
				APIKey:  viper.GetString("asr.cloud.api_key"),
				BaseURL: viper.GetString("asr.cloud.base_url"),
				Model:   viper.GetString("asr.cloud.model"),
			},
		},
		Isolation: IsolationConfig{
			Command:   viper.GetString("isolation.command"),
			KillGrace: viper.GetInt("isolation.kill_grace"),
		},
		LLM: LLMConfig{
			APIKey:  viper.GetString("llm.api_key"),
			BaseURL: viper.GetString("llm.base_url"),
			Model:   viper.GetString("llm.model"),
		},
		RateLimit: RateLimitConfig{
			TranscribePerHour: viper.GetInt("ratelimit.transcribe_per_hour"),
		},
	}

	return cfg, nil
}
