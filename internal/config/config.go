package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the conversational audio service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	RedisURL    string
	RedisPrefix string
	DatabaseURL string

	SessionTimeout       time.Duration
	SessionSweepInterval time.Duration

	RateLimitPerMinute int
	RateLimitPerHour   int

	TTSCacheMaxEntries int
	TTSCacheTTL        time.Duration

	FirstChunkSentences      int
	SubsequentChunkSentences int

	MaxTextLength int
	MaxAudioBytes int
	TurnTimeout   time.Duration
	FirstAudioSLO time.Duration

	HistoryCompactThreshold int
	HistoryKeepRecent       int

	UpstreamBaseURL string
	UpstreamAPIKey  string
	ChatModel       string
	Temperature     float64
	TTSModel        string
	STTModel        string
	TTSFormat       string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "parla"),
		AllowAnyOrigin:           false,
		RedisURL:                 stringsTrimSpace("REDIS_URL"),
		RedisPrefix:              envOrDefault("REDIS_PREFIX", "parla:"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionTimeout:           time.Hour,
		SessionSweepInterval:     time.Minute,
		RateLimitPerMinute:       15,
		RateLimitPerHour:         200,
		TTSCacheMaxEntries:       200,
		TTSCacheTTL:              time.Hour,
		FirstChunkSentences:      1,
		SubsequentChunkSentences: 2,
		MaxTextLength:            2000,
		MaxAudioBytes:            3 * 1024 * 1024,
		TurnTimeout:              60 * time.Second,
		FirstAudioSLO:            700 * time.Millisecond,
		HistoryCompactThreshold:  21,
		HistoryKeepRecent:        12,
		UpstreamBaseURL:          envOrDefault("UPSTREAM_BASE_URL", "https://api.openai.com/v1"),
		UpstreamAPIKey:           stringsTrimSpace("UPSTREAM_API_KEY"),
		ChatModel:                envOrDefault("CHAT_MODEL", "gpt-4o-mini"),
		Temperature:              0.85,
		TTSModel:                 envOrDefault("TTS_MODEL", "gpt-4o-mini-tts"),
		STTModel:                 envOrDefault("STT_MODEL", "whisper-1"),
		TTSFormat:                envOrDefault("TTS_OUTPUT_FORMAT", "mp3"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTimeout, err = durationFromEnv("SESSION_TIMEOUT", cfg.SessionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSweepInterval, err = durationFromEnv("SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnTimeout, err = durationFromEnv("TURN_TIMEOUT", cfg.TurnTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstAudioSLO, err = durationFromEnv("FIRST_AUDIO_SLO", cfg.FirstAudioSLO)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSCacheTTL, err = durationFromEnv("TTS_CACHE_TTL", cfg.TTSCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitPerMinute, err = intFromEnv("RATE_LIMIT_RPM", cfg.RateLimitPerMinute)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitPerHour, err = intFromEnv("RATE_LIMIT_RPH", cfg.RateLimitPerHour)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSCacheMaxEntries, err = intFromEnv("TTS_CACHE_MAX_SIZE", cfg.TTSCacheMaxEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstChunkSentences, err = intFromEnv("STREAMING_FIRST_CHUNK_SENTENCES", cfg.FirstChunkSentences)
	if err != nil {
		return Config{}, err
	}
	cfg.SubsequentChunkSentences, err = intFromEnv("STREAMING_SUBSEQUENT_CHUNK_SENTENCES", cfg.SubsequentChunkSentences)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTextLength, err = intFromEnv("MAX_TEXT_LENGTH", cfg.MaxTextLength)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAudioBytes, err = intFromEnv("MAX_AUDIO_SIZE", cfg.MaxAudioBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryCompactThreshold, err = intFromEnv("HISTORY_COMPACT_THRESHOLD", cfg.HistoryCompactThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryKeepRecent, err = intFromEnv("HISTORY_KEEP_RECENT", cfg.HistoryKeepRecent)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("SESSION_TIMEOUT must be at least 5s")
	}
	if cfg.FirstChunkSentences <= 0 {
		return Config{}, fmt.Errorf("STREAMING_FIRST_CHUNK_SENTENCES must be positive")
	}
	if cfg.SubsequentChunkSentences <= 0 {
		return Config{}, fmt.Errorf("STREAMING_SUBSEQUENT_CHUNK_SENTENCES must be positive")
	}
	if cfg.RateLimitPerMinute < 0 || cfg.RateLimitPerHour < 0 {
		return Config{}, fmt.Errorf("rate limit budgets must not be negative")
	}
	if cfg.TTSCacheMaxEntries <= 0 {
		return Config{}, fmt.Errorf("TTS_CACHE_MAX_SIZE must be positive")
	}
	if cfg.MaxTextLength <= 0 {
		return Config{}, fmt.Errorf("MAX_TEXT_LENGTH must be positive")
	}
	if cfg.HistoryKeepRecent <= 0 || cfg.HistoryCompactThreshold <= cfg.HistoryKeepRecent {
		return Config{}, fmt.Errorf("HISTORY_COMPACT_THRESHOLD must exceed HISTORY_KEEP_RECENT")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
