package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment. A .env
// file in the working directory is loaded first when present.
type Config struct {
	Port     string
	LogLevel string

	PostgresURI string
	MongoURI    string
	MongoDB     string
	RedisAddr   string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	CORSOrigins []string

	PulseInterval    time.Duration
	PulseTimeout     time.Duration
	RingTimeout      time.Duration
	MissedSweepEvery time.Duration
	ProfileCacheTTL  time.Duration
	TranscriptTTL    time.Duration

	// TranslationEngine selects the streaming engine: "ws" or "google".
	TranslationEngine string
	EngineURL         string
	EngineAPIKey      string
	EngineModel       string

	GCPProject     string
	GCPLocation    string
	GeminiModel    string
	TTSSampleRate  int
	TTSDefaultLang string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     envOr("PORT", "8080"),
		LogLevel: os.Getenv("LOG_LEVEL"),

		PostgresURI: os.Getenv("POSTGRES_URI"),
		MongoURI:    os.Getenv("MONGO_URI"),
		MongoDB:     envOr("MONGO_DB", "yoocall"),
		RedisAddr:   firstEnv("REDIS_ADDR", "REDIS_URI", "REDIS_URL"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   os.Getenv("JWT_ISSUER"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),

		CORSOrigins: splitList(os.Getenv("CORS_ORIGINS")),

		PulseInterval:    envDuration("PULSE_CHECK_INTERVAL", 10*time.Second),
		PulseTimeout:     envDuration("PULSE_TIMEOUT", 20*time.Second),
		RingTimeout:      envDuration("CALL_RING_TIMEOUT", 45*time.Second),
		MissedSweepEvery: envDuration("CALL_MISSED_SWEEP_INTERVAL", 15*time.Second),
		ProfileCacheTTL:  envDuration("PROFILE_CACHE_TTL", 5*time.Minute),
		TranscriptTTL:    envDuration("TRANSCRIPT_TTL", 7*24*time.Hour),

		TranslationEngine: envOr("TRANSLATION_ENGINE", "ws"),
		EngineURL:         os.Getenv("TRANSLATION_ENGINE_URL"),
		EngineAPIKey:      os.Getenv("TRANSLATION_ENGINE_API_KEY"),
		EngineModel:       os.Getenv("TRANSLATION_ENGINE_MODEL"),

		GCPProject:     os.Getenv("GCP_PROJECT_ID"),
		GCPLocation:    envOr("GCP_LOCATION", "us-central1"),
		GeminiModel:    os.Getenv("GEMINI_MODEL"),
		TTSSampleRate:  envInt("TTS_SAMPLE_RATE", 16000),
		TTSDefaultLang: envOr("TTS_DEFAULT_LANGUAGE", "en-US"),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is not set")
	}
	if cfg.PostgresURI == "" {
		return nil, errors.New("POSTGRES_URI environment variable is not set")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
