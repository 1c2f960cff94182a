package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents application configuration loaded from the environment and
// an optional YAML file referenced by CONFIG_FILE.
type Config struct {
	AppEnv      string
	Port        string
	RedisURL    string
	DatabaseURL string
	SQLitePath  string
	JWTSecret   string

	KlingAccessKey    string
	KlingSecretKey    string
	KlingBaseURL      string
	KlingStylizeModel string
	KlingTryOnModel   string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	MaxJobs           int
	PollInterval      time.Duration
	PollMaxAttempts   int
	RemoteHTTPTimeout time.Duration
	LockTTL           time.Duration
	JobTTL            time.Duration
	SuggestionCount   int

	StoragePath    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	AMQPURL   string
	AMQPQueue string

	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	// TrustProxy honours X-Forwarded-For / X-Real-IP; enable only behind a proxy that overwrites them.
	TrustProxy     bool
	MirrorInterval time.Duration
}

var defaults = map[string]any{
	"APP_ENV":                     "development",
	"PORT":                        "8080",
	"SQLITE_PATH":                 "./data/looks.db",
	"KLING_BASE_URL":              "https://api-singapore.klingai.com",
	"KLING_STYLIZE_MODEL":         "kling-v1-5",
	"KLING_TRYON_MODEL":           "kolors-virtual-try-on-v1-5",
	"GEMINI_MODEL":                "gemini-1.5-flash",
	"GEMINI_BASE_URL":             "https://generativelanguage.googleapis.com/v1beta",
	"MAX_JOBS":                    10,
	"POLL_INTERVAL_SECONDS":       3,
	"POLL_MAX_ATTEMPTS":           40,
	"REMOTE_HTTP_TIMEOUT_SECONDS": 60,
	"LOCK_TTL_SECONDS":            300,
	"JOB_TTL_HOURS":               168,
	"SUGGESTION_COUNT":            3,
	"STORAGE_PATH":                "./storage",
	"MINIO_BUCKET":                "looks",
	"MINIO_USE_SSL":               true,
	"AMQP_QUEUE":                  "look.finalized",
	"HTTP_READ_TIMEOUT_SECONDS":   15,
	"HTTP_WRITE_TIMEOUT_SECONDS":  600,
	"HTTP_IDLE_TIMEOUT_SECONDS":   60,
	"RATE_LIMIT_PER_MINUTE":       30,
	"MIRROR_INTERVAL_SECONDS":     30,
	"TRUST_PROXY":                 false,
}

// LoadConfig loads configuration and applies defaults where needed.
func LoadConfig() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:             v.GetString("APP_ENV"),
		Port:               v.GetString("PORT"),
		RedisURL:           strings.TrimSpace(v.GetString("REDIS_URL")),
		DatabaseURL:        strings.TrimSpace(v.GetString("DATABASE_URL")),
		SQLitePath:         v.GetString("SQLITE_PATH"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		KlingAccessKey:     strings.TrimSpace(v.GetString("KLING_ACCESS_KEY")),
		KlingSecretKey:     strings.TrimSpace(v.GetString("KLING_SECRET_KEY")),
		KlingBaseURL:       v.GetString("KLING_BASE_URL"),
		KlingStylizeModel:  v.GetString("KLING_STYLIZE_MODEL"),
		KlingTryOnModel:    v.GetString("KLING_TRYON_MODEL"),
		GeminiAPIKey:       strings.TrimSpace(v.GetString("GEMINI_API_KEY")),
		GeminiModel:        v.GetString("GEMINI_MODEL"),
		GeminiBaseURL:      v.GetString("GEMINI_BASE_URL"),
		MaxJobs:            v.GetInt("MAX_JOBS"),
		PollInterval:       seconds(v, "POLL_INTERVAL_SECONDS"),
		PollMaxAttempts:    v.GetInt("POLL_MAX_ATTEMPTS"),
		RemoteHTTPTimeout:  seconds(v, "REMOTE_HTTP_TIMEOUT_SECONDS"),
		LockTTL:            seconds(v, "LOCK_TTL_SECONDS"),
		JobTTL:             time.Hour * time.Duration(v.GetInt("JOB_TTL_HOURS")),
		SuggestionCount:    v.GetInt("SUGGESTION_COUNT"),
		StoragePath:        v.GetString("STORAGE_PATH"),
		MinioEndpoint:      strings.TrimSpace(v.GetString("MINIO_ENDPOINT")),
		MinioAccessKey:     v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey:     v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:        v.GetString("MINIO_BUCKET"),
		MinioUseSSL:        v.GetBool("MINIO_USE_SSL"),
		AMQPURL:            strings.TrimSpace(v.GetString("AMQP_URL")),
		AMQPQueue:          v.GetString("AMQP_QUEUE"),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		HTTPReadTimeout:    seconds(v, "HTTP_READ_TIMEOUT_SECONDS"),
		HTTPWriteTimeout:   seconds(v, "HTTP_WRITE_TIMEOUT_SECONDS"),
		HTTPIdleTimeout:    seconds(v, "HTTP_IDLE_TIMEOUT_SECONDS"),
		RateLimitPerMin:    v.GetInt("RATE_LIMIT_PER_MINUTE"),
		TrustProxy:         v.GetBool("TRUST_PROXY"),
		MirrorInterval:     seconds(v, "MIRROR_INTERVAL_SECONDS"),
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.MaxJobs < 1 {
		return nil, fmt.Errorf("MAX_JOBS must be at least 1")
	}
	if cfg.PollMaxAttempts < 1 {
		return nil, fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.SuggestionCount < 1 {
		cfg.SuggestionCount = 1
	}

	return cfg, nil
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Second * time.Duration(v.GetInt(key))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
