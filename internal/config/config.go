package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BackendSpec is one entry of the OLLAMA_INSTANCES list: a host:port pair.
// Specialization and model assignment are resolved by the backend pool at
// startup from the Chat/Coding/Reasoning/Embedding model config below.
type BackendSpec struct {
	Name string
	URL  string
}

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns — nothing in the serving
// path consults the environment again (§9 "Global settings").
type Config struct {
	APIHost string
	APIPort string

	DatabaseURL      string
	DatabaseMaxConns int

	RedisAddr string

	OllamaInstances []BackendSpec

	ChatModel      string
	CodingModel    string
	ReasoningModel string
	VisionModel    string
	EmbeddingModel string

	EmbeddingTimeoutSeconds int
	RetrievalCandidates     int

	WebCacheEnabled bool
	WebCacheTTL     int
	WebCacheMaxRows int

	JWTSecret           string
	JWTAccessTTLMinutes int
	JWTRefreshTTLHours  int

	EnableMetadataWeighting bool

	LogLevel string
	LogDir   string

	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
	SMTPUseTLS           bool
	VerificationSender   string
	VerificationSubject  string
	VerificationLinkBase string
}

// defaultOllamaInstances is used when OLLAMA_INSTANCES is unset.
var defaultOllamaInstances = []BackendSpec{
	{Name: "ollama-1", URL: "http://localhost:11434"},
	{Name: "ollama-2", URL: "http://localhost:11435"},
}

// Load reads configuration from environment variables. JWT_SECRET is
// required outside development; all other variables use sensible defaults.
func Load() (*Config, error) {
	environment := envStr("ENVIRONMENT", "development")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" && environment != "development" {
		return nil, fmt.Errorf("config.Load: JWT_SECRET is required in %s environment", environment)
	}
	if jwtSecret == "" {
		jwtSecret = "development-insecure-secret"
	}

	cfg := &Config{
		APIHost: envStr("API_HOST", "0.0.0.0"),
		APIPort: envStr("API_PORT", "8008"),

		DatabaseURL:      buildDatabaseURL(),
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		RedisAddr: envStr("REDIS_ADDR", "localhost:6379"),

		OllamaInstances: parseOllamaInstances(),

		ChatModel:      envStr("CHAT_MODEL", "llama3"),
		CodingModel:    envStr("CODING_MODEL", "codellama"),
		ReasoningModel: envStr("REASONING_MODEL", "llama3:70b"),
		VisionModel:    envStr("VISION_MODEL", "llava"),
		EmbeddingModel: envStr("EMBEDDING_MODEL", "nomic-embed-text"),

		EmbeddingTimeoutSeconds: envInt("EMBEDDING_TIMEOUT_SECONDS", 30),
		RetrievalCandidates:     envInt("RETRIEVAL_CANDIDATES", 30),

		WebCacheEnabled: envBool("WEB_CACHE_ENABLED", true),
		WebCacheTTL:     envInt("WEB_CACHE_TTL_SECONDS", 86400),
		WebCacheMaxRows: envInt("WEB_CACHE_MAX_ROWS", 10000),

		JWTSecret:           jwtSecret,
		JWTAccessTTLMinutes: envInt("JWT_ACCESS_TTL_MINUTES", 30),
		JWTRefreshTTLHours:  envInt("JWT_REFRESH_TTL_HOURS", 24*7),

		EnableMetadataWeighting: envBool("ENABLE_METADATA_WEIGHTING", false),

		LogLevel: envStr("LOG_LEVEL", "INFO"),
		LogDir:   envStr("LOG_DIR", "./logs"),

		SMTPHost:             envStr("SMTP_HOST", ""),
		SMTPPort:             envInt("SMTP_PORT", 587),
		SMTPUsername:         envStr("SMTP_USERNAME", ""),
		SMTPPassword:         envStr("SMTP_PASSWORD", ""),
		SMTPUseTLS:           envBool("SMTP_USE_TLS", true),
		VerificationSender:   envStr("VERIFICATION_EMAIL_SENDER", "no-reply@example.com"),
		VerificationSubject:  envStr("VERIFICATION_EMAIL_SUBJECT", "Verify your account"),
		VerificationLinkBase: envStr("VERIFICATION_EMAIL_LINK_BASE", "http://localhost:3000/verify"),
	}

	return cfg, nil
}

// buildDatabaseURL assembles a postgres DSN from the individual DB_* vars
// named in spec §6, falling back to a local default for development.
func buildDatabaseURL() string {
	host := envStr("DB_HOST", "localhost")
	port := envStr("DB_PORT", "5432")
	name := envStr("DB_NAME", "ragsupport")
	user := envStr("DB_USER", "postgres")
	pass := envStr("DB_PASSWORD", "")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

// parseOllamaInstances reads OLLAMA_INSTANCES as a comma-separated host:port
// list, or falls back to the built-in default list.
func parseOllamaInstances() []BackendSpec {
	raw := os.Getenv("OLLAMA_INSTANCES")
	if raw == "" {
		return defaultOllamaInstances
	}

	parts := strings.Split(raw, ",")
	specs := make([]BackendSpec, 0, len(parts))
	for i, p := range parts {
		hostPort := strings.TrimSpace(p)
		if hostPort == "" {
			continue
		}
		url := hostPort
		if !strings.Contains(url, "://") {
			url = "http://" + url
		}
		specs = append(specs, BackendSpec{
			Name: fmt.Sprintf("ollama-%d", i+1),
			URL:  url,
		})
	}
	if len(specs) == 0 {
		return defaultOllamaInstances
	}
	return specs
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
