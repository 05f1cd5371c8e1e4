package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Handover HandoverConfig
	Audit    AuditConfig
}

// PostgresConfig holds the registry database connection settings. An empty
// DSN selects the in-memory stores.
type PostgresConfig struct {
	DSN string
}

// RedisConfig holds the read-cache connection settings. An empty URL disables
// the cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig holds the audit event stream settings. No brokers means audit
// events stay in the primary store only.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// HandoverConfig holds the OTP validity windows.
type HandoverConfig struct {
	AdoptionWindow time.Duration
	CareWindow     time.Duration
}

// AuditConfig controls the audit publisher.
type AuditConfig struct {
	AsyncBuffer int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          envString("PAWBASE_ADDR", ":8080"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     envString("JWT_ISSUER", "pawbase"),
		JWTAudience:   envString("JWT_AUDIENCE", "pawbase-api"),
		Postgres: PostgresConfig{
			DSN: os.Getenv("PAWBASE_POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("PAWBASE_REDIS_URL"),
			PoolSize:     envInt("PAWBASE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("PAWBASE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("PAWBASE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("PAWBASE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("PAWBASE_REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     envDuration("PAWBASE_REGISTRY_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    envList("PAWBASE_KAFKA_BROKERS"),
			AuditTopic: envString("PAWBASE_KAFKA_AUDIT_TOPIC", "pawbase.custody.audit"),
		},
		Handover: HandoverConfig{
			AdoptionWindow: envDuration("PAWBASE_OTP_ADOPTION_WINDOW", 72*time.Hour),
			CareWindow:     envDuration("PAWBASE_OTP_CARE_WINDOW", 24*time.Hour),
		},
		Audit: AuditConfig{
			AsyncBuffer: envInt("PAWBASE_AUDIT_BUFFER", 256),
		},
	}
}

func envString(key, fallback string) string {
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

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList splits a comma separated value, dropping empty items.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
