package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures everything main needs to wire the process. All values come
// from environment variables so deployments stay declarative.
type Server struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string

	// APIKey guards mutations and cache administration. Empty disables
	// authentication entirely, which is only acceptable in development.
	APIKey string

	Redis    RedisConfig
	CacheTTL time.Duration

	// Kafka audit fan-out. Empty brokers disables publishing.
	KafkaBrokers []string
	AuditTopic   string

	LogLevel slog.Level
}

// RedisConfig holds connection tuning for the server-side cache backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("FLAGGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	cacheTTL := 300 * time.Second
	if raw := os.Getenv("CACHE_TTL"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cacheTTL = time.Duration(secs) * time.Second
		}
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}
	topic := os.Getenv("AUDIT_TOPIC")
	if topic == "" {
		topic = "flaggate.audit"
	}

	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		APIKey:        os.Getenv("API_KEY"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		CacheTTL:     cacheTTL,
		KafkaBrokers: brokers,
		AuditTopic:   topic,
		LogLevel:     level,
	}
}
