package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration so main stays lean. Stores and
// sinks are optional: an empty URL selects the in-memory implementation.
type Server struct {
	Addr          string
	JWTSigningKey string

	// MasterKey wraps per-record data-encryption keys. 32 bytes, hex-encoded
	// in the environment. The process refuses to start without it.
	MasterKey []byte

	PostgresURL string
	RedisURL    string

	KafkaBrokers    []string
	KafkaAuditTopic string

	// PayloadDir is where ciphertext blobs live for the filesystem blob store.
	PayloadDir string

	ShutdownTimeout time.Duration
}

// RedisConfig tunes the go-redis client pool.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            getenv("EHR_ADDR", ":8080"),
		JWTSigningKey:   getenv("EHR_JWT_SIGNING_KEY", ""),
		PostgresURL:     os.Getenv("EHR_POSTGRES_URL"),
		RedisURL:        os.Getenv("EHR_REDIS_URL"),
		KafkaAuditTopic: getenv("EHR_KAFKA_AUDIT_TOPIC", "ehr.audit.v1"),
		PayloadDir:      getenv("EHR_PAYLOAD_DIR", "data/payloads"),
		ShutdownTimeout: 10 * time.Second,
	}

	if brokers := os.Getenv("EHR_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	keyHex := os.Getenv("EHR_MASTER_KEY")
	if keyHex == "" {
		return Server{}, fmt.Errorf("EHR_MASTER_KEY is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return Server{}, fmt.Errorf("EHR_MASTER_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return Server{}, fmt.Errorf("EHR_MASTER_KEY must be 32 bytes, got %d", len(key))
	}
	cfg.MasterKey = key

	if cfg.JWTSigningKey == "" {
		// Development default; must be overridden in production.
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	return cfg, nil
}

// Redis returns the Redis client config with pool defaults.
func (s Server) Redis() RedisConfig {
	return RedisConfig{
		URL:          s.RedisURL,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
