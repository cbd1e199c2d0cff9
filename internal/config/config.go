// Package config loads the process-wide configuration record from the
// environment. Configuration is read once at startup and treated as an
// immutable value for the lifetime of the process.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the enumerated configuration surface of the control plane.
type Config struct {
	DatabaseURL string

	QueueBrokers []string
	QueueTopic   string

	S3Bucket string
	S3Prefix string
	S3Region string

	ListenAddr string
	LogLevel   string

	LeaseTTL           time.Duration
	HeartbeatInterval  time.Duration
	VisibilityTimeout  time.Duration
	JobTimeout         time.Duration
	LeaseSweepInterval time.Duration
	MaxAttempts        int
}

var (
	// ErrMissingDatabaseURL is returned when DATABASE_URL is unset.
	ErrMissingDatabaseURL = errors.New("config: DATABASE_URL is required")
	// ErrMissingS3Bucket is returned when RESULT_S3_BUCKET is unset.
	ErrMissingS3Bucket = errors.New("config: RESULT_S3_BUCKET is required")
	// ErrHeartbeatTooLong is returned when the heartbeat interval does not
	// leave enough room for at least two renewals within one lease TTL.
	ErrHeartbeatTooLong = errors.New("config: HEARTBEAT_INTERVAL_SECONDS must be < LEASE_TTL_SECONDS / 2")
)

// Load reads configuration from the environment, applying defaults and
// validating cross-field constraints.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		QueueBrokers:       getEnvStringList("QUEUE_BROKERS", []string{"localhost:9092"}),
		QueueTopic:         getEnvString("QUEUE_TOPIC", "runctl.runs"),
		S3Bucket:           os.Getenv("RESULT_S3_BUCKET"),
		S3Prefix:           getEnvString("RESULT_S3_PREFIX", "results"),
		S3Region:           os.Getenv("RESULT_S3_REGION"),
		ListenAddr:         getEnvString("LISTEN_ADDR", ":8080"),
		LogLevel:           getEnvString("LOG_LEVEL", "INFO"),
		LeaseTTL:           getEnvSeconds("LEASE_TTL_SECONDS", 60),
		HeartbeatInterval:  getEnvSeconds("HEARTBEAT_INTERVAL_SECONDS", 20),
		VisibilityTimeout:  getEnvSeconds("VISIBILITY_TIMEOUT_SECONDS", 30),
		JobTimeout:         getEnvSeconds("JOB_TIMEOUT_SECONDS", 3600),
		LeaseSweepInterval: getEnvSeconds("LEASE_SWEEP_INTERVAL_SECONDS", 15),
		MaxAttempts:        getEnvInt("MAX_ATTEMPTS", 0),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, ErrMissingDatabaseURL
	}
	if cfg.S3Bucket == "" {
		return Config{}, ErrMissingS3Bucket
	}
	if cfg.HeartbeatInterval >= cfg.LeaseTTL/2 {
		return Config{}, ErrHeartbeatTooLong
	}

	return cfg, nil
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvStringList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvInt(key string, fallback int) int {
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

func getEnvSeconds(key string, fallbackSeconds int) time.Duration {
	n := getEnvInt(key, fallbackSeconds)
	return time.Duration(n) * time.Second
}

// String renders a redacted summary safe for logging.
func (c Config) String() string {
	return fmt.Sprintf(
		"listen=%s queue_brokers=%v lease_ttl=%s heartbeat=%s job_timeout=%s",
		c.ListenAddr, c.QueueBrokers, c.LeaseTTL, c.HeartbeatInterval, c.JobTimeout,
	)
}
