package config

import (
	"errors"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	withEnv(t, map[string]string{
		"DATABASE_URL":     "",
		"RESULT_S3_BUCKET": "results-bucket",
	})

	_, err := Load()
	if !errors.Is(err, ErrMissingDatabaseURL) {
		t.Fatalf("expected ErrMissingDatabaseURL, got %v", err)
	}
}

func TestLoadRequiresS3Bucket(t *testing.T) {
	withEnv(t, map[string]string{
		"DATABASE_URL":     "postgres://localhost/runctl",
		"RESULT_S3_BUCKET": "",
	})

	_, err := Load()
	if !errors.Is(err, ErrMissingS3Bucket) {
		t.Fatalf("expected ErrMissingS3Bucket, got %v", err)
	}
}

func TestLoadRejectsHeartbeatTooLong(t *testing.T) {
	withEnv(t, map[string]string{
		"DATABASE_URL":               "postgres://localhost/runctl",
		"RESULT_S3_BUCKET":           "results-bucket",
		"LEASE_TTL_SECONDS":          "60",
		"HEARTBEAT_INTERVAL_SECONDS": "45",
	})

	_, err := Load()
	if !errors.Is(err, ErrHeartbeatTooLong) {
		t.Fatalf("expected ErrHeartbeatTooLong, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"DATABASE_URL":     "postgres://localhost/runctl",
		"RESULT_S3_BUCKET": "results-bucket",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.QueueTopic != "runctl.runs" {
		t.Errorf("QueueTopic = %q, want runctl.runs", cfg.QueueTopic)
	}
	if cfg.LeaseTTL.Seconds() != 60 {
		t.Errorf("LeaseTTL = %v, want 60s", cfg.LeaseTTL)
	}
	if cfg.HeartbeatInterval.Seconds() != 20 {
		t.Errorf("HeartbeatInterval = %v, want 20s", cfg.HeartbeatInterval)
	}
	if cfg.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %d, want 0 (unlimited)", cfg.MaxAttempts)
	}
}

func TestLoadParsesQueueBrokersList(t *testing.T) {
	withEnv(t, map[string]string{
		"DATABASE_URL":     "postgres://localhost/runctl",
		"RESULT_S3_BUCKET": "results-bucket",
		"QUEUE_BROKERS":    "broker-a:9092, broker-b:9092",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []string{"broker-a:9092", "broker-b:9092"}
	if len(cfg.QueueBrokers) != len(want) {
		t.Fatalf("QueueBrokers = %v, want %v", cfg.QueueBrokers, want)
	}
	for i := range want {
		if cfg.QueueBrokers[i] != want[i] {
			t.Fatalf("QueueBrokers[%d] = %q, want %q", i, cfg.QueueBrokers[i], want[i])
		}
	}
}
