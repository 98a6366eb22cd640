package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.DBDriver)
	}
	if cfg.ScanBatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", cfg.ScanBatchSize)
	}
	if cfg.ScanSupervisorRole != "SUPERVISOR" {
		t.Errorf("expected SUPERVISOR role, got %s", cfg.ScanSupervisorRole)
	}
	if cfg.DeliveryTimeout != 10*time.Second {
		t.Errorf("expected 10s delivery timeout, got %v", cfg.DeliveryTimeout)
	}
	if cfg.SNSRegion != cfg.AWSRegion || cfg.SQSRegion != cfg.AWSRegion {
		t.Errorf("expected regions to fall back to AWS_REGION")
	}
	if cfg.InstanceID == "" {
		t.Error("expected generated instance id")
	}

	wantExcluded := []string{"COMPLETED", "OVERDUE", "APPROVED", "IN_REVIEW", "IN_TESTING", "BLOCKED", "ON_HOLD"}
	if !reflect.DeepEqual(cfg.ScanExcludedStatuses, wantExcluded) {
		t.Errorf("excluded statuses = %v", cfg.ScanExcludedStatuses)
	}
	if cfg.PushEnabled() {
		t.Error("push should be disabled without VAPID keys")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("SCAN_BATCH_SIZE", "25")
	t.Setenv("PRIVILEGED_ROLES", "ADMIN, OWNER ,")
	t.Setenv("DELIVERY_TIMEOUT", "3s")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.DBDriver)
	}
	if cfg.ScanBatchSize != 25 {
		t.Errorf("expected batch size 25, got %d", cfg.ScanBatchSize)
	}
	if !reflect.DeepEqual(cfg.PrivilegedRoles, []string{"ADMIN", "OWNER"}) {
		t.Errorf("privileged roles = %v", cfg.PrivilegedRoles)
	}
	if cfg.DeliveryTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %v", cfg.DeliveryTimeout)
	}
	if !cfg.PushEnabled() {
		t.Error("push should be enabled with VAPID keys")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"invalid port", "PORT", "abc"},
		{"invalid redis port", "REDIS_PORT", "six"},
		{"invalid duration", "DELIVERY_TIMEOUT", "soon"},
		{"invalid bool", "SCAN_SCHEDULE_ENABLED", "maybe"},
		{"unknown driver", "DB_DRIVER", "mysql"},
		{"unknown sink", "SCAN_EVENTS_SINK", "nats"},
		{"zero batch", "SCAN_BATCH_SIZE", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_SinkRequiresDestination(t *testing.T) {
	t.Setenv("SCAN_EVENTS_SINK", "kafka")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when kafka sink has no brokers")
	}

	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.KafkaBrokers) != 1 {
		t.Errorf("brokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskbell.yaml")
	contents := []byte("port: 7070\nscan_supervisor_role: LEAD\nlog_level: debug\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("expected port from file, got %d", cfg.Port)
	}
	if cfg.ScanSupervisorRole != "LEAD" {
		t.Errorf("expected LEAD, got %s", cfg.ScanSupervisorRole)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("env should win over file, got %s", cfg.LogLevel)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
