package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     int
	LogLevel string
	LogFile  string // optional rotating file sink
	Env      string

	// InstanceID tags realtime relay envelopes so an instance ignores its own.
	InstanceID string

	// Store selection: "postgres" or "sqlite"
	DBDriver   string
	SQLitePath string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	RateLimit       int
	RateLimitWindow time.Duration

	// AWS Services
	AWSRegion    string
	AWSEndpoint  string // LocalStack override
	SESFromEmail string
	EmailTypes   []string
	SNSRegion    string
	SNSTopicARN  string
	SQSRegion    string
	SQSQueueURL  string

	// Web Push (VAPID)
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
	PushTTL         int

	DeliveryTimeout time.Duration

	// Auth
	JWTSecret       string
	PrivilegedRoles []string

	// Overdue scan
	ScanScheduleEnabled  bool
	ScanSchedule         string
	ScanBatchSize        int
	ScanConcurrency      int
	ScanSupervisorRole   string
	ScanExcludedStatuses []string
	ScanRoleLookup       string
	ScanEventsSink       string // "", "sqs" or "kafka"
	TaskResource         string

	KafkaBrokers   []string
	KafkaScanTopic string

	// Tracing
	OTelEndpoint string
	ServiceName  string
}

var defaults = map[string]any{
	"PORT":      8080,
	"LOG_LEVEL": "info",
	"LOG_FILE":  "",
	"ENV":       "development",

	"INSTANCE_ID": "",

	"DB_DRIVER":   "postgres",
	"SQLITE_PATH": "taskbell.db",
	"DB_HOST":     "localhost",
	"DB_PORT":     5432,
	"DB_USER":     "taskbell",
	"DB_PASSWORD": "",
	"DB_NAME":     "taskbell",
	"DB_SSLMODE":  "disable",

	"REDIS_HOST":        "localhost",
	"REDIS_PORT":        6379,
	"REDIS_PASSWORD":    "",
	"REDIS_DB":          0,
	"RATE_LIMIT":        100,
	"RATE_LIMIT_WINDOW": "1m",

	"AWS_REGION":               "us-east-1",
	"AWS_ENDPOINT":             "",
	"SES_FROM_EMAIL":           "",
	"EMAIL_NOTIFICATION_TYPES": "system_alert,payment_received",
	"SNS_REGION":               "",
	"SNS_TOPIC_ARN":            "",
	"SQS_REGION":               "",
	"SQS_QUEUE_URL":            "",

	"VAPID_PUBLIC_KEY":  "",
	"VAPID_PRIVATE_KEY": "",
	"VAPID_SUBSCRIBER":  "mailto:ops@taskbell.local",
	"PUSH_TTL":          3600,

	"DELIVERY_TIMEOUT": "10s",

	"JWT_SECRET":       "",
	"PRIVILEGED_ROLES": "ADMIN,SUPERVISOR",

	"SCAN_SCHEDULE_ENABLED":  false,
	"SCAN_SCHEDULE":          "0 6 * * *",
	"SCAN_BATCH_SIZE":        50,
	"SCAN_CONCURRENCY":       8,
	"SCAN_SUPERVISOR_ROLE":   "SUPERVISOR",
	"SCAN_EXCLUDED_STATUSES": "COMPLETED,OVERDUE,APPROVED,IN_REVIEW,IN_TESTING,BLOCKED,ON_HOLD",
	"SCAN_ROLE_LOOKUP":       "per_page",
	"SCAN_EVENTS_SINK":       "",
	"TASK_RESOURCE":          "tasks",

	"KAFKA_BROKERS":    "",
	"KAFKA_SCAN_TOPIC": "overdue-scan-events",

	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_SERVICE_NAME":           "taskbell",
}

// Load reads configuration from environment variables with sensible defaults.
// When CONFIG_FILE points at a YAML file its keys (same names, any case) are
// read first and environment variables still take precedence.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	r := reader{v: v}
	cfg := &Config{
		Port:       r.int("PORT"),
		LogLevel:   v.GetString("LOG_LEVEL"),
		LogFile:    v.GetString("LOG_FILE"),
		Env:        v.GetString("ENV"),
		InstanceID: v.GetString("INSTANCE_ID"),

		DBDriver:   strings.ToLower(v.GetString("DB_DRIVER")),
		SQLitePath: v.GetString("SQLITE_PATH"),
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     r.int("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBSSLMode:  v.GetString("DB_SSLMODE"),

		RedisHost:       v.GetString("REDIS_HOST"),
		RedisPort:       r.int("REDIS_PORT"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisDB:         r.int("REDIS_DB"),
		RateLimit:       r.int("RATE_LIMIT"),
		RateLimitWindow: r.duration("RATE_LIMIT_WINDOW"),

		AWSRegion:    v.GetString("AWS_REGION"),
		AWSEndpoint:  v.GetString("AWS_ENDPOINT"),
		SESFromEmail: v.GetString("SES_FROM_EMAIL"),
		EmailTypes:   list(v.GetString("EMAIL_NOTIFICATION_TYPES")),
		SNSRegion:    v.GetString("SNS_REGION"),
		SNSTopicARN:  v.GetString("SNS_TOPIC_ARN"),
		SQSRegion:    v.GetString("SQS_REGION"),
		SQSQueueURL:  v.GetString("SQS_QUEUE_URL"),

		VAPIDPublicKey:  v.GetString("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: v.GetString("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: v.GetString("VAPID_SUBSCRIBER"),
		PushTTL:         r.int("PUSH_TTL"),

		DeliveryTimeout: r.duration("DELIVERY_TIMEOUT"),

		JWTSecret:       v.GetString("JWT_SECRET"),
		PrivilegedRoles: list(v.GetString("PRIVILEGED_ROLES")),

		ScanScheduleEnabled:  r.bool("SCAN_SCHEDULE_ENABLED"),
		ScanSchedule:         v.GetString("SCAN_SCHEDULE"),
		ScanBatchSize:        r.int("SCAN_BATCH_SIZE"),
		ScanConcurrency:      r.int("SCAN_CONCURRENCY"),
		ScanSupervisorRole:   v.GetString("SCAN_SUPERVISOR_ROLE"),
		ScanExcludedStatuses: list(v.GetString("SCAN_EXCLUDED_STATUSES")),
		ScanRoleLookup:       v.GetString("SCAN_ROLE_LOOKUP"),
		ScanEventsSink:       strings.ToLower(v.GetString("SCAN_EVENTS_SINK")),
		TaskResource:         v.GetString("TASK_RESOURCE"),

		KafkaBrokers:   list(v.GetString("KAFKA_BROKERS")),
		KafkaScanTopic: v.GetString("KAFKA_SCAN_TOPIC"),

		OTelEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:  v.GetString("OTEL_SERVICE_NAME"),
	}
	if r.err != nil {
		return nil, r.err
	}

	// Regions fall back to the shared AWS region
	if cfg.SNSRegion == "" {
		cfg.SNSRegion = cfg.AWSRegion
	}
	if cfg.SQSRegion == "" {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: must be postgres or sqlite", c.DBDriver)
	}

	switch c.ScanEventsSink {
	case "", "sqs", "kafka":
	default:
		return fmt.Errorf("invalid SCAN_EVENTS_SINK %q: must be sqs or kafka", c.ScanEventsSink)
	}
	if c.ScanEventsSink == "sqs" && c.SQSQueueURL == "" {
		return fmt.Errorf("SCAN_EVENTS_SINK=sqs requires SQS_QUEUE_URL")
	}
	if c.ScanEventsSink == "kafka" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("SCAN_EVENTS_SINK=kafka requires KAFKA_BROKERS")
	}

	if c.ScanBatchSize <= 0 {
		return fmt.Errorf("invalid SCAN_BATCH_SIZE: must be positive")
	}
	return nil
}

// PushEnabled reports whether VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// reader converts viper values and keeps the first conversion error.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) int(key string) int {
	raw := r.v.GetString(key)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return n
}

func (r *reader) bool(key string) bool {
	raw := r.v.GetString(key)
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return b
}

func (r *reader) duration(key string) time.Duration {
	raw := r.v.GetString(key)
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return d
}

// list splits a comma separated value, dropping empty entries.
func list(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
