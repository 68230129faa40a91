// Package settings loads the frozen, per-environment configuration record
// every other package in this module consumes read-only.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the immutable configuration record for one process. It is
// built once at process start by Load and never mutated afterward; every
// component takes it as an explicit constructor argument rather than
// reaching for a package-level global.
type Settings struct {
	Environment string // "development", "staging", "production"
	LogLevel    string
	LogFormat   string // "json" or "text"

	// Object store
	S3Region   string
	S3Endpoint string // non-empty for S3-compatible non-AWS endpoints

	// Session store (Redis)
	SessionRedisURL string

	// Notification / starter queues
	NotificationQueueURL string // SQS queue URL, or redis:// for the dev backend
	StarterQueueURL      string

	// Default task lists the decider/worker long-poll
	DecisionTaskList string
	ActivityTaskList string
	WorkerIdentity   string

	// Crossref
	CrossrefEndpoint string
	CrossrefLoginID  string
	CrossrefPassword string

	// PubMed SFTP
	PubMedHost     string
	PubMedUser     string
	PubMedPassword string
	PubMedSubDirs  []string

	// Article-versions service ("Lax")
	LaxEndpoint string

	// Digest endpoint
	DigestEndpoint string
	PreviewBaseURL string

	// CDN purge (Fastly)
	FastlyAPIKey     string
	FastlyServiceIDs []string

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	AdminEmail   string
	FromEmail    string

	// BigQuery
	BigQueryProject string
	BigQueryDataset string

	// Monitor sink websocket fan-out (optional)
	MonitorWebsocketURL string

	// Audit trail (Postgres)
	AuditDatabaseDSN string

	// Outbox bucket root, e.g. "s3://elife-publishing"
	OutboxBucket string
}

// env mirrors config.EnvConfig's prefix-scoped accessor idiom.
type env struct{ prefix string }

func newEnv(prefix string) *env { return &env{prefix: prefix} }

func (e *env) buildKey(key string) string {
	if e.prefix != "" {
		return e.prefix + "_" + key
	}
	return key
}

func (e *env) getString(key, def string) string {
	if v := os.Getenv(e.buildKey(key)); v != "" {
		return v
	}
	return def
}

func (e *env) mustGetString(key string) (string, error) {
	full := e.buildKey(key)
	v := os.Getenv(full)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s not set", full)
	}
	return v, nil
}

func (e *env) getInt(key string, def int) int {
	if v := os.Getenv(e.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (e *env) getStringSlice(key string, def []string) []string {
	v := os.Getenv(e.buildKey(key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// validator collects field errors the way config.Validator does, so every
// missing required field is reported together rather than one at a time.
type validator struct{ errors []string }

func (v *validator) requireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

func (v *validator) requireOneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

func (v *validator) err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return fmt.Errorf("settings validation failed: %s", strings.Join(v.errors, "; "))
}

// Load builds Settings from environment variables under the given prefix
// (e.g. "PUBFLOW"). It fails fast: any missing required value or invalid
// enum is reported, with every violation collected before returning.
func Load(prefix string) (*Settings, error) {
	e := newEnv(prefix)

	s := &Settings{
		Environment: e.getString("ENVIRONMENT", "development"),
		LogLevel:    e.getString("LOG_LEVEL", "info"),
		LogFormat:   e.getString("LOG_FORMAT", "text"),

		S3Region:   e.getString("S3_REGION", "us-east-1"),
		S3Endpoint: e.getString("S3_ENDPOINT", ""),

		SessionRedisURL: e.getString("SESSION_REDIS_URL", "redis://localhost:6379/0"),

		NotificationQueueURL: e.getString("NOTIFICATION_QUEUE_URL", ""),
		StarterQueueURL:      e.getString("STARTER_QUEUE_URL", ""),

		DecisionTaskList: e.getString("DECISION_TASK_LIST", "default"),
		ActivityTaskList: e.getString("ACTIVITY_TASK_LIST", "default"),
		WorkerIdentity:   e.getString("WORKER_IDENTITY", hostIdentity()),

		CrossrefEndpoint: e.getString("CROSSREF_ENDPOINT", ""),
		CrossrefLoginID:  e.getString("CROSSREF_LOGIN_ID", ""),
		CrossrefPassword: e.getString("CROSSREF_PASSWORD", ""),

		PubMedHost:     e.getString("PUBMED_HOST", ""),
		PubMedUser:     e.getString("PUBMED_USER", ""),
		PubMedPassword: e.getString("PUBMED_PASSWORD", ""),
		PubMedSubDirs:  e.getStringSlice("PUBMED_SUBDIRS", nil),

		LaxEndpoint: e.getString("LAX_ENDPOINT", ""),

		DigestEndpoint: e.getString("DIGEST_ENDPOINT", ""),
		PreviewBaseURL: e.getString("PREVIEW_BASE_URL", ""),

		FastlyAPIKey:     e.getString("FASTLY_API_KEY", ""),
		FastlyServiceIDs: e.getStringSlice("FASTLY_SERVICE_IDS", nil),

		SMTPHost:     e.getString("SMTP_HOST", ""),
		SMTPPort:     e.getInt("SMTP_PORT", 587),
		SMTPUser:     e.getString("SMTP_USER", ""),
		SMTPPassword: e.getString("SMTP_PASSWORD", ""),
		AdminEmail:   e.getString("ADMIN_EMAIL", ""),
		FromEmail:    e.getString("FROM_EMAIL", ""),

		BigQueryProject: e.getString("BIGQUERY_PROJECT", ""),
		BigQueryDataset: e.getString("BIGQUERY_DATASET", ""),

		MonitorWebsocketURL: e.getString("MONITOR_WEBSOCKET_URL", ""),

		AuditDatabaseDSN: e.getString("AUDIT_DATABASE_DSN", ""),

		OutboxBucket: e.getString("OUTBOX_BUCKET", ""),
	}

	v := &validator{}
	v.requireOneOf("Environment", s.Environment, []string{"development", "staging", "production"})
	v.requireOneOf("LogLevel", s.LogLevel, []string{"debug", "info", "warn", "error"})
	v.requireString("OutboxBucket", s.OutboxBucket)
	if err := v.err(); err != nil {
		return nil, err
	}

	return s, nil
}

func hostIdentity() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fmt.Sprintf("pubflow-%d", time.Now().UnixNano())
	}
	return h
}
