// Package config loads gate configuration from 12-factor environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/gate/pkg/artifacts"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
	"github.com/Mindburn-Labs/gate/pkg/gate"
	"github.com/Mindburn-Labs/gate/pkg/observability"
	"github.com/Mindburn-Labs/gate/pkg/ratelimit"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	Environment string

	// DatabaseURL selects Postgres. Empty runs lite mode on SQLite under DataDir.
	DatabaseURL string
	DataDir     string

	PolicyFile  string
	SealTimeout time.Duration
	ApprovalTTL time.Duration
	MaxPending  int // escalated runs held in memory awaiting a decision

	RateLimit     int // requests per minute per client on the receipt endpoint
	RedisAddr     string
	RedisPassword string

	EvidenceBackend string
	EvidenceDir     string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3Prefix        string
	GCSBucket       string
	GCSPrefix       string

	ApproverSecret string

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            env("PORT", "8080"),
		LogLevel:        strings.ToUpper(env("LOG_LEVEL", "INFO")),
		Environment:     env("GATE_ENV", "development"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DataDir:         env("GATE_DATA_DIR", "data"),
		PolicyFile:      os.Getenv("GATE_POLICY_FILE"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		EvidenceBackend: strings.ToLower(env("GATE_EVIDENCE_BACKEND", string(artifacts.BackendFile))),
		EvidenceDir:     os.Getenv("GATE_EVIDENCE_DIR"),
		S3Bucket:        os.Getenv("GATE_S3_BUCKET"),
		S3Region:        env("GATE_S3_REGION", os.Getenv("AWS_REGION")),
		S3Endpoint:      os.Getenv("GATE_S3_ENDPOINT"),
		S3Prefix:        os.Getenv("GATE_S3_PREFIX"),
		GCSBucket:       os.Getenv("GATE_GCS_BUCKET"),
		GCSPrefix:       os.Getenv("GATE_GCS_PREFIX"),
		ApproverSecret:  os.Getenv("GATE_APPROVER_SECRET"),
		OTelEnabled:     os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	}
	if cfg.EvidenceDir == "" {
		cfg.EvidenceDir = filepath.Join(cfg.DataDir, "evidence")
	}

	var err error
	if cfg.SealTimeout, err = duration("GATE_SEAL_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ApprovalTTL, err = duration("GATE_APPROVAL_TTL", contracts.DefaultApprovalTTL); err != nil {
		return nil, err
	}
	if cfg.MaxPending, err = positiveInt("GATE_MAX_PENDING_APPROVALS", gate.DefaultMaxPending); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = positiveInt("GATE_RATE_LIMIT", ratelimit.DefaultPolicy.Limit); err != nil {
		return nil, err
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	switch artifacts.Backend(cfg.EvidenceBackend) {
	case artifacts.BackendNone, artifacts.BackendFile, artifacts.BackendS3, artifacts.BackendGCS:
	default:
		return nil, fmt.Errorf("config: GATE_EVIDENCE_BACKEND %q must be one of none, file, s3, gcs", cfg.EvidenceBackend)
	}
	return cfg, nil
}

// LiteMode reports whether the gate runs on embedded SQLite.
func (c *Config) LiteMode() bool { return c.DatabaseURL == "" }

// SQLitePath is the lite mode database file.
func (c *Config) SQLitePath() string { return filepath.Join(c.DataDir, "gate.db") }

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

// Evidence returns the artifact store configuration.
func (c *Config) Evidence() artifacts.Config {
	return artifacts.Config{
		Backend:    artifacts.Backend(c.EvidenceBackend),
		Dir:        c.EvidenceDir,
		S3Bucket:   c.S3Bucket,
		S3Region:   c.S3Region,
		S3Endpoint: c.S3Endpoint,
		S3Prefix:   c.S3Prefix,
		GCSBucket:  c.GCSBucket,
		GCSPrefix:  c.GCSPrefix,
	}
}

// Observability returns the telemetry configuration.
func (c *Config) Observability() *observability.Config {
	oc := observability.DefaultConfig()
	oc.Environment = c.Environment
	oc.Enabled = c.OTelEnabled
	oc.OTLPEndpoint = c.OTelEndpoint
	oc.Insecure = c.OTelInsecure
	return oc
}

// RateLimitPolicy returns the receipt endpoint limit.
func (c *Config) RateLimitPolicy() ratelimit.Policy {
	return ratelimit.Policy{Limit: c.RateLimit, Window: time.Minute}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func positiveInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: LOG_LEVEL %q: %w", s, err)
	}
	return l, nil
}
