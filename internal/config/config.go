// Package config loads the YAML configuration for both daemon and actor
// modes, applying defaults and environment overrides.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PlannerConfig selects and bounds the external plan generator.
type PlannerConfig struct {
	// Provider is "google", "anthropic", or "rules" (deterministic, keyless).
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the provider key.
	APIKeyEnv string `yaml:"api_key_env"`
	// TimeoutSeconds is the caller-imposed deadline on every plan call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// HeartbeatConfig holds both liveness layers.
type HeartbeatConfig struct {
	// TransportIntervalSeconds is the server-side ping/pong cycle.
	TransportIntervalSeconds int `yaml:"transport_interval_seconds"`
	// AppIntervalSeconds is the actor-side application ping cycle.
	AppIntervalSeconds int `yaml:"app_interval_seconds"`
	// PongGraceSeconds is how long the actor waits for a pong before
	// treating the session as stale.
	PongGraceSeconds int `yaml:"pong_grace_seconds"`
}

// BackoffConfig parameterizes the reconnect schedule
// min(base * 2^min(attempt, capExponent), max).
type BackoffConfig struct {
	BaseMillis  int `yaml:"base_ms"`
	CapExponent int `yaml:"cap_exponent"`
	MaxMillis   int `yaml:"max_ms"`
}

// TelephonyConfig points at the remote VoIP provider used for call_number.
type TelephonyConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// TelegramConfig enables the operator alert channel.
type TelegramConfig struct {
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
	Enabled bool   `yaml:"enabled"`
}

// AlertsConfig groups operator alerting.
type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	// AuthFailureThreshold is the failure count per remote that triggers
	// an operator alert.
	AuthFailureThreshold int `yaml:"auth_failure_threshold"`
}

// RetentionConfig bounds audit history.
type RetentionConfig struct {
	AuditLogDays int `yaml:"audit_log_days"`
	// SweepCron is a standard 5-field cron expression.
	SweepCron string `yaml:"sweep_cron"`
}

// OtelConfig mirrors the observability provider settings.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// ActorConfig holds client-side settings.
type ActorConfig struct {
	ServerURL string `yaml:"server_url"`
	ClientID  string `yaml:"client_id"`
	// AutoConfirmPassive confirms passive (informational) proposals without
	// prompting. Active intents always prompt.
	AutoConfirmPassive bool `yaml:"auto_confirm_passive"`
}

// Config is the root configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`
	// APIKey is the shared secret required by the authentication handshake.
	APIKey string `yaml:"api_key"`
	// AuthTimeoutSeconds closes connections with no auth frame.
	AuthTimeoutSeconds int `yaml:"auth_timeout_seconds"`
	DBPath             string `yaml:"db_path"`

	Planner   PlannerConfig   `yaml:"planner"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Retention RetentionConfig `yaml:"retention"`
	Otel      OtelConfig      `yaml:"otel"`
	Actor     ActorConfig     `yaml:"actor"`
}

// DefaultHomeDir returns $ACTIONBRIDGE_HOME or ~/.actionbridge.
func DefaultHomeDir() string {
	if v := os.Getenv("ACTIONBRIDGE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".actionbridge")
}

// Load reads config.yaml from homeDir. A missing file yields defaults.
func Load(homeDir string) (*Config, error) {
	cfg := &Config{HomeDir: homeDir}
	path := filepath.Join(homeDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.HomeDir = homeDir
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BindAddr == "" {
		c.BindAddr = "127.0.0.1:8787"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AuthTimeoutSeconds <= 0 {
		c.AuthTimeoutSeconds = 10
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.HomeDir, "actionbridge.db")
	}
	if c.Planner.Provider == "" {
		c.Planner.Provider = "rules"
	}
	if c.Planner.TimeoutSeconds <= 0 {
		c.Planner.TimeoutSeconds = 15
	}
	if c.Heartbeat.TransportIntervalSeconds <= 0 {
		c.Heartbeat.TransportIntervalSeconds = 30
	}
	if c.Heartbeat.AppIntervalSeconds <= 0 {
		c.Heartbeat.AppIntervalSeconds = 25
	}
	if c.Heartbeat.PongGraceSeconds <= 0 {
		c.Heartbeat.PongGraceSeconds = 10
	}
	if c.Backoff.BaseMillis <= 0 {
		c.Backoff.BaseMillis = 1000
	}
	if c.Backoff.CapExponent <= 0 {
		c.Backoff.CapExponent = 5
	}
	if c.Backoff.MaxMillis <= 0 {
		c.Backoff.MaxMillis = 30000
	}
	if c.Telephony.TimeoutSeconds <= 0 {
		c.Telephony.TimeoutSeconds = 10
	}
	if c.Alerts.AuthFailureThreshold <= 0 {
		c.Alerts.AuthFailureThreshold = 5
	}
	if c.Retention.AuditLogDays <= 0 {
		c.Retention.AuditLogDays = 90
	}
	if c.Retention.SweepCron == "" {
		c.Retention.SweepCron = "0 3 * * *"
	}
	if c.Actor.ServerURL == "" {
		c.Actor.ServerURL = "ws://" + c.BindAddr + "/ws"
	}
	if c.Actor.ClientID == "" {
		c.Actor.ClientID = "actor-local"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ACTIONBRIDGE_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("ACTIONBRIDGE_BIND_ADDR"); v != "" {
		c.BindAddr = v
	}
}

// AuthTimeout returns the handshake deadline as a duration.
func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutSeconds) * time.Second
}

// Fingerprint hashes the effective configuration for health reporting.
// Secrets do not contribute to the hash.
func (c *Config) Fingerprint() string {
	fields := map[string]string{
		"bind_addr":          c.BindAddr,
		"log_level":          c.LogLevel,
		"auth_timeout":       strconv.Itoa(c.AuthTimeoutSeconds),
		"planner_provider":   c.Planner.Provider,
		"planner_model":      c.Planner.Model,
		"planner_timeout":    strconv.Itoa(c.Planner.TimeoutSeconds),
		"hb_transport":       strconv.Itoa(c.Heartbeat.TransportIntervalSeconds),
		"hb_app":             strconv.Itoa(c.Heartbeat.AppIntervalSeconds),
		"hb_grace":           strconv.Itoa(c.Heartbeat.PongGraceSeconds),
		"backoff_base":       strconv.Itoa(c.Backoff.BaseMillis),
		"backoff_cap":        strconv.Itoa(c.Backoff.CapExponent),
		"backoff_max":        strconv.Itoa(c.Backoff.MaxMillis),
		"retention_days":     strconv.Itoa(c.Retention.AuditLogDays),
		"retention_cron":     c.Retention.SweepCron,
		"telephony_base_url": c.Telephony.BaseURL,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k + "=" + fields[k] + "|"))
	}
	return "cfg-" + strconv.FormatUint(h.Sum64(), 16)
}
