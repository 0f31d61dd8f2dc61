// Package config loads the control plane's configuration from defaults,
// an optional JSON file, and environment variables, in that order of
// increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds every tunable the control plane reads at startup.
type Config struct {
	ListenAddr string `json:"listen_addr"`

	WatchloopIntervalSeconds int  `json:"watchloop_interval_seconds"`
	WatchloopEnabled         bool `json:"watchloop_enabled"`

	ApprovalTimeoutSeconds int `json:"approval_timeout_seconds"`

	AutoRemediationEnabled bool `json:"auto_remediation_enabled"`

	AlertmanagerWebhookSecret string `json:"alertmanager_webhook_secret"`
	NotificationChannel       string `json:"notification_channel"`

	RedisAddr     string `json:"redis_addr"`
	SlackBotToken string `json:"slack_bot_token"`

	EventStoreDSN string `json:"event_store_dsn"`

	LogLevel string `json:"log_level"`
}

// Default returns the configuration used when nothing else overrides it.
func Default() Config {
	return Config{
		ListenAddr:                ":8080",
		WatchloopIntervalSeconds:  30,
		WatchloopEnabled:          true,
		ApprovalTimeoutSeconds:    300,
		AutoRemediationEnabled:    false,
		AlertmanagerWebhookSecret: "",
		NotificationChannel:       "",
		RedisAddr:                 "localhost:6379",
		SlackBotToken:             "",
		EventStoreDSN:             "",
		LogLevel:                  "info",
	}
}

// Load builds a Config from Default(), overlays the JSON file at path if it
// exists, then overlays any KUBERNAUT_* environment variables that are set.
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	overlayEnv(&cfg)
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	if v, ok := os.LookupEnv("KUBERNAUT_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := envInt("KUBERNAUT_WATCHLOOP_INTERVAL_SECONDS"); ok {
		cfg.WatchloopIntervalSeconds = v
	}
	if v, ok := envBool("KUBERNAUT_WATCHLOOP_ENABLED"); ok {
		cfg.WatchloopEnabled = v
	}
	if v, ok := envInt("KUBERNAUT_APPROVAL_TIMEOUT_SECONDS"); ok {
		cfg.ApprovalTimeoutSeconds = v
	}
	if v, ok := envBool("KUBERNAUT_AUTO_REMEDIATION_ENABLED"); ok {
		cfg.AutoRemediationEnabled = v
	}
	if v, ok := os.LookupEnv("KUBERNAUT_ALERTMANAGER_WEBHOOK_SECRET"); ok {
		cfg.AlertmanagerWebhookSecret = v
	}
	if v, ok := os.LookupEnv("KUBERNAUT_NOTIFICATION_CHANNEL"); ok {
		cfg.NotificationChannel = v
	}
	if v, ok := os.LookupEnv("KUBERNAUT_REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := os.LookupEnv("KUBERNAUT_SLACK_BOT_TOKEN"); ok {
		cfg.SlackBotToken = v
	}
	if v, ok := os.LookupEnv("KUBERNAUT_EVENT_STORE_DSN"); ok {
		cfg.EventStoreDSN = v
	}
	if v, ok := os.LookupEnv("KUBERNAUT_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}

func envInt(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}

// Save writes cfg as indented JSON to path, mirroring Load's format.
func Save(cfg Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}
