// Package config builds the daemon configuration from defaults, an optional
// YAML file and environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"ssh-sentry/internal/types"
)

// DefaultPath is used when --config is not given
const DefaultPath = "/etc/ssh-sentry/config.yml"

// envMappings maps the supported environment variables to config keys.
// Anything else in the environment is ignored.
var envMappings = map[string]string{
	"telegram_bot_token":       "telegram.bot_token",
	"telegram_chat_id":         "telegram.chat_id",
	"telegram_topic_id":        "telegram.topic_id",
	"telegram_api_url":         "telegram.api_url",
	"notify_login":             "notify.login",
	"notify_failed":            "notify.failed",
	"notify_logout":            "notify.logout",
	"notify_workers":           "notify.workers",
	"rate_limit_login":         "rate_limit.login",
	"rate_limit_failed":        "rate_limit.failed",
	"rate_limit_logout":        "rate_limit.logout",
	"root_login_always_notify": "rate_limit.root_always_notify",
	"rate_limit_backend":       "rate_limit.backend",
	"rate_limit_file":          "rate_limit.path",
	"rate_limit_sweep":         "rate_limit.sweep_schedule",
	"rate_limit_max_entries":   "rate_limit.max_entries",
	"auth_log_path":            "input.auth_log_path",
	"ssh_units":                "input.units",
	"enable_journald":          "input.enable_journald",
	"geo_provider":             "geo.provider",
	"geo_url":                  "geo.url",
	"geo_timeout":              "geo.timeout",
	"geoip_db":                 "geo.city_db",
	"geoip_asn_db":             "geo.asn_db",
	"pid_file":                 "runtime.pid_file",
	"log_level":                "logging.level",
	"log_format":               "logging.format",
	"log_file":                 "logging.file",
	"log_max_size_mb":          "logging.max_size_mb",
	"metrics_listen":           "metrics.listen",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Defaults returns the built-in configuration
func Defaults() *types.Config {
	return &types.Config{
		Telegram: types.TelegramConfig{
			APIURL:  "https://api.telegram.org",
			Timeout: 10 * time.Second,
		},
		Notify: types.NotifyConfig{
			Login:   true,
			Failed:  true,
			Logout:  true,
			Workers: 4,
		},
		RateLimit: types.RateLimitConfig{
			Login:            300,
			Failed:           0,
			Logout:           300,
			RootAlwaysNotify: true,
			Backend:          "file",
			Path:             "/var/lib/ssh-sentry/rate_limit.db",
			SweepSchedule:    "@every 10m",
			MaxEntries:       10000,
		},
		Input: types.InputConfig{
			AuthLogPath:   "/var/log/auth.log",
			Units:         "ssh.service,sshd.service",
			EnableJournal: true,
		},
		Geo: types.GeoConfig{
			Provider:          "ipapi",
			URL:               "http://ip-api.com",
			Timeout:           5 * time.Second,
			RequestsPerMinute: 45,
		},
		Runtime: types.RuntimeConfig{
			PIDFile: "/run/ssh-sentry.pid",
		},
		Logging: types.LoggingConfig{
			Level:     "info",
			Format:    "console",
			File:      "/var/log/ssh-sentry.log",
			MaxSizeMB: 10,
		},
		Metrics: types.MetricsConfig{
			Listen: "127.0.0.1:9090",
		},
	}
}

// LoadConfig layers defaults, the YAML file at path (skipped if missing) and
// the environment, then validates the result.
func LoadConfig(path string) (*types.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &types.Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tag rules on cfg
func Validate(cfg *types.Config) error {
	return validate.Struct(cfg)
}

// Units splits the comma separated unit list
func Units(cfg types.InputConfig) []string {
	var units []string
	for _, u := range strings.Split(cfg.Units, ",") {
		if u = strings.TrimSpace(u); u != "" {
			units = append(units, u)
		}
	}
	return units
}
