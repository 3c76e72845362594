package types

import "time"

// EventKind identifies what an SSH log line reported
type EventKind string

const (
	LoginSuccess EventKind = "login_success"
	LoginFailed  EventKind = "login_failed"
	Logout       EventKind = "logout"
)

// Category returns the rate-limit category prefix for the kind ("login", "failed", "logout")
func (k EventKind) Category() string {
	switch k {
	case LoginSuccess:
		return "login"
	case LoginFailed:
		return "failed"
	case Logout:
		return "logout"
	default:
		return ""
	}
}

// AuthMethod is how a successful login authenticated
type AuthMethod string

const (
	AuthNone     AuthMethod = ""
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
)

// RootUser is matched literally against SSHEvent.User
const RootUser = "root"

// SSHEvent is a classified sshd log line
type SSHEvent struct {
	Kind       EventKind  `json:"kind"`
	User       string     `json:"user"`
	SourceIP   string     `json:"source_ip"`
	AuthMethod AuthMethod `json:"auth_method,omitempty"` // LoginSuccess only
	Hostname   string     `json:"hostname"`
	Timestamp  string     `json:"timestamp"` // as written by the source log
	Raw        string     `json:"-"`
}

// IsRoot reports whether the event concerns the root account
func (e *SSHEvent) IsRoot() bool {
	return e.User == RootUser
}

// EventKey composes the kind-prefixed, user-qualified key, e.g. "login_alice"
func EventKey(kind EventKind, user string) string {
	return kind.Category() + "_" + user
}

// Config represents the application configuration
type Config struct {
	Telegram  TelegramConfig  `koanf:"telegram"`
	Notify    NotifyConfig    `koanf:"notify"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Input     InputConfig     `koanf:"input"`
	Geo       GeoConfig       `koanf:"geo"`
	Runtime   RuntimeConfig   `koanf:"runtime"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// TelegramConfig holds the bot credentials and destination
type TelegramConfig struct {
	BotToken string        `koanf:"bot_token"`
	ChatID   string        `koanf:"chat_id"`
	TopicID  string        `koanf:"topic_id"` // optional forum topic (message_thread_id)
	APIURL   string        `koanf:"api_url" validate:"required,url"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0"`
}

// NotifyConfig toggles notifications per event kind
type NotifyConfig struct {
	Login   bool `koanf:"login"`
	Failed  bool `koanf:"failed"`
	Logout  bool `koanf:"logout"`
	Workers int  `koanf:"workers" validate:"min=1,max=64"`
}

// Enabled reports whether notifications for kind are switched on
func (n NotifyConfig) Enabled(kind EventKind) bool {
	switch kind {
	case LoginSuccess:
		return n.Login
	case LoginFailed:
		return n.Failed
	case Logout:
		return n.Logout
	default:
		return false
	}
}

// RateLimitConfig holds the per-category cool-downs (seconds, 0 = always notify)
type RateLimitConfig struct {
	Login            int    `koanf:"login" validate:"min=0"`
	Failed           int    `koanf:"failed" validate:"min=0"`
	Logout           int    `koanf:"logout" validate:"min=0"`
	RootAlwaysNotify bool   `koanf:"root_always_notify"`
	Backend          string `koanf:"backend" validate:"oneof=file sqlite"`
	Path             string `koanf:"path" validate:"required"`
	SweepSchedule    string `koanf:"sweep_schedule"` // cron spec, empty disables retention
	MaxEntries       int    `koanf:"max_entries" validate:"min=0"`
}

// InputConfig selects the log sources
type InputConfig struct {
	AuthLogPath   string `koanf:"auth_log_path" validate:"required"`
	Units         string `koanf:"units"` // comma separated systemd units
	EnableJournal bool   `koanf:"enable_journald"`
}

// GeoConfig configures the geolocation resolver
type GeoConfig struct {
	Provider          string        `koanf:"provider" validate:"oneof=ipapi maxmind"`
	URL               string        `koanf:"url" validate:"required_if=Provider ipapi"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0,lte=5s"`
	RequestsPerMinute int           `koanf:"requests_per_minute" validate:"min=0"`
	CityDBPath        string        `koanf:"city_db" validate:"required_if=Provider maxmind"`
	ASNDBPath         string        `koanf:"asn_db"`
}

// RuntimeConfig holds process lifecycle paths
type RuntimeConfig struct {
	PIDFile string `koanf:"pid_file" validate:"required"`
}

// LoggingConfig configures console and activity log output
type LoggingConfig struct {
	Level     string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format    string `koanf:"format" validate:"oneof=console json"`
	File      string `koanf:"file"` // activity log, empty disables
	MaxSizeMB int    `koanf:"max_size_mb" validate:"min=1"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Listen string `koanf:"listen"` // empty disables
}
