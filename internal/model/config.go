package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// IMAPConfig holds the mail server connection settings.
type IMAPConfig struct {
	// Host is the IMAP server hostname.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the IMAP server port (typically 993 for TLS).
	Port int `mapstructure:"port" yaml:"port"`

	// TLS selects implicit TLS; when false, STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Username and Password authenticate the IMAP session.
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// Mailbox is the mailbox to watch (e.g., "INBOX").
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`
}

// TelegramConfig holds the notification API settings.
type TelegramConfig struct {
	// APIHost is the Telegram Bot API hostname.
	APIHost string `mapstructure:"api_host" yaml:"api_host"`

	// Token is the bot token used in the request path.
	Token string `mapstructure:"token" yaml:"token"`

	// ChatID is the destination chat identifier.
	ChatID string `mapstructure:"chat_id" yaml:"chat_id"`
}

// StoreConfig holds the seen-set persistence settings.
type StoreConfig struct {
	// Backend selects the store implementation: "file" or "sqlite".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Path is the store file location.
	Path string `mapstructure:"path" yaml:"path"`
}

// WatchConfig holds the polling and forwarding tunables.
type WatchConfig struct {
	// MaxBodyChars caps the body excerpt length in notifications.
	MaxBodyChars int `mapstructure:"max_body_chars" yaml:"max_body_chars"`

	// WindowDays bounds the unseen-message search to the last N days.
	WindowDays int `mapstructure:"window_days" yaml:"window_days"`

	// BatchLimit caps how many search results one poll processes.
	BatchLimit int `mapstructure:"batch_limit" yaml:"batch_limit"`

	// SendIntervalSec is the pause before each notification send,
	// keeping the outbound rate at roughly one message per interval.
	SendIntervalSec int `mapstructure:"send_interval_sec" yaml:"send_interval_sec"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	// Level is a zerolog level name ("debug", "info", ...).
	Level string `mapstructure:"level" yaml:"level"`

	// Pretty enables the human-readable console writer.
	Pretty bool `mapstructure:"pretty" yaml:"pretty"`
}

// Config is the top-level application configuration.
type Config struct {
	IMAP     IMAPConfig     `mapstructure:"imap" yaml:"imap"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// SendInterval returns the configured inter-send pause as a duration.
func (c *Config) SendInterval() time.Duration {
	return time.Duration(c.Watch.SendIntervalSec) * time.Second
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailgram/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailgram", "config.yaml")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Missing optional keys resolve to defaults; required keys are checked by
// Validate, not here.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("telegram.api_host", "api.telegram.org")
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "seen.json")
	v.SetDefault("watch.max_body_chars", 1500)
	v.SetDefault("watch.window_days", 30)
	v.SetDefault("watch.batch_limit", 50)
	v.SetDefault("watch.send_interval_sec", 5)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that every required configuration value is present.
// The returned error lists all missing keys so a broken deployment can
// be fixed in one pass.
func (c *Config) Validate() error {
	var missing []string

	if c.IMAP.Host == "" {
		missing = append(missing, "imap.host")
	}
	if c.IMAP.Username == "" {
		missing = append(missing, "imap.username")
	}
	if c.IMAP.Password == "" {
		missing = append(missing, "imap.password")
	}
	if c.IMAP.Mailbox == "" {
		missing = append(missing, "imap.mailbox")
	}
	if c.Telegram.Token == "" {
		missing = append(missing, "telegram.token")
	}
	if c.Telegram.ChatID == "" {
		missing = append(missing, "telegram.chat_id")
	}
	if c.Store.Path == "" {
		missing = append(missing, "store.path")
	}

	if len(missing) > 0 {
		return fmt.Errorf(
			"missing required config values: %s",
			strings.Join(missing, ", "),
		)
	}

	if c.Store.Backend != "file" && c.Store.Backend != "sqlite" {
		return fmt.Errorf(
			"unknown store backend %q (want \"file\" or \"sqlite\")",
			c.Store.Backend,
		)
	}

	return nil
}
