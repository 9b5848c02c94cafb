package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Features holds the per-behavior toggles rendered on the status page.
type Features struct {
	AntiDelete          bool `toml:"anti_delete" env:"ANTI_DELETE"`
	AutoViewStatus      bool `toml:"auto_view_status" env:"AUTO_VIEW_STATUS"`
	AutoLikeStatus      bool `toml:"auto_like_status" env:"AUTO_LIKE_STATUS"`
	AutoReact           bool `toml:"auto_react" env:"AUTO_REACT"`
	ConnectNotification bool `toml:"connect_notification" env:"CONNECT_NOTIFICATION"`

	// StatusReply, when non-empty, is texted back to every status
	// poster after the status is viewed.
	StatusReply string `toml:"status_reply" env:"STATUS_REPLY"`
}

// Membership configures the channel reconciler.
type Membership struct {
	// ExtraInvites are additional targets, as invite links or bare codes.
	ExtraInvites  []string `toml:"extra_invites" env:"EXTRA_INVITES" envSeparator:","`
	CheckInterval duration `toml:"check_interval" env:"CHECK_INTERVAL"`
}

// Archive configures the S3-compatible store holding legacy session
// archives (the Buddy$<id>#<key> bootstrap path).
type Archive struct {
	Endpoint  string `toml:"endpoint" env:"ENDPOINT"`
	Region    string `toml:"region" env:"REGION"`
	Bucket    string `toml:"bucket" env:"BUCKET"`
	AccessKey string `toml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `toml:"secret_key" env:"SECRET_KEY"`
}

// Config is the daemon configuration: ~/.buddy/config.toml overlaid
// with BUDDY_* environment variables (env wins).
type Config struct {
	DefaultSession string `toml:"default_session" env:"SESSION"`

	// SessionID is the encoded credential string consumed by the
	// bootstrapper (Buddy~<base64 gzip blob> or Buddy$<id>#<key>).
	SessionID string `toml:"session_id" env:"SESSION_ID"`

	// ReportRecipient is the JID that receives delete-recovery reports,
	// reconciliation summaries and connect notifications. Empty disables
	// all of them.
	ReportRecipient string `toml:"report_recipient" env:"REPORT_RECIPIENT"`

	// Mode gates whether non-owner chats may interact with the command
	// router ("public" or "private").
	Mode string `toml:"mode" env:"MODE"`

	HTTPListen string `toml:"http_listen" env:"HTTP_LISTEN"`

	Features   Features   `toml:"features" envPrefix:"FEATURE_"`
	Membership Membership `toml:"membership" envPrefix:"MEMBERSHIP_"`
	Archive    Archive    `toml:"archive" envPrefix:"ARCHIVE_"`
}

// duration is a TOML/env-friendly time.Duration ("10m", "3s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode:       "public",
		HTTPListen: "127.0.0.1:8077",
		Features: Features{
			AntiDelete:          true,
			ConnectNotification: true,
		},
		Membership: Membership{
			CheckInterval: duration{10 * time.Minute},
		},
	}
}

// Load reads config from the given path and applies the BUDDY_*
// environment overlay. A missing file is not an error: defaults plus
// environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "BUDDY_"}); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	if cfg.Mode != "public" && cfg.Mode != "private" {
		return nil, fmt.Errorf("invalid mode %q: must be public or private", cfg.Mode)
	}
	if cfg.Membership.CheckInterval.Duration <= 0 {
		cfg.Membership.CheckInterval = duration{10 * time.Minute}
	}

	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// CheckInterval returns the membership re-check interval.
func (c *Config) CheckInterval() time.Duration {
	return c.Membership.CheckInterval.Duration
}
