package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/npezzotti/nests/internal/database"
	"github.com/npezzotti/nests/internal/liveness"
	"github.com/npezzotti/nests/internal/media"
	"github.com/npezzotti/nests/internal/token"
	"github.com/spf13/viper"
)

const envPrefix = "NESTS"

type Config struct {
	Addr           string         `mapstructure:"addr"`
	LogLevel       string         `mapstructure:"log_level"`
	LogFormat      string         `mapstructure:"log_format"`
	PublicURL      string         `mapstructure:"public_url"`
	AllowedOrigins []string       `mapstructure:"allowed_origins"`
	Database       DatabaseConfig `mapstructure:"database"`
	Identity       IdentityConfig `mapstructure:"identity"`
	LiveKit        LiveKitConfig  `mapstructure:"livekit"`
	Egress         EgressConfig   `mapstructure:"egress"`
	Lobby          LobbyConfig    `mapstructure:"lobby"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type IdentityConfig struct {
	// SigningKey is the base64 encoded HMAC key of the identity gateway
	// that issues session tokens.
	SigningKey string `mapstructure:"signing_key"`
}

type LiveKitConfig struct {
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"api_key"`
	APISecret   string        `mapstructure:"api_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	PushTimeout time.Duration `mapstructure:"push_timeout"`
	PushRetries uint          `mapstructure:"push_retries"`
}

type EgressConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Bucket   string `mapstructure:"bucket"`
	Key      string `mapstructure:"key"`
	Secret   string `mapstructure:"secret"`
	Region   string `mapstructure:"region"`
}

type LobbyConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Relays         []string      `mapstructure:"relays"`
	PresenceWindow time.Duration `mapstructure:"presence_window"`
	ShowEmptyRooms bool          `mapstructure:"show_empty_rooms"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "localhost:8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("public_url", "")
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("database.driver", database.DriverPostgres)
	v.SetDefault("database.dsn", "")

	v.SetDefault("identity.signing_key", "")

	v.SetDefault("livekit.url", "")
	v.SetDefault("livekit.api_key", "")
	v.SetDefault("livekit.api_secret", "")
	v.SetDefault("livekit.token_ttl", token.DefaultTTL)
	v.SetDefault("livekit.push_timeout", media.DefaultPushTimeout)
	v.SetDefault("livekit.push_retries", media.DefaultPushRetries)

	v.SetDefault("egress.enabled", false)
	v.SetDefault("egress.endpoint", "")
	v.SetDefault("egress.bucket", "")
	v.SetDefault("egress.key", "")
	v.SetDefault("egress.secret", "")
	v.SetDefault("egress.region", "")

	v.SetDefault("lobby.enabled", false)
	v.SetDefault("lobby.relays", []string{})
	v.SetDefault("lobby.presence_window", liveness.DefaultPresenceWindow)
	v.SetDefault("lobby.show_empty_rooms", false)
}

// Load reads configuration from path, when given, and from NESTS_*
// environment variables, which take precedence. Nested keys use an
// underscore in the environment, e.g. NESTS_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("empty key")
	}
	return key, nil
}

// IdentityKey returns the decoded identity signing key.
func (c *Config) IdentityKey() ([]byte, error) {
	return decodeSigningSecret(c.Identity.SigningKey)
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("server address cannot be empty")
	}
	if !slices.Contains([]string{database.DriverPostgres, database.DriverSQLite}, c.Database.Driver) {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database DSN cannot be empty")
	}
	if c.Identity.SigningKey == "" {
		return errors.New("identity signing key cannot be empty")
	}
	if _, err := c.IdentityKey(); err != nil {
		return fmt.Errorf("decode identity signing key: %w", err)
	}
	if c.LiveKit.URL == "" || c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
		return errors.New("livekit url, api key and api secret are required")
	}
	if _, err := parseAbsoluteURL(c.PublicURL); err != nil {
		return fmt.Errorf("public url: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	if c.Egress.Enabled {
		if _, err := parseAbsoluteURL(c.Egress.Endpoint); err != nil {
			return fmt.Errorf("egress endpoint: %w", err)
		}
		if c.Egress.Bucket == "" {
			return errors.New("egress bucket cannot be empty")
		}
	}
	if c.Lobby.Enabled && len(c.Lobby.Relays) == 0 {
		return errors.New("lobby requires at least one relay")
	}

	return nil
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url", raw)
	}
	return u, nil
}
