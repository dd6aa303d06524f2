// Package config loads server settings from defaults, an optional YAML
// file and CREWTASKS_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dukerupert/crewtasks/internal/apperr"
	"github.com/dukerupert/crewtasks/internal/objectstore"
)

const envPrefix = "CREWTASKS"

type Config struct {
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	DBPath      string        `mapstructure:"db_path" yaml:"db_path"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string        `mapstructure:"log_format" yaml:"log_format"`
	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	SessionTTL  time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	CORSOrigins []string      `mapstructure:"cors_origins" yaml:"cors_origins"`

	Postmark PostmarkConfig     `mapstructure:"postmark" yaml:"postmark"`
	Push     PushConfig         `mapstructure:"push" yaml:"push"`
	S3       objectstore.Config `mapstructure:"s3" yaml:"s3"`
	Realtime RealtimeConfig     `mapstructure:"realtime" yaml:"realtime"`
}

type PostmarkConfig struct {
	ServerToken string `mapstructure:"server_token" yaml:"server_token"`
	From        string `mapstructure:"from" yaml:"from"`
}

type PushConfig struct {
	VAPIDPublicKey  string        `mapstructure:"vapid_public_key" yaml:"vapid_public_key"`
	VAPIDPrivateKey string        `mapstructure:"vapid_private_key" yaml:"vapid_private_key"`
	Subscriber      string        `mapstructure:"subscriber" yaml:"subscriber"`
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
}

// RealtimeConfig points at another instance's change feed. When RemoteURL
// is empty only local changes are observed.
type RealtimeConfig struct {
	RemoteURL   string `mapstructure:"remote_url" yaml:"remote_url"`
	RemoteToken string `mapstructure:"remote_token" yaml:"remote_token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "crewtasks.db")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("session_ttl", 7*24*time.Hour)
	v.SetDefault("cors_origins", []string{"*"})

	v.SetDefault("postmark.server_token", "")
	v.SetDefault("postmark.from", "noreply@crewtasks.app")

	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.subscriber", "mailto:noreply@crewtasks.app")
	v.SetDefault("push.interval", 15*time.Minute)

	// Every key needs a default for AutomaticEnv to see it on Unmarshal.
	for _, k := range []string{"endpoint", "bucket", "region", "access_key", "secret_key", "prefix", "passphrase"} {
		v.SetDefault("s3."+k, "")
	}
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.prefix", "crewtasks")

	v.SetDefault("realtime.remote_url", "")
	v.SetDefault("realtime.remote_token", "")
}

// Load reads configuration. path may be empty to skip the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("%w: jwt_secret must be at least 32 characters", apperr.ErrValidation)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: session_ttl must be positive", apperr.ErrValidation)
	}
	if c.Push.Interval <= 0 {
		return fmt.Errorf("%w: push.interval must be positive", apperr.ErrValidation)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json", apperr.ErrValidation)
	}
	return nil
}
