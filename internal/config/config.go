package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	BcryptCost  int           `mapstructure:"bcrypt_cost"`
	DatabaseURL string        `mapstructure:"database_url"`

	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	SendQueueSize    int           `mapstructure:"send_queue_size"`
}

var (
	ErrSecretRequired  = errors.New("jwt_secret is required")
	ErrBadPingPeriod   = errors.New("ping_period must be shorter than pong_wait")
	ErrBadQueueSize    = errors.New("send_queue_size must be positive")
	ErrBadPort         = errors.New("port out of range")
	ErrBadMessageLimit = errors.New("max_message_size must be positive")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3001)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", "1h")
	v.SetDefault("bcrypt_cost", 10)
	v.SetDefault("database_url", "data/mirror.db")

	v.SetDefault("handshake_timeout", "10s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("max_message_size", 8<<20)
	v.SetDefault("send_queue_size", 8)
}

// Load reads config/config.<CONFIG_ENV>.yaml when present and lets the
// environment override every key (PORT, JWT_SECRET, DATABASE_URL, ...).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Debug().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults and environment")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config file")
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the relay depends on.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrSecretRequired
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrBadPort, c.Port)
	}
	if c.PingPeriod >= c.PongWait {
		return ErrBadPingPeriod
	}
	if c.SendQueueSize <= 0 {
		return ErrBadQueueSize
	}
	if c.MaxMessageSize <= 0 {
		return ErrBadMessageLimit
	}
	return nil
}
