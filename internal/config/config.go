package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	Secret     string `mapstructure:"secret"`
	AdminToken string `mapstructure:"admin_token"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"`

	MsgRateLimit  int           `mapstructure:"msg_rate_limit"`
	MsgRateWindow time.Duration `mapstructure:"msg_rate_window"`

	MaxParticipants int    `mapstructure:"max_participants"`
	DBPath          string `mapstructure:"db_path"`
	Metrics         bool   `mapstructure:"metrics"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "livehub-dev-secret")
	v.SetDefault("admin_token", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("heartbeat_ttl", "90s")
	v.SetDefault("msg_rate_limit", 120)
	v.SetDefault("msg_rate_window", "10s")
	v.SetDefault("max_participants", 50)
	v.SetDefault("db_path", "")
	v.SetDefault("metrics", true)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
