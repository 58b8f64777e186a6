package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the server process configuration.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	// APIKey is the grant issuer; APISecret the HMAC signing secret.
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	TransportURL string `mapstructure:"transport_url"`

	GrantTTL    time.Duration `mapstructure:"grant_ttl"`
	MaxGrantTTL time.Duration `mapstructure:"max_grant_ttl"`

	TokenRateLimit    int           `mapstructure:"token_rate_limit"`
	TokenRateInterval time.Duration `mapstructure:"token_rate_interval"`
	JoinRateLimit     int           `mapstructure:"join_rate_limit"`
	JoinRateInterval  time.Duration `mapstructure:"join_rate_interval"`

	ICEServers []string `mapstructure:"ice_servers"`
}

// SigningConfigured reports whether grants can be issued. It never exposes the secret.
func (c *Config) SigningConfigured() bool {
	return strings.TrimSpace(c.APISecret) != "" && strings.TrimSpace(c.APIKey) != ""
}

func newViper(kind string) (*viper.Viper, string) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", kind, env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, fileName
}

func readFile(v *viper.Viper, fileName string) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
}

func Load() (*Config, error) {
	v, fileName := newViper("config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("api_key", "")
	v.SetDefault("api_secret", "")
	v.SetDefault("transport_url", "")
	v.SetDefault("grant_ttl", "1h")
	v.SetDefault("max_grant_ttl", "24h")
	v.SetDefault("token_rate_limit", 30)
	v.SetDefault("token_rate_interval", "1m")
	v.SetDefault("join_rate_limit", 10)
	v.SetDefault("join_rate_interval", "1m")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	readFile(v, fileName)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.TransportURL == "" {
		cfg.TransportURL = fmt.Sprintf("ws://localhost:%d/rtc", cfg.Port)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Bool("signing_configured", cfg.SigningConfigured()).
		Str("transport_url", cfg.TransportURL).
		Msg("config ready")
	return &cfg, nil
}
