package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig drives voicectl.
type ClientConfig struct {
	TokenURL         string        `mapstructure:"token_url"`
	Room             string        `mapstructure:"room"`
	Identity         string        `mapstructure:"identity"`
	Metadata         string        `mapstructure:"metadata"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	MessageRetention int           `mapstructure:"message_retention"`
	AgentPrefix      string        `mapstructure:"agent_prefix"`
	LogLevel         string        `mapstructure:"log_level"`
	ICEServers       []string      `mapstructure:"ice_servers"`
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("token_url", "http://localhost:8080/token")
	v.SetDefault("room", "")
	v.SetDefault("identity", "")
	v.SetDefault("metadata", "")
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("message_retention", 50)
	v.SetDefault("agent_prefix", "agent-")
	v.SetDefault("log_level", "warn")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
}

// LoadClient reads config/client.<env>.yaml (or path when non-empty), VOICE_* env
// vars, then applies overrides (flag values already bound by the caller).
func LoadClient(path string, overrides *viper.Viper) (*ClientConfig, error) {
	v, fileName := newViper("client")
	if path != "" {
		v.SetConfigFile(path)
		fileName = path
	}
	setClientDefaults(v)
	readFile(v, fileName)

	if overrides != nil {
		for _, k := range overrides.AllKeys() {
			v.Set(k, overrides.Get(k))
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &cfg, nil
}
