package commands

import (
	"errors"
	"os"

	"github.com/dkeye/VoiceAgent/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys maps persistent flags to client config keys.
var flagKeys = map[string]string{
	"token-url":    "token_url",
	"room":         "room",
	"identity":     "identity",
	"metadata":     "metadata",
	"agent-prefix": "agent_prefix",
	"log-level":    "log_level",
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:   "voicectl",
		Short: "Voice room client",
		Long: `voicectl fetches room grants from the token service and joins rooms.

Configuration comes from config/client.<CONFIG_ENV>.yaml (or --config),
VOICE_* environment variables and the flags below, in that order.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "client config file")
	root.PersistentFlags().String("token-url", "", "token service endpoint")
	root.PersistentFlags().String("room", "", "room name")
	root.PersistentFlags().String("identity", "", "participant identity")
	root.PersistentFlags().String("metadata", "", "participant metadata")
	root.PersistentFlags().String("agent-prefix", "", "identity prefix that marks agents")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	load := func(cmd *cobra.Command) (*config.ClientConfig, error) {
		return loadConfig(cmd, cfgFile)
	}
	root.AddCommand(newTokenCmd(load))
	root.AddCommand(newConnectCmd(load))
	root.AddCommand(newAgentCmd(load))
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

type configLoader func(cmd *cobra.Command) (*config.ClientConfig, error)

func loadConfig(cmd *cobra.Command, path string) (*config.ClientConfig, error) {
	overrides := viper.New()
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := overrides.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	setupLogging("warn")
	cfg, err := config.LoadClient(path, overrides)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func requireRoom(cfg *config.ClientConfig) error {
	switch {
	case cfg.Room == "" && cfg.Identity == "":
		return errors.New("--room and --identity are required")
	case cfg.Room == "":
		return errors.New("--room is required")
	case cfg.Identity == "":
		return errors.New("--identity is required")
	}
	return nil
}
