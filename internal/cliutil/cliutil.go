// Package cliutil provides the viper/cobra configuration wiring shared by
// every wslmanager sub-command.
package cliutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sirfifer/vscode-wsl-manager/internal/constants"
)

// SetVerbosity sets the global slog level from a -v/-vv flag count.
func SetVerbosity(level int) {
	switch level {
	case 0:
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case 1:
		slog.SetLogLoggerLevel(slog.LevelInfo)
	default:
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

// InstallConfigFlag adds the --config persistent flag to cmd.
func InstallConfigFlag(cmd *cobra.Command) *string {
	return cmd.PersistentFlags().String("config", "", "use a specific configuration file")
}

// InitViperConfig loads configuration for cmdName: an explicit --config
// file if given, else a per-OS search path, then CMDNAME_-prefixed
// environment variables bound individually (the viper.BindEnv loop working
// around spf13/viper#1429 so nested keys unmarshal correctly).
func InitViperConfig(cmdName string, cmd *cobra.Command, vip *viper.Viper) error {
	if v, err := cmd.Flags().GetString("config"); err == nil && v != "" {
		vip.SetConfigFile(v)
	} else {
		vip.SetConfigName(cmdName)
		vip.AddConfigPath(".")

		if runtime.GOOS == "windows" {
			vip.AddConfigPath(`C:\ProgramData\` + cmdName)
		} else {
			vip.AddConfigPath("/etc/" + cmdName)
			vip.AddConfigPath("/usr/local/etc/" + cmdName)
		}

		if binPath, err := os.Executable(); err != nil {
			slog.Warn("could not get current executable path, not adding it as a config dir", "error", err)
		} else {
			vip.AddConfigPath(filepath.Dir(binPath))
		}
	}

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			slog.Info("no configuration file found, using defaults, env variables and flags only", "error", notFound)
		} else {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
	} else {
		slog.Info("using configuration file", "file", vip.ConfigFileUsed())
	}

	vip.SetEnvPrefix(cmdName)
	vip.AutomaticEnv()

	prefix := strings.ToUpper(strings.ReplaceAll(cmdName, "-", "_")) + "_"
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, prefix) {
			continue
		}
		parts := strings.SplitN(e, "=", 2)
		key := strings.ReplaceAll(strings.TrimPrefix(parts[0], prefix), "_", ".")
		if err := vip.BindEnv(key, parts[0]); err != nil {
			return fmt.Errorf("could not bind environment variable %s: %w", parts[0], err)
		}
	}

	return nil
}

// Config is the typed shape every wslmanager sub-command unmarshals viper
// into during PersistentPreRunE.
type Config struct {
	Verbose     int    `mapstructure:"verbose"`
	StorePath   string `mapstructure:"store-path"`
	RegistryURL string `mapstructure:"registry-url"`
}

// DefaultRegistryURL is the upstream distribution registry consulted by the
// catalog when no override is configured.
const DefaultRegistryURL = "https://raw.githubusercontent.com/microsoft/WSL/master/distributions/DistributionInfo.json"

// ResolveStorePath returns cfg.StorePath if set, else constants.DefaultStorePath().
func ResolveStorePath(cfg Config) (string, error) {
	if cfg.StorePath != "" {
		return cfg.StorePath, nil
	}
	return constants.DefaultStorePath()
}
