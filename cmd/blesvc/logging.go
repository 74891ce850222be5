package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesvc/pkg/config"
)

// loadConfig reads the file named by --config, or the defaults when the
// flag is empty.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// configureLogger creates a logger for cfg. --log-level overrides the
// configured level; --verbose, when the command has it, selects debug.
// Returns an error if the log-level is invalid.
func configureLogger(cmd *cobra.Command, cfg *config.Config, verboseFlagName string) (*logrus.Logger, error) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			cfg.LogLevel = logrus.DebugLevel
		case "info":
			cfg.LogLevel = logrus.InfoLevel
		case "warn":
			cfg.LogLevel = logrus.WarnLevel
		case "error":
			cfg.LogLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	} else if verboseFlagName != "" {
		if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
			cfg.LogLevel = logrus.DebugLevel
		}
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}
