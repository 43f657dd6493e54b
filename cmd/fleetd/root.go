// README: Root command and the config/logger bootstrap shared by subcommands.
package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fleetd/internal/config"
	"fleetd/internal/observability"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "fleetd",
	Short:         "Ride and parcel dispatch service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (env FLEETD_* overrides)")
}

func bootstrap() (config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, nil)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
