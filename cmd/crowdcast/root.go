package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/crowdcast/internal/config"
	"github.com/rewired-gh/crowdcast/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "crowdcast",
	Short: "Turn hourly visitor forecasts into congestion labels",
	Long: `Crowdcast reads hourly visitor-arrival forecasts for public places, estimates
how many people are on site each hour, and labels every hour as spacious,
moderate, slightly-crowded or crowded from the per-person area of the place.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and CROWDCAST_* environment variables when empty)")
}

// loadConfig loads and validates the configuration, then sets up logging.
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if cfgFile != "" {
		logger.Debug("Configuration loaded from %s", cfgFile)
	}
	return nil
}
