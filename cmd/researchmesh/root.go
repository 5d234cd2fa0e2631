package main

import (
	"os"
	"path/filepath"

	"github.com/hupe1980/researchmesh/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	logDir     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "researchmesh",
	Short: "Plan-and-execute research agent",
	Long: `researchmesh plans a research query into sub-questions, gathers evidence with
web search and page fetches, extracts source-verified facts, evaluates coverage
over several rounds and writes a cited report.

Configuration is read from ~/.researchmesh/config.yaml (or --config) and
RESEARCHMESH_* environment variables; flags override both.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Session database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Research log directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")

	rootCmd.AddCommand(researchCmd, showCmd, listCmd, logsCmd)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".researchmesh", "config.yaml")
}

// loadConfig loads the config and applies the persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.DatabasePath = dbPath
	}
	if logDir != "" {
		cfg.Storage.LogDir = logDir
	}
	return cfg, nil
}
