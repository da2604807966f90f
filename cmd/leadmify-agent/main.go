package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadmify/agent/internal/app"
	"github.com/leadmify/agent/internal/config"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "leadmify-agent",
	Short: "Leadmify automation agent",
	Long: `Leadmify agent polls the Leadmify control plane for running campaigns and
work requests and executes them with local browser profiles.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	Long:  `Start the poll loop. The agent exits non-zero when the API token expires.`,
	RunE:  runAgent,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("leadmify-agent version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(runCmd, configCmd, versionCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	token := "inline"
	if cfg.ControlPlane.TokenFile != "" {
		token = cfg.ControlPlane.TokenFile
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Control plane: %s\n", cfg.ControlPlane.BaseURL)
	fmt.Printf("  Token: %s\n", token)
	fmt.Printf("  Poll interval: %s\n", cfg.Dispatcher.Interval)
	fmt.Printf("  Browser: %s (headless: %t)\n", cfg.Browser.Engine, cfg.Browser.Headless)
	fmt.Printf("  Profiles: %s\n", profilesDir(cfg))
	fmt.Printf("  Journal: %s\n", cfg.Storage.Path)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	if cfg.Status.Enabled {
		fmt.Printf("  Status API: %s\n", cfg.Status.ListenAddr)
	}

	return nil
}
