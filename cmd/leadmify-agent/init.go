package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	initBaseURL     string
	initToken       string
	initTokenFile   string
	initOutput      string
	initDataDir     string
	initProfilesDir string
	initHeadless    bool
	initMetrics     bool
	initForce       bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize agent configuration",
	Long: `Interactive wizard to create an agent configuration file.

Examples:
  # Interactive mode - prompts for missing values
  leadmify-agent init

  # Non-interactive with a token file
  leadmify-agent init --token-file /etc/leadmify/token -o agent.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "https://api.leadmify.com", "Control plane URL")
	initCmd.Flags().StringVar(&initToken, "token", "", "API token")
	initCmd.Flags().StringVar(&initTokenFile, "token-file", "", "File holding the API token (reloaded on change)")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/leadmify", "Data directory for the send journal")
	initCmd.Flags().StringVar(&initProfilesDir, "profiles-dir", "", "Browser profiles directory (default: Firefox profiles)")
	initCmd.Flags().BoolVar(&initHeadless, "headless", false, "Run campaign browsers headless")
	initCmd.Flags().BoolVar(&initMetrics, "metrics", false, "Enable Prometheus metrics")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Leadmify Agent Configuration Wizard")
	fmt.Println("===================================")
	fmt.Println()

	if !cmd.Flags().Changed("base-url") {
		initBaseURL = prompt(reader, "Control plane URL", initBaseURL)
	}

	if initToken == "" && initTokenFile == "" {
		initTokenFile = prompt(reader, "Token file (leave empty to paste a token)", "")
		if initTokenFile == "" {
			initToken = prompt(reader, "API token", "")
			if initToken == "" {
				return fmt.Errorf("a token or token file is required")
			}
		}
	}

	if !cmd.Flags().Changed("data-dir") {
		initDataDir = prompt(reader, "Data directory", initDataDir)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Println()

	printNextSteps()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateConfig() string {
	tokenLine := fmt.Sprintf(`  token: %q`, initToken)
	if initTokenFile != "" {
		tokenLine = fmt.Sprintf(`  token_file: %q`, initTokenFile)
	}

	profilesLine := `  # profiles_dir: "/path/to/firefox/profiles"`
	if initProfilesDir != "" {
		profilesLine = fmt.Sprintf(`  profiles_dir: %q`, initProfilesDir)
	}

	return fmt.Sprintf(`# Leadmify agent configuration
# Generated by: leadmify-agent init

control_plane:
  base_url: %q
%s
  timeout: 30s
  reconnect_budget: 5m
  max_attempts: 5

dispatcher:
  interval: 15s
  max_concurrent_jobs: 0  # 0 = unbounded

campaign:
  stagger_delay: 3s
  max_profile_retries: 3
  default_delay_min: 60s
  default_delay_max: 120s

browser:
  engine: "firefox"
  headless: %t
%s

storage:
  path: %q

metrics:
  enabled: %t
  listen_addr: ":9090"
  path: "/metrics"
  allowed_ips:
    - "127.0.0.1"

status:
  enabled: true
  listen_addr: "127.0.0.1:8765"

logging:
  level: "info"
  format: "json"
`,
		initBaseURL,
		tokenLine,
		initHeadless,
		profilesLine,
		filepath.Join(initDataDir, "journal.db"),
		initMetrics,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Check the configuration:")
	fmt.Printf("   leadmify-agent config validate -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("2. Check the browser profiles the agent will use:")
	fmt.Printf("   leadmify-agent profiles list -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("3. Start the agent:")
	fmt.Printf("   leadmify-agent run -c %s\n", initOutput)
	fmt.Println()
}
