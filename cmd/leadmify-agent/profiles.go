package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leadmify/agent/internal/config"
	"github.com/leadmify/agent/internal/inventory"
)

var (
	profilesDirFlag string
	profilesJSON    bool
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Browser profile management commands",
	Long: `Manage local browser profiles without contacting the control plane.

The profiles directory is taken from --dir, then from browser.profiles_dir of
the config file, then from the Firefox default for this OS.`,
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List browser profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := profileManager()
		if err != nil {
			return err
		}
		return listProfiles(os.Stdout, m, profilesJSON)
	},
}

var profilesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a browser profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := profileManager()
		if err != nil {
			return err
		}
		path, err := m.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		fmt.Printf("Profile %q created: %s\n", args[0], path)
		return nil
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a browser profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := profileManager()
		if err != nil {
			return err
		}
		if err := m.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		fmt.Printf("Profile deleted: %s\n", args[0])
		return nil
	},
}

var profilesTestCmd = &cobra.Command{
	Use:   "test <path>",
	Short: "Check that a profile directory is usable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := profileManager()
		if err != nil {
			return err
		}
		if err := m.Validate(args[0]); err != nil {
			return fmt.Errorf("profile is invalid: %w", err)
		}
		fmt.Printf("Profile is valid: %s\n", args[0])
		return nil
	},
}

func init() {
	profilesCmd.PersistentFlags().StringVar(&profilesDirFlag, "dir", "", "profiles directory")
	profilesListCmd.Flags().BoolVar(&profilesJSON, "json", false, "print JSON")

	profilesCmd.AddCommand(profilesListCmd, profilesCreateCmd, profilesDeleteCmd, profilesTestCmd)
	rootCmd.AddCommand(profilesCmd)
}

func profileManager() (*inventory.Manager, error) {
	if profilesDirFlag != "" {
		return inventory.NewManager(profilesDirFlag), nil
	}
	if cfgFile == "" {
		return inventory.NewManager(""), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return inventory.NewManager(cfg.Browser.ProfilesDir), nil
}

func profilesDir(cfg *config.Config) string {
	return inventory.NewManager(cfg.Browser.ProfilesDir).Dir()
}

func listProfiles(out io.Writer, m *inventory.Manager, asJSON bool) error {
	listing, err := m.List()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	if len(listing.Profiles) == 0 {
		fmt.Fprintf(out, "No profiles in %s\n", listing.Dir)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE (MB)\tPATH")
	fmt.Fprintln(w, "----\t---------\t----")
	for _, p := range listing.Profiles {
		fmt.Fprintf(w, "%s\t%.2f\t%s\n", p.Name, p.SizeMB, p.Path)
	}
	return w.Flush()
}
