// Package cli implements the loomctl command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomline-systems/loomline/internal/client"
	"github.com/loomline-systems/loomline/internal/profiles"
)

var (
	cfgFile string
	cfg     *profiles.Config
)

var rootCmd = &cobra.Command{
	Use:   "loomctl",
	Short: "Loomline design module CLI",
	Long: `loomctl is the command-line interface for the Loomline design module.

Create and advance pipeline items, answer pending validations, work
alerts, and inspect the cross-module event journal from your terminal.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.loomctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: the active profile)")
	rootCmd.PersistentFlags().String("server", "", "server URL (overrides the profile)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

func initConfig() {
	var err error
	cfg, err = profiles.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = profiles.Default()
	}
}

// apiClient builds a client for the server named by --server or the
// selected profile.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		return client.New(server), nil
	}

	profile, _ := cmd.Flags().GetString("profile")
	p, err := cfg.GetProfile(profile)
	if err != nil {
		return nil, fmt.Errorf("no server configured: %w (run 'loomctl profile set' or pass --server)", err)
	}

	return client.New(p.ServerURL), nil
}

// activeProfile resolves the selected profile without falling back to
// --server. Commands that need the webhook secret use it.
func activeProfile(cmd *cobra.Command) (*profiles.Profile, error) {
	profile, _ := cmd.Flags().GetString("profile")
	return cfg.GetProfile(profile)
}
