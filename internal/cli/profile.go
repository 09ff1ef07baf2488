package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomline-systems/loomline/internal/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Server profile management",
	Long:  "Manage named server profiles stored in the loomctl config file",
}

var profileSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Create or update a profile",
	Long:  "Save a server URL (and optionally the org webhook secret) under a profile name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server-url")
		secret, _ := cmd.Flags().GetString("webhook-secret")

		if serverURL == "" {
			return fmt.Errorf("--server-url is required")
		}

		if err := cfg.SaveProfile(args[0], serverURL, secret); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}

		output.Success("Profile '%s' saved and activated", args[0])
		output.Info("Server: %s", serverURL)

		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	Long:    "List saved profiles and mark the active one",
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(cfg.Profiles)
		}

		if len(cfg.Profiles) == 0 {
			output.Info("No profiles configured (run 'loomctl profile set')")
			return nil
		}

		table := output.NewTable([]string{"Name", "Server", "Webhook Secret", "Active"})
		for name, p := range cfg.Profiles {
			secret := ""
			if p.WebhookSecret != "" {
				secret = "set"
			}

			active := ""
			if name == cfg.CurrentProfile {
				active = "*"
			}

			table.AddRow([]string{name, p.ServerURL, secret, active})
		}
		table.Render()

		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Switch the active profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Use(args[0]); err != nil {
			return err
		}

		output.Success("Switched to profile '%s'", args[0])
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove [name]",
	Aliases: []string{"rm"},
	Short:   "Remove a profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}

		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileUseCmd)
	profileCmd.AddCommand(profileRemoveCmd)

	profileSetCmd.Flags().String("server-url", "", "Base URL of the loomlined server")
	profileSetCmd.Flags().String("webhook-secret", "", "Shared org secret for minting delivery tokens")
	if err := profileSetCmd.MarkFlagRequired("server-url"); err != nil {
		panic(fmt.Sprintf("failed to mark server-url as required: %v", err))
	}
}
