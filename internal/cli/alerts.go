package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/output"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Alert management",
	Long:  "View and resolve alerts raised from inbound events and delivery failures",
}

var alertsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List alerts",
	Long:    "List alerts, optionally filtered by status, severity, or category",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		severity, _ := cmd.Flags().GetString("severity")
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")

		alerts, err := api.ListAlerts(cmd.Context(), &models.ListAlertsRequest{
			Status:   status,
			Severity: severity,
			Category: category,
			Limit:    limit,
		})
		if err != nil {
			return fmt.Errorf("failed to list alerts: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(alerts)
		}

		if len(alerts) == 0 {
			output.Info("No alerts found")
			return nil
		}

		table := output.NewTable([]string{"ID", "Severity", "Category", "Title", "Status", "Created"})
		for _, alert := range alerts {
			table.AddRow([]string{
				alert.ID,
				alert.Severity,
				alert.Category,
				alert.Title,
				alert.Status,
				alert.CreatedAt.Format("2006-01-02 15:04"),
			})
		}
		table.Render()

		return nil
	},
}

var alertsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show alert details",
	Long:  "Show an alert's classification and the event that produced it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		alert, err := api.GetAlert(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get alert: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(alert)
		}

		output.Info("Alert ID: %s", alert.ID)
		output.Info("Severity: %s", alert.Severity)
		output.Info("Category: %s", alert.Category)
		output.Info("Title: %s", alert.Title)
		if alert.Message != "" {
			output.Info("Message: %s", alert.Message)
		}
		output.Info("Status: %s", alert.Status)
		output.Info("Created: %s", alert.CreatedAt.Format("2006-01-02 15:04:05"))

		if alert.ResolvedAt != nil {
			output.Info("Resolved: %s by %s", alert.ResolvedAt.Format("2006-01-02 15:04:05"), alert.ResolvedBy)
		}

		if alert.SourceEvent != nil {
			output.Info("\nSource event:")
			output.Info("  ID: %s", alert.SourceEvent.ID)
			output.Info("  Type: %s", alert.SourceEvent.Type)
			output.Info("  From: %s", alert.SourceEvent.SourceModule)
		}

		return nil
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "Resolve an alert",
	Long:  "Mark an open alert as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		resolvedBy, _ := cmd.Flags().GetString("by")

		alert, err := api.ResolveAlert(cmd.Context(), args[0], resolvedBy)
		if err != nil {
			return fmt.Errorf("failed to resolve alert: %w", err)
		}

		output.Success("Alert %s resolved", alert.ID)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsShowCmd)
	alertsCmd.AddCommand(alertsResolveCmd)

	alertsListCmd.Flags().String("status", "", "Filter by status (open, resolved)")
	alertsListCmd.Flags().StringP("severity", "s", "", "Filter by severity (low, medium, high, critical)")
	alertsListCmd.Flags().StringP("category", "c", "", "Filter by category")
	alertsListCmd.Flags().IntP("limit", "l", 0, "Maximum alerts to return")

	alertsResolveCmd.Flags().String("by", "operator", "Who resolved the alert")
}
