package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/output"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Product pipeline management",
	Long:  "Create, inspect, and move product development items through the pipeline",
}

var pipelineCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a pipeline item",
	Long:  "Promote a product idea into the pipeline at the discovery stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		description, _ := cmd.Flags().GetString("description")
		actor, _ := cmd.Flags().GetString("actor")

		item, err := api.CreateItem(cmd.Context(), &models.CreateItemRequest{
			Name:        args[0],
			Description: description,
			Actor:       actor,
		})
		if err != nil {
			return fmt.Errorf("failed to create item: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(item)
		}

		output.Success("Item created: %s", item.Name)
		output.Info("ID: %s", item.ID)
		output.Info("Stage: %s", item.CurrentStage)

		return nil
	},
}

var pipelineListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pipeline items",
	Long:    "List pipeline items, optionally filtered by stage or blocked state",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		stage, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")

		var blocked *bool
		if cmd.Flags().Changed("blocked") {
			b, _ := cmd.Flags().GetBool("blocked")
			blocked = &b
		}

		items, err := api.ListItems(cmd.Context(), stage, blocked, limit)
		if err != nil {
			return fmt.Errorf("failed to list items: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(items)
		}

		if len(items) == 0 {
			output.Info("No pipeline items found")
			return nil
		}

		table := output.NewTable([]string{"ID", "Name", "Stage", "Blocked", "Pending", "Updated"})
		for _, item := range items {
			blockedCell := ""
			if item.Blocked {
				blockedCell = "yes"
			}

			pending := ""
			if n := len(item.PendingValidationIDs); n > 0 {
				pending = fmt.Sprintf("%d", n)
			}

			table.AddRow([]string{
				item.ID,
				item.Name,
				item.CurrentStage,
				blockedCell,
				pending,
				item.UpdatedAt.Format("2006-01-02 15:04"),
			})
		}
		table.Render()

		return nil
	},
}

var pipelineShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show pipeline item details",
	Long:  "Show an item's stage, gate state, and full stage history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		item, err := api.GetItem(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get item: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(item)
		}

		output.Info("Item ID: %s", item.ID)
		output.Info("Name: %s", item.Name)
		if item.Description != "" {
			output.Info("Description: %s", item.Description)
		}
		output.Info("Stage: %s", item.CurrentStage)
		output.Info("Created: %s", item.CreatedAt.Format("2006-01-02 15:04:05"))
		output.Info("Updated: %s", item.UpdatedAt.Format("2006-01-02 15:04:05"))

		if item.Blocked {
			output.Warn("Blocked: %s", item.BlockedReason)
		}
		if len(item.PendingValidationIDs) > 0 {
			output.Info("Pending validations: %d", len(item.PendingValidationIDs))
		}
		if len(item.Approvals) > 0 {
			output.Info("Approvals: %v", item.Approvals)
		}
		if len(item.Rejections) > 0 {
			output.Info("Rejections: %v", item.Rejections)
		}

		output.Info("\nStage history:")
		table := output.NewTable([]string{"Stage", "Entered", "Actor", "Override", "Note"})
		for _, tr := range item.StageHistory {
			override := ""
			if tr.Override {
				override = "yes"
			}
			table.AddRow([]string{
				tr.Stage,
				tr.EnteredAt.Format("2006-01-02 15:04"),
				tr.Actor,
				override,
				tr.Note,
			})
		}
		table.Render()

		return nil
	},
}

var pipelineAdvanceCmd = &cobra.Command{
	Use:   "advance [id]",
	Short: "Advance an item to the next stage",
	Long:  "Move an item forward one stage, issuing validation requests at gated stages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		actor, _ := cmd.Flags().GetString("actor")

		item, err := api.AdvanceItem(cmd.Context(), args[0], actor)
		if err != nil {
			return fmt.Errorf("failed to advance item: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(item)
		}

		output.Success("Item %s advanced to %s", item.ID, item.CurrentStage)
		if len(item.PendingValidationIDs) > 0 {
			output.Info("Waiting on %d validation request(s)", len(item.PendingValidationIDs))
		}

		return nil
	},
}

var pipelineCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a pipeline item",
	Long:  "Move an item to the cancelled stage from anywhere in the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		actor, _ := cmd.Flags().GetString("actor")
		reason, _ := cmd.Flags().GetString("reason")

		item, err := api.CancelItem(cmd.Context(), args[0], actor, reason)
		if err != nil {
			return fmt.Errorf("failed to cancel item: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(item)
		}

		output.Success("Item %s cancelled", item.ID)

		return nil
	},
}

var pipelineSetStageCmd = &cobra.Command{
	Use:   "set-stage [id] [stage]",
	Short: "Move an item to an arbitrary stage",
	Long:  "Administrative override that records the move in the stage history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		actor, _ := cmd.Flags().GetString("actor")
		note, _ := cmd.Flags().GetString("note")

		item, err := api.SetItemStage(cmd.Context(), args[0], args[1], actor, note)
		if err != nil {
			return fmt.Errorf("failed to set stage: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(item)
		}

		output.Success("Item %s moved to %s", item.ID, item.CurrentStage)

		return nil
	},
}

var pipelineClearCmd = &cobra.Command{
	Use:   "clear [id]",
	Short: "Clear a blocked item",
	Long:  "Acknowledge a rejection or timeout so the item can try the gate again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		actor, _ := cmd.Flags().GetString("actor")

		item, err := api.ClearItem(cmd.Context(), args[0], actor)
		if err != nil {
			return fmt.Errorf("failed to clear item: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(item)
		}

		output.Success("Item %s cleared", item.ID)
		output.Info("Stage: %s", item.CurrentStage)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.AddCommand(pipelineCreateCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineShowCmd)
	pipelineCmd.AddCommand(pipelineAdvanceCmd)
	pipelineCmd.AddCommand(pipelineCancelCmd)
	pipelineCmd.AddCommand(pipelineSetStageCmd)
	pipelineCmd.AddCommand(pipelineClearCmd)

	pipelineCreateCmd.Flags().StringP("description", "d", "", "Item description")
	pipelineCreateCmd.Flags().StringP("actor", "a", "operator", "Acting user recorded in the stage history")

	pipelineListCmd.Flags().StringP("stage", "s", "", "Filter by stage")
	pipelineListCmd.Flags().Bool("blocked", false, "Filter by blocked state (--blocked=false for unblocked)")
	pipelineListCmd.Flags().IntP("limit", "l", 0, "Maximum items to return")

	pipelineAdvanceCmd.Flags().StringP("actor", "a", "operator", "Acting user recorded in the stage history")

	pipelineCancelCmd.Flags().StringP("actor", "a", "operator", "Acting user recorded in the stage history")
	pipelineCancelCmd.Flags().StringP("reason", "r", "", "Cancellation reason")

	pipelineSetStageCmd.Flags().StringP("actor", "a", "operator", "Acting user recorded in the stage history")
	pipelineSetStageCmd.Flags().String("note", "", "Note recorded with the override")

	pipelineClearCmd.Flags().StringP("actor", "a", "operator", "Acting user recorded in the stage history")
}
