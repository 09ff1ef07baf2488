package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/output"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Event journal and publishing",
	Long:  "Inspect the cross-module event journal and publish envelopes by hand",
}

var eventsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List journaled events",
	Long:    "List sent and received envelopes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		direction, _ := cmd.Flags().GetString("direction")
		module, _ := cmd.Flags().GetString("module")
		eventType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := api.ListEvents(cmd.Context(), &models.ListJournalRequest{
			Direction: direction,
			Module:    module,
			EventType: eventType,
			Limit:     limit,
		})
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(entries)
		}

		if len(entries) == 0 {
			output.Info("No journaled events found")
			return nil
		}

		table := output.NewTable([]string{"Time", "Direction", "Module", "Type", "Status", "Envelope"})
		for _, entry := range entries {
			table.AddRow([]string{
				entry.CreatedAt.Format("2006-01-02 15:04:05"),
				entry.Direction,
				entry.Module,
				entry.EventType,
				entry.Status,
				entry.EnvelopeID,
			})
		}
		table.Render()

		return nil
	},
}

var eventsPublishCmd = &cobra.Command{
	Use:   "publish [type]",
	Short: "Publish an event envelope",
	Long:  "Publish an envelope through the module's delivery pipeline, broadcast or targeted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		target, _ := cmd.Flags().GetString("target")
		payloadJSON, _ := cmd.Flags().GetString("payload")

		var payload map[string]interface{}
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}
		}

		id, err := api.PublishEvent(cmd.Context(), &models.PublishEventRequest{
			Type:         args[0],
			TargetModule: target,
			Payload:      payload,
		})
		if err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}

		output.Success("Event published")
		output.Info("Envelope ID: %s", id)
		if target == "" {
			output.Info("Delivery: broadcast")
		} else {
			output.Info("Delivery: %s", target)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsPublishCmd)

	eventsListCmd.Flags().StringP("direction", "d", "", "Filter by direction (outbound, inbound)")
	eventsListCmd.Flags().StringP("module", "m", "", "Filter by counterpart module")
	eventsListCmd.Flags().StringP("type", "t", "", "Filter by event type")
	eventsListCmd.Flags().IntP("limit", "l", 0, "Maximum entries to return")

	eventsPublishCmd.Flags().StringP("target", "t", "", "Target module (empty broadcasts to all counterparts)")
	eventsPublishCmd.Flags().StringP("payload", "p", "", "Payload as a JSON object")
}
