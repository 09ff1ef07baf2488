package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/output"
)

var validationsCmd = &cobra.Command{
	Use:   "validations",
	Short: "Pending validation management",
	Long:  "List validation requests waiting on counterpart modules and record verdicts",
}

var validationsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pending validations",
	Long:    "List validation requests still waiting for a counterpart verdict",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		validations, err := api.ListValidations(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list validations: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(validations)
		}

		if len(validations) == 0 {
			output.Info("No pending validations")
			return nil
		}

		table := output.NewTable([]string{"Correlation", "Item", "Type", "Issued", "Deadline"})
		for _, v := range validations {
			table.AddRow([]string{
				v.CorrelationID,
				v.PipelineItemID,
				v.RequestType,
				v.IssuedAt.Format("2006-01-02 15:04"),
				v.Deadline.Format("2006-01-02 15:04"),
			})
		}
		table.Render()

		return nil
	},
}

var validationsRespondCmd = &cobra.Command{
	Use:   "respond [correlation-id]",
	Short: "Record a validation verdict",
	Long:  "Resolve a pending validation by hand when the counterpart module answered out of band",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve, _ := cmd.Flags().GetBool("approve")
		reject, _ := cmd.Flags().GetBool("reject")
		if approve == reject {
			return fmt.Errorf("exactly one of --approve or --reject is required")
		}

		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		reason, _ := cmd.Flags().GetString("reason")
		respondedBy, _ := cmd.Flags().GetString("by")

		err = api.RespondValidation(cmd.Context(), args[0], &models.ValidationResponseRequest{
			Approved:    approve,
			Reason:      reason,
			RespondedBy: respondedBy,
		})
		if err != nil {
			return fmt.Errorf("failed to respond: %w", err)
		}

		if approve {
			output.Success("Validation %s approved", args[0])
		} else {
			output.Success("Validation %s rejected", args[0])
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(validationsCmd)
	validationsCmd.AddCommand(validationsListCmd)
	validationsCmd.AddCommand(validationsRespondCmd)

	validationsRespondCmd.Flags().Bool("approve", false, "Record an approval")
	validationsRespondCmd.Flags().Bool("reject", false, "Record a rejection")
	validationsRespondCmd.Flags().String("reason", "", "Verdict reason")
	validationsRespondCmd.Flags().String("by", "", "Who answered (defaults to the operator)")
}
