package cli

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/output"
	"github.com/loomline-systems/loomline/internal/webhook"
)

// seedTokenTTL matches the server's default delivery token lifetime.
const seedTokenTTL = 2 * time.Minute

// seedGenerator fabricates one kind of inbound counterpart event.
type seedGenerator struct {
	source  string
	kind    string
	payload func() map[string]interface{}
}

var seedGenerators = []seedGenerator{
	{
		source: events.ModuleFinance,
		kind:   events.KindSalesDataUpdated,
		payload: func() map[string]interface{} {
			category := gofakeit.ProductCategory()
			return map[string]interface{}{
				"title":     "Weekly sales refresh",
				"message":   fmt.Sprintf("Sales data refreshed for %s", category),
				"category":  category,
				"unitsSold": gofakeit.Number(120, 4800),
				"revenue":   gofakeit.Price(10000, 250000),
			}
		},
	},
	{
		source: events.ModuleFinance,
		kind:   events.KindFinancialReport,
		payload: func() map[string]interface{} {
			return map[string]interface{}{
				"title":       "Quarterly financial report",
				"message":     "Margin summary for the quarter",
				"quarter":     fmt.Sprintf("Q%d", gofakeit.Number(1, 4)),
				"grossMargin": gofakeit.Float64Range(0.32, 0.61),
			}
		},
	},
	{
		source: events.ModuleOperations,
		kind:   events.KindInventoryUpdated,
		payload: func() map[string]interface{} {
			product := gofakeit.ProductName()
			return map[string]interface{}{
				"title":   "Inventory levels updated",
				"message": fmt.Sprintf("Warehouse count updated for %s", product),
				"sku":     fmt.Sprintf("SKU-%d", gofakeit.Number(10000, 99999)),
				"onHand":  gofakeit.Number(0, 1200),
			}
		},
	},
	{
		source: events.ModuleMarketing,
		kind:   events.KindCampaignPerformance,
		payload: func() map[string]interface{} {
			return map[string]interface{}{
				"title":            "Campaign performance report",
				"message":          fmt.Sprintf("Results for the %s launch", gofakeit.ProductName()),
				"campaign":         fmt.Sprintf("%s launch", gofakeit.ProductName()),
				"clickThroughRate": gofakeit.Float64Range(0.4, 9.5),
				"conversions":      gofakeit.Number(25, 4000),
			}
		},
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a server with generated data",
	Long: `Populate a development server with generated pipeline items and inbound
counterpart events.

Inbound events are delivered through the fallback webhook, impersonating
finance, operations, and marketing, so the profile needs the org webhook
secret.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := apiClient(cmd)
		if err != nil {
			return err
		}

		itemCount, _ := cmd.Flags().GetInt("items")
		eventCount, _ := cmd.Flags().GetInt("events")

		health, err := api.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}

		gofakeit.Seed(time.Now().UnixNano())

		created := 0
		for i := 0; i < itemCount; i++ {
			item, err := api.CreateItem(cmd.Context(), &models.CreateItemRequest{
				Name:        gofakeit.ProductName(),
				Description: gofakeit.ProductDescription(),
				Actor:       "seed",
			})
			if err != nil {
				return fmt.Errorf("failed to create item %d of %d: %w", i+1, itemCount, err)
			}
			output.Info("Created item %s (%s)", item.ID, item.Name)
			created++
		}

		delivered := 0
		if eventCount > 0 {
			p, err := activeProfile(cmd)
			if err != nil {
				return fmt.Errorf("seeding inbound events needs a profile: %w", err)
			}
			if p.WebhookSecret == "" {
				return fmt.Errorf("profile has no webhook secret (run 'loomctl profile set' with --webhook-secret)")
			}

			signers := make(map[string]*webhook.TokenSigner)
			for i := 0; i < eventCount; i++ {
				gen := seedGenerators[gofakeit.Number(0, len(seedGenerators)-1)]

				signer, ok := signers[gen.source]
				if !ok {
					signer = webhook.NewTokenSigner(p.WebhookSecret, gen.source, seedTokenTTL)
					signers[gen.source] = signer
				}

				token, err := signer.Sign(health.Service)
				if err != nil {
					return fmt.Errorf("failed to mint delivery token: %w", err)
				}

				env := events.New(gen.kind, gen.source, health.Service, gen.payload())
				status, err := api.ReceiveEvent(cmd.Context(), env, token)
				if err != nil {
					return fmt.Errorf("failed to deliver %s: %w", gen.kind, err)
				}
				output.Info("Delivered %s from %s (%s)", gen.kind, gen.source, status)
				delivered++
			}
		}

		output.Success("Seeded %d pipeline items and %d inbound events", created, delivered)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntP("items", "i", 5, "Pipeline items to create")
	seedCmd.Flags().IntP("events", "e", 10, "Inbound events to deliver")
}
