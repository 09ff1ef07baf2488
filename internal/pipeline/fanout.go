package pipeline

import (
	"context"
	"fmt"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/models"
)

// stageNotices builds the envelopes announcing that an item entered its
// current stage. Every stage change notifies the executive dashboard;
// handoff and completion additionally brief the downstream modules.
func (s *Service) stageNotices(item *models.PipelineItem, actor string) []*events.Envelope {
	notices := []*events.Envelope{
		events.New(events.KindPipelineUpdated, s.self, events.ModuleExecutive, map[string]interface{}{
			"title":          fmt.Sprintf("Pipeline Update: %s", item.Name),
			"message":        fmt.Sprintf("Product %q moved to %s", item.Name, item.CurrentStage),
			"pipelineItemId": item.ID,
			"stage":          item.CurrentStage,
			"actor":          actor,
		}),
	}

	switch item.CurrentStage {
	case models.StageHandoff:
		notices = append(notices,
			events.New(events.KindTechPackReady, s.self, events.ModuleOperations, map[string]interface{}{
				"title":          fmt.Sprintf("Tech Pack Ready: %s", item.Name),
				"message":        fmt.Sprintf("Tech pack for %s is ready for production", item.Name),
				"pipelineItemId": item.ID,
				"name":           item.Name,
			}),
			events.New(events.KindPatternReady, s.self, events.ModuleOperations, map[string]interface{}{
				"title":          fmt.Sprintf("Pattern Ready: %s", item.Name),
				"message":        fmt.Sprintf("Production pattern for %s is ready", item.Name),
				"pipelineItemId": item.ID,
				"name":           item.Name,
			}),
			events.New(events.KindProductRecommendation, s.self, events.ModuleMarketing, map[string]interface{}{
				"title":          fmt.Sprintf("New Product Launch: %s", item.Name),
				"message":        fmt.Sprintf("Prepare marketing for %s", item.Name),
				"pipelineItemId": item.ID,
				"name":           item.Name,
				"description":    item.Description,
			}),
			events.New(events.KindDemandForecast, s.self, events.ModuleFinance, map[string]interface{}{
				"title":          fmt.Sprintf("Budget Request: %s", item.Name),
				"message":        fmt.Sprintf("Forecast demand and reserve production budget for %s", item.Name),
				"pipelineItemId": item.ID,
				"name":           item.Name,
			}),
		)
	case models.StageComplete:
		notices = append(notices,
			events.New(events.KindProductApprovedForProduction, s.self, events.ModuleOperations, map[string]interface{}{
				"title":          fmt.Sprintf("Production Approved: %s", item.Name),
				"message":        fmt.Sprintf("Product %q approved for production. Submit purchase orders.", item.Name),
				"pipelineItemId": item.ID,
				"name":           item.Name,
			}),
			events.New(events.KindProductBudgetAllocated, s.self, events.ModuleFinance, map[string]interface{}{
				"title":          fmt.Sprintf("Budget Allocation: %s", item.Name),
				"message":        fmt.Sprintf("Allocate production budget for %s", item.Name),
				"pipelineItemId": item.ID,
				"name":           item.Name,
			}),
			events.New(events.KindProductLaunchScheduled, s.self, events.ModuleMarketing, map[string]interface{}{
				"title":          fmt.Sprintf("Product Launch: %s", item.Name),
				"message":        fmt.Sprintf("Schedule marketing campaigns for %s", item.Name),
				"pipelineItemId": item.ID,
				"name":           item.Name,
			}),
		)
	}

	return notices
}

// requestNotice builds the reader-facing part of a validation request
// payload so the answering module can surface it without a lookup.
func requestNotice(requestType string, item *models.PipelineItem) map[string]interface{} {
	switch requestType {
	case models.ValidationMarginCheck:
		return map[string]interface{}{
			"title":   fmt.Sprintf("Margin Check: %s", item.Name),
			"message": fmt.Sprintf("Please validate margins for %s", item.Name),
			"name":    item.Name,
		}
	case models.ValidationCapacityCheck:
		return map[string]interface{}{
			"title":   fmt.Sprintf("Capacity Check: %s", item.Name),
			"message": fmt.Sprintf("Please check production capacity for %s", item.Name),
			"name":    item.Name,
		}
	case models.ValidationProductApproval:
		return map[string]interface{}{
			"title":   fmt.Sprintf("Approval Requested: %s", item.Name),
			"message": fmt.Sprintf("Please review %s for production approval", item.Name),
			"name":    item.Name,
		}
	}
	return nil
}

// notifyStageChange publishes the stage notices. Delivery failures raise
// alerts inside the transport and never roll back the transition.
func (s *Service) notifyStageChange(ctx context.Context, item *models.PipelineItem, actor string) {
	for _, env := range s.stageNotices(item, actor) {
		if err := s.bus.Publish(ctx, env); err != nil {
			s.logger.WarnContext(ctx, "Stage notice undelivered",
				"item_id", item.ID,
				"stage", item.CurrentStage,
				"type", env.Type,
				"error", err)
		}
	}
}
