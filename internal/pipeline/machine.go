// Package pipeline owns the product-development state machine: a fixed
// forward stage progression with validation gates, per-item serialization,
// and stage-change notifications to the other organizational modules.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/loomline-systems/loomline/internal/models"
)

var (
	// ErrInvalidTransition indicates an illegal stage change. Nothing is
	// mutated when it is returned.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrValidationRejected indicates a gating validation was rejected or
	// timed out. The item stays put until a human clears it.
	ErrValidationRejected = errors.New("validation rejected")
)

// stageGates lists the validations that must be approved before an item may
// advance past a stage.
var stageGates = map[string][]string{
	models.StageValidation: {models.ValidationMarginCheck, models.ValidationCapacityCheck},
	models.StageApproval:   {models.ValidationProductApproval},
}

// RequiredValidations returns the validation request types gating a stage.
// Ungated stages return nil.
func RequiredValidations(stage string) []string {
	return stageGates[stage]
}

// NextStage returns the sole legal successor of a stage. Terminal and
// unknown stages have none.
func NextStage(current string) (string, error) {
	if models.IsTerminalStage(current) {
		return "", fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current)
	}
	idx := models.StageIndex(current)
	if idx < 0 {
		return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, current)
	}
	return models.StageOrder[idx+1], nil
}

// missingApprovals returns the gate validations for the item's current stage
// that have not been approved yet.
func missingApprovals(item *models.PipelineItem) []string {
	var missing []string
	for _, requestType := range RequiredValidations(item.CurrentStage) {
		if !containsString(item.Approvals, requestType) {
			missing = append(missing, requestType)
		}
	}
	return missing
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func removeString(list []string, drop string) []string {
	out := list[:0]
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
