// Package correlation tracks dispatched capability requests so each callback is
// applied at most once.
package correlation

import (
	"time"

	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
)

// Record links a correlation id to the work it was issued for.
type Record struct {
	CorrelationID id.CorrelationID  `json:"correlationId"`
	WorkflowID    id.WorkflowID     `json:"workflowId"`
	Capability    models.Capability `json:"capability"`
	DispatchedAt  time.Time         `json:"dispatchedAt"`
	Resolved      bool              `json:"resolved"`
	ResolvedAt    *time.Time        `json:"resolvedAt,omitempty"`
}
