package models

import (
	"time"

	id "onboarding/pkg/domain"
)

// Kind classifies a notification for operators.
type Kind string

const (
	KindDispatchError     Kind = "dispatch_error"
	KindTimeout           Kind = "timeout"
	KindKillSwitch        Kind = "kill_switch"
	KindAgentRejection    Kind = "agent_rejection"
	KindHumanRejection    Kind = "human_rejection"
	KindWorkflowCompleted Kind = "workflow_completed"
)

// Notification is an operator-facing alert derived from the audit trail.
// It never changes event history; only Read may flip after creation.
type Notification struct {
	ID         id.NotificationID `json:"id"`
	WorkflowID id.WorkflowID     `json:"workflowId"`
	EventID    *id.EventID       `json:"eventId,omitempty"`
	Kind       Kind              `json:"type"`
	Message    string            `json:"message"`
	Read       bool              `json:"read"`
	Actionable bool              `json:"actionable"`
	CreatedAt  time.Time         `json:"createdAt"`
}
