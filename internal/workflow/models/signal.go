package models

import (
	"time"

	id "onboarding/pkg/domain"
)

// Origin identifies where a canonical signal was produced.
type Origin string

const (
	OriginHuman Origin = "human"
	OriginAgent Origin = "agent"
)

// Outcome is the canonical decision value.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

func (o Outcome) IsValid() bool {
	return o == OutcomeApproved || o == OutcomeRejected
}

// Decision is the normalized content of a human or agent signal.
type Decision struct {
	Outcome   Outcome  `json:"outcome"`
	Reason    string   `json:"reason,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	RiskScore *float64 `json:"riskScore,omitempty"`
	Anomalies []string `json:"anomalies,omitempty"`
}

// Signal is the canonical form of any trigger that may resume a wait.
type Signal struct {
	Name          string           `json:"signalName"`
	Origin        Origin           `json:"origin"`
	WorkflowID    id.WorkflowID    `json:"workflowId"`
	CorrelationID id.CorrelationID `json:"correlationId,omitempty"`
	Decision      Decision         `json:"decision"`
	ActorID       string           `json:"actorId,omitempty"`
	ReceivedAt    time.Time        `json:"receivedAt"`

	// EventID is set once ingress has appended the audit event for this signal.
	EventID id.EventID `json:"eventId"`
	// Claimed marks an agent signal whose correlation was already resolved by
	// the ingress that produced it.
	Claimed bool `json:"-"`
}

// SignalOutcome reports what HandleSignal did with a signal. SignalDuplicate
// marks a redelivery of an agent correlation that was already applied.
type SignalOutcome string

const (
	SignalApplied   SignalOutcome = "applied"
	SignalIgnored   SignalOutcome = "ignored"
	SignalTimedOut  SignalOutcome = "timed_out"
	SignalDuplicate SignalOutcome = "duplicate"
)

// SignalResult is returned by HandleSignal.
type SignalResult struct {
	Outcome  SignalOutcome `json:"outcome"`
	Anomaly  string        `json:"anomaly,omitempty"`
	Workflow *Workflow     `json:"-"`
}

// DispatchRequest is handed to the agent gateway once the dispatch wait is durable.
type DispatchRequest struct {
	WorkflowID    id.WorkflowID    `json:"workflowId"`
	Capability    Capability       `json:"capability"`
	CorrelationID id.CorrelationID `json:"correlationId"`
	Payload       map[string]any   `json:"payload,omitempty"`
	Deadline      time.Time        `json:"deadline"`
}
