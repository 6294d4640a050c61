package models

import (
	"maps"
	"time"

	id "onboarding/pkg/domain"
)

// EventType is the closed set of audit event kinds.
type EventType string

const (
	EventWorkflowStarted    EventType = "workflow_started"
	EventStageChange        EventType = "stage_change"
	EventAgentDispatch      EventType = "agent_dispatch"
	EventAgentCallback      EventType = "agent_callback"
	EventHumanOverride      EventType = "human_override"
	EventTimeout            EventType = "timeout"
	EventError              EventType = "error"
	EventKillSwitchExecuted EventType = "kill_switch_executed"
	EventSignalAnomaly      EventType = "signal_anomaly"
	EventFormIssued         EventType = "form_issued"
	EventFormSubmitted      EventType = "form_submitted"
	EventWorkflowArchived   EventType = "workflow_archived"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventWorkflowStarted, EventStageChange, EventAgentDispatch, EventAgentCallback,
		EventHumanOverride, EventTimeout, EventError, EventKillSwitchExecuted,
		EventSignalAnomaly, EventFormIssued, EventFormSubmitted, EventWorkflowArchived:
		return true
	}
	return false
}

// ActorType identifies who caused an event.
type ActorType string

const (
	ActorSystem    ActorType = "system"
	ActorUser      ActorType = "user"
	ActorAgent     ActorType = "agent"
	ActorApplicant ActorType = "applicant"
)

func (a ActorType) IsValid() bool {
	switch a {
	case ActorSystem, ActorUser, ActorAgent, ActorApplicant:
		return true
	}
	return false
}

// Event is one immutable entry of a workflow's audit trail.
// Sequence and Timestamp are assigned on append: sequence is gapless per
// workflow and timestamps never decrease within a workflow.
type Event struct {
	ID         id.EventID     `json:"id"`
	WorkflowID id.WorkflowID  `json:"workflowId"`
	Sequence   int64          `json:"sequence"`
	Type       EventType      `json:"eventType"`
	Payload    map[string]any `json:"payload"`
	ActorType  ActorType      `json:"actorType"`
	ActorID    string         `json:"actorId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Clone copies the event with a shallow copy of its payload.
func (e *Event) Clone() *Event {
	c := *e
	c.Payload = maps.Clone(e.Payload)
	return &c
}

// StringField reads a string payload value.
func (e *Event) StringField(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
