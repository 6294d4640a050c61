// Package models holds the wire schemas accepted by the signal ingress and the
// caller identity used to authorize them.
package models

import (
	"encoding/json"

	id "onboarding/pkg/domain"
)

// Caller is what the transport established about who sent a signal.
type Caller struct {
	// UserID is the authenticated operator, nil when the request carried no session.
	UserID id.UserID
	// SignatureValid is set when the body carried a valid webhook signature or secret.
	SignatureValid bool
	// Trusted marks internal transports such as the resume topic consumer.
	Trusted bool
}

func (c Caller) Authenticated() bool {
	return !c.UserID.IsNil()
}

// HumanBody is an operator decision.
//
//	{"signalName":"quote_approval","payload":{"decision":"APPROVED","reason":"...","notes":"..."}}
type HumanBody struct {
	SignalName string       `json:"signalName"`
	Payload    HumanPayload `json:"payload"`
}

type HumanPayload struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// AgentBody is a provider decision posted directly to the workflow.
//
//	{"workflowId":"...","decision":{"outcome":"APPROVED","reason":"..."},"agentId":"risk-v2"}
type AgentBody struct {
	WorkflowID    string        `json:"workflowId"`
	Decision      AgentDecision `json:"decision"`
	AgentID       string        `json:"agentId"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

type AgentDecision struct {
	Outcome   string   `json:"outcome"`
	Reason    string   `json:"reason,omitempty"`
	RiskScore *float64 `json:"riskScore,omitempty"`
	Anomalies []string `json:"anomalies,omitempty"`
}

// ResumeMessage is the record shape on the resume topic. Body is either schema.
type ResumeMessage struct {
	WorkflowID string          `json:"workflowId"`
	Body       json.RawMessage `json:"body"`
}
