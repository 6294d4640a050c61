package models

import (
	"regexp"
	"time"

	id "onboarding/pkg/domain"
)

// Well-known signal names.
const (
	SignalAgentCallback = "agent_callback"
	SignalQuoteApproval = "quote_approval"
	SignalRiskDecision  = "risk_decision"
	SignalManualReview  = "manual_review"
)

var signalNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// IsHumanGate reports whether the signal is delivered by an operator decision.
func IsHumanGate(signalName string) bool {
	switch signalName {
	case SignalQuoteApproval, SignalRiskDecision, SignalManualReview:
		return true
	}
	return false
}

// ValidSignalName reports whether name can be awaited.
func ValidSignalName(name string) bool {
	return signalNamePattern.MatchString(name)
}

// WaitKind says who is expected to resolve a pending wait.
type WaitKind string

const (
	WaitKindAgent    WaitKind = "agent"
	WaitKindHuman    WaitKind = "human"
	WaitKindExternal WaitKind = "external"
)

// PendingWait is the persisted suspension marker of a saga. Resumption is
// driven by a matching signal or by the deadline sweep; nothing is held in memory.
type PendingWait struct {
	SignalName    string           `json:"signalName"`
	Kind          WaitKind         `json:"kind"`
	CorrelationID id.CorrelationID `json:"correlationId,omitempty"`
	Capability    Capability       `json:"capability,omitempty"`
	Deadline      time.Time        `json:"deadline"`
	ResumeStage   Stage            `json:"resumeStage"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Expired reports whether the deadline has passed at now.
func (w *PendingWait) Expired(now time.Time) bool {
	return w != nil && !now.Before(w.Deadline)
}

// WaitOutcome records how a wait episode ended.
type WaitOutcome string

const (
	WaitOutcomeResolved WaitOutcome = "resolved"
	WaitOutcomeTimeout  WaitOutcome = "timeout"
	WaitOutcomeKilled   WaitOutcome = "killed"
)

// CancelledWait is returned when a wait is resolved by termination.
type CancelledWait struct {
	PendingWait
	Outcome WaitOutcome `json:"outcome"`
}
