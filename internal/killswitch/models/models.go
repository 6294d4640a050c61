// Package models holds the kill switch reason set and execution result.
package models

import "time"

type Reason string

const (
	ReasonFraudSuspected       Reason = "fraud_suspected"
	ReasonComplianceBreach     Reason = "compliance_breach"
	ReasonApplicantWithdrawn   Reason = "applicant_withdrawn"
	ReasonDuplicateApplication Reason = "duplicate_application"
	ReasonOperatorError        Reason = "operator_error"
	ReasonOther                Reason = "other"
)

var Reasons = []Reason{
	ReasonFraudSuspected,
	ReasonComplianceBreach,
	ReasonApplicantWithdrawn,
	ReasonDuplicateApplication,
	ReasonOperatorError,
	ReasonOther,
}

func (r Reason) IsValid() bool {
	for _, known := range Reasons {
		if r == known {
			return true
		}
	}
	return false
}

// AffectedResources reports what cleanup achieved. Termination stands even
// when cleanup was partial.
// FormRevocationError is set when the open forms could not be enumerated; the
// counts then do not cover every form of the workflow.
type AffectedResources struct {
	FormsRevoked           int    `json:"formsRevoked"`
	FormRevocationFailures int    `json:"formRevocationFailures"`
	FormRevocationError    string `json:"formRevocationError,omitempty"`
	WaitCancelled          bool   `json:"waitCancelled"`
	AlertDelivered         bool   `json:"alertDelivered"`
}

type Result struct {
	TerminatedAt      time.Time         `json:"terminatedAt"`
	AffectedResources AffectedResources `json:"affectedResources"`
}
