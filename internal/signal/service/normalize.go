package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	signalmodels "onboarding/internal/signal/models"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	platformstrings "onboarding/pkg/platform/strings"
)

const maxRiskScore = 100

type fieldErrors []dErrors.FieldError

func (f *fieldErrors) add(field, msg string) {
	*f = append(*f, dErrors.FieldError{Field: field, Message: msg})
}

// Normalize maps a raw ingress body onto a canonical signal. The human schema
// is tried first, then the agent schema; fields are matched strictly. When
// neither matches, the returned error carries both schemas' field errors.
func Normalize(workflowID id.WorkflowID, raw []byte, receivedAt time.Time) (*models.Signal, error) {
	sig, humanErrs := normalizeHuman(workflowID, raw)
	if len(humanErrs) == 0 {
		sig.ReceivedAt = receivedAt.UTC()
		return sig, nil
	}
	sig, agentErrs := normalizeAgent(workflowID, raw)
	if len(agentErrs) == 0 {
		sig.ReceivedAt = receivedAt.UTC()
		return sig, nil
	}
	return nil, dErrors.WithDetails(dErrors.CodeUnrecognizedSignal, "signal body matches no known schema",
		map[string][]dErrors.FieldError{
			"human": humanErrs,
			"agent": agentErrs,
		})
}

func normalizeHuman(workflowID id.WorkflowID, raw []byte) (*models.Signal, fieldErrors) {
	var body signalmodels.HumanBody
	if errs := decodeStrict(raw, &body); len(errs) > 0 {
		return nil, errs
	}
	var errs fieldErrors
	name := strings.TrimSpace(body.SignalName)
	switch {
	case name == "":
		errs.add("signalName", "is required")
	case !models.ValidSignalName(name):
		errs.add("signalName", "must be lower snake case")
	}
	outcome, ok := parseOutcome(body.Payload.Decision)
	if !ok {
		errs.add("payload.decision", "must be APPROVED or REJECTED")
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &models.Signal{
		Name:       name,
		Origin:     models.OriginHuman,
		WorkflowID: workflowID,
		Decision: models.Decision{
			Outcome: outcome,
			Reason:  strings.TrimSpace(body.Payload.Reason),
			Notes:   strings.TrimSpace(body.Payload.Notes),
		},
	}, nil
}

func normalizeAgent(workflowID id.WorkflowID, raw []byte) (*models.Signal, fieldErrors) {
	var body signalmodels.AgentBody
	if errs := decodeStrict(raw, &body); len(errs) > 0 {
		return nil, errs
	}
	var errs fieldErrors
	if body.WorkflowID == "" {
		errs.add("workflowId", "is required")
	} else if parsed, err := id.ParseWorkflowID(body.WorkflowID); err != nil {
		errs.add("workflowId", "must be a UUID")
	} else if parsed != workflowID {
		errs.add("workflowId", "does not match the addressed workflow")
	}
	outcome, ok := parseOutcome(body.Decision.Outcome)
	if !ok {
		errs.add("decision.outcome", "must be APPROVED or REJECTED")
	}
	if strings.TrimSpace(body.AgentID) == "" {
		errs.add("agentId", "is required")
	}
	if s := body.Decision.RiskScore; s != nil && (*s < 0 || *s > maxRiskScore) {
		errs.add("decision.riskScore", fmt.Sprintf("must be between 0 and %d", maxRiskScore))
	}
	var correlationID id.CorrelationID
	if body.CorrelationID != "" {
		c, err := id.ParseCorrelationID(body.CorrelationID)
		if err != nil {
			errs.add("correlationId", "is invalid")
		}
		correlationID = c
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &models.Signal{
		Name:          models.SignalAgentCallback,
		Origin:        models.OriginAgent,
		WorkflowID:    workflowID,
		CorrelationID: correlationID,
		ActorID:       strings.TrimSpace(body.AgentID),
		Decision: models.Decision{
			Outcome:   outcome,
			Reason:    strings.TrimSpace(body.Decision.Reason),
			RiskScore: body.Decision.RiskScore,
			Anomalies: platformstrings.DedupeAndTrim(body.Decision.Anomalies),
		},
	}, nil
}

func decodeStrict(raw []byte, dst any) fieldErrors {
	var errs fieldErrors
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		errs.add("body", err.Error())
		return errs
	}
	if dec.More() {
		errs.add("body", "unexpected trailing data")
	}
	return errs
}

func parseOutcome(v string) (models.Outcome, bool) {
	o := models.Outcome(strings.ToUpper(strings.TrimSpace(v)))
	return o, o.IsValid()
}
