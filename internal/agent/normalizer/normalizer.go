// Package normalizer turns provider-specific callback payloads into canonical decisions.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	platformstrings "onboarding/pkg/platform/strings"
)

// Callback is a provider result after normalization.
type Callback struct {
	CorrelationID id.CorrelationID
	WorkflowID    id.WorkflowID
	AgentID       string
	Decision      models.Decision
}

// Normalizer validates one provider's callback shape.
type Normalizer interface {
	Normalize(raw []byte) (*Callback, error)
}

// Registry maps provider names to their normalizers.
type Registry map[string]Normalizer

// Default returns the normalizers for the built-in capabilities.
func Default(riskThreshold float64) Registry {
	return Registry{
		string(models.CapabilityQuoteGeneration):      QuoteNormalizer{},
		string(models.CapabilityRiskScoring):          RiskNormalizer{Threshold: riskThreshold},
		string(models.CapabilityProcurementScreening): ProcurementNormalizer{},
	}
}

func (r Registry) Lookup(provider string) (Normalizer, error) {
	n, ok := r[provider]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown provider %q", provider))
	}
	return n, nil
}

// decodeStrict rejects unknown fields and trailing data.
func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalid("body", err.Error())
	}
	if dec.More() {
		return invalid("body", "unexpected trailing data")
	}
	return nil
}

type fieldErrors []dErrors.FieldError

func (f *fieldErrors) add(field, msg string) {
	*f = append(*f, dErrors.FieldError{Field: field, Message: msg})
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return dErrors.WithDetails(dErrors.CodeValidation, "invalid callback payload", map[string][]dErrors.FieldError{"payload": f})
}

func invalid(field, msg string) error {
	var f fieldErrors
	f.add(field, msg)
	return f.err()
}

func parseIDs(f *fieldErrors, correlationField, correlation, workflowField, workflow string) (id.CorrelationID, id.WorkflowID) {
	correlationID, err := id.ParseCorrelationID(correlation)
	if err != nil {
		f.add(correlationField, "is required")
	}
	workflowID, err := id.ParseWorkflowID(workflow)
	if err != nil {
		f.add(workflowField, "must be a workflow id")
	}
	return correlationID, workflowID
}

// QuoteNormalizer handles quote_generation results:
// {"correlationId","workflowId","status":"QUOTED|DECLINED","quoteAmount","reason","agentId"}.
type QuoteNormalizer struct{}

type quotePayload struct {
	CorrelationID string   `json:"correlationId"`
	WorkflowID    string   `json:"workflowId"`
	Status        string   `json:"status"`
	QuoteAmount   *float64 `json:"quoteAmount"`
	Reason        string   `json:"reason"`
	AgentID       string   `json:"agentId"`
}

func (QuoteNormalizer) Normalize(raw []byte) (*Callback, error) {
	var p quotePayload
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}
	var f fieldErrors
	correlationID, workflowID := parseIDs(&f, "correlationId", p.CorrelationID, "workflowId", p.WorkflowID)

	var decision models.Decision
	switch strings.ToUpper(strings.TrimSpace(p.Status)) {
	case "QUOTED":
		if p.QuoteAmount == nil || *p.QuoteAmount <= 0 {
			f.add("quoteAmount", "must be positive when status is QUOTED")
		} else {
			decision = models.Decision{
				Outcome: models.OutcomeApproved,
				Notes:   fmt.Sprintf("quote amount %.2f", *p.QuoteAmount),
			}
		}
	case "DECLINED":
		decision = models.Decision{Outcome: models.OutcomeRejected, Reason: orDefault(p.Reason, "quote declined")}
	default:
		f.add("status", "must be QUOTED or DECLINED")
	}
	if err := f.err(); err != nil {
		return nil, err
	}
	return &Callback{CorrelationID: correlationID, WorkflowID: workflowID, AgentID: orDefault(p.AgentID, "quote_generation"), Decision: decision}, nil
}

// RiskNormalizer handles risk_scoring results:
// {"correlation_id","workflow_id","risk_score":0..100,"recommendation","anomalies","agent_id"}.
// A score at or above Threshold, or a DECLINE recommendation, rejects.
type RiskNormalizer struct {
	Threshold float64
}

type riskPayload struct {
	CorrelationID  string   `json:"correlation_id"`
	WorkflowID     string   `json:"workflow_id"`
	RiskScore      *float64 `json:"risk_score"`
	Recommendation string   `json:"recommendation"`
	Anomalies      []string `json:"anomalies"`
	AgentID        string   `json:"agent_id"`
}

func (n RiskNormalizer) Normalize(raw []byte) (*Callback, error) {
	var p riskPayload
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}
	var f fieldErrors
	correlationID, workflowID := parseIDs(&f, "correlation_id", p.CorrelationID, "workflow_id", p.WorkflowID)
	if p.RiskScore == nil {
		f.add("risk_score", "is required")
	} else if *p.RiskScore < 0 || *p.RiskScore > 100 {
		f.add("risk_score", "must be between 0 and 100")
	}
	recommendation := strings.ToUpper(strings.TrimSpace(p.Recommendation))
	switch recommendation {
	case "APPROVE", "REVIEW", "DECLINE":
	default:
		f.add("recommendation", "must be APPROVE, REVIEW or DECLINE")
	}
	if err := f.err(); err != nil {
		return nil, err
	}

	score := *p.RiskScore
	decision := models.Decision{
		Outcome:   models.OutcomeApproved,
		RiskScore: &score,
		Anomalies: platformstrings.DedupeAndTrim(p.Anomalies),
	}
	switch {
	case recommendation == "DECLINE":
		decision.Outcome = models.OutcomeRejected
		decision.Reason = "risk provider recommended decline"
	case score >= n.Threshold:
		decision.Outcome = models.OutcomeRejected
		decision.Reason = fmt.Sprintf("risk score %.1f at or above threshold %.1f", score, n.Threshold)
	case recommendation == "REVIEW":
		decision.Notes = "risk provider requested manual review"
	}
	return &Callback{CorrelationID: correlationID, WorkflowID: workflowID, AgentID: orDefault(p.AgentID, "risk_scoring"), Decision: decision}, nil
}

// ProcurementNormalizer handles procurement_screening results:
// {"correlationId","workflowId","cleared":bool,"findings":[...],"agentId"}.
type ProcurementNormalizer struct{}

type procurementPayload struct {
	CorrelationID string   `json:"correlationId"`
	WorkflowID    string   `json:"workflowId"`
	Cleared       *bool    `json:"cleared"`
	Findings      []string `json:"findings"`
	AgentID       string   `json:"agentId"`
}

func (ProcurementNormalizer) Normalize(raw []byte) (*Callback, error) {
	var p procurementPayload
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}
	var f fieldErrors
	correlationID, workflowID := parseIDs(&f, "correlationId", p.CorrelationID, "workflowId", p.WorkflowID)
	if p.Cleared == nil {
		f.add("cleared", "is required")
	}
	if err := f.err(); err != nil {
		return nil, err
	}

	decision := models.Decision{Outcome: models.OutcomeApproved, Anomalies: platformstrings.DedupeAndTrim(p.Findings)}
	if !*p.Cleared {
		decision.Outcome = models.OutcomeRejected
		decision.Reason = "procurement screening not cleared"
		if len(p.Findings) > 0 {
			decision.Reason += ": " + strings.Join(p.Findings, "; ")
		}
	}
	return &Callback{CorrelationID: correlationID, WorkflowID: workflowID, AgentID: orDefault(p.AgentID, "procurement_screening"), Decision: decision}, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
