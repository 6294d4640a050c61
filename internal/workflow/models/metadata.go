package models

import (
	"encoding/json"
	"fmt"
	"time"

	dErrors "onboarding/pkg/domain-errors"
)

// StageMetadata is the stage-scoped payload of a workflow. Each stage has exactly
// one implementation, so a payload that does not belong to the current stage
// cannot be attached without an explicit Stage() mismatch.
type StageMetadata interface {
	Stage() Stage
	isStageMetadata()
}

type QuotationMeta struct {
	QuoteAmount float64 `json:"quoteAmount"`
	Overlimit   bool    `json:"overlimit"`
}

type QuoteSigningMeta struct {
	SignedAt time.Time `json:"signedAt"`
}

type FacilityApplicationMeta struct {
	FormID string `json:"formId"`
}

type MandateProcessingMeta struct {
	ProcurementCleared bool `json:"procurementCleared"`
	DocumentsSubmitted bool `json:"documentsSubmitted"`
}

type DocumentAnalysisMeta struct {
	RiskScore float64  `json:"riskScore"`
	Anomalies []string `json:"anomalies,omitempty"`
}

type RiskReviewMeta struct {
	ReviewerID string `json:"reviewerId"`
	Decision   string `json:"decision"`
}

func (QuotationMeta) Stage() Stage           { return StageQuotation }
func (QuoteSigningMeta) Stage() Stage        { return StageQuoteSigning }
func (FacilityApplicationMeta) Stage() Stage { return StageFacilityApplication }
func (MandateProcessingMeta) Stage() Stage   { return StageMandateProcessing }
func (DocumentAnalysisMeta) Stage() Stage    { return StageDocumentAnalysis }
func (RiskReviewMeta) Stage() Stage          { return StageRiskReview }

func (QuotationMeta) isStageMetadata()           {}
func (QuoteSigningMeta) isStageMetadata()        {}
func (FacilityApplicationMeta) isStageMetadata() {}
func (MandateProcessingMeta) isStageMetadata()   {}
func (DocumentAnalysisMeta) isStageMetadata()    {}
func (RiskReviewMeta) isStageMetadata()          {}

// BranchesComplete reports whether both mandate processing tracks are done.
func (m MandateProcessingMeta) BranchesComplete() bool {
	return m.ProcurementCleared && m.DocumentsSubmitted
}

type metadataEnvelope struct {
	Stage Stage           `json:"stage"`
	Data  json.RawMessage `json:"data"`
}

// EncodeMetadata renders metadata as {"stage":N,"data":{...}}. Nil encodes to nil.
func EncodeMetadata(m StageMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataEnvelope{Stage: m.Stage(), Data: data})
}

// DecodeMetadata parses the envelope produced by EncodeMetadata.
func DecodeMetadata(raw []byte) (StageMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "metadata must be an object with stage and data")
	}
	target, err := newMetadataFor(env.Stage)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		env.Data = []byte("{}")
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("invalid metadata for stage %s", env.Stage))
	}
	return derefMetadata(target), nil
}

func newMetadataFor(stage Stage) (any, error) {
	switch stage {
	case StageQuotation:
		return &QuotationMeta{}, nil
	case StageQuoteSigning:
		return &QuoteSigningMeta{}, nil
	case StageFacilityApplication:
		return &FacilityApplicationMeta{}, nil
	case StageMandateProcessing:
		return &MandateProcessingMeta{}, nil
	case StageDocumentAnalysis:
		return &DocumentAnalysisMeta{}, nil
	case StageRiskReview:
		return &RiskReviewMeta{}, nil
	default:
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown metadata stage %d", int(stage)))
	}
}

func derefMetadata(v any) StageMetadata {
	switch m := v.(type) {
	case *QuotationMeta:
		return *m
	case *QuoteSigningMeta:
		return *m
	case *FacilityApplicationMeta:
		return *m
	case *MandateProcessingMeta:
		return *m
	case *DocumentAnalysisMeta:
		return *m
	case *RiskReviewMeta:
		return *m
	}
	return nil
}

func cloneMetadata(m StageMetadata) StageMetadata {
	if da, ok := m.(DocumentAnalysisMeta); ok && da.Anomalies != nil {
		da.Anomalies = append([]string(nil), da.Anomalies...)
		return da
	}
	return m
}
