package models

import "fmt"

// Stage is one of the six ordered onboarding phases.
type Stage int

const (
	StageQuotation           Stage = 1
	StageQuoteSigning        Stage = 2
	StageFacilityApplication Stage = 3
	StageMandateProcessing   Stage = 4
	StageDocumentAnalysis    Stage = 5
	StageRiskReview          Stage = 6

	FirstStage = StageQuotation
	FinalStage = StageRiskReview
)

var stageNames = map[Stage]string{
	StageQuotation:           "quotation",
	StageQuoteSigning:        "quote_signing",
	StageFacilityApplication: "facility_application",
	StageMandateProcessing:   "mandate_processing",
	StageDocumentAnalysis:    "document_analysis",
	StageRiskReview:          "risk_review",
}

func (s Stage) IsValid() bool {
	return s >= FirstStage && s <= FinalStage
}

func (s Stage) IsFinal() bool {
	return s == FinalStage
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage_%d", int(s))
}

// Next returns the following stage; the final stage returns itself.
func (s Stage) Next() Stage {
	if s >= FinalStage {
		return FinalStage
	}
	return s + 1
}

// Capability is an external unit of work performed by a provider.
type Capability string

const (
	CapabilityQuoteGeneration      Capability = "quote_generation"
	CapabilityRiskScoring          Capability = "risk_scoring"
	CapabilityProcurementScreening Capability = "procurement_screening"
)

func (c Capability) IsValid() bool {
	switch c {
	case CapabilityQuoteGeneration, CapabilityRiskScoring, CapabilityProcurementScreening:
		return true
	}
	return false
}

func (c Capability) String() string {
	return string(c)
}

// Branch is one of the parallel tracks of mandate processing.
type Branch string

const (
	BranchProcurement Branch = "procurement_screening"
	BranchDocuments   Branch = "mandate_documents"
)

func (b Branch) IsValid() bool {
	return b == BranchProcurement || b == BranchDocuments
}
