package handler

import (
	"encoding/json"
	"strings"
	"time"

	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
)

// StartRequest is the body of POST /workflows.
type StartRequest struct {
	ApplicantID string `json:"applicantId"`

	applicantID id.ApplicantID
}

func (r *StartRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	applicantID, err := id.ParseApplicantID(r.ApplicantID)
	if err != nil {
		return err
	}
	r.applicantID = applicantID
	return nil
}

// AdvanceRequest is the body of POST /workflows/{id}/advance.
type AdvanceRequest struct {
	ExpectedVersion int64 `json:"expectedVersion"`
}

func (r *AdvanceRequest) Validate() error {
	if r == nil || r.ExpectedVersion < 1 {
		return dErrors.New(dErrors.CodeValidation, "expectedVersion must be a positive integer")
	}
	return nil
}

// DispatchRequest is the body of POST /workflows/{id}/dispatch.
type DispatchRequest struct {
	Capability string         `json:"capability"`
	Payload    map[string]any `json:"payload"`

	capability models.Capability
}

func (r *DispatchRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.capability = models.Capability(strings.TrimSpace(r.Capability))
	if !r.capability.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "capability must be one of quote_generation, risk_scoring, procurement_screening")
	}
	return nil
}

// AwaitRequest is the body of POST /workflows/{id}/await.
type AwaitRequest struct {
	SignalName string    `json:"signalName"`
	Deadline   time.Time `json:"deadline"`
}

func (r *AwaitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.SignalName = strings.TrimSpace(r.SignalName)
	if r.SignalName == "" {
		return dErrors.New(dErrors.CodeValidation, "signalName is required")
	}
	if r.Deadline.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "deadline is required")
	}
	return nil
}

// BranchRequest is the optional body of POST /workflows/{id}/branches/{branch}.
type BranchRequest struct {
	ExpectedVersion int64 `json:"expectedVersion"`
}

func (r *BranchRequest) Validate() error {
	if r.ExpectedVersion < 0 {
		return dErrors.New(dErrors.CodeValidation, "expectedVersion must not be negative")
	}
	return nil
}

// MetadataRequest is the body of PUT /workflows/{id}/metadata. Metadata uses the
// tagged encoding {"stage":N,"data":{...}}.
type MetadataRequest struct {
	ExpectedVersion int64           `json:"expectedVersion"`
	Metadata        json.RawMessage `json:"metadata"`

	metadata models.StageMetadata
}

func (r *MetadataRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ExpectedVersion < 1 {
		return dErrors.New(dErrors.CodeValidation, "expectedVersion must be a positive integer")
	}
	if len(r.Metadata) == 0 {
		return dErrors.New(dErrors.CodeValidation, "metadata is required")
	}
	meta, err := models.DecodeMetadata(r.Metadata)
	if err != nil {
		return err
	}
	if meta == nil {
		return dErrors.New(dErrors.CodeValidation, "metadata is required")
	}
	r.metadata = meta
	return nil
}
