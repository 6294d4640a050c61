package handler

import (
	"encoding/json"
	"time"

	eventmodels "onboarding/internal/eventlog/models"
	"onboarding/internal/workflow/models"
)

// WorkflowResponse is the HTTP representation of a workflow.
type WorkflowResponse struct {
	ID            string              `json:"id"`
	ApplicantID   string              `json:"applicantId"`
	Stage         int                 `json:"stage"`
	StageName     string              `json:"stageName"`
	Status        string              `json:"status"`
	Version       int64               `json:"version"`
	Metadata      json.RawMessage     `json:"metadata,omitempty"`
	PendingWait   *models.PendingWait `json:"pendingWait,omitempty"`
	FailureReason string              `json:"failureReason,omitempty"`
	StartedAt     time.Time           `json:"startedAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
	TerminatedAt  *time.Time          `json:"terminatedAt,omitempty"`
	ArchivedAt    *time.Time          `json:"archivedAt,omitempty"`
}

func FromWorkflow(w *models.Workflow) *WorkflowResponse {
	if w == nil {
		return nil
	}
	resp := &WorkflowResponse{
		ID:            w.ID.String(),
		ApplicantID:   w.ApplicantID.String(),
		Stage:         int(w.Stage),
		StageName:     w.Stage.String(),
		Status:        string(w.Status),
		Version:       w.Version,
		PendingWait:   w.PendingWait,
		FailureReason: w.FailureReason,
		StartedAt:     w.StartedAt,
		UpdatedAt:     w.UpdatedAt,
		TerminatedAt:  w.TerminatedAt,
		ArchivedAt:    w.ArchivedAt,
	}
	// Metadata structs are plain data and always encode.
	if raw, err := models.EncodeMetadata(w.Metadata); err == nil && raw != nil {
		resp.Metadata = raw
	}
	return resp
}

type DispatchResponse struct {
	Workflow      *WorkflowResponse `json:"workflow"`
	CorrelationID string            `json:"correlationId"`
	Deadline      time.Time         `json:"deadline"`
}

type EventsResponse struct {
	Events []*eventmodels.Event `json:"events"`
}
