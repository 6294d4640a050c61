package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"onboarding/internal/killswitch/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/requestcontext"
)

type Service interface {
	Execute(ctx context.Context, workflowID id.WorkflowID, applicantID id.ApplicantID, actor string, reason models.Reason, notes string) (*models.Result, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the kill switch. Callers wrap the router with auth.
func (h *Handler) Register(r chi.Router) {
	r.Post("/workflows/{id}/kill", h.HandleKill)
}

// KillRequest is the body of POST /workflows/{id}/kill.
type KillRequest struct {
	ApplicantID string `json:"applicantId"`
	Reason      string `json:"reason"`
	Notes       string `json:"notes,omitempty"`

	applicantID id.ApplicantID
	reason      models.Reason
}

func (r *KillRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	applicantID, err := id.ParseApplicantID(r.ApplicantID)
	if err != nil {
		return err
	}
	r.applicantID = applicantID
	r.reason = models.Reason(strings.TrimSpace(r.Reason))
	if !r.reason.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "reason must be one of fraud_suspected, compliance_breach, applicant_withdrawn, duplicate_application, operator_error, other")
	}
	r.Notes = strings.TrimSpace(r.Notes)
	return nil
}

func (h *Handler) HandleKill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	operator := requestcontext.UserID(ctx)
	if operator.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "kill switch requires an authenticated operator"))
		return
	}
	workflowID, err := id.ParseWorkflowID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[KillRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Execute(ctx, workflowID, req.applicantID, operator.String(), req.reason, req.Notes)
	if err != nil {
		h.logger.WarnContext(ctx, "kill switch failed",
			"request_id", requestID,
			"workflow_id", workflowID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
