package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	signalmodels "onboarding/internal/signal/models"
	"onboarding/internal/signal/service"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/platform/webhook"
	"onboarding/pkg/requestcontext"
)

// Service is the signal ingress.
type Service interface {
	Ingest(ctx context.Context, workflowID id.WorkflowID, raw []byte, caller signalmodels.Caller) (*service.Result, error)
}

type Handler struct {
	service Service
	secret  []byte
	logger  *slog.Logger
}

// New builds the handler. secret verifies agent signals posted to the ingress.
func New(service Service, secret []byte, logger *slog.Logger) *Handler {
	return &Handler{service: service, secret: secret, logger: logger}
}

// Register mounts the ingress. It must sit behind optional auth so that both
// operator sessions and signed agent posts reach it.
func (h *Handler) Register(r chi.Router) {
	r.Post("/workflows/{id}/signals", h.HandleSignal)
}

type SignalResponse struct {
	Success bool                 `json:"success"`
	Signal  models.Signal        `json:"signal"`
	Outcome models.SignalOutcome `json:"outcome"`
	Anomaly string               `json:"anomaly,omitempty"`
}

func (h *Handler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	workflowID, err := id.ParseWorkflowID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	caller := signalmodels.Caller{
		UserID:         requestcontext.UserID(ctx),
		SignatureValid: webhook.VerifyRequest(h.secret, r, body),
	}

	res, err := h.service.Ingest(ctx, workflowID, body, caller)
	if err != nil {
		level := slog.LevelWarn
		if de, ok := dErrors.From(err); !ok || httputil.StatusFor(de.Code) >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "signal rejected",
			"request_id", requestID,
			"workflow_id", workflowID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SignalResponse{
		Success: true,
		Signal:  res.Signal,
		Outcome: res.Outcome,
		Anomaly: res.Anomaly,
	})
}
