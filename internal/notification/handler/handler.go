package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"onboarding/internal/notification/models"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/requestcontext"
)

type Service interface {
	List(ctx context.Context, workflowID id.WorkflowID) ([]*models.Notification, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/workflows/{id}/notifications", h.HandleList)
	r.Post("/notifications/{id}/read", h.HandleMarkRead)
}

type ListResponse struct {
	Notifications []*models.Notification `json:"notifications"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, err := id.ParseWorkflowID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out, err := h.service.List(ctx, workflowID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list notifications failed",
			"request_id", requestcontext.RequestID(ctx),
			"workflow_id", workflowID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if out == nil {
		out = []*models.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Notifications: out})
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.service.MarkRead(ctx, notificationID)
	if err != nil {
		h.logger.WarnContext(ctx, "mark notification read failed",
			"request_id", requestcontext.RequestID(ctx),
			"notification_id", notificationID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}
