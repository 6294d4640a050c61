package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"onboarding/internal/forms/models"
	"onboarding/internal/forms/service"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/requestcontext"
)

type Service interface {
	Issue(ctx context.Context, workflowID id.WorkflowID, kind models.Kind, ttl time.Duration) (*service.IssueResult, error)
	View(ctx context.Context, token string) (*models.Instance, error)
	Submit(ctx context.Context, token string) (*models.Instance, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the operator endpoint for issuing forms.
func (h *Handler) Register(r chi.Router) {
	r.Post("/workflows/{id}/forms", h.HandleIssue)
}

// RegisterPublic mounts the token-addressed applicant endpoints.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/forms/{token}", h.HandleView)
	r.Post("/forms/{token}/submit", h.HandleSubmit)
}

// IssueRequest is the body of POST /workflows/{id}/forms.
type IssueRequest struct {
	Kind       string `json:"kind"`
	TTLSeconds int64  `json:"ttlSeconds"`

	kind models.Kind
	ttl  time.Duration
}

func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.kind = models.Kind(strings.TrimSpace(r.Kind))
	if !r.kind.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "kind must be one of facility_application, mandate_documents, quote_signature")
	}
	if r.TTLSeconds < 0 {
		return dErrors.New(dErrors.CodeValidation, "ttlSeconds must not be negative")
	}
	r.ttl = time.Duration(r.TTLSeconds) * time.Second
	return nil
}

// IssueResponse is the only response that ever carries the raw token.
type IssueResponse struct {
	Form  *models.Instance `json:"form"`
	Token string           `json:"token"`
	URL   string           `json:"url"`
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	workflowID, err := id.ParseWorkflowID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.service.Issue(ctx, workflowID, req.kind, req.ttl)
	if err != nil {
		h.fail(ctx, w, "issue form failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, IssueResponse{
		Form:  res.Form,
		Token: res.Token,
		URL:   "/forms/" + res.Token,
	})
}

func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, err := h.service.View(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.fail(ctx, w, "view form failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, form)
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, err := h.service.Submit(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.fail(ctx, w, "submit form failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, form)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if de, ok := dErrors.From(err); !ok || httputil.StatusFor(de.Code) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
