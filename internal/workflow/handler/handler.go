package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	eventmodels "onboarding/internal/eventlog/models"
	"onboarding/internal/workflow/models"
	"onboarding/internal/workflow/service"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/requestcontext"
)

// Service is the stage engine surface exposed over HTTP.
type Service interface {
	StartWorkflow(ctx context.Context, applicantID id.ApplicantID) (*models.Workflow, error)
	GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error)
	ListEvents(ctx context.Context, workflowID id.WorkflowID, afterSequence int64, limit int) ([]*eventmodels.Event, error)
	AdvanceStage(ctx context.Context, workflowID id.WorkflowID, expectedVersion int64) (*models.Workflow, error)
	DispatchExternalWork(ctx context.Context, workflowID id.WorkflowID, capability models.Capability, payload map[string]any) (*service.DispatchResult, error)
	AwaitSignal(ctx context.Context, workflowID id.WorkflowID, signalName string, deadline time.Time) (*models.Workflow, error)
	CompleteBranch(ctx context.Context, workflowID id.WorkflowID, branch models.Branch, expectedVersion int64) (*models.Workflow, error)
	SetMetadata(ctx context.Context, workflowID id.WorkflowID, expectedVersion int64, meta models.StageMetadata) (*models.Workflow, error)
	Archive(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error)
}

// Handler wires workflow endpoints to the stage engine.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts workflow endpoints. Callers wrap the router with auth.
func (h *Handler) Register(r chi.Router) {
	r.Post("/workflows", h.HandleStart)
	r.Get("/workflows/{id}", h.HandleGet)
	r.Delete("/workflows/{id}", h.HandleArchive)
	r.Get("/workflows/{id}/events", h.HandleListEvents)
	r.Post("/workflows/{id}/advance", h.HandleAdvance)
	r.Post("/workflows/{id}/dispatch", h.HandleDispatch)
	r.Post("/workflows/{id}/await", h.HandleAwait)
	r.Post("/workflows/{id}/branches/{branch}", h.HandleCompleteBranch)
	r.Put("/workflows/{id}/metadata", h.HandleSetMetadata)
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[StartRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	wf, err := h.service.StartWorkflow(ctx, req.applicantID)
	if err != nil {
		h.fail(ctx, w, "start workflow failed", id.WorkflowID{}, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromWorkflow(wf))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, ok := h.workflowID(w, r)
	if !ok {
		return
	}
	wf, err := h.service.GetWorkflow(ctx, workflowID)
	if err != nil {
		h.fail(ctx, w, "get workflow failed", workflowID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromWorkflow(wf))
}

func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, ok := h.workflowID(w, r)
	if !ok {
		return
	}
	after, limit, err := pageParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.service.ListEvents(ctx, workflowID, after, limit)
	if err != nil {
		h.fail(ctx, w, "list events failed", workflowID, err)
		return
	}
	if events == nil {
		events = []*eventmodels.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, EventsResponse{Events: events})
}

func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, ok := h.workflowID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AdvanceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	wf, err := h.service.AdvanceStage(ctx, workflowID, req.ExpectedVersion)
	if err != nil {
		h.fail(ctx, w, "advance stage failed", workflowID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromWorkflow(wf))
}

func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, ok := h.workflowID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[DispatchRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.DispatchExternalWork(ctx, workflowID, req.capability, req.Payload)
	if err != nil {
		h.fail(ctx, w, "dispatch failed", workflowID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, DispatchResponse{
		Workflow:      FromWorkflow(res.Workflow),
		CorrelationID: res.CorrelationID.String(),
		Deadline:      res.Deadline,
	})
}

func (h *Handler) HandleAwait(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, ok := h.workflowID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AwaitRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	wf, err := h.service.AwaitSignal(ctx, workflowID, req.SignalName, req.Deadline)
	if err != nil {
		h.fail(ctx, w, "await signal failed", workflowID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromWorkflow(wf))
}

func (h *Handler) HandleCompleteBranch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, ok := h.workflowID(w, r)
	if !ok {
		return
	}
	branch := models.Branch(chi.URLParam(r, "branch"))
	if !branch.IsValid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "unknown branch"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[BranchRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	wf, err := h.service.CompleteBranch(ctx, workflowID, branch, req.ExpectedVersion)
	if err != nil {
		h.fail(ctx, w, "complete branch failed", workflowID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromWorkflow(wf))
}

func (h *Handler) HandleSetMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, ok := h.workflowID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[MetadataRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	wf, err := h.service.SetMetadata(ctx, workflowID, req.ExpectedVersion, req.metadata)
	if err != nil {
		h.fail(ctx, w, "set metadata failed", workflowID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromWorkflow(wf))
}

func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID, ok := h.workflowID(w, r)
	if !ok {
		return
	}
	wf, err := h.service.Archive(ctx, workflowID)
	if err != nil {
		h.fail(ctx, w, "archive workflow failed", workflowID, err)
		return
	}
	h.logger.InfoContext(ctx, "workflow archived",
		"request_id", requestcontext.RequestID(ctx),
		"workflow_id", workflowID.String(),
		"user_id", requestcontext.UserID(ctx).String(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromWorkflow(wf))
}

func (h *Handler) workflowID(w http.ResponseWriter, r *http.Request) (id.WorkflowID, bool) {
	workflowID, err := id.ParseWorkflowID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.WorkflowID{}, false
	}
	return workflowID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, workflowID id.WorkflowID, err error) {
	level := slog.LevelWarn
	if httputil.StatusFor(codeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"workflow_id", workflowID.String(),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func codeOf(err error) dErrors.Code {
	if de, ok := dErrors.From(err); ok {
		return de.Code
	}
	return dErrors.CodeInternal
}

func pageParams(r *http.Request) (int64, int, error) {
	var after int64
	var limit int
	q := r.URL.Query()
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, dErrors.New(dErrors.CodeValidation, "after must be a non-negative integer")
		}
		after = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
		limit = n
	}
	return after, limit, nil
}
