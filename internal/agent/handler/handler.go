package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"onboarding/internal/agent/gateway"
	signalmodels "onboarding/internal/signal/models"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/platform/webhook"
	"onboarding/pkg/requestcontext"
)

// Gateway receives provider callbacks.
type Gateway interface {
	ReceiveCallback(ctx context.Context, provider string, raw []byte, caller signalmodels.Caller) (*gateway.CallbackResult, error)
}

type Handler struct {
	gateway Gateway
	secret  []byte
	logger  *slog.Logger
}

func New(gw Gateway, secret []byte, logger *slog.Logger) *Handler {
	return &Handler{gateway: gw, secret: secret, logger: logger}
}

// Register mounts the provider callback endpoint. It is authenticated by
// webhook signature, not by session.
func (h *Handler) Register(r chi.Router) {
	r.Post("/callbacks/{provider}", h.HandleCallback)
}

func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	provider := chi.URLParam(r, "provider")

	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !webhook.VerifyRequest(h.secret, r, body) {
		h.logger.WarnContext(ctx, "callback signature rejected",
			"request_id", requestID,
			"provider", provider,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature"))
		return
	}

	res, err := h.gateway.ReceiveCallback(ctx, provider, body, signalmodels.Caller{SignatureValid: true})
	if err != nil {
		level := slog.LevelWarn
		if de, ok := dErrors.From(err); !ok || httputil.StatusFor(de.Code) >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "callback rejected",
			"request_id", requestID,
			"provider", provider,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
