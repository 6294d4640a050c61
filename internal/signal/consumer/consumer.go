// Package consumer feeds signals from the resume topic into signal delivery.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"onboarding/internal/platform/kafka"
	signalmodels "onboarding/internal/signal/models"
	"onboarding/internal/signal/service"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/requestcontext"
)

const (
	HeaderActorID   = "actor_id"
	HeaderRequestID = "request_id"
)

// Sink is satisfied by the signal service.
type Sink interface {
	Deliver(ctx context.Context, sig models.Signal, caller signalmodels.Caller) (*models.SignalResult, error)
}

// ResumeHandler implements kafka.Handler. The topic is internal, so delivery
// runs with a trusted caller.
type ResumeHandler struct {
	sink   Sink
	logger *slog.Logger
}

func New(sink Sink, logger *slog.Logger) *ResumeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeHandler{sink: sink, logger: logger}
}

// Handle decodes one record. The workflow id comes from the message body,
// falling back to the record key.
func (h *ResumeHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	if reqID := msg.Headers[HeaderRequestID]; reqID != "" {
		ctx = requestcontext.WithRequestID(ctx, reqID)
	}

	var resume signalmodels.ResumeMessage
	if err := json.Unmarshal(msg.Value, &resume); err != nil {
		return kafka.Permanent(dErrors.Wrap(err, dErrors.CodeBadRequest, "resume message is not valid json"))
	}
	rawID := resume.WorkflowID
	if rawID == "" {
		rawID = string(msg.Key)
	}
	workflowID, err := id.ParseWorkflowID(rawID)
	if err != nil {
		return kafka.Permanent(err)
	}
	if len(resume.Body) == 0 {
		return kafka.Permanent(dErrors.New(dErrors.CodeBadRequest, "resume message has no body"))
	}

	sig, err := service.Normalize(workflowID, resume.Body, msg.Timestamp)
	if err != nil {
		return kafka.Permanent(err)
	}
	if actor := msg.Headers[HeaderActorID]; actor != "" && sig.Origin == models.OriginHuman {
		sig.ActorID = actor
	}

	res, err := h.sink.Deliver(ctx, *sig, signalmodels.Caller{Trusted: true})
	if err != nil {
		if retryable(err) {
			return err
		}
		h.logger.WarnContext(ctx, "resume signal dropped",
			"workflow_id", workflowID.String(),
			"signal_name", sig.Name,
			"offset", msg.Offset,
			"error", err,
		)
		return kafka.Permanent(err)
	}
	h.logger.InfoContext(ctx, "resume signal delivered",
		"workflow_id", workflowID.String(),
		"signal_name", sig.Name,
		"outcome", string(res.Outcome),
	)
	return nil
}

func retryable(err error) bool {
	de, ok := dErrors.From(err)
	if !ok {
		return true
	}
	switch de.Code {
	case dErrors.CodeInternal, dErrors.CodeTimeout, dErrors.CodeStaleStage:
		return true
	default:
		return false
	}
}
