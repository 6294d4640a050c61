package service

import (
	"context"
	"errors"
	"time"

	eventmodels "onboarding/internal/eventlog/models"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/sentinel"
	"onboarding/pkg/requestcontext"
)

// StartWorkflow creates a saga at stage 1 in pending state.
func (s *Service) StartWorkflow(ctx context.Context, applicantID id.ApplicantID) (*models.Workflow, error) {
	now := requestcontext.Now(ctx)
	w, err := models.NewWorkflow(id.NewWorkflowID(), applicantID, now)
	if err != nil {
		return nil, err
	}
	ctx, span := s.span(ctx, "StartWorkflow", w.ID)
	defer span.End()

	who := actorFromContext(ctx)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.Create(txCtx, w); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "workflow already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create workflow")
		}
		if _, err := s.record(txCtx, w, eventmodels.EventWorkflowStarted, who, map[string]any{
			"applicantId": w.ApplicantID.String(),
		}); err != nil {
			return err
		}
		_, err := s.record(txCtx, w, eventmodels.EventStageChange, who, map[string]any{
			"from":   0,
			"to":     int(w.Stage),
			"status": string(w.Status),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementStarted()
	s.logger.InfoContext(ctx, "workflow started",
		"workflow_id", w.ID.String(),
		"applicant_id", w.ApplicantID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return w, nil
}

// AdvanceStage moves the saga one stage forward with a guarded write. A version
// mismatch returns stale_stage and is never retried here: stage side effects are
// not idempotent, so the caller must refetch and decide.
func (s *Service) AdvanceStage(ctx context.Context, workflowID id.WorkflowID, expectedVersion int64) (*models.Workflow, error) {
	ctx, span := s.span(ctx, "AdvanceStage", workflowID)
	defer span.End()

	w, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.IsTerminated() {
		return nil, models.ErrAlreadyTerminated()
	}
	if expectedVersion <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "expectedVersion is required")
	}
	if err := s.checkVersion(w, expectedVersion); err != nil {
		return nil, err
	}
	if err := w.CanAdvance(); err != nil {
		return nil, err
	}

	from := w.Stage
	left := w.ApplyAdvance(requestcontext.Now(ctx))
	if err := s.saveWithStageChange(ctx, w, expectedVersion, from, left, actorFromContext(ctx), nil); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "workflow stage advanced",
		"workflow_id", w.ID.String(),
		"from", int(from),
		"to", int(w.Stage),
		"status", string(w.Status),
	)
	return w, nil
}

func (s *Service) saveWithStageChange(ctx context.Context, w *models.Workflow, expectedVersion int64, from models.Stage, left models.StageMetadata, who actor, extra map[string]any) error {
	payload := map[string]any{
		"from":   int(from),
		"to":     int(w.Stage),
		"status": string(w.Status),
	}
	if left != nil {
		payload["metadata"] = metadataPayload(left)
	}
	for k, v := range extra {
		payload[k] = v
	}
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.save(txCtx, w, expectedVersion); err != nil {
			return err
		}
		_, err := s.record(txCtx, w, eventmodels.EventStageChange, who, payload)
		return err
	})
}

// DispatchResult reports a capability dispatch.
type DispatchResult struct {
	Workflow      *models.Workflow
	CorrelationID id.CorrelationID
	Deadline      time.Time
}

// DispatchExternalWork persists the callback wait, records agent_dispatch and
// hands the request to the gateway. The wait is durable before the request
// leaves, so a lost request still ends in timeout.
func (s *Service) DispatchExternalWork(ctx context.Context, workflowID id.WorkflowID, capability models.Capability, payload map[string]any) (*DispatchResult, error) {
	ctx, span := s.span(ctx, "DispatchExternalWork", workflowID)
	defer span.End()

	if s.dispatcher == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "agent gateway not configured")
	}
	w, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := w.CanDispatch(capability); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	expected := w.Version
	correlationID := id.NewCorrelationID()
	deadline := now.Add(s.deadlineFor(capability))
	w.ApplyDispatch(capability, correlationID, deadline, now)

	who := actorFromContext(ctx)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.save(txCtx, w, expected); err != nil {
			return err
		}
		_, err := s.record(txCtx, w, eventmodels.EventAgentDispatch, who, map[string]any{
			"capability":    string(capability),
			"correlationId": correlationID.String(),
			"deadline":      deadline.Format(time.RFC3339Nano),
			"stage":         int(w.Stage),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	req := models.DispatchRequest{
		WorkflowID:    w.ID,
		Capability:    capability,
		CorrelationID: correlationID,
		Payload:       payload,
		Deadline:      deadline,
	}
	if err := s.dispatcher.Dispatch(ctx, req); err != nil {
		s.RecordDispatchFailure(ctx, req, err)
		return nil, dErrors.Wrap(err, dErrors.CodeTransientDispatch, "capability dispatch could not be queued")
	}

	s.logger.InfoContext(ctx, "capability dispatched",
		"workflow_id", w.ID.String(),
		"capability", string(capability),
		"correlation_id", correlationID.String(),
		"deadline", deadline,
	)
	return &DispatchResult{Workflow: w, CorrelationID: correlationID, Deadline: deadline}, nil
}

// RecordDispatchFailure is the gateway failure hook. The wait stays in place so
// the operator can kill the workflow or let the deadline expire.
func (s *Service) RecordDispatchFailure(ctx context.Context, req models.DispatchRequest, cause error) {
	ctx = context.WithoutCancel(ctx)
	w := &models.Workflow{ID: req.WorkflowID}
	if _, err := s.record(ctx, w, eventmodels.EventError, actor{kind: eventmodels.ActorSystem, id: "agent-gateway"}, map[string]any{
		"capability":    string(req.Capability),
		"correlationId": req.CorrelationID.String(),
		"error":         cause.Error(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record dispatch failure",
			"workflow_id", req.WorkflowID.String(),
			"correlation_id", req.CorrelationID.String(),
			"error", err,
		)
		return
	}
	s.logger.WarnContext(ctx, "capability dispatch failed",
		"workflow_id", req.WorkflowID.String(),
		"capability", string(req.Capability),
		"correlation_id", req.CorrelationID.String(),
		"error", cause,
	)
}

// AwaitSignal persists a pending wait and returns. Human gates suspend the saga
// in awaiting_human; resumption happens only through HandleSignal or the sweep.
func (s *Service) AwaitSignal(ctx context.Context, workflowID id.WorkflowID, signalName string, deadline time.Time) (*models.Workflow, error) {
	ctx, span := s.span(ctx, "AwaitSignal", workflowID)
	defer span.End()

	w, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if err := w.CanAwait(signalName, deadline, now); err != nil {
		return nil, err
	}
	expected := w.Version
	w.ApplyAwait(signalName, deadline.UTC(), now)
	if err := s.save(ctx, w, expected); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "workflow awaiting signal",
		"workflow_id", w.ID.String(),
		"signal_name", signalName,
		"deadline", deadline,
		"status", string(w.Status),
	)
	return w, nil
}

// HandleSignal resolves the pending wait with a canonical signal. Signals that do
// not match the wait are recorded as anomalies and leave state untouched. A wait
// found expired is timed out instead of resumed.
func (s *Service) HandleSignal(ctx context.Context, workflowID id.WorkflowID, sig models.Signal) (*models.SignalResult, error) {
	ctx, span := s.span(ctx, "HandleSignal", workflowID)
	defer span.End()

	var lastErr error
	for range signalAttempts {
		result, err := s.handleSignalOnce(ctx, workflowID, sig)
		if err == nil {
			s.metrics.IncrementSignalOutcome(string(result.Outcome))
			return result, nil
		}
		if !isStale(err) {
			return nil, err
		}
		// The signal is re-evaluated against the winner's state.
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) handleSignalOnce(ctx context.Context, workflowID id.WorkflowID, sig models.Signal) (*models.SignalResult, error) {
	w, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := w.CanMutate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if w.CanTimeout(now) {
		if _, err := s.timeout(ctx, w, now); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "signal arrived after deadline",
			"workflow_id", w.ID.String(),
			"signal_name", sig.Name,
		)
		return &models.SignalResult{Outcome: models.SignalTimedOut, Workflow: w}, nil
	}

	if mismatch := w.SignalMismatch(sig); mismatch != "" {
		return s.recordAnomaly(ctx, w, sig, mismatch)
	}

	from := w.Stage
	expected := w.Version
	resolved, left, advanced := w.ApplySignal(sig, now)
	who := signalActor(sig)

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.save(txCtx, w, expected); err != nil {
			return err
		}
		triggerID := sig.EventID
		if triggerID.IsNil() {
			rec, err := s.record(txCtx, w, signalEventType(sig), who, SignalPayload(sig))
			if err != nil {
				return err
			}
			triggerID = rec.ID
		}
		rejected := w.Status == models.StatusFailed
		if !advanced && !rejected {
			return nil
		}
		payload := map[string]any{
			"from":           int(from),
			"to":             int(w.Stage),
			"status":         string(w.Status),
			"triggerEventId": triggerID.String(),
			"signalName":     resolved.SignalName,
		}
		if rejected {
			payload["origin"] = string(sig.Origin)
			payload["reason"] = w.FailureReason
		}
		if left != nil {
			payload["metadata"] = metadataPayload(left)
		}
		_, err := s.record(txCtx, w, eventmodels.EventStageChange, who, payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "signal applied",
		"workflow_id", w.ID.String(),
		"signal_name", sig.Name,
		"outcome", string(sig.Decision.Outcome),
		"stage", int(w.Stage),
		"status", string(w.Status),
	)
	return &models.SignalResult{Outcome: models.SignalApplied, Workflow: w}, nil
}

func (s *Service) recordAnomaly(ctx context.Context, w *models.Workflow, sig models.Signal, mismatch string) (*models.SignalResult, error) {
	s.logger.WarnContext(ctx, "signal does not match pending wait",
		"workflow_id", w.ID.String(),
		"signal_name", sig.Name,
		"origin", string(sig.Origin),
		"correlation_id", sig.CorrelationID.String(),
		"reason", mismatch,
	)
	payload := map[string]any{
		"signalName": sig.Name,
		"origin":     string(sig.Origin),
		"reason":     mismatch,
		"status":     string(w.Status),
	}
	if sig.CorrelationID != "" {
		payload["correlationId"] = sig.CorrelationID.String()
	}
	if !sig.EventID.IsNil() {
		payload["sourceEventId"] = sig.EventID.String()
	}
	if _, err := s.record(ctx, w, eventmodels.EventSignalAnomaly, actor{kind: eventmodels.ActorSystem, id: "stage-engine"}, payload); err != nil {
		return nil, err
	}
	return &models.SignalResult{Outcome: models.SignalIgnored, Anomaly: mismatch, Workflow: w}, nil
}

// CompleteBranch records one mandate processing track. A zero expectedVersion
// acts on the current version.
func (s *Service) CompleteBranch(ctx context.Context, workflowID id.WorkflowID, branch models.Branch, expectedVersion int64) (*models.Workflow, error) {
	ctx, span := s.span(ctx, "CompleteBranch", workflowID)
	defer span.End()

	w, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.IsTerminated() {
		return nil, models.ErrAlreadyTerminated()
	}
	if err := s.checkVersion(w, expectedVersion); err != nil {
		return nil, err
	}
	if err := w.CanCompleteBranch(branch); err != nil {
		return nil, err
	}
	expected := w.Version
	w.ApplyCompleteBranch(branch, requestcontext.Now(ctx))
	if err := s.save(ctx, w, expected); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "mandate branch completed",
		"workflow_id", w.ID.String(),
		"branch", string(branch),
		"complete", w.MandateProgress().BranchesComplete(),
	)
	return w, nil
}

// SetMetadata attaches stage-scoped data to the current stage.
func (s *Service) SetMetadata(ctx context.Context, workflowID id.WorkflowID, expectedVersion int64, meta models.StageMetadata) (*models.Workflow, error) {
	ctx, span := s.span(ctx, "SetMetadata", workflowID)
	defer span.End()

	w, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.IsTerminated() {
		return nil, models.ErrAlreadyTerminated()
	}
	if err := s.checkVersion(w, expectedVersion); err != nil {
		return nil, err
	}
	if err := w.CanSetMetadata(meta); err != nil {
		return nil, err
	}
	expected := w.Version
	w.ApplyMetadata(meta, requestcontext.Now(ctx))
	if err := s.save(ctx, w, expected); err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorkflow returns the workflow, timing out an expired wait on the way.
func (s *Service) GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error) {
	w, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if !w.CanTimeout(now) {
		return w, nil
	}
	if _, err := s.timeout(ctx, w, now); err != nil {
		if !isStale(err) {
			return nil, err
		}
	}
	return s.load(ctx, workflowID)
}

func (s *Service) ListEvents(ctx context.Context, workflowID id.WorkflowID, afterSequence int64, limit int) ([]*eventmodels.Event, error) {
	exists, err := s.store.Exists(ctx, workflowID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check workflow")
	}
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "workflow not found")
	}
	return s.events.List(ctx, workflowID, afterSequence, limit)
}

// TerminateResult reports the absorbing transition performed for the kill switch.
type TerminateResult struct {
	Workflow      *models.Workflow
	CancelledWait *models.CancelledWait
	TerminatedAt  time.Time
}

// Terminate sets status terminated unconditionally. Unlike other writes it
// retries its own CAS, so termination wins over any concurrent transition.
func (s *Service) Terminate(ctx context.Context, workflowID id.WorkflowID, reason string) (*TerminateResult, error) {
	ctx, span := s.span(ctx, "Terminate", workflowID)
	defer span.End()

	for attempt := 1; ; attempt++ {
		w, err := s.load(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if err := w.CanTerminate(); err != nil {
			return nil, err
		}
		expected := w.Version
		now := requestcontext.Now(ctx)
		cancelled := w.ApplyTermination(reason, now)

		err = s.save(ctx, w, expected)
		if err == nil {
			s.metrics.IncrementTermination()
			s.logger.WarnContext(ctx, "workflow terminated",
				"workflow_id", w.ID.String(),
				"reason", reason,
				"attempt", attempt,
			)
			return &TerminateResult{Workflow: w, CancelledWait: cancelled, TerminatedAt: now}, nil
		}
		if !isStale(err) || attempt >= terminateAttempts {
			return nil, err
		}
	}
}

// Archive soft-deletes a finished workflow. History is never removed.
func (s *Service) Archive(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error) {
	ctx, span := s.span(ctx, "Archive", workflowID)
	defer span.End()

	w, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := w.CanArchive(); err != nil {
		return nil, err
	}
	expected := w.Version
	w.ApplyArchive(requestcontext.Now(ctx))

	who := actorFromContext(ctx)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.save(txCtx, w, expected); err != nil {
			return err
		}
		_, err := s.record(txCtx, w, eventmodels.EventWorkflowArchived, who, map[string]any{
			"status": string(w.Status),
			"stage":  int(w.Stage),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// timeout transitions an expired wait exactly once. Losing the CAS means
// another writer already moved the workflow.
func (s *Service) timeout(ctx context.Context, w *models.Workflow, now time.Time) (bool, error) {
	expected := w.Version
	expired := w.ApplyTimeout(now)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.save(txCtx, w, expected); err != nil {
			return err
		}
		payload := map[string]any{
			"signalName": expired.SignalName,
			"deadline":   expired.Deadline.Format(time.RFC3339Nano),
			"stage":      int(w.Stage),
			"kind":       string(expired.Kind),
		}
		if expired.CorrelationID != "" {
			payload["correlationId"] = expired.CorrelationID.String()
			payload["capability"] = string(expired.Capability)
		}
		_, err := s.record(txCtx, w, eventmodels.EventTimeout, actor{kind: eventmodels.ActorSystem, id: "deadline-sweep"}, payload)
		return err
	})
	if err != nil {
		return false, err
	}
	s.metrics.IncrementTimeout()
	s.logger.InfoContext(ctx, "pending wait timed out",
		"workflow_id", w.ID.String(),
		"signal_name", expired.SignalName,
		"deadline", expired.Deadline,
	)
	return true, nil
}

func signalActor(sig models.Signal) actor {
	if sig.Origin == models.OriginHuman {
		return actor{kind: eventmodels.ActorUser, id: sig.ActorID}
	}
	return actor{kind: eventmodels.ActorAgent, id: sig.ActorID}
}

func signalEventType(sig models.Signal) eventmodels.EventType {
	if sig.Origin == models.OriginHuman {
		return eventmodels.EventHumanOverride
	}
	return eventmodels.EventAgentCallback
}

// SignalPayload is the audit payload for a canonical signal.
func SignalPayload(sig models.Signal) map[string]any {
	payload := map[string]any{
		"signalName": sig.Name,
		"origin":     string(sig.Origin),
		"outcome":    string(sig.Decision.Outcome),
	}
	if sig.Decision.Reason != "" {
		payload["reason"] = sig.Decision.Reason
	}
	if sig.Decision.Notes != "" {
		payload["notes"] = sig.Decision.Notes
	}
	if sig.Decision.RiskScore != nil {
		payload["riskScore"] = *sig.Decision.RiskScore
	}
	if len(sig.Decision.Anomalies) > 0 {
		payload["anomalies"] = append([]string(nil), sig.Decision.Anomalies...)
	}
	if sig.CorrelationID != "" {
		payload["correlationId"] = sig.CorrelationID.String()
	}
	return payload
}

// SignalEventType exposes the audit event type used for a signal's origin.
func SignalEventType(sig models.Signal) eventmodels.EventType {
	return signalEventType(sig)
}

func metadataPayload(m models.StageMetadata) map[string]any {
	return map[string]any{
		"stage": int(m.Stage()),
		"data":  m,
	}
}

