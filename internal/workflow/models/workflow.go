package models

import (
	"fmt"
	"time"

	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
)

// Workflow is the aggregate root of one onboarding saga.
//
// Invariants:
//   - Stage is within 1..6 and only moves forward
//   - Version increases by exactly one per persisted mutation
//   - At most one PendingWait exists at a time
//   - Metadata, when set, belongs to the current Stage
//   - Once Status is terminated no field changes again
//
// Every mutation follows the CanX / ApplyX pair: CanX reports whether the
// transition is legal for the current state, ApplyX performs it and bumps the
// version. Callers persist the result with a compare-and-swap on the prior version.
type Workflow struct {
	ID            id.WorkflowID  `json:"id"`
	ApplicantID   id.ApplicantID `json:"applicantId"`
	Stage         Stage          `json:"stage"`
	Status        Status         `json:"status"`
	Version       int64          `json:"version"`
	Metadata      StageMetadata  `json:"-"`
	PendingWait   *PendingWait   `json:"pendingWait,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	TerminatedAt  *time.Time     `json:"terminatedAt,omitempty"`
	ArchivedAt    *time.Time     `json:"archivedAt,omitempty"`
}

// NewWorkflow creates a saga at stage 1 in pending state.
func NewWorkflow(workflowID id.WorkflowID, applicantID id.ApplicantID, now time.Time) (*Workflow, error) {
	if workflowID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "workflow id cannot be nil")
	}
	if applicantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "applicantId is required")
	}
	return &Workflow{
		ID:          workflowID,
		ApplicantID: applicantID,
		Stage:       FirstStage,
		Status:      StatusPending,
		Version:     1,
		StartedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ErrAlreadyTerminated is returned by every guard once the kill switch has run.
func ErrAlreadyTerminated() error {
	return dErrors.New(dErrors.CodeAlreadyTerminated, "workflow already terminated")
}

func (w *Workflow) IsTerminated() bool {
	return w.Status == StatusTerminated
}

func (w *Workflow) IsArchived() bool {
	return w.ArchivedAt != nil
}

// CanMutate is the guard shared by every non-kill entry point.
func (w *Workflow) CanMutate() error {
	if w.IsTerminated() {
		return ErrAlreadyTerminated()
	}
	if w.IsArchived() {
		return dErrors.New(dErrors.CodeConflict, "workflow is archived")
	}
	return nil
}

func (w *Workflow) touch(now time.Time) {
	w.Version++
	if now.After(w.UpdatedAt) {
		w.UpdatedAt = now
	}
}

// MandateProgress returns the branch state of stage 4.
func (w *Workflow) MandateProgress() MandateProcessingMeta {
	if m, ok := w.Metadata.(MandateProcessingMeta); ok {
		return m
	}
	return MandateProcessingMeta{}
}

// CanAdvance checks whether an operator may move the saga to its next stage.
func (w *Workflow) CanAdvance() error {
	if err := w.CanMutate(); err != nil {
		return err
	}
	if w.Status != StatusPending && w.Status != StatusInProgress {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("cannot advance a workflow in status %s", w.Status))
	}
	if w.PendingWait != nil {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("workflow is waiting for %s", w.PendingWait.SignalName))
	}
	if w.Stage == StageMandateProcessing && !w.MandateProgress().BranchesComplete() {
		return dErrors.New(dErrors.CodeValidation, "mandate processing branches are not complete")
	}
	return nil
}

// ApplyAdvance moves to the next stage, or completes the saga from the final stage.
// It returns the metadata of the stage that was left.
func (w *Workflow) ApplyAdvance(now time.Time) StageMetadata {
	left := w.Metadata
	w.Metadata = nil
	if w.Stage.IsFinal() {
		w.Status = StatusCompleted
	} else {
		w.Stage = w.Stage.Next()
		w.Status = StatusInProgress
	}
	w.touch(now)
	return left
}

// CanDispatch checks whether capability work may start.
func (w *Workflow) CanDispatch(capability Capability) error {
	if err := w.CanMutate(); err != nil {
		return err
	}
	if !capability.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown capability %q", capability))
	}
	if w.Status != StatusPending && w.Status != StatusInProgress {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("cannot dispatch from status %s", w.Status))
	}
	if w.PendingWait != nil {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("workflow is already waiting for %s", w.PendingWait.SignalName))
	}
	if capability == CapabilityProcurementScreening && w.Stage != StageMandateProcessing {
		return dErrors.New(dErrors.CodeValidation, "procurement screening runs during mandate processing")
	}
	return nil
}

// ApplyDispatch marks the saga in progress and persists the callback wait.
func (w *Workflow) ApplyDispatch(capability Capability, correlationID id.CorrelationID, deadline, now time.Time) {
	w.Status = StatusInProgress
	w.PendingWait = &PendingWait{
		SignalName:    SignalAgentCallback,
		Kind:          WaitKindAgent,
		CorrelationID: correlationID,
		Capability:    capability,
		Deadline:      deadline,
		ResumeStage:   w.Stage.Next(),
		CreatedAt:     now,
	}
	w.touch(now)
}

// CanAwait checks whether a new wait may be registered.
func (w *Workflow) CanAwait(signalName string, deadline, now time.Time) error {
	if err := w.CanMutate(); err != nil {
		return err
	}
	if !ValidSignalName(signalName) {
		return dErrors.New(dErrors.CodeValidation, "signalName must be a lower_snake_case identifier")
	}
	if signalName == SignalAgentCallback {
		return dErrors.New(dErrors.CodeValidation, "agent callbacks are awaited through dispatch")
	}
	if !deadline.After(now) {
		return dErrors.New(dErrors.CodeValidation, "deadline must be in the future")
	}
	if w.PendingWait != nil {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("workflow is already waiting for %s", w.PendingWait.SignalName))
	}
	if IsHumanGate(signalName) {
		if w.Status != StatusInProgress {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("human gate requires status in_progress, got %s", w.Status))
		}
		return nil
	}
	if w.Status != StatusPending && w.Status != StatusInProgress {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("cannot wait from status %s", w.Status))
	}
	return nil
}

// ApplyAwait persists the wait; human gates suspend the saga in awaiting_human.
func (w *Workflow) ApplyAwait(signalName string, deadline, now time.Time) {
	kind := WaitKindExternal
	if IsHumanGate(signalName) {
		kind = WaitKindHuman
		w.Status = StatusAwaitingHuman
	}
	w.PendingWait = &PendingWait{
		SignalName:  signalName,
		Kind:        kind,
		Deadline:    deadline,
		ResumeStage: w.Stage.Next(),
		CreatedAt:   now,
	}
	w.touch(now)
}

// SignalMismatch explains why a signal does not resolve the pending wait.
// An empty string means the signal matches.
func (w *Workflow) SignalMismatch(sig Signal) string {
	if w.PendingWait == nil {
		return "no pending wait"
	}
	wait := w.PendingWait
	if sig.Name != wait.SignalName {
		return fmt.Sprintf("expected signal %s, got %s", wait.SignalName, sig.Name)
	}
	if wait.Kind == WaitKindAgent && sig.Origin != OriginAgent {
		return "agent callback wait resolved by non-agent signal"
	}
	if wait.Kind == WaitKindHuman && sig.Origin != OriginHuman {
		return "human gate resolved by non-human signal"
	}
	if !wait.CorrelationID.IsNil() {
		if sig.CorrelationID.IsNil() {
			return fmt.Sprintf("signal carries no correlation id, pending %s", wait.CorrelationID)
		}
		if sig.CorrelationID != wait.CorrelationID {
			return fmt.Sprintf("correlation %s does not match pending %s", sig.CorrelationID, wait.CorrelationID)
		}
	}
	if !sig.Decision.Outcome.IsValid() {
		return fmt.Sprintf("unknown outcome %q", sig.Decision.Outcome)
	}
	return ""
}

// ApplySignal resolves the pending wait with a decision. Approvals advance the
// stage (or complete the saga at the final stage); rejections fail it. During
// mandate processing an approved procurement callback clears that branch and the
// stage only advances once both branches are complete.
// The metadata of a stage that was left is returned for the audit trail.
func (w *Workflow) ApplySignal(sig Signal, now time.Time) (resolved PendingWait, left StageMetadata, advanced bool) {
	resolved = *w.PendingWait
	w.PendingWait = nil

	if sig.Decision.Outcome == OutcomeRejected {
		w.Status = StatusFailed
		w.FailureReason = sig.Decision.Reason
		if w.FailureReason == "" {
			w.FailureReason = "rejected"
		}
		w.touch(now)
		return resolved, nil, false
	}

	w.recordDecisionMetadata(resolved, sig)
	if w.Stage == StageMandateProcessing && !w.MandateProgress().BranchesComplete() {
		w.Status = StatusInProgress
		w.touch(now)
		return resolved, nil, false
	}
	left = w.ApplyAdvance(now)
	return resolved, left, true
}

func (w *Workflow) recordDecisionMetadata(wait PendingWait, sig Signal) {
	switch w.Stage {
	case StageQuoteSigning:
		if _, ok := w.Metadata.(QuoteSigningMeta); !ok {
			w.Metadata = QuoteSigningMeta{SignedAt: sig.ReceivedAt}
		}
	case StageMandateProcessing:
		progress := w.MandateProgress()
		if wait.Capability == CapabilityProcurementScreening {
			progress.ProcurementCleared = true
		}
		w.Metadata = progress
	case StageDocumentAnalysis:
		if sig.Decision.RiskScore != nil {
			w.Metadata = DocumentAnalysisMeta{
				RiskScore: *sig.Decision.RiskScore,
				Anomalies: append([]string(nil), sig.Decision.Anomalies...),
			}
		}
	case StageRiskReview:
		if sig.Origin == OriginHuman {
			w.Metadata = RiskReviewMeta{ReviewerID: sig.ActorID, Decision: string(sig.Decision.Outcome)}
		}
	}
}

// CanCompleteBranch checks a mandate processing branch completion.
func (w *Workflow) CanCompleteBranch(branch Branch) error {
	if err := w.CanMutate(); err != nil {
		return err
	}
	if !branch.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown branch %q", branch))
	}
	if w.Stage != StageMandateProcessing {
		return dErrors.New(dErrors.CodeValidation, "branches exist only during mandate processing")
	}
	if !w.Status.IsActive() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("cannot complete branch in status %s", w.Status))
	}
	progress := w.MandateProgress()
	if (branch == BranchProcurement && progress.ProcurementCleared) ||
		(branch == BranchDocuments && progress.DocumentsSubmitted) {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("branch %s already complete", branch))
	}
	return nil
}

func (w *Workflow) ApplyCompleteBranch(branch Branch, now time.Time) {
	progress := w.MandateProgress()
	switch branch {
	case BranchProcurement:
		progress.ProcurementCleared = true
	case BranchDocuments:
		progress.DocumentsSubmitted = true
	}
	w.Metadata = progress
	w.touch(now)
}

// CanSetMetadata rejects payloads that belong to another stage.
func (w *Workflow) CanSetMetadata(meta StageMetadata) error {
	if err := w.CanMutate(); err != nil {
		return err
	}
	if meta == nil {
		return dErrors.New(dErrors.CodeValidation, "metadata is required")
	}
	if meta.Stage() != w.Stage {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("metadata for stage %s does not match current stage %s", meta.Stage(), w.Stage))
	}
	if !w.Status.IsActive() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("cannot update metadata in status %s", w.Status))
	}
	return nil
}

func (w *Workflow) ApplyMetadata(meta StageMetadata, now time.Time) {
	w.Metadata = cloneMetadata(meta)
	w.touch(now)
}

// CanTimeout reports whether the pending wait has expired at now.
func (w *Workflow) CanTimeout(now time.Time) bool {
	return w.Status.IsActive() && w.PendingWait.Expired(now)
}

// ApplyTimeout closes the expired wait. It returns the wait that timed out.
func (w *Workflow) ApplyTimeout(now time.Time) PendingWait {
	expired := *w.PendingWait
	w.PendingWait = nil
	w.Status = StatusTimeout
	w.touch(now)
	return expired
}

// CanTerminate allows termination from any state except terminated itself.
func (w *Workflow) CanTerminate() error {
	if w.IsTerminated() {
		return ErrAlreadyTerminated()
	}
	return nil
}

// ApplyTermination sets the absorbing state and cancels any pending wait with
// the killed outcome.
func (w *Workflow) ApplyTermination(reason string, now time.Time) *CancelledWait {
	var cancelled *CancelledWait
	if w.PendingWait != nil {
		cancelled = &CancelledWait{PendingWait: *w.PendingWait, Outcome: WaitOutcomeKilled}
	}
	w.PendingWait = nil
	w.Status = StatusTerminated
	w.FailureReason = reason
	terminatedAt := now
	w.TerminatedAt = &terminatedAt
	w.touch(now)
	return cancelled
}

// CanArchive allows soft deletion of sagas that reached an outcome.
func (w *Workflow) CanArchive() error {
	if err := w.CanMutate(); err != nil {
		return err
	}
	if !w.Status.IsFinished() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("cannot archive a workflow in status %s", w.Status))
	}
	return nil
}

func (w *Workflow) ApplyArchive(now time.Time) {
	archivedAt := now
	w.ArchivedAt = &archivedAt
	w.touch(now)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	c.Metadata = cloneMetadata(w.Metadata)
	if w.PendingWait != nil {
		wait := *w.PendingWait
		c.PendingWait = &wait
	}
	if w.TerminatedAt != nil {
		t := *w.TerminatedAt
		c.TerminatedAt = &t
	}
	if w.ArchivedAt != nil {
		t := *w.ArchivedAt
		c.ArchivedAt = &t
	}
	return &c
}
