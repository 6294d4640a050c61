package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding/internal/platform/kafka"
	signalmodels "onboarding/internal/signal/models"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
)

type fakeSink struct {
	err     error
	signals []models.Signal
	callers []signalmodels.Caller
}

func (f *fakeSink) Deliver(_ context.Context, sig models.Signal, caller signalmodels.Caller) (*models.SignalResult, error) {
	f.signals = append(f.signals, sig)
	f.callers = append(f.callers, caller)
	if f.err != nil {
		return nil, f.err
	}
	return &models.SignalResult{Outcome: models.SignalApplied}, nil
}

func isPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

const humanBody = `{"signalName":"quote_approval","payload":{"decision":"approved"}}`

func message(value string, key string, headers map[string]string) *kafka.Message {
	return &kafka.Message{
		Topic:     "workflow.resume",
		Key:       []byte(key),
		Value:     []byte(value),
		Headers:   headers,
		Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestResumeHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wfID := id.NewWorkflowID()

	t.Run("delivers as trusted with actor header", func(t *testing.T) {
		sink := &fakeSink{}
		h := New(sink, logger)
		err := h.Handle(context.Background(), message(
			`{"workflowId":"`+wfID.String()+`","body":`+humanBody+`}`, "", map[string]string{HeaderActorID: "ops-7"}))
		require.NoError(t, err)
		require.Len(t, sink.signals, 1)
		assert.True(t, sink.callers[0].Trusted)
		assert.Equal(t, wfID, sink.signals[0].WorkflowID)
		assert.Equal(t, models.OutcomeApproved, sink.signals[0].Decision.Outcome)
		assert.Equal(t, "ops-7", sink.signals[0].ActorID)
	})

	t.Run("workflow id falls back to key", func(t *testing.T) {
		sink := &fakeSink{}
		err := New(sink, logger).Handle(context.Background(), message(`{"body":`+humanBody+`}`, wfID.String(), nil))
		require.NoError(t, err)
		assert.Equal(t, wfID, sink.signals[0].WorkflowID)
	})

	t.Run("bad payloads are permanent", func(t *testing.T) {
		cases := map[string]*kafka.Message{
			"not json":     message(`nope`, wfID.String(), nil),
			"bad id":       message(`{"body":`+humanBody+`}`, "not-a-uuid", nil),
			"missing body": message(`{"workflowId":"`+wfID.String()+`"}`, "", nil),
			"unrecognized": message(`{"workflowId":"`+wfID.String()+`","body":{"hello":"world"}}`, "", nil),
		}
		for name, msg := range cases {
			t.Run(name, func(t *testing.T) {
				sink := &fakeSink{}
				err := New(sink, logger).Handle(context.Background(), msg)
				require.Error(t, err)
				assert.True(t, isPermanent(err))
				assert.Empty(t, sink.signals)
			})
		}
	})

	t.Run("terminated workflow is dropped", func(t *testing.T) {
		sink := &fakeSink{err: dErrors.New(dErrors.CodeAlreadyTerminated, "workflow already terminated")}
		err := New(sink, logger).Handle(context.Background(), message(`{"body":`+humanBody+`}`, wfID.String(), nil))
		assert.True(t, isPermanent(err))
	})

	t.Run("internal failure is retried", func(t *testing.T) {
		sink := &fakeSink{err: dErrors.New(dErrors.CodeInternal, "store unavailable")}
		err := New(sink, logger).Handle(context.Background(), message(`{"body":`+humanBody+`}`, wfID.String(), nil))
		require.Error(t, err)
		assert.False(t, isPermanent(err))
	})
}
