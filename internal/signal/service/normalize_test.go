package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
)

func TestNormalize(t *testing.T) {
	wfID := id.WorkflowID(uuid.New())
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("human schema wins", func(t *testing.T) {
		sig, err := Normalize(wfID, []byte(`{"signalName":"quote_approval","payload":{"decision":"approved","reason":"fine","notes":"n"}}`), now)
		require.NoError(t, err)
		assert.Equal(t, models.OriginHuman, sig.Origin)
		assert.Equal(t, models.SignalQuoteApproval, sig.Name)
		assert.Equal(t, models.OutcomeApproved, sig.Decision.Outcome)
		assert.Equal(t, "fine", sig.Decision.Reason)
		assert.Equal(t, "n", sig.Decision.Notes)
		assert.Equal(t, wfID, sig.WorkflowID)
		assert.Equal(t, now, sig.ReceivedAt)
	})

	t.Run("agent schema", func(t *testing.T) {
		raw := `{"workflowId":"` + wfID.String() + `","decision":{"outcome":"REJECTED","reason":"risk","riskScore":91,"anomalies":["velocity"]},"agentId":"risk-v2","correlationId":"c-1"}`
		sig, err := Normalize(wfID, []byte(raw), now)
		require.NoError(t, err)
		assert.Equal(t, models.OriginAgent, sig.Origin)
		assert.Equal(t, models.SignalAgentCallback, sig.Name)
		assert.Equal(t, models.OutcomeRejected, sig.Decision.Outcome)
		require.NotNil(t, sig.Decision.RiskScore)
		assert.InDelta(t, 91, *sig.Decision.RiskScore, 0.001)
		assert.Equal(t, []string{"velocity"}, sig.Decision.Anomalies)
		assert.Equal(t, id.CorrelationID("c-1"), sig.CorrelationID)
		assert.Equal(t, "risk-v2", sig.ActorID)
	})

	t.Run("unrecognized carries both schemas", func(t *testing.T) {
		_, err := Normalize(wfID, []byte(`{"foo":"bar"}`), now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnrecognizedSignal))
		de, ok := dErrors.From(err)
		require.True(t, ok)
		assert.NotEmpty(t, de.Details["human"])
		assert.NotEmpty(t, de.Details["agent"])
	})

	cases := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"not json", `approve`},
		{"bad decision", `{"signalName":"quote_approval","payload":{"decision":"MAYBE"}}`},
		{"bad signal name", `{"signalName":"Quote Approval","payload":{"decision":"APPROVED"}}`},
		{"extra human field", `{"signalName":"quote_approval","payload":{"decision":"APPROVED","score":1}}`},
		{"agent for another workflow", `{"workflowId":"` + uuid.NewString() + `","decision":{"outcome":"APPROVED"},"agentId":"a"}`},
		{"agent without id", `{"workflowId":"` + wfID.String() + `","decision":{"outcome":"APPROVED"}}`},
		{"risk score out of range", `{"workflowId":"` + wfID.String() + `","decision":{"outcome":"APPROVED","riskScore":140},"agentId":"a"}`},
		{"trailing data", `{"signalName":"quote_approval","payload":{"decision":"APPROVED"}} {}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(wfID, []byte(tc.body), now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnrecognizedSignal), "got %v", err)
		})
	}
}

func TestAuthorize(t *testing.T) {
	human := models.Signal{Origin: models.OriginHuman}
	agent := models.Signal{Origin: models.OriginAgent}
	user := id.UserID(uuid.New())

	assert.NoError(t, Authorize(human, callerWith(user, false, false)))
	assert.True(t, dErrors.HasCode(Authorize(human, callerWith(id.UserID{}, true, false)), dErrors.CodeUnauthorized))
	assert.NoError(t, Authorize(agent, callerWith(id.UserID{}, true, false)))
	assert.True(t, dErrors.HasCode(Authorize(agent, callerWith(user, false, false)), dErrors.CodeUnauthorized))
	assert.NoError(t, Authorize(agent, callerWith(id.UserID{}, false, true)))
	assert.NoError(t, Authorize(human, callerWith(id.UserID{}, false, true)))
	assert.True(t, dErrors.HasCode(Authorize(models.Signal{Origin: "robot"}, callerWith(user, true, false)), dErrors.CodeForbidden))
}
