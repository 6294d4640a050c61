package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"onboarding/internal/agent/gateway"
	"onboarding/internal/agent/handler/mocks"
	signalmodels "onboarding/internal/signal/models"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/webhook"
)

var secret = []byte("provider-secret")

func setup(t *testing.T) (*mocks.MockGateway, chi.Router) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	r := chi.NewRouter()
	New(gw, secret, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return gw, r
}

func post(r http.Handler, path string, body []byte, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleCallback(t *testing.T) {
	body := []byte(`{"correlation_id":"c-1"}`)

	t.Run("signed callback is forwarded", func(t *testing.T) {
		gw, r := setup(t)
		wfID := id.NewWorkflowID()
		gw.EXPECT().
			ReceiveCallback(gomock.Any(), "risk_scoring", body, signalmodels.Caller{SignatureValid: true}).
			Return(&gateway.CallbackResult{CorrelationID: "c-1", WorkflowID: wfID, Outcome: models.OutcomeApproved, Signal: models.SignalApplied}, nil)

		rec := post(r, "/callbacks/risk_scoring", body, webhook.SignatureHeader, webhook.Sign(secret, body))
		require.Equal(t, http.StatusOK, rec.Code)
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, false, out["duplicate"])
		assert.Equal(t, "applied", out["signal"])
	})

	t.Run("shared secret is accepted", func(t *testing.T) {
		gw, r := setup(t)
		gw.EXPECT().ReceiveCallback(gomock.Any(), "quote_generation", body, gomock.Any()).
			Return(&gateway.CallbackResult{Duplicate: true}, nil)

		rec := post(r, "/callbacks/quote_generation", body, webhook.SecretHeader, string(secret))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"duplicate":true`)
	})

	t.Run("bad signature is rejected before the gateway", func(t *testing.T) {
		_, r := setup(t)
		rec := post(r, "/callbacks/risk_scoring", body, webhook.SignatureHeader, webhook.Sign([]byte("other"), body))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, r := setup(t)
		rec := post(r, "/callbacks/risk_scoring", body, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed payload", func(t *testing.T) {
		gw, r := setup(t)
		gw.EXPECT().ReceiveCallback(gomock.Any(), "risk_scoring", body, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeValidation, "invalid callback payload"))

		rec := post(r, "/callbacks/risk_scoring", body, webhook.SignatureHeader, webhook.Sign(secret, body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown provider", func(t *testing.T) {
		gw, r := setup(t)
		gw.EXPECT().ReceiveCallback(gomock.Any(), "weather", body, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeNotFound, `unknown provider "weather"`))

		rec := post(r, "/callbacks/weather", body, webhook.SignatureHeader, webhook.Sign(secret, body))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
