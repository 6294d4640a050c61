package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"onboarding/internal/signal/handler/mocks"
	signalmodels "onboarding/internal/signal/models"
	"onboarding/internal/signal/service"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/webhook"
	"onboarding/pkg/requestcontext"
)

var secret = []byte("s3cret")

type SignalHandlerSuite struct {
	suite.Suite
	svc    *mocks.MockService
	router chi.Router
}

func TestSignalHandlerSuite(t *testing.T) {
	suite.Run(t, new(SignalHandlerSuite))
}

func (s *SignalHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.svc = mocks.NewMockService(ctrl)
	s.router = chi.NewRouter()
	New(s.svc, secret, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *SignalHandlerSuite) post(path string, body []byte, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *SignalHandlerSuite) TestAccepted() {
	wfID := id.NewWorkflowID()
	user := id.UserID(uuid.New())
	body := []byte(`{"signalName":"quote_approval","payload":{"decision":"APPROVED"}}`)

	s.svc.EXPECT().
		Ingest(gomock.Any(), wfID, body, signalmodels.Caller{UserID: user}).
		Return(&service.Result{
			Signal:  models.Signal{Name: models.SignalQuoteApproval, Origin: models.OriginHuman, WorkflowID: wfID},
			Outcome: models.SignalApplied,
		}, nil)

	rec := s.post("/workflows/"+wfID.String()+"/signals", body, func(r *http.Request) {
		*r = *r.WithContext(requestcontext.WithUserID(r.Context(), user))
	})
	s.Equal(http.StatusOK, rec.Code)
	var out map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	s.Equal(true, out["success"])
	s.Equal("applied", out["outcome"])
	s.Equal("quote_approval", out["signal"].(map[string]any)["signalName"])
}

func (s *SignalHandlerSuite) TestSignedAgentBody() {
	wfID := id.NewWorkflowID()
	body := []byte(`{"workflowId":"` + wfID.String() + `","decision":{"outcome":"APPROVED"},"agentId":"a"}`)

	s.svc.EXPECT().
		Ingest(gomock.Any(), wfID, body, signalmodels.Caller{SignatureValid: true}).
		Return(&service.Result{Outcome: models.SignalApplied}, nil)

	rec := s.post("/workflows/"+wfID.String()+"/signals", body, func(r *http.Request) {
		r.Header.Set(webhook.SignatureHeader, webhook.Sign(secret, body))
	})
	s.Equal(http.StatusOK, rec.Code)
}

func (s *SignalHandlerSuite) TestUnrecognized() {
	wfID := id.NewWorkflowID()
	s.svc.EXPECT().Ingest(gomock.Any(), wfID, gomock.Any(), gomock.Any()).
		Return(nil, dErrors.WithDetails(dErrors.CodeUnrecognizedSignal, "signal body matches no known schema",
			map[string][]dErrors.FieldError{
				"human": {{Field: "signalName", Message: "is required"}},
				"agent": {{Field: "workflowId", Message: "is required"}},
			}))

	rec := s.post("/workflows/"+wfID.String()+"/signals", []byte(`{}`), nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	var out map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	s.Equal("unrecognized_signal", out["error"])
	details := out["details"].(map[string]any)
	s.Len(details["human"], 1)
	s.Len(details["agent"], 1)
}

func (s *SignalHandlerSuite) TestBadWorkflowID() {
	rec := s.post("/workflows/not-a-uuid/signals", []byte(`{}`), nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *SignalHandlerSuite) TestUnauthorized() {
	wfID := id.NewWorkflowID()
	s.svc.EXPECT().Ingest(gomock.Any(), wfID, gomock.Any(), signalmodels.Caller{}).
		Return(nil, dErrors.New(dErrors.CodeUnauthorized, "human signals require an authenticated session"))

	rec := s.post("/workflows/"+wfID.String()+"/signals", []byte(`{"signalName":"quote_approval","payload":{"decision":"APPROVED"}}`), nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}
