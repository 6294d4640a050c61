package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
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

	"onboarding/internal/notification/handler/mocks"
	"onboarding/internal/notification/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/testutil"
)

func setup(t *testing.T) (*mocks.MockService, chi.Router) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return svc, r
}

func serve(r chi.Router, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandleList(t *testing.T) {
	workflowID := id.NewWorkflowID()

	t.Run("lists notifications", func(t *testing.T) {
		svc, r := setup(t)
		svc.EXPECT().List(gomock.Any(), workflowID).Return([]*models.Notification{
			{ID: id.NewNotificationID(), WorkflowID: workflowID, Kind: models.KindTimeout, Message: "Wait for risk_decision timed out", Actionable: true},
		}, nil)

		rec := serve(r, http.MethodGet, "/workflows/"+workflowID.String()+"/notifications")
		require.Equal(t, http.StatusOK, rec.Code)
		var out struct {
			Notifications []map[string]any `json:"notifications"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Len(t, out.Notifications, 1)
		assert.Equal(t, "timeout", out.Notifications[0]["type"])
		assert.Equal(t, true, out.Notifications[0]["actionable"])
	})

	t.Run("empty list is an array", func(t *testing.T) {
		svc, r := setup(t)
		svc.EXPECT().List(gomock.Any(), workflowID).Return(nil, nil)
		rec := serve(r, http.MethodGet, "/workflows/"+workflowID.String()+"/notifications")
		assert.JSONEq(t, `{"notifications":[]}`, rec.Body.String())
	})

	t.Run("bad id", func(t *testing.T) {
		_, r := setup(t)
		assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/workflows/x/notifications").Code)
	})
}

func TestHandleMarkRead(t *testing.T) {
	notificationID := id.NewNotificationID()
	path := "/notifications/" + notificationID.String() + "/read"

	testutil.Given(t, "an unread notification", func(t *testing.T) {
		testutil.When(t, "the operator marks it read", func(t *testing.T) {
			svc, r := setup(t)
			svc.EXPECT().MarkRead(gomock.Any(), notificationID).Return(&models.Notification{ID: notificationID, Read: true}, nil)
			rec := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodPost, path))

			testutil.Then(t, "the read notification is returned", func(t *testing.T) {
				testutil.AssertStatusOK(t, rec)
				assert.Contains(t, rec.Body.String(), `"read":true`)
			})
		})
	})

	testutil.Given(t, "an unknown notification", func(t *testing.T) {
		svc, r := setup(t)
		svc.EXPECT().MarkRead(gomock.Any(), notificationID).Return(nil, dErrors.New(dErrors.CodeNotFound, "notification not found"))
		rec := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodPost, path))

		testutil.Then(t, "it responds not found", func(t *testing.T) {
			testutil.AssertStatus(t, rec, http.StatusNotFound)
		})
	})
}
