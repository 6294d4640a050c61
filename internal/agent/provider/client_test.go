package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient("risk_scoring", srv.URL, time.Second)
	err := c.Invoke(context.Background(), Request{WorkflowID: "wf-1", CorrelationID: "corr-1", Capability: "risk_scoring"})
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
}

func TestInvokeCategorizesFailures(t *testing.T) {
	cases := []struct {
		status    int
		category  ErrorCategory
		retryable bool
	}{
		{http.StatusServiceUnavailable, ErrorOutage, true},
		{http.StatusTooManyRequests, ErrorRateLimited, true},
		{http.StatusGatewayTimeout, ErrorTimeout, true},
		{http.StatusUnauthorized, ErrorAuthentication, false},
		{http.StatusUnprocessableEntity, ErrorBadData, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := NewClient("quote_generation", srv.URL, time.Second).Invoke(context.Background(), Request{})
			require.Error(t, err)
			assert.Equal(t, tc.category, GetCategory(err))
			assert.Equal(t, tc.retryable, IsRetryable(err))

			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tc.status, pe.StatusCode)
		})
	}
}

func TestInvokeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewClient("quote_generation", url, time.Second).Invoke(context.Background(), Request{})
	assert.Equal(t, ErrorOutage, GetCategory(err))
	assert.True(t, IsRetryable(err))
}

func TestInvokeTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-block }))
	defer srv.Close()
	defer close(block)

	err := NewClient("risk_scoring", srv.URL, 20*time.Millisecond).Invoke(context.Background(), Request{})
	assert.Equal(t, ErrorTimeout, GetCategory(err))
}

func TestIsRetryablePlainError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.Equal(t, ErrorInternal, GetCategory(errors.New("boom")))
}
