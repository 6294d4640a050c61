package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"onboarding/internal/agent/correlation"
	"onboarding/internal/agent/provider"
	signalmodels "onboarding/internal/signal/models"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/circuit"
)

type scriptedInvoker struct {
	mu    sync.Mutex
	errs  []error
	calls []provider.Request
}

func (s *scriptedInvoker) Invoke(_ context.Context, req provider.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedInvoker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingSink struct {
	mu      sync.Mutex
	signals []models.Signal
	err     error
}

func (r *recordingSink) Deliver(_ context.Context, sig models.Signal, _ signalmodels.Caller) (*models.SignalResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	if r.err != nil {
		return nil, r.err
	}
	return &models.SignalResult{Outcome: models.SignalApplied}, nil
}

type failure struct {
	req models.DispatchRequest
	err error
}

type GatewaySuite struct {
	suite.Suite
	invoker      *scriptedInvoker
	sink         *recordingSink
	correlations *correlation.InMemoryStore
	failures     chan failure
	gw           *Gateway
	cancel       context.CancelFunc
	done         chan struct{}
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.invoker = &scriptedInvoker{}
	s.sink = &recordingSink{}
	s.correlations = correlation.NewInMemory()
	s.failures = make(chan failure, 8)
	s.gw = s.newGateway(WithPool(1, 4))
}

func (s *GatewaySuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

func (s *GatewaySuite) newGateway(opts ...Option) *Gateway {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithProvider(models.CapabilityRiskScoring, s.invoker),
		WithSignalSink(s.sink),
		WithRetry(3, time.Millisecond, 2*time.Millisecond),
		WithFailureHook(func(_ context.Context, req models.DispatchRequest, err error) {
			s.failures <- failure{req: req, err: err}
		}),
	}
	return New(s.correlations, append(base, opts...)...)
}

func (s *GatewaySuite) run() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		_ = s.gw.Run(ctx)
	}()
}

func (s *GatewaySuite) request() models.DispatchRequest {
	return models.DispatchRequest{
		WorkflowID:    id.NewWorkflowID(),
		Capability:    models.CapabilityRiskScoring,
		CorrelationID: id.NewCorrelationID(),
		Payload:       map[string]any{"applicant": "acme"},
		Deadline:      time.Now().Add(time.Minute),
	}
}

func (s *GatewaySuite) riskBody(req models.DispatchRequest, score int) []byte {
	return []byte(`{"correlation_id":"` + req.CorrelationID.String() + `","workflow_id":"` + req.WorkflowID.String() +
		`","risk_score":` + strconv.Itoa(score) + `,"recommendation":"APPROVE","agent_id":"risk-v2"}`)
}

func (s *GatewaySuite) TestDispatchInvokesProvider() {
	s.run()
	req := s.request()
	s.Require().NoError(s.gw.Dispatch(context.Background(), req))

	s.Eventually(func() bool { return s.invoker.count() == 1 }, time.Second, 5*time.Millisecond)
	s.invoker.mu.Lock()
	sent := s.invoker.calls[0]
	s.invoker.mu.Unlock()
	s.Equal(req.CorrelationID.String(), sent.CorrelationID)
	s.Equal("acme", sent.Payload["applicant"])
	s.Never(func() bool { return len(s.failures) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	rec, err := s.correlations.Get(context.Background(), req.CorrelationID)
	s.Require().NoError(err)
	s.Equal(req.WorkflowID, rec.WorkflowID)
}

func (s *GatewaySuite) TestRetriesThenReportsFailure() {
	outage := provider.NewProviderError(provider.ErrorOutage, "risk_scoring", "503", nil)
	s.invoker.errs = []error{outage, outage, outage}
	s.run()
	req := s.request()
	s.Require().NoError(s.gw.Dispatch(context.Background(), req))

	select {
	case f := <-s.failures:
		s.Equal(req.CorrelationID, f.req.CorrelationID)
		s.True(dErrors.HasCode(f.err, dErrors.CodeTransientDispatch))
		s.Equal(provider.ErrorOutage, provider.GetCategory(f.err))
	case <-time.After(time.Second):
		s.Fail("failure hook not called")
	}
	s.Equal(3, s.invoker.count())
}

func (s *GatewaySuite) TestRecoversWithinAttempts() {
	s.invoker.errs = []error{provider.NewProviderError(provider.ErrorTimeout, "risk_scoring", "slow", nil)}
	s.run()
	s.Require().NoError(s.gw.Dispatch(context.Background(), s.request()))

	s.Eventually(func() bool { return s.invoker.count() == 2 }, time.Second, 5*time.Millisecond)
	s.Never(func() bool { return len(s.failures) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *GatewaySuite) TestNonRetryableStopsImmediately() {
	s.invoker.errs = []error{provider.NewProviderError(provider.ErrorBadData, "risk_scoring", "400", nil)}
	s.run()
	s.Require().NoError(s.gw.Dispatch(context.Background(), s.request()))

	select {
	case f := <-s.failures:
		s.Equal(provider.ErrorBadData, provider.GetCategory(f.err))
	case <-time.After(time.Second):
		s.Fail("failure hook not called")
	}
	s.Equal(1, s.invoker.count())
}

func (s *GatewaySuite) TestOpenBreakerSkipsProvider() {
	s.gw = s.newGateway(WithPool(1, 4), WithBreakerOptions(circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour)))
	s.invoker.errs = []error{provider.NewProviderError(provider.ErrorBadData, "risk_scoring", "400", nil)}
	s.run()

	s.Require().NoError(s.gw.Dispatch(context.Background(), s.request()))
	<-s.failures
	s.Require().NoError(s.gw.Dispatch(context.Background(), s.request()))
	select {
	case f := <-s.failures:
		s.Equal(provider.ErrorCircuitOpen, provider.GetCategory(f.err))
	case <-time.After(time.Second):
		s.Fail("failure hook not called")
	}
	s.Equal(1, s.invoker.count())
}

func (s *GatewaySuite) TestDispatchUnknownCapability() {
	req := s.request()
	req.Capability = models.CapabilityQuoteGeneration
	err := s.gw.Dispatch(context.Background(), req)
	s.ErrorIs(err, provider.ErrNoProvider)
}

func (s *GatewaySuite) TestDispatchQueueFull() {
	s.gw = s.newGateway(WithPool(1, 1))
	s.Require().NoError(s.gw.Dispatch(context.Background(), s.request()))
	s.ErrorIs(s.gw.Dispatch(context.Background(), s.request()), ErrQueueFull)
}

func (s *GatewaySuite) TestDispatchRejectsReusedCorrelation() {
	req := s.request()
	s.Require().NoError(s.gw.Dispatch(context.Background(), req))
	s.Error(s.gw.Dispatch(context.Background(), req))
}

func (s *GatewaySuite) TestReceiveCallback() {
	ctx := context.Background()
	caller := signalmodels.Caller{SignatureValid: true}

	s.Run("applies once then reports duplicates", func() {
		req := s.request()
		s.Require().NoError(s.gw.Dispatch(ctx, req))

		res, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(req, 12), caller)
		s.Require().NoError(err)
		s.False(res.Duplicate)
		s.Equal(models.OutcomeApproved, res.Outcome)
		s.Equal(models.SignalApplied, res.Signal)

		again, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(req, 12), caller)
		s.Require().NoError(err)
		s.True(again.Duplicate)

		s.Require().Len(s.sink.signals, 1)
		sig := s.sink.signals[0]
		s.Equal(models.SignalAgentCallback, sig.Name)
		s.Equal(models.OriginAgent, sig.Origin)
		s.Equal(req.CorrelationID, sig.CorrelationID)
		s.Equal("risk-v2", sig.ActorID)
	})

	s.Run("high risk score rejects", func() {
		s.sink.signals = nil
		req := s.request()
		s.Require().NoError(s.gw.Dispatch(ctx, req))
		res, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(req, 92), caller)
		s.Require().NoError(err)
		s.Equal(models.OutcomeRejected, res.Outcome)
	})

	s.Run("unknown correlation", func() {
		_, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(s.request(), 10), caller)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("workflow mismatch", func() {
		req := s.request()
		s.Require().NoError(s.gw.Dispatch(ctx, req))
		other := req
		other.WorkflowID = id.NewWorkflowID()
		_, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(other, 10), caller)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("malformed payload is not forwarded", func() {
		s.sink.signals = nil
		_, err := s.gw.ReceiveCallback(ctx, "risk_scoring", []byte(`{"risk_score":"high"}`), caller)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Empty(s.sink.signals)
	})

	s.Run("unknown provider", func() {
		_, err := s.gw.ReceiveCallback(ctx, "weather", []byte(`{}`), caller)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *GatewaySuite) TestDeliveryFailureReleasesCorrelation() {
	ctx := context.Background()
	req := s.request()
	s.Require().NoError(s.gw.Dispatch(ctx, req))

	s.sink.err = errors.New("database unavailable")
	_, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(req, 10), signalmodels.Caller{SignatureValid: true})
	s.Require().Error(err)

	s.sink.err = nil
	res, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(req, 10), signalmodels.Caller{SignatureValid: true})
	s.Require().NoError(err)
	s.False(res.Duplicate)
	s.Len(s.sink.signals, 2)
}

func (s *GatewaySuite) TestTerminatedDeliveryKeepsCorrelationResolved() {
	ctx := context.Background()
	req := s.request()
	s.Require().NoError(s.gw.Dispatch(ctx, req))

	s.sink.err = dErrors.New(dErrors.CodeAlreadyTerminated, "workflow is terminated")
	_, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(req, 10), signalmodels.Caller{SignatureValid: true})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyTerminated))

	res, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(req, 10), signalmodels.Caller{SignatureValid: true})
	s.Require().NoError(err)
	s.True(res.Duplicate)
}

func (s *GatewaySuite) TestCancelAbsorbsLateCallback() {
	ctx := context.Background()
	req := s.request()
	s.Require().NoError(s.gw.Dispatch(ctx, req))
	s.Require().NoError(s.gw.Cancel(ctx, req.CorrelationID))
	s.NoError(s.gw.Cancel(ctx, "never-dispatched"))
	s.NoError(s.gw.Cancel(ctx, ""))

	res, err := s.gw.ReceiveCallback(ctx, "risk_scoring", s.riskBody(req, 10), signalmodels.Caller{SignatureValid: true})
	s.Require().NoError(err)
	s.True(res.Duplicate)
	s.Empty(s.sink.signals)
}
