package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/circuit"
)

type fakePublisher struct {
	mu    sync.Mutex
	err   error
	sent  [][]byte
	topic string
}

func (f *fakePublisher) Publish(_ context.Context, topic string, _, value []byte, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.sent = append(f.sent, value)
	return nil
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sample() Alert {
	return Alert{Kind: "kill_switch", WorkflowID: id.NewWorkflowID(), Actor: "ops", Reason: "fraud_suspected", OccurredAt: time.Now()}
}

func TestSend(t *testing.T) {
	t.Run("publishes", func(t *testing.T) {
		pub := &fakePublisher{}
		a := New(pub, "alerts", quiet())
		assert.True(t, a.Send(context.Background(), sample()))
		require.Len(t, pub.sent, 1)
		assert.Equal(t, "alerts", pub.topic)
		assert.Contains(t, string(pub.sent[0]), `"reason":"fraud_suspected"`)
	})

	t.Run("no publisher falls back", func(t *testing.T) {
		assert.False(t, New(nil, "alerts", quiet()).Send(context.Background(), sample()))
	})

	t.Run("failures open the breaker", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("broker down")}
		a := New(pub, "alerts", quiet(), WithBreaker(circuit.New("t", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))))
		assert.False(t, a.Send(context.Background(), sample()))

		pub.err = nil
		assert.False(t, a.Send(context.Background(), sample()))
		assert.Empty(t, pub.sent)
	})

	t.Run("cancelled caller still publishes", func(t *testing.T) {
		pub := &fakePublisher{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.True(t, New(pub, "alerts", quiet()).Send(ctx, sample()))
	})
}
