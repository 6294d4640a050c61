package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	txcontext "onboarding/pkg/platform/tx"
)

type memStore struct {
	entries   []Entry
	published map[int64]time.Time
}

func (m *memStore) ClaimUnpublished(_ context.Context, limit int) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if _, done := m.published[e.ID]; done {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkPublished(_ context.Context, ids []int64, at time.Time) error {
	for _, id := range ids {
		m.published[id] = at
	}
	return nil
}

type published struct {
	topic   string
	key     string
	headers map[string]string
}

type fakePublisher struct {
	failAt int
	calls  int
	sent   []published
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key, _ []byte, headers map[string]string) error {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, published{topic: topic, key: string(key), headers: headers})
	return nil
}

func newStore(n int) *memStore {
	s := &memStore{published: map[int64]time.Time{}}
	agg := uuid.New()
	for i := 1; i <= n; i++ {
		s.entries = append(s.entries, Entry{ID: int64(i), AggregateID: agg, EventType: "stage_advanced", Payload: []byte(`{}`)})
	}
	return s
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRelayOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("publishes a batch keyed by aggregate", func(t *testing.T) {
		store := newStore(3)
		pub := &fakePublisher{}
		relay := NewRelay(store, pub, txcontext.NoopRunner{}, "workflow.events", quiet(), WithBatchSize(2))

		n, err := relay.RelayOnce(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.Len(t, pub.sent, 2)
		assert.Equal(t, "workflow.events", pub.sent[0].topic)
		assert.Equal(t, store.entries[0].AggregateID.String(), pub.sent[0].key)
		assert.Equal(t, "1", pub.sent[0].headers["outbox_id"])
		assert.Equal(t, "stage_advanced", pub.sent[0].headers["event_type"])

		n, err = relay.RelayOnce(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Len(t, store.published, 3)
	})

	t.Run("failure keeps earlier rows published", func(t *testing.T) {
		store := newStore(3)
		pub := &fakePublisher{failAt: 2}
		relay := NewRelay(store, pub, txcontext.NoopRunner{}, "workflow.events", quiet())

		n, err := relay.RelayOnce(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Contains(t, store.published, int64(1))
		assert.NotContains(t, store.published, int64(2))

		n, err = relay.RelayOnce(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Len(t, store.published, 3)
	})

	t.Run("empty outbox", func(t *testing.T) {
		relay := NewRelay(newStore(0), &fakePublisher{}, txcontext.NoopRunner{}, "workflow.events", quiet())
		n, err := relay.RelayOnce(context.Background(), now)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
