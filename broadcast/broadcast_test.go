package broadcast_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/ynibridge/broadcast"
)

type subscriber struct {
	mu       sync.Mutex
	messages []string
	err      error
	block    bool
	closed   atomic.Bool
}

func (s *subscriber) Send(ctx context.Context, msg []byte) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if nil != s.err {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, string(msg))
	return nil
}

func (s *subscriber) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *subscriber) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func TestBroadcastNoSubscribers(t *testing.T) {
	t.Parallel()

	hub := broadcast.New(time.Second, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- hub.Broadcast(t.Context(), "token", map[string]any{"unmarshalable": make(chan int)})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("broadcast to zero subscribers blocked")
	}
	assert.Equal(t, 0, hub.Count("token"))
}

func TestBroadcastFanOut(t *testing.T) {
	t.Parallel()

	hub := broadcast.New(time.Second, zerolog.Nop())
	a, b, other := &subscriber{}, &subscriber{}, &subscriber{} //nolint:exhaustruct
	hub.Subscribe("token", a)
	unsubscribe := hub.Subscribe("token", b)
	hub.Subscribe("other", other)
	require.Equal(t, 2, hub.Count("token"))

	require.NoError(t, hub.Broadcast(t.Context(), "token", map[string]string{"title": "<A & B>\n"}))
	assert.Equal(t, []string{`{"title":"<A & B>\n"}`}, a.received())
	assert.Equal(t, a.received(), b.received())
	assert.NotContains(t, a.received()[0], "\n")
	assert.Empty(t, other.received())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, hub.Count("token"))

	require.NoError(t, hub.Broadcast(t.Context(), "token", 1))
	assert.Len(t, a.received(), 2)
	assert.Len(t, b.received(), 1)
}

func TestBroadcastPrunesFailedSubscribers(t *testing.T) {
	t.Parallel()

	hub := broadcast.New(50*time.Millisecond, zerolog.Nop())
	healthy := &subscriber{}                                   //nolint:exhaustruct
	broken := &subscriber{err: errors.New("connection reset")} //nolint:exhaustruct
	slow := &subscriber{block: true}                           //nolint:exhaustruct
	hub.Subscribe("token", healthy)
	hub.Subscribe("token", broken)
	hub.Subscribe("token", slow)

	start := time.Now()
	require.NoError(t, hub.Broadcast(t.Context(), "token", "state"))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 1, hub.Count("token"))
	assert.True(t, broken.closed.Load())
	assert.True(t, slow.closed.Load())
	assert.False(t, healthy.closed.Load())
	assert.Equal(t, []string{`"state"`}, healthy.received())

	require.NoError(t, hub.Broadcast(t.Context(), "token", "again"))
	assert.Len(t, healthy.received(), 2)
}
