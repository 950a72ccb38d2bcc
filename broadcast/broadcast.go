package broadcast

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/ynibridge/log"
)

type Subscriber interface {
	Send(ctx context.Context, msg []byte) error
}

// Hub keeps the realtime subscribers of every token.
type Hub struct {
	sendTimeout time.Duration
	logger      zerolog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Subscriber
}

func New(sendTimeout time.Duration, logger zerolog.Logger) *Hub {
	return &Hub{
		sendTimeout: sendTimeout,
		logger:      logger.With().Str("module", "broadcast").Logger(),
		mu:          sync.RWMutex{},
		nextID:      0,
		subs:        make(map[string]map[uint64]Subscriber),
	}
}

// Subscribe adds s to the token's group. The returned function removes it and
// may be called more than once.
func (h *Hub) Subscribe(token string, s Subscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	group, ok := h.subs[token]
	if !ok {
		group = make(map[uint64]Subscriber)
		h.subs[token] = group
	}
	group[id] = s

	return func() {
		h.remove(token, id)
	}
}

func (h *Hub) remove(token string, ids ...uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.subs[token]
	if !ok {
		return
	}
	for _, id := range ids {
		delete(group, id)
	}
	if len(group) == 0 {
		delete(h.subs, token)
	}
}

func (h *Hub) Count(token string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[token])
}

// Broadcast serializes v once and delivers it to every subscriber of token.
// Subscribers whose send fails or times out are removed, and closed when they
// implement io.Closer.
func (h *Hub) Broadcast(ctx context.Context, token string, v any) error {
	h.mu.RLock()
	targets := lo.Assign(h.subs[token])
	h.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	msg, err := json.MarshalWithOption(v, json.DisableHTMLEscape())
	if nil != err {
		return fmt.Errorf("failed to marshal broadcast message: %v", err)
	}

	var (
		g        errgroup.Group
		failedMu sync.Mutex
		failed   = make(map[uint64]Subscriber)
	)
	for id, s := range targets {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()
			if err := s.Send(sendCtx, msg); nil != err {
				h.logger.Debug().Func(log.Token(token)).Func(log.Flaw(err)).Msg("Subscriber send failed")
				failedMu.Lock()
				failed[id] = s
				failedMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		return nil
	}

	for _, s := range failed {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
	ids := lo.Keys(failed)
	h.remove(token, ids...)
	h.logger.Info().Func(log.Token(token)).Int("pruned", len(ids)).Int("remaining", h.Count(token)).Msg("Pruned unresponsive subscribers")
	return nil
}
