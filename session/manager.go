package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xeptore/ynibridge/config"
	"github.com/xeptore/ynibridge/log"
)

var ErrEmptyToken = errors.New("token is required")

// Manager owns every live session, keyed by token.
type Manager struct {
	cfg    config.Session
	deps   func(token string) Deps
	logger zerolog.Logger
	starts singleflight.Group

	mu       sync.Mutex
	closed   bool
	sessions map[string]*Session
}

func NewManager(cfg config.Session, deps func(token string) Deps, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With().Str("module", "manager").Logger(),
		starts:   singleflight.Group{},
		mu:       sync.Mutex{},
		closed:   false,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session of token, starting it on first use. Concurrent
// first calls for the same token share a single start.
func (m *Manager) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	if s, ok, err := m.lookup(token); nil != err {
		return nil, err
	} else if ok {
		return s, nil
	}

	ch := m.starts.DoChan(token, func() (any, error) {
		if s, ok, err := m.lookup(token); nil != err {
			return nil, err
		} else if ok {
			return s, nil
		}
		return m.start(token)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if nil != res.Err {
			return nil, res.Err
		}
		return res.Val.(*Session), nil //nolint:forcetypeassert
	}
}

func (m *Manager) lookup(token string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	s, ok := m.sessions[token]
	return s, ok, nil
}

func (m *Manager) start(token string) (*Session, error) {
	logger := m.logger.With().Str("token", log.MaskToken(token)).Logger()
	logger.Info().Msg("Starting new session")

	s := New(token, m.cfg, m.deps(token), m.logger)

	// Shared by every waiting caller, so no single caller may cancel it.
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StartupTimeout)
	defer cancel()
	if err := s.Start(ctx); nil != err {
		s.Close()
		logger.Error().Func(log.Flaw(err)).Msg("Failed to start session")
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Close()
		return nil, ErrClosed
	}
	m.sessions[token] = s
	m.mu.Unlock()
	return s, nil
}

// Peek returns the session of token without starting one.
func (m *Manager) Peek(token string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close shuts down and forgets the session of token, if any.
func (m *Manager) Close(token string) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Shutdown closes every session. No session can be started afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := lo.Values(m.sessions)
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.logger.Info().Int("sessions", len(sessions)).Msg("Shutting down sessions")

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			s.Close()
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
