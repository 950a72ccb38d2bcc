// Package server exposes sessions to local clients over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/xeptore/ynibridge/broadcast"
	"github.com/xeptore/ynibridge/catalog"
	"github.com/xeptore/ynibridge/config"
	"github.com/xeptore/ynibridge/errutil"
	"github.com/xeptore/ynibridge/log"
	"github.com/xeptore/ynibridge/session"
	"github.com/xeptore/ynibridge/ynison"
)

const minTokenLength = 5

// Session is the part of a session the HTTP boundary drives.
type Session interface {
	Snapshot() *ynison.State
	Do(ctx context.Context, action session.Action) error
	PlayTrack(ctx context.Context, trackID string) error
	Resync(ctx context.Context) error
	Connected() bool
}

type Sessions interface {
	Get(ctx context.Context, token string) (Session, error)
	// Peek returns the running session of token without starting one.
	Peek(token string) (Session, bool)
}

type managerSessions struct {
	m *session.Manager
}

// FromManager adapts m to Sessions.
func FromManager(m *session.Manager) Sessions {
	return managerSessions{m: m}
}

func (s managerSessions) Get(ctx context.Context, token string) (Session, error) {
	sess, err := s.m.Get(ctx, token)
	if nil != err {
		return nil, err
	}
	return sess, nil
}

func (s managerSessions) Peek(token string) (Session, bool) {
	sess, ok := s.m.Peek(token)
	if !ok {
		return nil, false
	}
	return sess, true
}

type Server struct {
	sessions Sessions
	hub      *broadcast.Hub
	cfg      config.Broadcast
	logger   zerolog.Logger
}

func New(sessions Sessions, hub *broadcast.Hub, cfg config.Broadcast, logger zerolog.Logger) *Server {
	return &Server{
		sessions: sessions,
		hub:      hub,
		cfg:      cfg,
		logger:   logger.With().Str("module", "server").Logger(),
	}
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /control/{action}", s.handleControl)
	mux.HandleFunc("POST /play/{track_id}", s.handlePlay)
	mux.HandleFunc("POST /resync", s.handleResync)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /check_token", s.handleCheckToken)
	return withRequestLog(s.logger, mux)
}

// requestToken reads the token from the token query parameter, falling back
// to the Authorization header with an optional Bearer prefix.
func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action, err := session.ParseAction(r.PathValue("action"))
	if nil != err {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action"})
		return
	}

	s.run(w, r, func(ctx context.Context, sess Session) error {
		return sess.Do(ctx, action)
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	trackID := r.PathValue("track_id")
	s.run(w, r, func(ctx context.Context, sess Session) error {
		return sess.PlayTrack(ctx, trackID)
	})
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func(ctx context.Context, sess Session) error {
		return sess.Resync(ctx)
	})
}

type status struct {
	Active    bool `json:"active"`
	Connected bool `json:"connected"`
}

// handleStatus reports the session of the token without starting one.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	token := requestToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token required"})
		return
	}

	sess, ok := s.sessions.Peek(token)
	if !ok {
		writeJSON(w, http.StatusOK, status{Active: false, Connected: false})
		return
	}
	writeJSON(w, http.StatusOK, status{Active: true, Connected: sess.Connected()})
}

// run resolves the session of the request and executes fn against it.
func (s *Server) run(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, sess Session) error) {
	token := requestToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token required"})
		return
	}
	logger := s.logger.With().Str("token", log.MaskToken(token)).Str("path", r.URL.Path).Logger()

	ctx := r.Context()
	sess, err := s.sessions.Get(ctx, token)
	if nil != err {
		status := sessionErrorStatus(err)
		logger.Error().Func(log.Flaw(err)).Int("status", status).Msg("Failed to get session")
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	if err := fn(ctx, sess); nil != err {
		switch {
		case errors.Is(err, catalog.ErrUnauthorized):
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		case errors.Is(err, ynison.ErrNoState), errors.Is(err, ynison.ErrNotConnected):
			logger.Debug().Err(err).Msg("Player is not ready")
			writeJSON(w, http.StatusConflict, map[string]string{"error": "player not ready"})
		case errors.Is(err, context.Canceled) && nil != ctx.Err():
			logger.Debug().Msg("Client went away before command completed")
		default:
			logger.Error().Func(log.Flaw(err)).Msg("Command failed")
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "command failed"})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	token := requestToken(r)
	if len(token) < minTokenLength {
		writeJSON(w, http.StatusOK, map[string]bool{"valid": false})
		return
	}

	if _, err := s.sessions.Get(r.Context(), token); nil != err {
		s.logger.Warn().Str("token", log.MaskToken(token)).Func(log.Flaw(err)).Msg("Token validation failed")
		writeJSON(w, http.StatusOK, map[string]bool{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func sessionErrorStatus(err error) int {
	if _, ok := errutil.IsAny(err, catalog.ErrUnauthorized, session.ErrEmptyToken); ok {
		return http.StatusUnauthorized
	}
	switch {
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).EncodeWithOption(v, json.DisableHTMLEscape())
}
