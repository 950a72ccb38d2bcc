package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/xeptore/ynibridge/log"
)

const (
	CloseTokenRequired = 4003
	CloseSessionFailed = 4001
	closeWriteTimeout  = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// Clients are local plugin hosts that do not send a browser origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// client is a realtime subscriber backed by a server-side WebSocket.
type client struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *client) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetWriteDeadline(deadline); nil != err {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *client) closeWith(code int, reason string) {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	c.mu.Unlock()
	_ = c.Close()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := requestToken(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if nil != err {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &client{conn: conn, mu: sync.Mutex{}, closeOnce: sync.Once{}}
	defer c.Close()

	if token == "" {
		s.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("WebSocket connection attempt without token")
		c.closeWith(CloseTokenRequired, "token required")
		return
	}
	logger := s.logger.With().Str("token", log.MaskToken(token)).Logger()

	stop := context.AfterFunc(r.Context(), func() { _ = c.Close() })
	defer stop()

	unsubscribe := s.hub.Subscribe(token, c)
	defer unsubscribe()
	logger.Info().Msg("WebSocket client connected")

	sess, err := s.sessions.Get(r.Context(), token)
	if nil != err {
		logger.Error().Func(log.Flaw(err)).Msg("Session init failed")
		c.closeWith(CloseSessionFailed, "session init failed")
		return
	}

	if snap := sess.Snapshot(); nil != snap {
		if err := s.sendInitial(r.Context(), c, snap); nil != err {
			logger.Warn().Func(log.Flaw(err)).Msg("Failed to send initial state")
		}
	}

	for {
		if _, _, err := conn.ReadMessage(); nil != err {
			logger.Info().Err(err).Msg("WebSocket client disconnected")
			return
		}
	}
}

func (s *Server) sendInitial(ctx context.Context, c *client, v any) error {
	msg, err := json.MarshalWithOption(v, json.DisableHTMLEscape())
	if nil != err {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.InitialSendTimeout)
	defer cancel()
	return c.Send(ctx, msg)
}
