package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/ynibridge/errutil"
)

const closeWriteTimeout = time.Second

var ErrUnauthorized = errors.New("ynison rejected credentials")

// Dialer opens Ynison sockets. The zero value verifies TLS certificates against
// the system roots.
type Dialer struct {
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
	Origin           string
	UserAgent        string
	PingInterval     time.Duration
	// PongTimeout is how long past a ping interval the peer may stay silent
	// before the socket is considered dead. Zero means one ping interval.
	PongTimeout time.Duration
}

type CloseInfo struct {
	Code   int
	Reason string
}

// Socket is a single Ynison WebSocket connection. It must not be reused once
// closed.
type Socket struct {
	conn         *websocket.Conn
	pingInterval time.Duration
	readWindow   time.Duration

	writeMu sync.Mutex

	handlerMu sync.Mutex
	onClose   func(CloseInfo)
	closed    *CloseInfo

	closeOnce sync.Once
	done      chan struct{}
}

func (d Dialer) Dial(ctx context.Context, url string, proto Protocol) (*Socket, error) {
	flawP := flaw.P{"url": url, "device_id": proto.DeviceID}

	subprotocols, err := proto.Subprotocols()
	if nil != err {
		return nil, flaw.From(fmt.Errorf("failed to encode protocol: %v", err)).Append(flawP)
	}

	dialer := websocket.Dialer{ //nolint:exhaustruct
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  d.TLSConfig,
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     subprotocols,
	}

	header := http.Header{}
	header.Set("Authorization", "OAuth "+proto.Token)
	if d.Origin != "" {
		header.Set("Origin", d.Origin)
	}
	if d.UserAgent != "" {
		header.Set("User-Agent", d.UserAgent)
	}

	conn, response, err := dialer.DialContext(ctx, url, header)
	if nil != response && nil != response.Body {
		defer response.Body.Close()
	}
	if nil != err {
		flawP["response"] = errutil.HTTPResponseFlawPayload(response)
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		case nil != response && (response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden):
			return nil, ErrUnauthorized
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to dial ynison socket: %v", err)).Append(flawP)
		}
	}

	s := &Socket{
		conn:         conn,
		pingInterval: d.PingInterval,
		readWindow:   0,
		writeMu:      sync.Mutex{},
		handlerMu:    sync.Mutex{},
		onClose:      nil,
		closed:       nil,
		closeOnce:    sync.Once{},
		done:         make(chan struct{}),
	}
	if s.pingInterval > 0 {
		s.readWindow = s.pingInterval + d.PongTimeout
		if d.PongTimeout <= 0 {
			s.readWindow = 2 * s.pingInterval
		}
		if err := s.extendReadDeadline(); nil != err {
			_ = conn.Close()
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to set read deadline: %v", err)).Append(flawP)
		}
		conn.SetPongHandler(func(string) error { return s.extendReadDeadline() })
		go s.keepAlive()
	}
	return s, nil
}

// extendReadDeadline pushes the read deadline one window ahead. Any inbound
// frame or pong counts as a sign of life.
func (s *Socket) extendReadDeadline() error {
	if s.readWindow <= 0 {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(s.readWindow))
}

func (s *Socket) keepAlive() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.pingInterval)); nil != err {
				return
			}
		}
	}
}

// OnClose registers fn to be called exactly once when the stream ends. If the
// socket has already ended fn is called immediately.
func (s *Socket) OnClose(fn func(CloseInfo)) {
	s.handlerMu.Lock()
	closed := s.closed
	if nil == closed {
		s.onClose = fn
	}
	s.handlerMu.Unlock()
	if nil != closed {
		fn(*closed)
	}
}

func (s *Socket) finish(info CloseInfo) {
	s.handlerMu.Lock()
	if nil != s.closed {
		s.handlerMu.Unlock()
		return
	}
	s.closed = &info
	fn := s.onClose
	s.handlerMu.Unlock()
	if nil != fn {
		fn(info)
	}
}

func closeInfoOf(err error) CloseInfo {
	if closeErr := new(websocket.CloseError); errors.As(err, &closeErr) {
		return CloseInfo{Code: closeErr.Code, Reason: closeErr.Text}
	}
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

// ReadFrame reads exactly one text frame, skipping binary ones.
func (s *Socket) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		typ, data, err := s.conn.ReadMessage()
		if nil != err {
			s.finish(closeInfoOf(err))
			if errutil.IsContext(ctx) {
				return nil, ctx.Err()
			}
			flawP := errutil.CloseErrorFlawPayload(err)
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to read frame: %v", err)).Append(flawP)
		}
		_ = s.extendReadDeadline()
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

// Frames yields inbound text frames until the connection ends.
func (s *Socket) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			typ, data, err := s.conn.ReadMessage()
			if nil != err {
				s.finish(closeInfoOf(err))
				return
			}
			_ = s.extendReadDeadline()
			if typ != websocket.TextMessage {
				continue
			}
			if !yield(data) {
				return
			}
		}
	}
}

// Send writes one text frame. Concurrent calls are serialized.
func (s *Socket) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); nil != err {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := s.conn.SetWriteDeadline(deadline); nil != err {
		return flaw.From(fmt.Errorf("failed to set write deadline: %v", err))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP(), "message_length": len(msg)}
		return flaw.From(fmt.Errorf("failed to write frame: %v", err)).Append(flawP)
	}
	return nil
}

// Close sends a normal closure and releases the connection. It is safe to
// call more than once.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		err = s.conn.Close()
		s.finish(CloseInfo{Code: websocket.CloseNormalClosure, Reason: "closed by client"})
	})
	return err
}
