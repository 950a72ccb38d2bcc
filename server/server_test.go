package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xeptore/ynibridge/broadcast"
	"github.com/xeptore/ynibridge/catalog"
	"github.com/xeptore/ynibridge/config"
	"github.com/xeptore/ynibridge/server"
	"github.com/xeptore/ynibridge/session"
	"github.com/xeptore/ynibridge/ynison"
)

type fakeSession struct {
	snapshot  *ynison.State
	err       error
	connected bool

	mu    sync.Mutex
	calls []string
}

func (s *fakeSession) Snapshot() *ynison.State {
	return s.snapshot
}

func (s *fakeSession) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.err
}

func (s *fakeSession) Do(_ context.Context, action session.Action) error {
	return s.record(string(action))
}

func (s *fakeSession) PlayTrack(_ context.Context, trackID string) error {
	return s.record("play:" + trackID)
}

func (s *fakeSession) Resync(context.Context) error {
	return s.record("resync")
}

func (s *fakeSession) Connected() bool {
	return s.connected
}

func (s *fakeSession) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakeSessions struct {
	sessions map[string]*fakeSession
	gets     atomic.Int32

	mu      sync.Mutex
	started map[string]bool
}

func (f *fakeSessions) Get(_ context.Context, token string) (server.Session, error) {
	f.gets.Add(1)
	if s, ok := f.sessions[token]; ok {
		f.mu.Lock()
		f.started[token] = true
		f.mu.Unlock()
		return s, nil
	}
	return nil, catalog.ErrUnauthorized
}

func (f *fakeSessions) Peek(token string) (server.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started[token] {
		return nil, false
	}
	return f.sessions[token], true
}

const token = "token-1234"

func setup(t *testing.T, sess *fakeSession) (*httptest.Server, *fakeSessions, *broadcast.Hub) {
	t.Helper()

	sessions := &fakeSessions{sessions: map[string]*fakeSession{token: sess}, started: map[string]bool{}} //nolint:exhaustruct
	hub := broadcast.New(time.Second, zerolog.Nop())
	cfg := config.Broadcast{SendTimeout: time.Second, InitialSendTimeout: time.Second}
	srv := httptest.NewServer(server.New(sessions, hub, cfg, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv, sessions, hub
}

func post(t *testing.T, url string, header http.Header) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, strings.TrimSpace(string(body))
}

func TestControl(t *testing.T) {
	t.Parallel()

	t.Run("unknown action", func(t *testing.T) {
		t.Parallel()
		srv, sessions, _ := setup(t, &fakeSession{}) //nolint:exhaustruct
		status, body := post(t, srv.URL+"/control/shuffle?token="+token, nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.JSONEq(t, `{"error":"unknown action"}`, body)
		assert.EqualValues(t, 0, sessions.gets.Load())
	})

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		srv, sessions, _ := setup(t, &fakeSession{}) //nolint:exhaustruct
		status, _ := post(t, srv.URL+"/control/next", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.EqualValues(t, 0, sessions.gets.Load())
	})

	t.Run("query token", func(t *testing.T) {
		t.Parallel()
		sess := &fakeSession{} //nolint:exhaustruct
		srv, _, _ := setup(t, sess)
		status, body := post(t, srv.URL+"/control/play_pause?token="+token, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"status":"ok"}`, body)
		assert.Equal(t, []string{"play_pause"}, sess.recorded())
	})

	t.Run("bearer token", func(t *testing.T) {
		t.Parallel()
		sess := &fakeSession{} //nolint:exhaustruct
		srv, _, _ := setup(t, sess)
		status, _ := post(t, srv.URL+"/control/like", http.Header{"Authorization": {"Bearer " + token}})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []string{"like"}, sess.recorded())
	})

	t.Run("rejected token", func(t *testing.T) {
		t.Parallel()
		srv, _, _ := setup(t, &fakeSession{}) //nolint:exhaustruct
		status, _ := post(t, srv.URL+"/control/next?token=other-token", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("command failure", func(t *testing.T) {
		t.Parallel()
		srv, _, _ := setup(t, &fakeSession{err: errors.New("redirect failed")}) //nolint:exhaustruct
		status, body := post(t, srv.URL+"/control/next?token="+token, nil)
		assert.Equal(t, http.StatusBadGateway, status)
		assert.JSONEq(t, `{"error":"command failed"}`, body)
	})

	t.Run("command unauthorized", func(t *testing.T) {
		t.Parallel()
		srv, _, _ := setup(t, &fakeSession{err: catalog.ErrUnauthorized}) //nolint:exhaustruct
		status, _ := post(t, srv.URL+"/control/dislike?token="+token, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestPlay(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{} //nolint:exhaustruct
	srv, _, _ := setup(t, sess)
	status, body := post(t, srv.URL+"/play/42?token="+token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, body)
	assert.Equal(t, []string{"play:42"}, sess.recorded())
}

func TestCheckToken(t *testing.T) {
	t.Parallel()

	srv, sessions, _ := setup(t, &fakeSession{}) //nolint:exhaustruct
	check := func(tok string) string {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/check_token", nil)
		require.NoError(t, err)
		if tok != "" {
			req.Header.Set("Authorization", tok)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		return string(body)
	}

	assert.JSONEq(t, `{"valid":false}`, check(""))
	assert.JSONEq(t, `{"valid":false}`, check("abc"))
	assert.EqualValues(t, 0, sessions.gets.Load())
	assert.JSONEq(t, `{"valid":false}`, check("unknown-token"))
	assert.JSONEq(t, `{"valid":true}`, check(token))
	assert.JSONEq(t, `{"valid":true}`, check("Bearer "+token))
	assert.JSONEq(t, `{"valid":false}`, check("Bearer abc"))
	assert.EqualValues(t, 3, sessions.gets.Load())
}

func TestResync(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		sess := &fakeSession{} //nolint:exhaustruct
		srv, _, _ := setup(t, sess)
		status, body := post(t, srv.URL+"/resync?token="+token, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"status":"ok"}`, body)
		assert.Equal(t, []string{"resync"}, sess.recorded())
	})

	for name, err := range map[string]error{
		"no state":      ynison.ErrNoState,
		"not connected": ynison.ErrNotConnected,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv, _, _ := setup(t, &fakeSession{err: err}) //nolint:exhaustruct
			status, body := post(t, srv.URL+"/resync?token="+token, nil)
			assert.Equal(t, http.StatusConflict, status)
			assert.JSONEq(t, `{"error":"player not ready"}`, body)
		})
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	srv, sessions, _ := setup(t, &fakeSession{connected: true}) //nolint:exhaustruct
	get := func(query string) (int, string) {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/status"+query, nil)
		require.NoError(t, err)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		return res.StatusCode, string(body)
	}

	status, _ := get("")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := get("?token=" + token)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"active":false,"connected":false}`, body)
	assert.EqualValues(t, 0, sessions.gets.Load())

	code, _ := post(t, srv.URL+"/control/next?token="+token, nil)
	require.Equal(t, http.StatusOK, code)

	status, body = get("?token=" + token)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"active":true,"connected":true}`, body)
	assert.EqualValues(t, 1, sessions.gets.Load())
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, res, err := websocket.DefaultDialer.DialContext(t.Context(), url, header)
	require.NoError(t, err)
	if nil != res.Body {
		_ = res.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()

	for {
		_, _, err := conn.ReadMessage()
		if nil == err {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		return closeErr.Code
	}
}

func TestWebSocket(t *testing.T) {
	t.Parallel()

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		srv, _, _ := setup(t, &fakeSession{}) //nolint:exhaustruct
		conn := dial(t, srv, nil)
		assert.Equal(t, server.CloseTokenRequired, closeCode(t, conn))
	})

	t.Run("session failure", func(t *testing.T) {
		t.Parallel()
		srv, _, hub := setup(t, &fakeSession{}) //nolint:exhaustruct
		conn := dial(t, srv, http.Header{"Authorization": {"other-token"}})
		assert.Equal(t, server.CloseSessionFailed, closeCode(t, conn))
		require.Eventually(t, func() bool { return hub.Count("other-token") == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("snapshot and broadcasts", func(t *testing.T) {
		t.Parallel()

		ps := ynison.NewPlayerState()
		ps.PlayerQueue.PlayableList = []ynison.PlayableItem{{PlayableID: "10", PlayableType: ynison.PlayableTypeTrack, Title: "Song"}} //nolint:exhaustruct
		ps.PlayerQueue.CurrentPlayableIndex = 0
		snap := &ynison.State{PlayerState: ps} //nolint:exhaustruct

		srv, _, hub := setup(t, &fakeSession{snapshot: snap}) //nolint:exhaustruct
		conn := dial(t, srv, http.Header{"Authorization": {token}})

		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "Song", gjson.GetBytes(msg, "player_state.player_queue.playable_list.0.title").String())
		assert.Equal(t, 1, hub.Count(token))

		require.NoError(t, hub.Broadcast(t.Context(), token, map[string]string{"hello": "<world>"}))
		_, msg, err = conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"hello":"<world>"}`, string(msg))
		assert.NotContains(t, string(msg), "\n")

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ignored")))
		require.NoError(t, conn.Close())
		require.Eventually(t, func() bool { return hub.Count(token) == 0 }, time.Second, 5*time.Millisecond)
	})
}
