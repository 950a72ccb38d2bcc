package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xeptore/ynibridge/catalog"
	"github.com/xeptore/ynibridge/config"
	"github.com/xeptore/ynibridge/session"
	"github.com/xeptore/ynibridge/ynison"
)

type fakeCatalog struct {
	liked       []string
	disliked    []string
	likedErr    error
	dislikedErr error
	tracks      map[string]*catalog.Track
	trackDelay  time.Duration
	trackCalls  atomic.Int32
	actionDelay time.Duration

	mu    sync.Mutex
	calls []string
}

func (c *fakeCatalog) LikedTrackIDs(context.Context) ([]string, error) {
	return c.liked, c.likedErr
}

func (c *fakeCatalog) DislikedTrackIDs(context.Context) ([]string, error) {
	return c.disliked, c.dislikedErr
}

func (c *fakeCatalog) Track(ctx context.Context, id string) (*catalog.Track, error) {
	c.trackCalls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.trackDelay):
	}
	if t, ok := c.tracks[id]; ok {
		return t, nil
	}
	return nil, catalog.ErrTrackNotFound
}

func (c *fakeCatalog) record(call string) error {
	time.Sleep(c.actionDelay)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return nil
}

func (c *fakeCatalog) Like(_ context.Context, id string) error    { return c.record("like:" + id) }
func (c *fakeCatalog) Unlike(_ context.Context, id string) error  { return c.record("unlike:" + id) }
func (c *fakeCatalog) Dislike(_ context.Context, id string) error { return c.record("dislike:" + id) }
func (c *fakeCatalog) Undislike(_ context.Context, id string) error {
	return c.record("undislike:" + id)
}

func (c *fakeCatalog) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type fakePlayer struct {
	onState func(*ynison.State)
	block   bool
	runs    atomic.Int32

	mu       sync.Mutex
	state    *ynison.State
	commands []string
}

func (p *fakePlayer) Run(ctx context.Context) error {
	p.runs.Add(1)
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return errors.New("connection refused")
}

func (p *fakePlayer) ConnState() ynison.ConnState {
	if p.block {
		return ynison.Synced
	}
	return ynison.Disconnected
}

func (p *fakePlayer) Snapshot() *ynison.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

func (p *fakePlayer) CurrentTrack() (ynison.PlayableItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.CurrentTrack()
}

func (p *fakePlayer) command(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, name)
	return nil
}

func (p *fakePlayer) Resync(context.Context) error                 { return p.command("resync") }
func (p *fakePlayer) PlayPause(context.Context) error              { return p.command("play_pause") }
func (p *fakePlayer) Next(context.Context) error                   { return p.command("next") }
func (p *fakePlayer) Prev(context.Context) error                   { return p.command("prev") }
func (p *fakePlayer) PlayTrack(_ context.Context, id string) error { return p.command("play:" + id) }

func (p *fakePlayer) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// emit stores st and reports it the way the real player does.
func (p *fakePlayer) emit(st *ynison.State) {
	p.mu.Lock()
	p.state = st.Clone()
	p.mu.Unlock()
	p.onState(st.Clone())
}

type fakeNotifier struct {
	mu     sync.Mutex
	states []*ynison.State
}

func (n *fakeNotifier) Broadcast(_ context.Context, _ string, v any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, v.(*ynison.State)) //nolint:forcetypeassert
	return nil
}

func (n *fakeNotifier) all() []*ynison.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*ynison.State(nil), n.states...)
}

func (n *fakeNotifier) last() *ynison.State {
	all := n.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func testConfig() config.Session {
	return config.Session{
		ReconnectDelay:    10 * time.Millisecond,
		StartupTimeout:    time.Second,
		MetadataCacheSize: 100,
		MetadataTTL:       time.Hour,
	}
}

func stateWithTrack(ids ...string) *ynison.State {
	ps := ynison.NewPlayerState()
	for _, id := range ids {
		ps.PlayerQueue.PlayableList = append(ps.PlayerQueue.PlayableList, ynison.PlayableItem{PlayableID: id, PlayableType: ynison.PlayableTypeTrack}) //nolint:exhaustruct
	}
	if len(ids) > 0 {
		ps.PlayerQueue.CurrentPlayableIndex = 0
	}
	return &ynison.State{PlayerState: ps} //nolint:exhaustruct
}

func deps(c *fakeCatalog, n *fakeNotifier, p *fakePlayer) session.Deps {
	return session.Deps{
		Catalog:  c,
		Notifier: n,
		NewPlayer: func(onState func(*ynison.State)) session.Player {
			p.onState = onState
			return p
		},
	}
}
