package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"gopkg.in/matryer/try.v1"

	"github.com/xeptore/ynibridge/cache"
	"github.com/xeptore/ynibridge/catalog"
	"github.com/xeptore/ynibridge/config"
	"github.com/xeptore/ynibridge/ctxutil"
	"github.com/xeptore/ynibridge/errutil"
	"github.com/xeptore/ynibridge/log"
	"github.com/xeptore/ynibridge/ptr"
	"github.com/xeptore/ynibridge/ynison"
	"github.com/xeptore/ynibridge/ynison/redirect"
)

const trackFetchAttempts = 2

var ErrClosed = errors.New("session is closed")

// Catalog is the slice of the music catalog a session needs.
type Catalog interface {
	LikedTrackIDs(ctx context.Context) ([]string, error)
	DislikedTrackIDs(ctx context.Context) ([]string, error)
	Track(ctx context.Context, id string) (*catalog.Track, error)
	Like(ctx context.Context, trackID string) error
	Unlike(ctx context.Context, trackID string) error
	Dislike(ctx context.Context, trackID string) error
	Undislike(ctx context.Context, trackID string) error
}

type Player interface {
	ynison.StatefulSync
	ConnState() ynison.ConnState
	CurrentTrack() (ynison.PlayableItem, bool)
	PlayPause(ctx context.Context) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	PlayTrack(ctx context.Context, trackID string) error
}

// Notifier delivers state updates to the subscribers of a token.
type Notifier interface {
	Broadcast(ctx context.Context, token string, v any) error
}

type Deps struct {
	Catalog  Catalog
	Notifier Notifier
	// NewPlayer builds the session's player. onState must be wired as the
	// player's state callback.
	NewPlayer func(onState func(*ynison.State)) Player
}

// Session supervises the Ynison connection of one token.
type Session struct {
	token    string
	cfg      config.Session
	catalog  Catalog
	notifier Notifier
	player   Player
	meta     *cache.TrackMetaCache
	logger   zerolog.Logger

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// toggleMu serializes like and dislike toggles end to end.
	toggleMu sync.Mutex

	mu       sync.RWMutex
	started  bool
	closed   bool
	liked    map[string]struct{}
	disliked map[string]struct{}
}

func New(token string, cfg config.Session, deps Deps, logger zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		token:    token,
		cfg:      cfg,
		catalog:  deps.Catalog,
		notifier: deps.Notifier,
		player:   nil,
		meta:     cache.NewTrackMetaCache(cfg.MetadataCacheSize),
		logger:   logger.With().Str("module", "session").Str("token", log.MaskToken(token)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		wg:       sync.WaitGroup{},
		toggleMu: sync.Mutex{},
		mu:       sync.RWMutex{},
		started:  false,
		closed:   false,
		liked:    make(map[string]struct{}),
		disliked: make(map[string]struct{}),
	}
	s.player = deps.NewPlayer(s.onState)
	return s
}

// Start loads the library sets and launches the connection supervisor. A
// rejected credential aborts the start; other catalog failures leave the sets
// empty.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	var liked, disliked []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		liked, err = s.libraryIDs(gctx, "liked", s.catalog.LikedTrackIDs)
		return err
	})
	g.Go(func() (err error) {
		disliked, err = s.libraryIDs(gctx, "disliked", s.catalog.DislikedTrackIDs)
		return err
	})
	if err := g.Wait(); nil != err {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.liked = lo.Keyify(liked)
	s.disliked = lo.Keyify(disliked)
	s.wg.Add(1)
	s.mu.Unlock()
	s.logger.Info().Int("liked", len(liked)).Int("disliked", len(disliked)).Msg("Library loaded")

	go s.supervise()
	return nil
}

func (s *Session) libraryIDs(ctx context.Context, kind string, fetch func(context.Context) ([]string, error)) ([]string, error) {
	ids, err := fetch(ctx)
	if nil != err {
		switch {
		case errors.Is(err, catalog.ErrUnauthorized):
			return nil, catalog.ErrUnauthorized
		case errutil.IsContext(ctx) && errors.Is(ctx.Err(), context.Canceled):
			return nil, ctx.Err()
		default:
			s.logger.Warn().Str("kind", kind).Func(log.Flaw(err)).Msg("Failed to load library track ids. Continuing with an empty set")
			return nil, nil
		}
	}
	return ids, nil
}

func (s *Session) supervise() {
	defer s.wg.Done()
	defer log.Recover(s.logger, "Session supervisor panicked")

	b := backoff.WithContext(backoff.NewConstantBackOff(s.cfg.ReconnectDelay), s.ctx)
	operation := func() (err error) {
		defer func() {
			if r := recover(); nil != r {
				s.logger.Error().Func(log.Panic(r)).Msg("State connection panicked")
				err = fmt.Errorf("state connection panicked: %v", r)
			}
		}()

		s.logger.Info().Msg("Connecting to Ynison")
		err = s.player.Run(s.ctx)
		if nil != s.ctx.Err() {
			return backoff.Permanent(s.ctx.Err())
		}
		if nil == err {
			err = errors.New("state stream ended")
		}
		if serverErr := new(redirect.ServerError); errors.As(err, &serverErr) {
			if extra := serverErr.Backoff() - s.cfg.ReconnectDelay; extra > 0 {
				_ = ctxutil.Sleep(s.ctx, extra)
			}
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn().Func(log.Flaw(err)).Dur("retry_in", next).Msg("Ynison connection lost")
	}

	if err := backoff.RetryNotify(operation, b, notify); nil != err && !errors.Is(err, context.Canceled) {
		s.logger.Error().Func(log.Flaw(err)).Msg("Session supervisor stopped")
	}
	s.logger.Info().Msg("Session supervisor exited")
}

// Connected reports whether the state socket is currently up.
func (s *Session) Connected() bool {
	return s.player.ConnState() >= ynison.Connected
}

func (s *Session) onState(st *ynison.State) {
	s.publish(s.enrich(st))

	track, ok := st.CurrentTrack()
	if !ok {
		return
	}
	if _, cached := s.meta.Peek(track.PlayableID); cached {
		return
	}

	s.mu.RLock()
	closed := s.closed
	if !closed {
		s.wg.Add(1)
	}
	s.mu.RUnlock()
	if closed {
		return
	}
	go s.enrichInBackground(track.PlayableID)
}

func (s *Session) enrichInBackground(trackID string) {
	defer s.wg.Done()
	defer log.Recover(s.logger, "Enrichment panicked")

	if _, err := s.trackMeta(trackID); nil != err {
		switch {
		case nil != s.ctx.Err():
		case errors.Is(err, catalog.ErrTrackNotFound):
			s.logger.Debug().Str("track_id", trackID).Msg("Track not found in catalog")
		default:
			s.logger.Warn().Str("track_id", trackID).Func(log.Flaw(err)).Msg("Failed to fetch track metadata")
		}
		return
	}

	if snap := s.Snapshot(); nil != snap {
		s.publish(snap)
	}
}

// trackMeta returns the cached metadata of id, fetching it at most once.
func (s *Session) trackMeta(id string) (cache.TrackMeta, error) {
	return s.meta.Fetch(id, s.cfg.MetadataTTL, func() (cache.TrackMeta, error) {
		var track *catalog.Track
		err := try.Do(func(attempt int) (retry bool, err error) {
			track, err = s.catalog.Track(s.ctx, id)
			if nil != err {
				switch {
				case errutil.IsContext(s.ctx):
					return false, s.ctx.Err()
				case errors.Is(err, context.DeadlineExceeded):
					return attempt < trackFetchAttempts, context.DeadlineExceeded
				default:
					return false, err
				}
			}
			return false, nil
		})
		if nil != err {
			return cache.TrackMeta{}, err //nolint:exhaustruct
		}
		return cache.TrackMeta{
			Artists:  catalog.JoinArtists(track.Artists),
			CoverURI: track.CoverURI,
		}, nil
	})
}

// enrich decorates the current track of st, a private copy, from local data.
func (s *Session) enrich(st *ynison.State) *ynison.State {
	if nil == st {
		return nil
	}
	q := &st.PlayerState.PlayerQueue
	if _, ok := q.Current(); !ok {
		return st
	}
	item := &q.PlayableList[q.CurrentPlayableIndex]

	s.mu.RLock()
	_, liked := s.liked[item.PlayableID]
	_, disliked := s.disliked[item.PlayableID]
	s.mu.RUnlock()
	item.IsLiked = ptr.Of(liked)
	item.IsDisliked = ptr.Of(disliked)

	if meta, ok := s.meta.Peek(item.PlayableID); ok {
		if meta.Artists != "" {
			item.ArtistsEnriched = meta.Artists
		}
		if meta.CoverURI != "" {
			item.CoverURIEnriched = meta.CoverURI
		}
	}
	return st
}

func (s *Session) publish(st *ynison.State) {
	if nil == st {
		return
	}
	if err := s.notifier.Broadcast(s.ctx, s.token, st); nil != err {
		s.logger.Error().Func(log.Flaw(err)).Msg("Failed to broadcast state")
	}
}

// Snapshot returns the current state enriched from local data only, or nil
// when no state has been received yet.
func (s *Session) Snapshot() *ynison.State {
	return s.enrich(s.player.Snapshot())
}

// Do runs action against the current track. It is a no-op when there is no
// current track.
func (s *Session) Do(ctx context.Context, action Action) error {
	ctx, cancel := ctxutil.Join(ctx, s.ctx)
	defer cancel()

	track, ok := s.player.CurrentTrack()
	if !ok {
		s.logger.Debug().Str("action", string(action)).Msg("No current track. Ignoring action")
		return nil
	}

	var err error
	switch action {
	case ActionPlayPause:
		err = s.player.PlayPause(ctx)
	case ActionNext:
		err = s.player.Next(ctx)
	case ActionPrev:
		err = s.player.Prev(ctx)
	case ActionLike:
		err = s.toggle(ctx, track.PlayableID, s.liked, s.catalog.Like, s.catalog.Unlike)
	case ActionDislike:
		err = s.toggle(ctx, track.PlayableID, s.disliked, s.catalog.Dislike, s.catalog.Undislike)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if errors.Is(err, ynison.ErrNoState) {
		return nil
	}
	return err
}

// PlayTrack replaces the queue with trackID and starts playing it.
func (s *Session) PlayTrack(ctx context.Context, trackID string) error {
	ctx, cancel := ctxutil.Join(ctx, s.ctx)
	defer cancel()
	return s.player.PlayTrack(ctx, trackID)
}

// Resync pushes the last known player state back to the server.
func (s *Session) Resync(ctx context.Context) error {
	ctx, cancel := ctxutil.Join(ctx, s.ctx)
	defer cancel()
	return s.player.Resync(ctx)
}

// toggle flips the membership of id in set through the catalog and pushes
// the updated flags right away.
func (s *Session) toggle(ctx context.Context, id string, set map[string]struct{}, add, remove func(context.Context, string) error) error {
	s.toggleMu.Lock()
	defer s.toggleMu.Unlock()

	s.mu.RLock()
	_, present := set[id]
	s.mu.RUnlock()

	action := lo.Ternary(present, remove, add)
	if err := action(ctx, id); nil != err {
		return err
	}

	s.mu.Lock()
	if present {
		delete(set, id)
	} else {
		set[id] = struct{}{}
	}
	s.mu.Unlock()

	if snap := s.Snapshot(); nil != snap {
		s.publish(snap)
	}
	return nil
}

// Liked reports whether id is in the liked set.
func (s *Session) Liked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.liked[id]
	return ok
}

func (s *Session) Disliked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.disliked[id]
	return ok
}

// Close stops the supervisor and in-flight work and waits for them to exit.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.meta.Close()
	s.logger.Info().Msg("Session closed")
}
