package cache

import (
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
)

// TrackMeta is what enrichment adds to a playable item.
type TrackMeta struct {
	Artists  string
	CoverURI string
}

// TrackMetaCache is owned by a single session. It is sized to comfortably
// hold every distinct track a session sees during its lifetime.
type TrackMetaCache struct {
	c   *ccache.Cache[TrackMeta]
	mux sync.Mutex
}

func NewTrackMetaCache(maxSize int64) *TrackMetaCache {
	c := ccache.New(
		ccache.Configure[TrackMeta]().
			MaxSize(maxSize).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)
	return &TrackMetaCache{
		c:   c,
		mux: sync.Mutex{},
	}
}

// Fetch returns the cached value for k or calls fetch to populate it. Calls are
// serialized, so concurrent fetches of the same key hit upstream at most once.
// A failed fetch is not cached.
func (c *TrackMetaCache) Fetch(k string, ttl time.Duration, fetch func() (TrackMeta, error)) (TrackMeta, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	item, err := c.c.Fetch(k, ttl, fetch)
	if nil != err {
		return TrackMeta{}, err
	}
	return item.Value(), nil
}

// Peek returns the cached value for k without populating it.
func (c *TrackMetaCache) Peek(k string) (TrackMeta, bool) {
	item := c.c.Get(k)
	if nil == item || item.Expired() {
		return TrackMeta{}, false
	}
	return item.Value(), true
}

func (c *TrackMetaCache) Len() int {
	return c.c.ItemCount()
}

func (c *TrackMetaCache) Close() {
	c.c.Stop()
}
