package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/ynibridge/cache"
)

func TestTrackMetaCacheFetchOnce(t *testing.T) {
	t.Parallel()

	c := cache.NewTrackMetaCache(100)
	t.Cleanup(c.Close)

	var calls atomic.Int32
	fetch := func() (cache.TrackMeta, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return cache.TrackMeta{Artists: "A, B", CoverURI: "cover"}, nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			meta, err := c.Fetch("10", time.Hour, fetch)
			assert.NoError(t, err)
			assert.Equal(t, "A, B", meta.Artists)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	meta, ok := c.Peek("10")
	require.True(t, ok)
	assert.Equal(t, "cover", meta.CoverURI)
}

func TestTrackMetaCacheFailedFetchNotCached(t *testing.T) {
	t.Parallel()

	c := cache.NewTrackMetaCache(100)
	t.Cleanup(c.Close)

	_, err := c.Fetch("10", time.Hour, func() (cache.TrackMeta, error) {
		return cache.TrackMeta{}, errors.New("boom")
	})
	require.Error(t, err)

	_, ok := c.Peek("10")
	assert.False(t, ok)

	meta, err := c.Fetch("10", time.Hour, func() (cache.TrackMeta, error) {
		return cache.TrackMeta{Artists: "C"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "C", meta.Artists)
}
