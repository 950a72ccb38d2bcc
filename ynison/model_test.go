package ynison_test

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/ynibridge/ynison"
)

func TestInt64(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]ynison.Int64{
		`123`:         123,
		`"123"`:       123,
		`""`:          0,
		`null`:        0,
		`1.7e3`:       1700,
		`"-5"`:        -5,
		`12345.9`:     12345,
		`"170000000"`: 170000000,
	} {
		var got ynison.Int64
		require.NoError(t, json.Unmarshal([]byte(in), &got), in)
		assert.Equal(t, want, got, in)
	}

	var got ynison.Int64
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &got))
}

func TestLiteral(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		`"1700000000000000000"`: `1700000000000000000`,
		`1700000000000000000`:   `1700000000000000000`,
		`"0"`:                   `0`,
		`"abc"`:                 `"abc"`,
		`"007"`:                 `"007"`,
		`"WEB"`:                 `"WEB"`,
		`""`:                    `""`,
	} {
		var l ynison.Literal
		require.NoError(t, json.Unmarshal([]byte(in), &l), in)
		out, err := json.Marshal(l)
		require.NoError(t, err)
		assert.Equal(t, want, string(out), in)
	}
}

func TestQueueDefaults(t *testing.T) {
	t.Parallel()

	var ps ynison.PlayerState
	require.NoError(t, json.Unmarshal([]byte(`{"player_queue":{"playable_list":[{"playable_id":"1","playable_type":"TRACK","from":"x"}]},"status":{"duration_ms":"10","progress_ms":"2"}}`), &ps))

	q := ps.PlayerQueue
	assert.Equal(t, -1, q.CurrentPlayableIndex)
	assert.Equal(t, ynison.EntityTypeVarious, q.EntityType)
	assert.Equal(t, ynison.EntityContextDefault, q.EntityContext)
	assert.Equal(t, ynison.RepeatModeNone, q.Options.RepeatMode)
	assert.True(t, ps.Status.Paused)
	assert.InDelta(t, 1.0, ps.Status.PlaybackSpeed, 0)
	assert.EqualValues(t, 10, ps.Status.DurationMS)

	_, ok := q.Current()
	assert.False(t, ok)
}

func TestQueueCurrentBounds(t *testing.T) {
	t.Parallel()

	items := []ynison.PlayableItem{{PlayableID: "1"}, {PlayableID: "2"}} //nolint:exhaustruct
	for idx, want := range map[int]string{-5: "", -1: "", 0: "1", 1: "2", 2: "", 100: ""} {
		q := ynison.NewQueue()
		q.PlayableList = items
		q.CurrentPlayableIndex = idx
		item, ok := q.Current()
		assert.Equal(t, want != "", ok, idx)
		assert.Equal(t, want, item.PlayableID, idx)
	}

	q := ynison.NewQueue()
	q.CurrentPlayableIndex = 0
	_, ok := q.Current()
	assert.False(t, ok)

	var s *ynison.State
	_, ok = s.CurrentTrack()
	assert.False(t, ok)
}

func TestWaveQueueDecoding(t *testing.T) {
	t.Parallel()

	var q ynison.Queue
	require.NoError(t, json.Unmarshal([]byte(`{
		"current_playable_index": 0,
		"playable_list": [],
		"queue": {"wave_queue": {
			"recommended_playable_list": [{"playable_id":"9","playable_type":"TRACK","from":"wave","track_info":{"track_source_key":"3"}}],
			"live_playable_index": 2,
			"entity_options": {
				"track_sources": [{"key": 3, "phonoteka_source": {"entity_context":"BASED_ON_ENTITY_BY_DEFAULT","playlist_id":{"id":"p1"}}}],
				"wave_entity_optional": {"session_id": "w1"}
			}
		}},
		"unknown_field": true
	}`), &q))

	require.NotNil(t, q.Queue)
	require.NotNil(t, q.Queue.WaveQueue)
	wave := q.Queue.WaveQueue
	assert.Equal(t, 2, wave.LivePlayableIndex)
	require.Len(t, wave.RecommendedPlayableList, 1)
	assert.EqualValues(t, 3, wave.RecommendedPlayableList[0].TrackInfo.TrackSourceKey)
	require.NotNil(t, wave.EntityOptions)
	require.Len(t, wave.EntityOptions.TrackSources, 1)
	assert.Equal(t, "p1", wave.EntityOptions.TrackSources[0].PhonotekaSource.PlaylistID.ID)
	assert.Equal(t, "w1", wave.EntityOptions.WaveEntity.SessionID)
}

func TestStateClone(t *testing.T) {
	t.Parallel()

	s := &ynison.State{ //nolint:exhaustruct
		Devices:     []ynison.Device{{Info: ynison.DeviceInfo{DeviceID: "d1"}}}, //nolint:exhaustruct
		PlayerState: ynison.NewPlayerState(),
	}
	s.PlayerState.PlayerQueue.PlayableList = []ynison.PlayableItem{{PlayableID: "1"}} //nolint:exhaustruct

	c := s.Clone()
	c.Devices[0].Info.Title = "changed"
	c.PlayerState.PlayerQueue.PlayableList[0].ArtistsEnriched = "A"
	c.PlayerState.Status.Paused = false

	assert.Empty(t, s.Devices[0].Info.Title)
	assert.Empty(t, s.PlayerState.PlayerQueue.PlayableList[0].ArtistsEnriched)
	assert.True(t, s.PlayerState.Status.Paused)

	var nilState *ynison.State
	assert.Nil(t, nilState.Clone())
}
