package ynison

import (
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/xeptore/ynibridge/ptr"
)

const (
	EntityTypeVarious         = "VARIOUS"
	EntityContextDefault      = "BASED_ON_ENTITY_BY_DEFAULT"
	RepeatModeNone            = "NONE"
	PlayableTypeTrack         = "TRACK"
	ActivityDoNotIntercept    = "DO_NOT_INTERCEPT_BY_DEFAULT"
	defaultPlaybackSpeed      = 1
	defaultCurrentPlayableIdx = -1
)

// Version is the freshness and origin tag attached to state-bearing objects.
type Version struct {
	DeviceID    string  `json:"device_id"`
	Version     Literal `json:"version"`
	TimestampMS Int64   `json:"timestamp_ms"`
}

// NewVersion returns a fresh stamp for deviceID.
func NewVersion(deviceID string, now time.Time) Version {
	return Version{
		DeviceID:    deviceID,
		Version:     Literal(strconv.FormatInt(now.UnixNano(), 10)),
		TimestampMS: 0,
	}
}

type DeviceInfo struct {
	DeviceID   string  `json:"device_id"`
	Type       Literal `json:"type"`
	Title      string  `json:"title"`
	AppName    string  `json:"app_name"`
	AppVersion string  `json:"app_version"`
}

type Capabilities struct {
	CanBePlayer           bool `json:"can_be_player"`
	CanBeRemoteController bool `json:"can_be_remote_controller"`
	VolumeGranularity     int  `json:"volume_granularity"`
}

type VolumeInfo struct {
	Volume  float64  `json:"volume"`
	Version *Version `json:"version,omitempty"`
}

type DeviceSession struct {
	ID string `json:"id"`
}

type Device struct {
	Info         DeviceInfo     `json:"info"`
	Capabilities Capabilities   `json:"capabilities"`
	VolumeInfo   VolumeInfo     `json:"volume_info"`
	Volume       *float64       `json:"volume,omitempty"`
	IsShadow     bool           `json:"is_shadow"`
	Session      *DeviceSession `json:"session,omitempty"`
	IsOffline    *bool          `json:"is_offline,omitempty"`
}

type TrackInfo struct {
	TrackSourceKey Int64 `json:"track_source_key"`
}

type PlayableItem struct {
	PlayableID       string     `json:"playable_id"`
	PlayableType     string     `json:"playable_type"`
	Title            string     `json:"title,omitempty"`
	AlbumID          *string    `json:"album_id_optional,omitempty"`
	CoverURL         *string    `json:"cover_url_optional,omitempty"`
	From             string     `json:"from,omitempty"`
	TrackInfo        *TrackInfo `json:"track_info,omitempty"`
	PlaybackActionID *string    `json:"playback_action_id_optional,omitempty"`
	NavigationID     *string    `json:"navigation_id_optional,omitempty"`

	// Set by the session layer on snapshot copies only.
	ArtistsEnriched  string `json:"artists_enriched,omitempty"`
	CoverURIEnriched string `json:"cover_uri_enriched,omitempty"`
	IsLiked          *bool  `json:"is_liked,omitempty"`
	IsDisliked       *bool  `json:"is_disliked,omitempty"`
}

type QueueOptions struct {
	RepeatMode string `json:"repeat_mode"`
}

type ID struct {
	ID string `json:"id"`
}

type PhonotekaSource struct {
	EntityContext string `json:"entity_context"`
	AlbumID       *ID    `json:"album_id,omitempty"`
	PlaylistID    *ID    `json:"playlist_id,omitempty"`
}

type TrackSource struct {
	Key             Int64            `json:"key"`
	WaveSource      *struct{}        `json:"wave_source,omitempty"`
	PhonotekaSource *PhonotekaSource `json:"phonoteka_source,omitempty"`
}

type WaveEntity struct {
	SessionID string `json:"session_id"`
}

type EntityOptions struct {
	TrackSources []TrackSource `json:"track_sources,omitempty"`
	WaveEntity   *WaveEntity   `json:"wave_entity_optional,omitempty"`
}

type WaveQueue struct {
	RecommendedPlayableList []PlayableItem `json:"recommended_playable_list,omitempty"`
	LivePlayableIndex       int            `json:"live_playable_index"`
	EntityOptions           *EntityOptions `json:"entity_options,omitempty"`
}

type NestedQueue struct {
	WaveQueue *WaveQueue `json:"wave_queue,omitempty"`
}

type Queue struct {
	CurrentPlayableIndex int            `json:"current_playable_index"`
	EntityID             string         `json:"entity_id"`
	EntityType           string         `json:"entity_type"`
	EntityContext        string         `json:"entity_context"`
	Options              QueueOptions   `json:"options"`
	PlayableList         []PlayableItem `json:"playable_list"`
	Queue                *NestedQueue   `json:"queue,omitempty"`
	FromOptional         *string        `json:"from_optional,omitempty"`
	Version              *Version       `json:"version,omitempty"`
}

// NewQueue returns an empty queue with protocol defaults.
func NewQueue() Queue {
	return Queue{
		CurrentPlayableIndex: defaultCurrentPlayableIdx,
		EntityID:             "",
		EntityType:           EntityTypeVarious,
		EntityContext:        EntityContextDefault,
		Options:              QueueOptions{RepeatMode: RepeatModeNone},
		PlayableList:         []PlayableItem{},
		Queue:                nil,
		FromOptional:         nil,
		Version:              nil,
	}
}

func (q *Queue) UnmarshalJSON(b []byte) error {
	type plain Queue
	out := plain(NewQueue())
	if err := json.Unmarshal(b, &out); nil != err {
		return err
	}
	if out.EntityType == "" {
		out.EntityType = EntityTypeVarious
	}
	if out.EntityContext == "" {
		out.EntityContext = EntityContextDefault
	}
	if out.Options.RepeatMode == "" {
		out.Options.RepeatMode = RepeatModeNone
	}
	if nil == out.PlayableList {
		out.PlayableList = []PlayableItem{}
	}
	*q = Queue(out)
	return nil
}

// Current returns the item at the current index, or false when the index is
// out of range.
func (q Queue) Current() (PlayableItem, bool) {
	idx := q.CurrentPlayableIndex
	if idx < 0 || idx >= len(q.PlayableList) {
		return PlayableItem{}, false //nolint:exhaustruct
	}
	return q.PlayableList[idx], true
}

type Status struct {
	DurationMS    Int64    `json:"duration_ms"`
	ProgressMS    Int64    `json:"progress_ms"`
	Paused        bool     `json:"paused"`
	PlaybackSpeed float64  `json:"playback_speed"`
	Version       *Version `json:"version,omitempty"`
}

// NewStatus returns a paused status with protocol defaults.
func NewStatus() Status {
	return Status{
		DurationMS:    0,
		ProgressMS:    0,
		Paused:        true,
		PlaybackSpeed: defaultPlaybackSpeed,
		Version:       nil,
	}
}

func (s *Status) UnmarshalJSON(b []byte) error {
	type plain Status
	out := plain(NewStatus())
	if err := json.Unmarshal(b, &out); nil != err {
		return err
	}
	*s = Status(out)
	return nil
}

type PlayerState struct {
	PlayerQueue Queue  `json:"player_queue"`
	Status      Status `json:"status"`
}

func NewPlayerState() PlayerState {
	return PlayerState{
		PlayerQueue: NewQueue(),
		Status:      NewStatus(),
	}
}

func (p *PlayerState) UnmarshalJSON(b []byte) error {
	type plain PlayerState
	out := plain(NewPlayerState())
	if err := json.Unmarshal(b, &out); nil != err {
		return err
	}
	*p = PlayerState(out)
	return nil
}

// State is the canonical account-wide state held by a player.
type State struct {
	RID               string      `json:"rid,omitempty"`
	Devices           []Device    `json:"devices"`
	PlayerState       PlayerState `json:"player_state"`
	IsCurrentlyActive bool        `json:"is_currently_active"`
	ActiveDeviceID    *string     `json:"active_device_id_optional,omitempty"`
	TimestampMS       Int64       `json:"timestamp_ms"`
}

// CurrentTrack derives the item the queue currently points at.
func (s *State) CurrentTrack() (PlayableItem, bool) {
	if nil == s {
		return PlayableItem{}, false //nolint:exhaustruct
	}
	return s.PlayerState.PlayerQueue.Current()
}

// Clone returns a copy that shares no slices with s. Pointer fields are
// treated as immutable and are shared.
func (s *State) Clone() *State {
	if nil == s {
		return nil
	}
	out := *s
	out.Devices = slices.Clone(s.Devices)
	out.PlayerState.PlayerQueue.PlayableList = slices.Clone(s.PlayerState.PlayerQueue.PlayableList)
	return &out
}

// mergeDevice replaces the device with the same id or appends it.
func (s *State) mergeDevice(d Device) {
	if nil == d.Volume {
		d.Volume = ptr.Of(d.VolumeInfo.Volume)
	}
	for i := range s.Devices {
		if s.Devices[i].Info.DeviceID == d.Info.DeviceID {
			s.Devices[i] = d
			return
		}
	}
	s.Devices = append(s.Devices, d)
}
