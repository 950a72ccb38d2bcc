package ynison

import (
	"time"

	"github.com/google/uuid"
)

type fullStateFrame struct {
	RID                     string `json:"rid"`
	PlayerActionTimestampMS Int64  `json:"player_action_timestamp_ms"`
	UpdateFullState         struct {
		PlayerState       PlayerState `json:"player_state"`
		Device            Device      `json:"device"`
		IsCurrentlyActive bool        `json:"is_currently_active"`
	} `json:"update_full_state"`
}

type playerStateFrame struct {
	RID            string      `json:"rid"`
	Devices        []Device    `json:"devices"`
	PlayerState    PlayerState `json:"player_state"`
	ActiveDeviceID *string     `json:"active_device_id_optional"`
	TimestampMS    Int64       `json:"timestamp_ms"`
}

type PlayerStateUpdate struct {
	PlayerState PlayerState `json:"player_state"`
}

// UpdatePlayerState is the outbound message that replaces the player state.
type UpdatePlayerState struct {
	UpdatePlayerState        PlayerStateUpdate `json:"update_player_state"`
	RID                      string            `json:"rid,omitempty"`
	PlayerActionTimestampMS  int64             `json:"player_action_timestamp_ms,omitempty"`
	ActivityInterceptionType string            `json:"activity_interception_type,omitempty"`
}

type FullStateUpdate struct {
	PlayerState       PlayerState `json:"player_state"`
	Device            Device      `json:"device"`
	IsCurrentlyActive bool        `json:"is_currently_active"`
}

// UpdateFullState is the outbound message that announces a device together
// with its player state.
type UpdateFullState struct {
	UpdateFullState          FullStateUpdate `json:"update_full_state"`
	RID                      string          `json:"rid,omitempty"`
	PlayerActionTimestampMS  int64           `json:"player_action_timestamp_ms,omitempty"`
	ActivityInterceptionType string          `json:"activity_interception_type,omitempty"`
}

func newUpdatePlayerState(ps PlayerState, now time.Time, withRID bool) UpdatePlayerState {
	msg := UpdatePlayerState{
		UpdatePlayerState:        PlayerStateUpdate{PlayerState: ps},
		RID:                      "",
		PlayerActionTimestampMS:  now.UnixMilli(),
		ActivityInterceptionType: ActivityDoNotIntercept,
	}
	if withRID {
		msg.RID = uuid.NewString()
	}
	return msg
}

// withStamp returns ps with v attached to both queue and status.
func withStamp(ps PlayerState, v Version) PlayerState {
	ps.PlayerQueue.Version = &v
	ps.Status.Version = &v
	return ps
}

// togglePayload flips paused and carries progress as of the toggle.
func togglePayload(ps PlayerState, progressMS int64, v Version) PlayerState {
	ps.Status = Status{
		DurationMS:    ps.Status.DurationMS,
		ProgressMS:    Int64(progressMS),
		Paused:        !ps.Status.Paused,
		PlaybackSpeed: ps.Status.PlaybackSpeed,
		Version:       nil,
	}
	return withStamp(ps, v)
}

// shiftPayload moves the queue cursor by delta. The index is floored at zero
// but is not checked against the queue length.
func shiftPayload(ps PlayerState, delta int, v Version) PlayerState {
	ps.PlayerQueue.CurrentPlayableIndex = max(ps.PlayerQueue.CurrentPlayableIndex+delta, 0)
	ps.Status = Status{
		DurationMS:    0,
		ProgressMS:    0,
		Paused:        false,
		PlaybackSpeed: defaultPlaybackSpeed,
		Version:       nil,
	}
	return withStamp(ps, v)
}

// playTrackPayload builds a single-item queue starting trackID.
func playTrackPayload(trackID string, v Version) PlayerState {
	q := NewQueue()
	q.CurrentPlayableIndex = 0
	q.PlayableList = []PlayableItem{{PlayableID: trackID, PlayableType: PlayableTypeTrack}} //nolint:exhaustruct
	ps := PlayerState{
		PlayerQueue: q,
		Status: Status{
			DurationMS:    0,
			ProgressMS:    0,
			Paused:        false,
			PlaybackSpeed: defaultPlaybackSpeed,
			Version:       nil,
		},
	}
	return withStamp(ps, v)
}
