package ynison

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/ynibridge/config"
	"github.com/xeptore/ynibridge/errutil"
	"github.com/xeptore/ynibridge/iterutil"
	"github.com/xeptore/ynibridge/log"
	"github.com/xeptore/ynibridge/mathutil"
	"github.com/xeptore/ynibridge/must"
	"github.com/xeptore/ynibridge/ynison/redirect"
	"github.com/xeptore/ynibridge/ynison/transport"
)

const volumeGranularity = 16

type Config struct {
	// DeviceID is the stable identity of the persistent state connection.
	DeviceID   string
	Token      string
	UserID     string
	Device     config.Device
	Negotiator redirect.Negotiator
	Commands   OneOffCommand
	// OnState is called with a private copy after every state change. Calls
	// happen in frame order on the receiving goroutine.
	OnState func(*State)
	Logger  zerolog.Logger
}

// Player owns the state of one account and answers control intents.
type Player struct {
	deviceID   string
	token      string
	userID     string
	device     config.Device
	negotiator redirect.Negotiator
	commands   OneOffCommand
	onState    func(*State)
	logger     zerolog.Logger

	mu         sync.Mutex
	state      *State
	lastUpdate time.Time
	connState  ConnState
	socket     *transport.Socket
}

func NewPlayer(cfg Config) *Player {
	return &Player{
		deviceID:   cfg.DeviceID,
		token:      cfg.Token,
		userID:     cfg.UserID,
		device:     cfg.Device,
		negotiator: cfg.Negotiator,
		commands:   cfg.Commands,
		onState:    cfg.OnState,
		logger:     cfg.Logger.With().Str("module", "ynison").Str("device_id", cfg.DeviceID).Logger(),
		mu:         sync.Mutex{},
		state:      nil,
		lastUpdate: time.Time{},
		connState:  Disconnected,
		socket:     nil,
	}
}

func (p *Player) DeviceID() string {
	return p.deviceID
}

func (p *Player) protocol() transport.Protocol {
	return transport.Protocol{
		DeviceID:       p.deviceID,
		RedirectTicket: "",
		SessionID:      "",
		Device: transport.DeviceInfo{
			AppName:    p.device.AppName,
			AppVersion: p.device.AppVersion,
			Type:       p.device.Type,
		},
		Token:  p.token,
		UserID: p.userID,
	}
}

func (p *Player) setConnState(s ConnState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connState = s
}

func (p *Player) ConnState() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connState
}

// Run connects the state socket and consumes frames until the stream ends or
// ctx is done. State survives across runs.
func (p *Player) Run(ctx context.Context) error {
	p.setConnState(Negotiating)
	defer p.setConnState(Disconnected)

	flawP := flaw.P{"device_id": p.deviceID}

	proto := p.protocol()
	target, err := p.negotiator.Negotiate(ctx, proto)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		case errors.Is(err, redirect.ErrNegotiation), errors.Is(err, transport.ErrUnauthorized):
			return err
		case errutil.IsFlaw(err):
			return must.BeFlaw(err).Append(flawP)
		default:
			panic(errutil.UnknownError(err))
		}
	}
	flawP["host"] = target.Host

	proto.RedirectTicket = target.RedirectTicket
	proto.SessionID = target.SessionID
	dialer := p.negotiator.Dialer
	if target.KeepAlive.Interval > 0 {
		dialer.PingInterval = target.KeepAlive.Interval
	}
	if target.KeepAlive.Timeout > 0 {
		dialer.PongTimeout = target.KeepAlive.Timeout
	}

	socket, err := dialer.Dial(ctx, target.StateURL(), proto)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		case errors.Is(err, transport.ErrUnauthorized):
			return err
		case errutil.IsFlaw(err):
			return must.BeFlaw(err).Append(flawP)
		default:
			panic(errutil.UnknownError(err))
		}
	}
	closed := make(chan transport.CloseInfo, 1)
	socket.OnClose(func(info transport.CloseInfo) { closed <- info })
	stop := context.AfterFunc(ctx, func() { _ = socket.Close() })
	defer stop()
	defer socket.Close()

	p.mu.Lock()
	p.socket = socket
	p.connState = Connected
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.socket = nil
		p.mu.Unlock()
	}()
	p.logger.Info().Str("host", target.Host).Msg("State socket connected")

	initial, err := json.Marshal(p.initialState(time.Now()))
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to marshal initial state: %v", err)).Append(flawP)
	}
	if err := socket.Send(ctx, initial); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errutil.IsFlaw(err):
			return must.BeFlaw(err).Append(flawP)
		default:
			return err
		}
	}

	for i, frame := range iterutil.Enumerate(socket.Frames()) {
		if err := p.HandleFrame(frame); nil != err {
			p.logger.Warn().Int("frame_index", i).Func(log.Flaw(err)).Msg("Dropped inbound frame")
		}
	}

	if errutil.IsContext(ctx) {
		return ctx.Err()
	}
	select {
	case info := <-closed:
		return &ClosedError{Code: info.Code, Reason: info.Reason}
	default:
		return &ClosedError{Code: websocket.CloseAbnormalClosure, Reason: "stream ended"}
	}
}

func (p *Player) initialState(now time.Time) UpdateFullState {
	v := Version{DeviceID: p.deviceID, Version: "0", TimestampMS: Int64(now.UnixMilli())}
	return UpdateFullState{
		UpdateFullState: FullStateUpdate{
			PlayerState: withStamp(NewPlayerState(), v),
			Device: Device{
				Info: DeviceInfo{
					DeviceID:   p.deviceID,
					Type:       Literal(strconv.Itoa(p.device.Type)),
					Title:      p.device.Title,
					AppName:    p.device.AppName,
					AppVersion: p.device.AppVersion,
				},
				Capabilities: Capabilities{
					CanBePlayer:           false,
					CanBeRemoteController: true,
					VolumeGranularity:     volumeGranularity,
				},
				VolumeInfo: VolumeInfo{Volume: 0, Version: nil},
				Volume:     nil,
				IsShadow:   true,
				Session:    nil,
				IsOffline:  nil,
			},
			IsCurrentlyActive: false,
		},
		RID:                      uuid.NewString(),
		PlayerActionTimestampMS:  now.UnixMilli(),
		ActivityInterceptionType: ActivityDoNotIntercept,
	}
}

// HandleFrame merges one inbound frame. A returned error means the frame was
// dropped; the state is left as it was.
func (p *Player) HandleFrame(frame []byte) error {
	if !gjson.ValidBytes(frame) {
		return fmt.Errorf("%w: invalid json", ErrMalformedFrame)
	}

	var (
		snap *State
		err  error
	)
	p.mu.Lock()
	p.lastUpdate = time.Now()
	switch {
	case gjson.GetBytes(frame, "update_full_state").IsObject():
		snap, err = p.applyFullStateLocked(frame)
	case gjson.GetBytes(frame, "player_state").IsObject():
		snap, err = p.applyPlayerStateLocked(frame)
	default:
		err = fmt.Errorf("%w: no state key", ErrMalformedFrame)
	}
	p.mu.Unlock()
	if nil != err {
		return err
	}

	if nil != snap && nil != p.onState {
		p.onState(snap)
	}
	return nil
}

func (p *Player) applyFullStateLocked(frame []byte) (*State, error) {
	var f fullStateFrame
	if err := json.Unmarshal(frame, &f); nil != err {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	full := f.UpdateFullState

	if nil == p.state {
		ts := f.PlayerActionTimestampMS
		if ts == 0 {
			ts = Int64(time.Now().UnixMilli())
		}
		p.state = &State{
			RID:               f.RID,
			Devices:           nil,
			PlayerState:       full.PlayerState,
			IsCurrentlyActive: full.IsCurrentlyActive,
			ActiveDeviceID:    nil,
			TimestampMS:       ts,
		}
		p.logger.Info().Str("title", full.Device.Info.Title).Msg("Initialized state from full state frame")
	} else {
		p.state.PlayerState = full.PlayerState
		p.state.IsCurrentlyActive = full.IsCurrentlyActive
		if f.PlayerActionTimestampMS != 0 {
			p.state.TimestampMS = f.PlayerActionTimestampMS
		}
	}
	p.state.mergeDevice(full.Device)
	p.markSyncedLocked()
	return p.state.Clone(), nil
}

func (p *Player) applyPlayerStateLocked(frame []byte) (*State, error) {
	var f playerStateFrame
	if err := json.Unmarshal(frame, &f); nil != err {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case gjson.GetBytes(frame, "devices").IsArray():
		if nil == p.state {
			p.state = &State{} //nolint:exhaustruct
		}
		p.state.RID = f.RID
		p.state.Devices = nil
		for _, d := range f.Devices {
			p.state.mergeDevice(d)
		}
		p.state.PlayerState = f.PlayerState
		p.state.ActiveDeviceID = f.ActiveDeviceID
		if f.TimestampMS != 0 {
			p.state.TimestampMS = f.TimestampMS
		}
	case nil != p.state:
		p.state.PlayerState = f.PlayerState
	default:
		p.logger.Debug().Msg("Ignoring player state frame received before any full state")
		return nil, nil
	}
	p.markSyncedLocked()
	return p.state.Clone(), nil
}

func (p *Player) markSyncedLocked() {
	if p.connState == Connected {
		p.connState = Synced
	}
}

// Snapshot returns a private copy of the current state, or nil.
func (p *Player) Snapshot() *State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

func (p *Player) CurrentTrack() (PlayableItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.CurrentTrack()
}

// Progress extrapolates the playback position to now.
func (p *Player) Progress() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked(time.Now())
}

func (p *Player) progressLocked(now time.Time) int64 {
	if nil == p.state {
		return 0
	}
	st := p.state.PlayerState.Status
	if st.Paused {
		return int64(st.ProgressMS)
	}
	return mathutil.ExtrapolateProgress(int64(st.ProgressMS), now.Sub(p.lastUpdate), st.PlaybackSpeed)
}

// reflect applies what a successful command sent, unless a frame arrived in
// the meantime.
func (p *Player) reflect(seen time.Time, sent PlayerState) {
	p.mu.Lock()
	if nil == p.state || !p.lastUpdate.Equal(seen) {
		p.mu.Unlock()
		return
	}
	p.state.PlayerState = sent
	p.lastUpdate = time.Now()
	snap := p.state.Clone()
	p.mu.Unlock()

	if nil != p.onState {
		p.onState(snap)
	}
}

func (p *Player) PlayPause(ctx context.Context) error {
	p.mu.Lock()
	if nil == p.state {
		p.mu.Unlock()
		return ErrNoState
	}
	ps := p.state.PlayerState
	progress := p.progressLocked(time.Now())
	seen := p.lastUpdate
	p.mu.Unlock()

	now := time.Now()
	var sent PlayerState
	err := p.commands.Send(ctx, func(deviceID string) (any, error) {
		sent = togglePayload(ps, progress, NewVersion(deviceID, now))
		return newUpdatePlayerState(sent, now, false), nil
	})
	if nil != err {
		return err
	}
	p.reflect(seen, sent)
	return nil
}

func (p *Player) Next(ctx context.Context) error {
	return p.shift(ctx, 1)
}

func (p *Player) Prev(ctx context.Context) error {
	return p.shift(ctx, -1)
}

func (p *Player) shift(ctx context.Context, delta int) error {
	p.mu.Lock()
	if nil == p.state {
		p.mu.Unlock()
		return ErrNoState
	}
	ps := p.state.PlayerState
	seen := p.lastUpdate
	p.mu.Unlock()

	if idx := ps.PlayerQueue.CurrentPlayableIndex + delta; idx >= len(ps.PlayerQueue.PlayableList) {
		p.logger.Warn().Int("index", idx).Int("queue_length", len(ps.PlayerQueue.PlayableList)).Msg("Shifted index is past the end of the queue")
	}

	now := time.Now()
	var sent PlayerState
	err := p.commands.Send(ctx, func(deviceID string) (any, error) {
		sent = shiftPayload(ps, delta, NewVersion(deviceID, now))
		return newUpdatePlayerState(sent, now, false), nil
	})
	if nil != err {
		return err
	}
	p.reflect(seen, sent)
	return nil
}

// PlayTrack replaces the queue with a single track and starts it.
func (p *Player) PlayTrack(ctx context.Context, trackID string) error {
	if trackID == "" {
		return errors.New("track id is empty")
	}

	p.mu.Lock()
	seen := p.lastUpdate
	p.mu.Unlock()

	now := time.Now()
	var sent PlayerState
	err := p.commands.Send(ctx, func(deviceID string) (any, error) {
		sent = playTrackPayload(trackID, NewVersion(deviceID, now))
		return newUpdatePlayerState(sent, now, false), nil
	})
	if nil != err {
		return err
	}
	p.reflect(seen, sent)
	return nil
}

// Resync pushes the current state back over the persistent socket under the
// stable device id.
func (p *Player) Resync(ctx context.Context) error {
	p.mu.Lock()
	if nil == p.state {
		p.mu.Unlock()
		return ErrNoState
	}
	socket := p.socket
	if nil == socket {
		p.mu.Unlock()
		return ErrNotConnected
	}
	ps := p.state.PlayerState
	p.mu.Unlock()

	now := time.Now()
	msg := newUpdatePlayerState(withStamp(ps, NewVersion(p.deviceID, now)), now, true)
	b, err := json.Marshal(msg)
	if nil != err {
		return flaw.From(fmt.Errorf("failed to marshal resync message: %v", err))
	}
	if err := socket.Send(ctx, b); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errutil.IsFlaw(err):
			return must.BeFlaw(err).Append(flaw.P{"device_id": p.deviceID})
		default:
			return err
		}
	}
	return nil
}
