// Package command sends playback commands over disposable Ynison connections.
//
// Writing commands to the long-lived state socket makes the server drop it
// with an abnormal closure, so each command gets its own device identity and
// its own pair of sockets.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/ynibridge/config"
	"github.com/xeptore/ynibridge/ctxutil"
	"github.com/xeptore/ynibridge/errutil"
	"github.com/xeptore/ynibridge/must"
	"github.com/xeptore/ynibridge/ynison/redirect"
	"github.com/xeptore/ynibridge/ynison/transport"
)

type Dispatcher struct {
	negotiator redirect.Negotiator
	token      string
	userID     string
	device     config.Device
	grace      time.Duration
	logger     zerolog.Logger
}

func NewDispatcher(negotiator redirect.Negotiator, token, userID string, device config.Device, grace time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		negotiator: negotiator,
		token:      token,
		userID:     userID,
		device:     device,
		grace:      grace,
		logger:     logger.With().Str("module", "command").Logger(),
	}
}

// Send negotiates a fresh connection under a random device id, writes the
// payload returned by build, waits for the grace period and closes the
// connection. It does not retry.
func (d *Dispatcher) Send(ctx context.Context, build func(deviceID string) (any, error)) (err error) {
	deviceID := uuid.NewString()
	logger := d.logger.With().Str("device_id", deviceID).Logger()
	flawP := flaw.P{"device_id": deviceID}

	proto := transport.Protocol{
		DeviceID:       deviceID,
		RedirectTicket: "",
		SessionID:      "",
		Device: transport.DeviceInfo{
			AppName:    d.device.AppName,
			AppVersion: d.device.AppVersion,
			Type:       d.device.Type,
		},
		Token:  d.token,
		UserID: d.userID,
	}

	target, err := d.negotiator.Negotiate(ctx, proto)
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

	payload, err := build(deviceID)
	if nil != err {
		return err
	}
	msg, err := json.Marshal(payload)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to marshal command payload: %v", err)).Append(flawP)
	}

	proto.RedirectTicket = target.RedirectTicket
	proto.SessionID = target.SessionID
	socket, err := d.negotiator.Dialer.Dial(ctx, target.StateURL(), proto)
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
	defer func() {
		if closeErr := socket.Close(); nil != closeErr {
			logger.Debug().Err(closeErr).Msg("Failed to close command socket")
		}
	}()

	if err := socket.Send(ctx, msg); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errutil.IsFlaw(err):
			return must.BeFlaw(err).Append(flawP)
		default:
			return err
		}
	}
	logger.Debug().Int("payload_length", len(msg)).Msg("Command payload sent")

	if err := ctxutil.Sleep(ctx, d.grace); nil != err {
		return err
	}
	return nil
}
