package redirect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/ynibridge/errutil"
	"github.com/xeptore/ynibridge/must"
	"github.com/xeptore/ynibridge/ynison/transport"
)

const statePath = "/ynison_state.YnisonStateService/PutYnisonState"

var ErrNegotiation = errors.New("ynison redirect negotiation failed")

// ServerError is the error object the redirector answers with instead of a
// target.
type ServerError struct {
	Message         string
	GRPCCode        int64
	HTTPCode        int64
	HTTPStatus      string
	YnisonErrorCode string
	BackoffMillis   int64
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("ynison redirector error: %s (grpc_code=%d, http_code=%d, ynison_error_code=%s)", e.Message, e.GRPCCode, e.HTTPCode, e.YnisonErrorCode)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrNegotiation
}

// Backoff is the delay the server asked for before the next attempt, or zero.
func (e *ServerError) Backoff() time.Duration {
	return time.Duration(e.BackoffMillis) * time.Millisecond
}

type KeepAlive struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Target struct {
	Host           string
	RedirectTicket string
	SessionID      string
	KeepAlive      KeepAlive
}

// StateURL is the state service endpoint for this target.
func (t Target) StateURL() string {
	return StateURL(t.Host)
}

type Negotiator struct {
	Dialer transport.Dialer
	URL    string
	Logger zerolog.Logger
}

type response struct {
	Host            string `json:"host"`
	RedirectTicket  string `json:"redirect_ticket"`
	SessionID       string `json:"session_id"`
	KeepAliveParams *struct {
		KeepAliveTimeSeconds    int64 `json:"keep_alive_time_seconds"`
		KeepAliveTimeoutSeconds int64 `json:"keep_alive_timeout_seconds"`
	} `json:"keep_alive_params"`
}

// Negotiate performs the rendezvous handshake. The redirect ticket and session
// id of proto are ignored.
func (n Negotiator) Negotiate(ctx context.Context, proto transport.Protocol) (*Target, error) {
	proto.RedirectTicket = ""
	proto.SessionID = ""
	flawP := flaw.P{"url": n.URL, "device_id": proto.DeviceID}

	socket, err := n.Dialer.Dial(ctx, n.URL, proto)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		case errors.Is(err, transport.ErrUnauthorized):
			return nil, transport.ErrUnauthorized
		case errutil.IsFlaw(err):
			return nil, must.BeFlaw(err).Append(flawP)
		default:
			panic(errutil.UnknownError(err))
		}
	}
	defer func() {
		if closeErr := socket.Close(); nil != closeErr {
			n.Logger.Debug().Err(closeErr).Msg("Failed to close redirect socket")
		}
	}()

	frame, err := socket.ReadFrame(ctx)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errutil.IsFlaw(err):
			return nil, must.BeFlaw(err).Append(flawP)
		default:
			panic(errutil.UnknownError(err))
		}
	}

	return parse(frame)
}

func parse(frame []byte) (*Target, error) {
	if !gjson.ValidBytes(frame) {
		return nil, fmt.Errorf("%w: invalid redirect response: %q", ErrNegotiation, frame)
	}

	if e := gjson.GetBytes(frame, "error"); e.Exists() {
		return nil, &ServerError{
			Message:         e.Get("message").String(),
			GRPCCode:        e.Get("grpc_code").Int(),
			HTTPCode:        e.Get("http_code").Int(),
			HTTPStatus:      e.Get("http_status").String(),
			YnisonErrorCode: e.Get("details.ynison_error_code").String(),
			BackoffMillis:   e.Get("details.ynison_backoff_millis").Int(),
		}
	}

	var res response
	if err := json.Unmarshal(frame, &res); nil != err {
		return nil, fmt.Errorf("%w: failed to decode redirect response: %v", ErrNegotiation, err)
	}

	host := NormalizeHost(res.Host)
	switch {
	case host == "":
		return nil, fmt.Errorf("%w: redirect response has no host", ErrNegotiation)
	case res.RedirectTicket == "":
		return nil, fmt.Errorf("%w: redirect response has no ticket", ErrNegotiation)
	}

	target := &Target{
		Host:           host,
		RedirectTicket: res.RedirectTicket,
		SessionID:      res.SessionID,
		KeepAlive:      KeepAlive{Interval: 0, Timeout: 0},
	}
	if p := res.KeepAliveParams; nil != p {
		target.KeepAlive.Interval = time.Duration(p.KeepAliveTimeSeconds) * time.Second
		target.KeepAlive.Timeout = time.Duration(p.KeepAliveTimeoutSeconds) * time.Second
	}
	return target, nil
}

// NormalizeHost strips any URL scheme and surrounding slashes.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	for _, scheme := range []string{"wss://", "https://", "ws://", "http://"} {
		if rest, ok := strings.CutPrefix(host, scheme); ok {
			host = rest
			break
		}
	}
	return strings.Trim(host, "/")
}

func StateURL(host string) string {
	return "wss://" + NormalizeHost(host) + statePath
}
