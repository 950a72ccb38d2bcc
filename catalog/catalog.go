package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/ynibridge/config"
	"github.com/xeptore/ynibridge/errutil"
	"github.com/xeptore/ynibridge/httputil"
	"github.com/xeptore/ynibridge/must"
)

const (
	clientHeader    = "YandexMusicAndroid/24023621"
	userAgentHeader = "Yandex-Music-API"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTrackNotFound = errors.New("track not found")
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu  sync.Mutex
	uid string
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout}, //nolint:exhaustruct
		mu:         sync.Mutex{},
		uid:        "",
	}
}

// UserID resolves and memoizes the account uid the token belongs to.
func (c *Client) UserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != "" {
		return c.uid, nil
	}

	ctx, cancel := context.WithTimeout(ctx, config.AccountStatusRequestTimeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodGet, "/account/status", nil)
	if nil != err {
		return "", err
	}

	uid := httputil.ResultOf(body).Get("account.uid")
	if !uid.Exists() || uid.String() == "" {
		flawP := flaw.P{"response_body": string(body)}
		return "", flaw.From(errors.New("account status response has no uid")).Append(flawP)
	}
	c.uid = uid.String()
	return c.uid, nil
}

func (c *Client) LikedTrackIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.LikedTracksRequestTimeout)
	defer cancel()
	return c.libraryTrackIDs(ctx, "likes")
}

func (c *Client) DislikedTrackIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DislikedTracksRequestTimeout)
	defer cancel()
	return c.libraryTrackIDs(ctx, "dislikes")
}

func (c *Client) libraryTrackIDs(ctx context.Context, kind string) ([]string, error) {
	uid, err := c.UserID(ctx)
	if nil != err {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(uid)+"/"+kind+"/tracks", nil)
	if nil != err {
		return nil, err
	}

	tracks := httputil.ResultOf(body).Get("library.tracks").Array()
	out := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if id := t.Get("id").String(); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func (c *Client) Like(ctx context.Context, trackID string) error {
	return c.libraryAction(ctx, "likes", "add-multiple", trackID)
}

func (c *Client) Unlike(ctx context.Context, trackID string) error {
	return c.libraryAction(ctx, "likes", "remove", trackID)
}

func (c *Client) Dislike(ctx context.Context, trackID string) error {
	return c.libraryAction(ctx, "dislikes", "add-multiple", trackID)
}

func (c *Client) Undislike(ctx context.Context, trackID string) error {
	return c.libraryAction(ctx, "dislikes", "remove", trackID)
}

func (c *Client) libraryAction(ctx context.Context, kind, action, trackID string) error {
	ctx, cancel := context.WithTimeout(ctx, config.LikeActionRequestTimeout)
	defer cancel()

	uid, err := c.UserID(ctx)
	if nil != err {
		return err
	}

	form := url.Values{"track-ids": []string{trackID}}
	if _, err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(uid)+"/"+kind+"/tracks/"+action, form); nil != err {
		if errutil.IsFlaw(err) {
			return must.BeFlaw(err).Append(flaw.P{"track_id": trackID, "kind": kind, "action": action})
		}
		return err
	}
	return nil
}

func (c *Client) Track(ctx context.Context, id string) (*Track, error) {
	ctx, cancel := context.WithTimeout(ctx, config.TrackMetaRequestTimeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodPost, "/tracks", url.Values{"track-ids": []string{id}})
	if nil != err {
		return nil, err
	}

	result := httputil.ResultOf(body)
	if !result.IsArray() {
		flawP := flaw.P{"response_body": string(body), "track_id": id}
		return nil, flaw.From(fmt.Errorf("unexpected tracks response type: %s", result.Type)).Append(flawP)
	}
	items := result.Array()
	if len(items) == 0 {
		return nil, ErrTrackNotFound
	}
	return parseTrack(items[0]), nil
}

func parseTrack(r gjson.Result) *Track {
	artists := r.Get("artists").Array()
	track := &Track{
		ID:    r.Get("id").String(),
		Title: r.Get("title").String(),
		Artists: lo.Map(artists, func(a gjson.Result, _ int) Artist {
			return Artist{ID: a.Get("id").String(), Name: a.Get("name").String()}
		}),
		CoverURI: r.Get("coverUri").String(),
	}
	if track.CoverURI == "" {
		track.CoverURI = r.Get("cover_uri").String()
	}
	return track
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values) (body []byte, err error) {
	reqURL := c.baseURL + path
	flawP := flaw.P{"url": reqURL, "method": method}

	var reqBody *bytes.Reader
	if nil != form {
		reqBody = bytes.NewReader([]byte(form.Encode()))
	} else {
		reqBody = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to create catalog request: %v", err)).Append(flawP)
	}
	request.Header.Set("X-Yandex-Music-Client", clientHeader)
	request.Header.Set("User-Agent", userAgentHeader)
	request.Header.Set("Authorization", "OAuth "+c.token)
	if nil != form {
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	response, err := c.httpClient.Do(request)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to issue catalog request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := response.Body.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close response body: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsContext(ctx):
				err = flaw.From(errors.New("context was ended")).Join(closeErr)
			case errors.Is(err, context.DeadlineExceeded):
				err = flaw.From(errors.New("timeout has reached")).Join(closeErr)
			case errors.Is(err, ErrUnauthorized):
				err = flaw.From(errors.New("received unauthorized error")).Join(closeErr)
			default:
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(response)

	switch code := response.StatusCode; code {
	case http.StatusOK:
		return httputil.ReadResponseBody(ctx, response)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		respBytes, err := httputil.ReadOptionalResponseBody(ctx, response)
		if nil != err {
			return nil, err
		}
		flawP["response_body"] = string(respBytes)
		if name := httputil.ErrorName(respBytes); name != "" {
			flawP["error_name"] = name
		}
		return nil, flaw.From(fmt.Errorf("unexpected status code: %d", code)).Append(flawP)
	}
}
