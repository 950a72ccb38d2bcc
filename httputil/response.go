package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/ynibridge/errutil"
)

var ErrEmptyBody = errors.New("unexpected empty response body")

// ReadResponseBody reads the whole body. An empty body is an error.
func ReadResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	b, err := ReadOptionalResponseBody(ctx, resp)
	switch {
	case nil != err:
		return nil, err
	case len(b) == 0:
		return nil, flaw.From(ErrEmptyBody).Append(flaw.P{"status_code": resp.StatusCode})
	default:
		return b, nil
	}
}

// ReadOptionalResponseBody reads the whole body, which may be empty.
func ReadOptionalResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	b, err := io.ReadAll(resp.Body)
	if nil == err {
		return b, nil
	}
	switch {
	case errutil.IsContext(ctx):
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return nil, context.DeadlineExceeded
	default:
		flawP := flaw.P{"status_code": resp.StatusCode, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to read response body: %v", err)).Append(flawP)
	}
}

// ResultOf unwraps the {"result": ...} envelope most catalog endpoints use.
// Bodies without the envelope are returned as-is.
func ResultOf(b []byte) gjson.Result {
	if res := gjson.GetBytes(b, "result"); res.Exists() {
		return res
	}
	return gjson.ParseBytes(b)
}

// ErrorName extracts error.name from a catalog error body, if present.
func ErrorName(b []byte) string {
	return gjson.GetBytes(b, "error.name").String()
}
