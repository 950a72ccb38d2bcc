package errutil

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/xeptore/flaw/v8"
)

func HTTPResponseFlawPayload(res *http.Response) flaw.P {
	if nil == res {
		return flaw.P{"status": nil}
	}
	out := make(flaw.P, 7)
	out["status"] = res.Status
	out["status_code"] = res.StatusCode
	out["content_length"] = res.ContentLength
	out["proto"] = res.Proto
	out["proto_major"] = res.ProtoMajor
	out["proto_minor"] = res.ProtoMinor
	headers := make(flaw.P, len(res.Header))
	for k, v := range res.Header {
		if k == "Authorization" || k == "Set-Cookie" {
			continue
		}
		headers[k] = v
	}
	out["headers"] = headers
	return out
}

func CloseErrorFlawPayload(err error) flaw.P {
	if closeErr := new(websocket.CloseError); errors.As(err, &closeErr) {
		return flaw.P{"code": closeErr.Code, "text": closeErr.Text}
	}
	return flaw.P{"code": websocket.CloseAbnormalClosure, "text": err.Error()}
}

func IsFlaw(err error) bool {
	if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
		return true
	}
	return false
}
