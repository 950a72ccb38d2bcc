package ynison

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// Int64 is a 64-bit integer Ynison may encode either as a JSON number or as a
// decimal string. It is always emitted as a number.
type Int64 int64

func (i *Int64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*i = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); nil != err {
			return err
		}
		b = []byte(s)
		if len(b) == 0 {
			*i = 0
			return nil
		}
	}
	if v, err := strconv.ParseInt(string(b), 10, 64); nil == err {
		*i = Int64(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if nil != err {
		return fmt.Errorf("invalid integer value %q: %v", b, err)
	}
	*i = Int64(math.Trunc(v))
	return nil
}

// Literal is an opaque scalar accepted as a JSON string or number. Numeric
// values are emitted as numbers, everything else as strings.
type Literal string

func (l *Literal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); nil != err {
			return err
		}
		*l = Literal(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); nil != err {
			return fmt.Errorf("invalid literal value %q: %v", b, err)
		}
		*l = Literal(n.String())
		return nil
	}
}

func (l Literal) MarshalJSON() ([]byte, error) {
	if l.numeric() {
		return []byte(l), nil
	}
	return json.Marshal(string(l))
}

func (l Literal) numeric() bool {
	s := string(l)
	if s == "" {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
