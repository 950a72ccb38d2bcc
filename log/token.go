package log

import (
	"strings"

	"github.com/rs/zerolog"
)

const tokenVisiblePrefix = 4

// MaskToken keeps the first few characters of a bearer token so log lines of
// different sessions can be told apart without leaking the credential.
func MaskToken(token string) string {
	if len(token) <= tokenVisiblePrefix {
		return strings.Repeat("*", len(token))
	}
	return token[:tokenVisiblePrefix] + ".."
}

func Token(token string) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		e.Str("token", MaskToken(token))
	}
}
