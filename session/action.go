package session

import (
	"errors"
	"fmt"
)

type Action string

const (
	ActionPlayPause Action = "play_pause"
	ActionNext      Action = "next"
	ActionPrev      Action = "prev"
	ActionLike      Action = "like"
	ActionDislike   Action = "dislike"
)

var ErrUnknownAction = errors.New("unknown action")

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionPlayPause, ActionNext, ActionPrev, ActionLike, ActionDislike:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}
