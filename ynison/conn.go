package ynison

import (
	"context"
)

type ConnState int32

const (
	Disconnected ConnState = iota
	Negotiating
	Connected
	Synced
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// StatefulSync is the long-lived state channel of one device.
type StatefulSync interface {
	Run(ctx context.Context) error
	Snapshot() *State
	Resync(ctx context.Context) error
}

// OneOffCommand delivers a single payload over a disposable connection. build
// receives the device id the connection introduces itself with.
type OneOffCommand interface {
	Send(ctx context.Context, build func(deviceID string) (any, error)) error
}
