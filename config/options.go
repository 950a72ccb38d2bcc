package config

import "time"

var (
	AccountStatusRequestTimeout  = 5 * time.Second
	LikedTracksRequestTimeout    = 5 * time.Second
	DislikedTracksRequestTimeout = 5 * time.Second
	TrackMetaRequestTimeout      = 5 * time.Second
	LikeActionRequestTimeout     = 5 * time.Second
	ShutdownGracePeriod          = 5 * time.Second
)
