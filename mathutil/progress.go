package mathutil

import (
	"time"

	"golang.org/x/exp/constraints"
)

func AtLeast[T constraints.Integer | constraints.Float](v, floor T) T {
	if v < floor {
		return floor
	}
	return v
}

// ExtrapolateProgress advances a progress snapshot taken elapsed ago at the
// given playback speed. The result never goes below zero.
func ExtrapolateProgress(progressMS int64, elapsed time.Duration, speed float64) int64 {
	deltaMS := float64(elapsed.Milliseconds()) * speed
	return AtLeast(progressMS+int64(deltaMS), 0)
}
