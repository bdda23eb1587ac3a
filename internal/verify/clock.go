package verify

import (
	"time"
)

// Clock supplies the current time to the engine. Injectable so tests can
// move through freshness windows and expiry instants deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock
type SystemClock struct{}

// Now returns the current wall-clock time
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Fresh reports whether a claim timestamp falls within tolerance of now,
// in either direction. A captured claim becomes unusable once the window
// elapses because the proof hash binds the timestamp.
func Fresh(claimTimestamp int64, now time.Time, tolerance time.Duration) bool {
	drift := now.Sub(time.Unix(claimTimestamp, 0))
	if drift < 0 {
		drift = -drift
	}
	return drift <= tolerance
}
